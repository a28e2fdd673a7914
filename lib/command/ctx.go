package command

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/resp"
)

// Ctx is the execution context of one command.
type Ctx struct {
	context.Context
	Engine   *Engine
	Session  *Session
	KS       Keyspace
	Cmd      *Command
	Args     [][]byte // Args[0] is the command name
	InScript bool
}

// NArgs returns the number of arguments after the command name.
func (c *Ctx) NArgs() int { return len(c.Args) - 1 }

// Arg returns argument i (1-based) as string.
func (c *Ctx) Arg(i int) string { return string(c.Args[i]) }

// Key is an alias of Arg for readability in handlers.
func (c *Ctx) Key(i int) string { return string(c.Args[i]) }

// Is reports whether argument i equals the keyword, case-insensitively.
func (c *Ctx) Is(i int, keyword string) bool {
	return i < len(c.Args) && strings.EqualFold(string(c.Args[i]), keyword)
}

// Int parses argument i as a 64 bit integer.
func (c *Ctx) Int(i int) (int64, error) {
	return parseInt(c.Args[i])
}

// Float parses argument i as a float. NaN is rejected.
func (c *Ctx) Float(i int) (float64, error) {
	return parseFloat(c.Args[i])
}

// Count parses a non negative count argument.
func (c *Ctx) Count(i int) (int, error) {
	n, err := c.Int(i)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, ErrNotPositive
	}
	return int(min(n, math.MaxInt32)), nil
}

func parseInt(b []byte) (int64, error) {
	n, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, ErrNotInteger
	}
	return n, nil
}

func parseFloat(b []byte) (float64, error) {
	s := strings.ToLower(string(b))
	switch s {
	case "inf", "+inf", "infinity", "+infinity":
		return math.Inf(1), nil
	case "-inf", "-infinity":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, ErrNotFloat
	}
	return f, nil
}

// formatFloat renders floats for INCRBYFLOAT style replies.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// --------------------------------------------------------------------------
// Typed access
// --------------------------------------------------------------------------

// lookup returns the live value of key if it holds the given kind. A missing
// key yields (nil, nil), any other kind ErrWrongType.
func lookup(ks Keyspace, key string, kind db.Kind) (*db.StoredValue, error) {
	sv, err := ks.Get(key)
	if err != nil || sv == nil {
		return nil, err
	}
	if sv.Value.Kind() != kind {
		return nil, ErrWrongType
	}
	return sv, nil
}

func getScalar(ks Keyspace, key string) (db.Scalar, *db.StoredValue, error) {
	sv, err := lookup(ks, key, db.KindScalar)
	if err != nil || sv == nil {
		return nil, nil, err
	}
	return sv.Value.(db.Scalar), sv, nil
}

func getList(ks Keyspace, key string) (*db.List, *db.StoredValue, error) {
	sv, err := lookup(ks, key, db.KindList)
	if err != nil || sv == nil {
		return nil, nil, err
	}
	return sv.Value.(*db.List), sv, nil
}

func getMap(ks Keyspace, key string) (db.Map, *db.StoredValue, error) {
	sv, err := lookup(ks, key, db.KindMap)
	if err != nil || sv == nil {
		return nil, nil, err
	}
	return sv.Value.(db.Map), sv, nil
}

func getSet(ks Keyspace, key string) (db.Set, *db.StoredValue, error) {
	sv, err := lookup(ks, key, db.KindSet)
	if err != nil || sv == nil {
		return nil, nil, err
	}
	return sv.Value.(db.Set), sv, nil
}

func getZSet(ks Keyspace, key string) (*db.OrderedSet, *db.StoredValue, error) {
	sv, err := lookup(ks, key, db.KindOrderedSet)
	if err != nil || sv == nil {
		return nil, nil, err
	}
	return sv.Value.(*db.OrderedSet), sv, nil
}

func getDocument(ks Keyspace, key string) (db.Document, *db.StoredValue, error) {
	sv, err := lookup(ks, key, db.KindDocument)
	if err != nil || sv == nil {
		return "", nil, err
	}
	return sv.Value.(db.Document), sv, nil
}

// store writes a collection back, deleting the key if the collection became
// empty. sv keeps its expiration.
func storeCollection(ks Keyspace, key string, sv *db.StoredValue, empty bool) error {
	if empty {
		_, err := ks.Delete(key)
		return err
	}
	return ks.Set(key, sv)
}

// clampInt narrows an index argument to int. Indices beyond the int range are
// out of range for every collection anyway.
func clampInt(n int64) int {
	return int(max(min(n, math.MaxInt32), math.MinInt32))
}

// Proto returns the protocol version replies are shaped for. Scripts always
// see protocol 2 shapes.
func (c *Ctx) Proto() int {
	if c.InScript || c.Session == nil {
		return resp.Proto2
	}
	return c.Session.Protocol()
}
