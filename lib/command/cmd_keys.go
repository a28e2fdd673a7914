package command

import (
	"math"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/expire"
	"github.com/ValentinKolb/rKV/lib/resp"
)

func init() {
	register(
		&Command{Name: "del", Min: 2, Max: -1, Flags: FlagWrite, FirstKey: 1, LastKey: -1, Step: 1, Handler: del},
		&Command{Name: "unlink", Min: 2, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: -1, Step: 1, Handler: del},
		&Command{Name: "exists", Min: 2, Max: -1, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: -1, Step: 1, Handler: exists},
		&Command{Name: "touch", Min: 2, Max: -1, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: -1, Step: 1, Handler: exists},
		&Command{Name: "type", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: keyType},
		&Command{Name: "keys", Min: 2, Max: 2, Flags: FlagReadonly | FlagNoScript, Handler: keys},
		&Command{Name: "scan", Min: 2, Max: -1, Flags: FlagReadonly | FlagNoScript, Handler: scan},
		&Command{Name: "randomkey", Min: 1, Max: 1, Flags: FlagReadonly | FlagNoScript, Handler: randomKey},

		&Command{Name: "expire", Min: 3, Max: 4, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: expireCmd(time.Second, false)},
		&Command{Name: "pexpire", Min: 3, Max: 4, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: expireCmd(time.Millisecond, false)},
		&Command{Name: "expireat", Min: 3, Max: 4, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: expireCmd(time.Second, true)},
		&Command{Name: "pexpireat", Min: 3, Max: 4, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: expireCmd(time.Millisecond, true)},
		&Command{Name: "ttl", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: ttl(time.Second, false)},
		&Command{Name: "pttl", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: ttl(time.Millisecond, false)},
		&Command{Name: "expiretime", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: ttl(time.Second, true)},
		&Command{Name: "pexpiretime", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: ttl(time.Millisecond, true)},
		&Command{Name: "persist", Min: 2, Max: 2, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: persist},

		&Command{Name: "rename", Min: 3, Max: 3, Flags: FlagWrite, FirstKey: 1, LastKey: 2, Step: 1, Handler: rename(false)},
		&Command{Name: "renamenx", Min: 3, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 2, Step: 1, Handler: rename(true)},
		&Command{Name: "move", Min: 3, Max: 3, Flags: FlagWrite | FlagFast | FlagNoScript, FirstKey: 1, LastKey: 1, Step: 1, OtherDB: moveTarget, Handler: move},
		&Command{Name: "copy", Min: 3, Max: 6, Flags: FlagWrite, FirstKey: 1, LastKey: 2, Step: 1, OtherDB: copyTarget, Handler: copyKey},
	)
}

func del(c *Ctx) (resp.Value, error) {
	var n int64
	for _, k := range c.Args[1:] {
		removed, err := c.KS.Delete(string(k))
		if err != nil {
			return resp.Value{}, err
		}
		if removed {
			n++
		}
	}
	return resp.Integer(n), nil
}

// exists counts live keys, a key given twice is counted twice.
func exists(c *Ctx) (resp.Value, error) {
	var n int64
	for _, k := range c.Args[1:] {
		ok, err := c.KS.Exists(string(k))
		if err != nil {
			return resp.Value{}, err
		}
		if ok {
			n++
		}
	}
	return resp.Integer(n), nil
}

func keyType(c *Ctx) (resp.Value, error) {
	sv, err := c.KS.Get(c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if sv == nil {
		return resp.SimpleString("none"), nil
	}
	return resp.SimpleString(sv.Value.Kind().String()), nil
}

func keys(c *Ctx) (resp.Value, error) {
	ks, err := c.Engine.store.Keys(c.KS.DB(), c.Arg(1))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.StringArray(ks), nil
}

func scan(c *Ctx) (resp.Value, error) {
	cursor, err := strconv.ParseUint(c.Arg(1), 10, 64)
	if err != nil {
		return resp.Value{}, ErrInvalidCursor
	}
	pattern, count, typ := "", 10, ""
	for i := 2; i < len(c.Args); i += 2 {
		if i+1 >= len(c.Args) {
			return resp.Value{}, ErrSyntax
		}
		switch {
		case c.Is(i, "MATCH"):
			pattern = c.Arg(i + 1)
		case c.Is(i, "COUNT"):
			n, err := c.Int(i + 1)
			if err != nil {
				return resp.Value{}, err
			}
			if n < 1 {
				return resp.Value{}, ErrSyntax
			}
			count = int(min(n, math.MaxInt32))
		case c.Is(i, "TYPE"):
			typ = lower(c.Args[i+1])
		default:
			return resp.Value{}, ErrSyntax
		}
	}

	next, found, err := c.Engine.store.Scan(c.KS.DB(), cursor, pattern, count)
	if err != nil {
		return resp.Value{}, err
	}
	if typ != "" {
		kept := found[:0]
		for _, k := range found {
			sv, err := c.KS.Get(k)
			if err != nil {
				return resp.Value{}, err
			}
			if sv != nil && strings.ToLower(sv.Value.Kind().String()) == typ {
				kept = append(kept, k)
			}
		}
		found = kept
	}
	return resp.Array(
		resp.BulkString(strconv.FormatUint(next, 10)),
		resp.StringArray(found),
	), nil
}

func randomKey(c *Ctx) (resp.Value, error) {
	ks, err := c.Engine.store.Keys(c.KS.DB(), "")
	if err != nil {
		return resp.Value{}, err
	}
	if len(ks) == 0 {
		return resp.NullBulk(), nil
	}
	return resp.BulkString(ks[rand.IntN(len(ks))]), nil
}

// --------------------------------------------------------------------------
// Expiration
// --------------------------------------------------------------------------

type expireCond int

const (
	condAlways expireCond = iota
	condNX
	condXX
	condGT
	condLT
)

func parseExpireCond(c *Ctx, i int) (expireCond, error) {
	if i >= len(c.Args) {
		return condAlways, nil
	}
	switch lower(c.Args[i]) {
	case "nx":
		return condNX, nil
	case "xx":
		return condXX, nil
	case "gt":
		return condGT, nil
	case "lt":
		return condLT, nil
	}
	return condAlways, Errf("Unsupported option %s", c.Arg(i))
}

// allows reports whether a new deadline may replace cur (0 = persistent,
// which compares as infinitely far away).
func (cond expireCond) allows(cur, next int64) bool {
	switch cond {
	case condNX:
		return cur == 0
	case condXX:
		return cur != 0
	case condGT:
		return cur != 0 && next > cur
	case condLT:
		return cur == 0 || next < cur
	default:
		return true
	}
}

// deadline converts an EXPIRE style argument into an absolute deadline in ms.
func deadline(c *Ctx, i int, unit time.Duration, absolute bool) (int64, error) {
	v, err := c.Int(i)
	if err != nil {
		return 0, err
	}
	invalid := Errf("invalid expire time in '%s' command", c.Cmd.Name)
	factor := int64(unit / time.Millisecond)
	if v > math.MaxInt64/factor || v < math.MinInt64/factor {
		return 0, invalid
	}
	ms := v * factor
	if absolute {
		// 0 means no expiration, keep past deadlines in the past
		return max(ms, 1), nil
	}
	now := c.KS.Now()
	if ms > 0 && now > math.MaxInt64-ms {
		return 0, invalid
	}
	if ms <= 0 {
		return now, nil
	}
	return now + ms, nil
}

func expireCmd(unit time.Duration, absolute bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		at, err := deadline(c, 2, unit, absolute)
		if err != nil {
			return resp.Value{}, err
		}
		cond, err := parseExpireCond(c, 3)
		if err != nil {
			return resp.Value{}, err
		}
		sv, err := c.KS.Get(c.Key(1))
		if err != nil || sv == nil {
			return resp.Integer(0), err
		}
		if !cond.allows(sv.ExpireAt, at) {
			return resp.Integer(0), nil
		}
		// a deadline that already passed deletes the key
		if at <= c.KS.Now() {
			_, err := c.KS.Delete(c.Key(1))
			return resp.Integer(1), err
		}
		if err := c.KS.Set(c.Key(1), &db.StoredValue{Value: sv.Value, ExpireAt: at}); err != nil {
			return resp.Value{}, err
		}
		return resp.Integer(1), nil
	}
}

// ttl implements TTL, PTTL, EXPIRETIME and PEXPIRETIME.
func ttl(unit time.Duration, absolute bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		sv, err := c.KS.Get(c.Key(1))
		if err != nil {
			return resp.Value{}, err
		}
		if sv == nil {
			return resp.Integer(-2), nil
		}
		if absolute {
			return resp.Integer(expire.Absolute(sv.ExpireAt, unit)), nil
		}
		return resp.Integer(expire.Remaining(sv.ExpireAt, c.KS.Now(), unit)), nil
	}
}

func persist(c *Ctx) (resp.Value, error) {
	sv, err := c.KS.Get(c.Key(1))
	if err != nil || sv == nil || sv.ExpireAt == 0 {
		return resp.Integer(0), err
	}
	if err := c.KS.Set(c.Key(1), &db.StoredValue{Value: sv.Value}); err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(1), nil
}

// --------------------------------------------------------------------------
// Rename, Move, Copy
// --------------------------------------------------------------------------

func rename(nx bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		src, dst := c.Key(1), c.Key(2)
		sv, err := c.KS.Get(src)
		if err != nil {
			return resp.Value{}, err
		}
		if sv == nil {
			return resp.Value{}, ErrNoSuchKey
		}
		if nx {
			taken, err := c.KS.Exists(dst)
			if err != nil {
				return resp.Value{}, err
			}
			if taken {
				return resp.Integer(0), nil
			}
		}
		if src != dst {
			if _, err := c.KS.Delete(src); err != nil {
				return resp.Value{}, err
			}
			if err := c.KS.Set(dst, sv); err != nil {
				return resp.Value{}, err
			}
		}
		if nx {
			return resp.Integer(1), nil
		}
		return resp.OK, nil
	}
}

func moveTarget(args [][]byte) (int, bool) {
	n, err := parseInt(args[2])
	if err != nil || n < 0 || n > math.MaxInt32 {
		return 0, false
	}
	return int(n), true
}

// move is not atomic across the two databases: the value is written to the
// target before it is removed from the source, both under the locks of the
// two databases.
func move(c *Ctx) (resp.Value, error) {
	target, ok := moveTarget(c.Args)
	if !ok || target >= c.Engine.store.NumDatabases() {
		return resp.Value{}, ErrInvalidDB
	}
	if target == c.KS.DB() {
		return resp.Value{}, ErrSameObject
	}
	key := c.Key(1)
	sv, err := c.KS.Get(key)
	if err != nil || sv == nil {
		return resp.Integer(0), err
	}
	dst := NewStoreView(c.Engine.store, target)
	taken, err := dst.Exists(key)
	if err != nil || taken {
		return resp.Integer(0), err
	}
	if err := dst.Set(key, sv); err != nil {
		return resp.Value{}, err
	}
	if _, err := c.KS.Delete(key); err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(1), nil
}

func copyTarget(args [][]byte) (int, bool) {
	for i := 3; i+1 < len(args); i++ {
		if lower(args[i]) == "db" {
			n, err := parseInt(args[i+1])
			if err != nil || n < 0 || n > math.MaxInt32 {
				return 0, false
			}
			return int(n), true
		}
	}
	return 0, false
}

func copyKey(c *Ctx) (resp.Value, error) {
	src, dst := c.Key(1), c.Key(2)
	target, replace := c.KS.DB(), false
	for i := 3; i < len(c.Args); i++ {
		switch {
		case c.Is(i, "REPLACE"):
			replace = true
		case c.Is(i, "DB") && i+1 < len(c.Args):
			n, err := c.Int(i + 1)
			if err != nil {
				return resp.Value{}, err
			}
			if n < 0 || n >= int64(c.Engine.store.NumDatabases()) {
				return resp.Value{}, ErrInvalidDB
			}
			target = int(n)
			i++
		default:
			return resp.Value{}, ErrSyntax
		}
	}
	if src == dst && target == c.KS.DB() {
		return resp.Value{}, ErrSameObject
	}

	sv, err := c.KS.Get(src)
	if err != nil || sv == nil {
		return resp.Integer(0), err
	}
	to := c.KS
	if target != c.KS.DB() {
		to = NewStoreView(c.Engine.store, target)
	}
	if !replace {
		taken, err := to.Exists(dst)
		if err != nil || taken {
			return resp.Integer(0), err
		}
	}
	if err := to.Set(dst, sv.Clone()); err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(1), nil
}
