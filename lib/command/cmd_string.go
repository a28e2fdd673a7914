package command

import (
	"math"
	"strconv"
	"time"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/resp"
)

// maxStringLen bounds the size SETRANGE may grow a string to.
const maxStringLen = 512 << 20

func init() {
	register(
		&Command{Name: "get", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: get},
		&Command{Name: "set", Min: 3, Max: -1, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: set},
		&Command{Name: "setnx", Min: 3, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: setnx},
		&Command{Name: "setex", Min: 4, Max: 4, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: setex(time.Second)},
		&Command{Name: "psetex", Min: 4, Max: 4, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: setex(time.Millisecond)},
		&Command{Name: "getset", Min: 3, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: getset},
		&Command{Name: "getdel", Min: 2, Max: 2, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: getdel},
		&Command{Name: "getex", Min: 2, Max: 4, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: getex},
		&Command{Name: "mget", Min: 2, Max: -1, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: -1, Step: 1, Handler: mget},
		&Command{Name: "mset", Min: 3, Max: -1, Flags: FlagWrite, FirstKey: 1, LastKey: -1, Step: 2, Handler: mset(false)},
		&Command{Name: "msetnx", Min: 3, Max: -1, Flags: FlagWrite, FirstKey: 1, LastKey: -1, Step: 2, Handler: mset(true)},
		&Command{Name: "append", Min: 3, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: appendCmd},
		&Command{Name: "strlen", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: strlen},
		&Command{Name: "incr", Min: 2, Max: 2, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: incrBy(1, false)},
		&Command{Name: "decr", Min: 2, Max: 2, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: incrBy(-1, false)},
		&Command{Name: "incrby", Min: 3, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: incrBy(1, true)},
		&Command{Name: "decrby", Min: 3, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: incrBy(-1, true)},
		&Command{Name: "incrbyfloat", Min: 3, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: incrByFloat},
		&Command{Name: "getrange", Min: 4, Max: 4, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: getrange},
		&Command{Name: "substr", Min: 4, Max: 4, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: getrange},
		&Command{Name: "setrange", Min: 4, Max: 4, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: setrange},
	)
}

func get(c *Ctx) (resp.Value, error) {
	s, _, err := getScalar(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if s == nil {
		return resp.NullBulk(), nil
	}
	return resp.Bulk(s), nil
}

type setOptions struct {
	nx, xx, get, keepTTL bool
	at                   int64 // 0 = no expiration
}

func parseSetOptions(c *Ctx, from int) (setOptions, error) {
	var o setOptions
	hasTTL := false
	for i := from; i < len(c.Args); i++ {
		switch a := lower(c.Args[i]); a {
		case "nx":
			o.nx = true
		case "xx":
			o.xx = true
		case "get":
			o.get = true
		case "keepttl":
			if hasTTL {
				return o, ErrSyntax
			}
			o.keepTTL = true
		case "ex", "px", "exat", "pxat":
			if hasTTL || o.keepTTL || i+1 >= len(c.Args) {
				return o, ErrSyntax
			}
			unit := time.Second
			if a[0] == 'p' {
				unit = time.Millisecond
			}
			var err error
			if o.at, err = deadline(c, i+1, unit, a == "exat" || a == "pxat"); err != nil {
				return o, err
			}
			hasTTL = true
			i++
		default:
			return o, ErrSyntax
		}
	}
	if o.nx && o.xx {
		return o, ErrSyntax
	}
	return o, nil
}

func set(c *Ctx) (resp.Value, error) {
	o, err := parseSetOptions(c, 3)
	if err != nil {
		return resp.Value{}, err
	}
	return doSet(c, c.Key(1), c.Args[2], o)
}

func doSet(c *Ctx, key string, value []byte, o setOptions) (resp.Value, error) {
	old, err := c.KS.Get(key)
	if err != nil {
		return resp.Value{}, err
	}
	if o.get && old != nil && old.Value.Kind() != db.KindScalar {
		return resp.Value{}, ErrWrongType
	}

	reply := resp.OK
	if o.get {
		reply = resp.NullBulk()
		if old != nil {
			reply = resp.Bulk(old.Value.(db.Scalar))
		}
	}
	if (o.nx && old != nil) || (o.xx && old == nil) {
		if o.get {
			return reply, nil
		}
		return resp.NullBulk(), nil
	}

	sv := &db.StoredValue{Value: db.Scalar(value), ExpireAt: o.at}
	if o.keepTTL && old != nil {
		sv.ExpireAt = old.ExpireAt
	}
	if err := c.KS.Set(key, sv); err != nil {
		return resp.Value{}, err
	}
	return reply, nil
}

func setnx(c *Ctx) (resp.Value, error) {
	v, err := doSet(c, c.Key(1), c.Args[2], setOptions{nx: true})
	if err != nil {
		return resp.Value{}, err
	}
	if v.IsNull() {
		return resp.Integer(0), nil
	}
	return resp.Integer(1), nil
}

func setex(unit time.Duration) Handler {
	return func(c *Ctx) (resp.Value, error) {
		at, err := deadline(c, 2, unit, false)
		if err != nil {
			return resp.Value{}, err
		}
		return doSet(c, c.Key(1), c.Args[3], setOptions{at: at})
	}
}

func getset(c *Ctx) (resp.Value, error) {
	return doSet(c, c.Key(1), c.Args[2], setOptions{get: true})
}

func getdel(c *Ctx) (resp.Value, error) {
	s, _, err := getScalar(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if s == nil {
		return resp.NullBulk(), nil
	}
	if _, err := c.KS.Delete(c.Key(1)); err != nil {
		return resp.Value{}, err
	}
	return resp.Bulk(s), nil
}

func getex(c *Ctx) (resp.Value, error) {
	at, persist, change := int64(0), false, false
	switch {
	case c.NArgs() == 1:
	case c.NArgs() == 2 && c.Is(2, "PERSIST"):
		persist, change = true, true
	case c.NArgs() == 3:
		a := lower(c.Args[2])
		if a != "ex" && a != "px" && a != "exat" && a != "pxat" {
			return resp.Value{}, ErrSyntax
		}
		unit := time.Second
		if a[0] == 'p' {
			unit = time.Millisecond
		}
		var err error
		if at, err = deadline(c, 3, unit, a == "exat" || a == "pxat"); err != nil {
			return resp.Value{}, err
		}
		change = true
	default:
		return resp.Value{}, ErrSyntax
	}

	s, sv, err := getScalar(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if s == nil {
		return resp.NullBulk(), nil
	}
	if change && (persist || at != sv.ExpireAt) {
		if err := c.KS.Set(c.Key(1), &db.StoredValue{Value: s, ExpireAt: at}); err != nil {
			return resp.Value{}, err
		}
	}
	return resp.Bulk(s), nil
}

// mget answers null for missing keys and for keys of another type.
func mget(c *Ctx) (resp.Value, error) {
	out := make([]resp.Value, 0, c.NArgs())
	for _, k := range c.Args[1:] {
		s, _, err := getScalar(c.KS, string(k))
		if err == ErrWrongType || (err == nil && s == nil) {
			out = append(out, resp.NullBulk())
			continue
		}
		if err != nil {
			return resp.Value{}, err
		}
		out = append(out, resp.Bulk(s))
	}
	return resp.Array(out...), nil
}

func mset(nx bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		if c.NArgs()%2 != 0 {
			return resp.Value{}, wrongArgs(c.Cmd.Name)
		}
		if nx {
			for i := 1; i < len(c.Args); i += 2 {
				taken, err := c.KS.Exists(c.Key(i))
				if err != nil {
					return resp.Value{}, err
				}
				if taken {
					return resp.Integer(0), nil
				}
			}
		}
		for i := 1; i < len(c.Args); i += 2 {
			if err := c.KS.Set(c.Key(i), db.NewStoredValue(db.Scalar(c.Args[i+1]))); err != nil {
				return resp.Value{}, err
			}
		}
		if nx {
			return resp.Integer(1), nil
		}
		return resp.OK, nil
	}
}

func appendCmd(c *Ctx) (resp.Value, error) {
	s, sv, err := getScalar(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	next := &db.StoredValue{}
	if sv != nil {
		next.ExpireAt = sv.ExpireAt
	}
	buf := make([]byte, 0, len(s)+len(c.Args[2]))
	buf = append(append(buf, s...), c.Args[2]...)
	next.Value = db.Scalar(buf)
	if err := c.KS.Set(c.Key(1), next); err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(int64(len(buf))), nil
}

func strlen(c *Ctx) (resp.Value, error) {
	s, _, err := getScalar(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(int64(len(s))), nil
}

// replaceScalar writes a new string value keeping the expiration of old.
func replaceScalar(c *Ctx, key string, old *db.StoredValue, value []byte) error {
	sv := db.NewStoredValue(db.Scalar(value))
	if old != nil {
		sv.ExpireAt = old.ExpireAt
	}
	return c.KS.Set(key, sv)
}

func incrBy(sign int64, withArg bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		delta := int64(1)
		if withArg {
			var err error
			if delta, err = c.Int(2); err != nil {
				return resp.Value{}, err
			}
			if sign < 0 && delta == math.MinInt64 {
				return resp.Value{}, ErrOverflow
			}
		}
		delta *= sign

		s, sv, err := getScalar(c.KS, c.Key(1))
		if err != nil {
			return resp.Value{}, err
		}
		var cur int64
		if s != nil {
			if cur, err = parseInt(s); err != nil {
				return resp.Value{}, err
			}
		}
		if (delta > 0 && cur > math.MaxInt64-delta) || (delta < 0 && cur < math.MinInt64-delta) {
			return resp.Value{}, ErrOverflow
		}
		cur += delta
		if err := replaceScalar(c, c.Key(1), sv, strconv.AppendInt(nil, cur, 10)); err != nil {
			return resp.Value{}, err
		}
		return resp.Integer(cur), nil
	}
}

func incrByFloat(c *Ctx) (resp.Value, error) {
	delta, err := c.Float(2)
	if err != nil {
		return resp.Value{}, err
	}
	s, sv, err := getScalar(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	var cur float64
	if s != nil {
		if cur, err = parseFloat(s); err != nil {
			return resp.Value{}, err
		}
	}
	cur += delta
	if math.IsNaN(cur) || math.IsInf(cur, 0) {
		return resp.Value{}, ErrNaN
	}
	text := formatFloat(cur)
	if err := replaceScalar(c, c.Key(1), sv, []byte(text)); err != nil {
		return resp.Value{}, err
	}
	return resp.BulkString(text), nil
}

func getrange(c *Ctx) (resp.Value, error) {
	start, err := c.Int(2)
	if err != nil {
		return resp.Value{}, err
	}
	end, err := c.Int(3)
	if err != nil {
		return resp.Value{}, err
	}
	s, _, err := getScalar(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	n := int64(len(s))
	if n == 0 || (start < 0 && end < 0 && start > end) {
		return resp.Bulk(nil), nil
	}
	if start < 0 {
		start = max(n+start, 0)
	}
	if end < 0 {
		end = max(n+end, 0)
	}
	end = min(end, n-1)
	if start > end {
		return resp.Bulk(nil), nil
	}
	return resp.Bulk(s[start : end+1]), nil
}

func setrange(c *Ctx) (resp.Value, error) {
	offset, err := c.Int(2)
	if err != nil {
		return resp.Value{}, err
	}
	if offset < 0 {
		return resp.Value{}, Errf("offset is out of range")
	}
	patch := c.Args[3]
	s, sv, err := getScalar(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if len(patch) == 0 {
		return resp.Integer(int64(len(s))), nil
	}
	if offset+int64(len(patch)) > maxStringLen {
		return resp.Value{}, Errf("string exceeds maximum allowed size (proto-max-bulk-len)")
	}
	size := max(len(s), int(offset)+len(patch))
	buf := make([]byte, size)
	copy(buf, s)
	copy(buf[offset:], patch)
	if err := replaceScalar(c, c.Key(1), sv, buf); err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(int64(size)), nil
}
