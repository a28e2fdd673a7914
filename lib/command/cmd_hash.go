package command

import (
	"math"
	"strconv"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/resp"
)

func init() {
	register(
		&Command{Name: "hset", Min: 4, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hset(false)},
		&Command{Name: "hmset", Min: 4, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hset(true)},
		&Command{Name: "hsetnx", Min: 4, Max: 4, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hsetnx},
		&Command{Name: "hget", Min: 3, Max: 3, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hget},
		&Command{Name: "hmget", Min: 3, Max: -1, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hmget},
		&Command{Name: "hdel", Min: 3, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hdel},
		&Command{Name: "hlen", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hlen},
		&Command{Name: "hexists", Min: 3, Max: 3, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hexists},
		&Command{Name: "hkeys", Min: 2, Max: 2, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: hkeys},
		&Command{Name: "hvals", Min: 2, Max: 2, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: hvals},
		&Command{Name: "hgetall", Min: 2, Max: 2, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: hgetall},
		&Command{Name: "hincrby", Min: 4, Max: 4, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hincrby},
		&Command{Name: "hincrbyfloat", Min: 4, Max: 4, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hincrbyfloat},
		&Command{Name: "hstrlen", Min: 3, Max: 3, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: hstrlen},
	)
}

// mapForWrite returns the hash at key, creating an empty one if missing.
func mapForWrite(ks Keyspace, key string) (db.Map, *db.StoredValue, error) {
	m, sv, err := getMap(ks, key)
	if err != nil {
		return nil, nil, err
	}
	if m == nil {
		m = db.Map{}
		sv = db.NewStoredValue(m)
	}
	return m, sv, nil
}

func hset(legacy bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		if c.NArgs()%2 != 1 {
			return resp.Value{}, wrongArgs(c.Cmd.Name)
		}
		m, sv, err := mapForWrite(c.KS, c.Key(1))
		if err != nil {
			return resp.Value{}, err
		}
		var added int64
		for i := 2; i < len(c.Args); i += 2 {
			field := c.Arg(i)
			if _, ok := m[field]; !ok {
				added++
			}
			m[field] = c.Args[i+1]
		}
		if err := c.KS.Set(c.Key(1), sv); err != nil {
			return resp.Value{}, err
		}
		if legacy {
			return resp.OK, nil
		}
		return resp.Integer(added), nil
	}
}

func hsetnx(c *Ctx) (resp.Value, error) {
	m, sv, err := mapForWrite(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if _, ok := m[c.Arg(2)]; ok {
		return resp.Integer(0), nil
	}
	m[c.Arg(2)] = c.Args[3]
	if err := c.KS.Set(c.Key(1), sv); err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(1), nil
}

func hget(c *Ctx) (resp.Value, error) {
	m, _, err := getMap(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	v, ok := m[c.Arg(2)]
	if !ok {
		return resp.NullBulk(), nil
	}
	return resp.Bulk(v), nil
}

func hmget(c *Ctx) (resp.Value, error) {
	m, _, err := getMap(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	out := make([][]byte, 0, c.NArgs()-1)
	for _, f := range c.Args[2:] {
		out = append(out, m[string(f)])
	}
	return resp.BulkArray(out), nil
}

func hdel(c *Ctx) (resp.Value, error) {
	m, sv, err := getMap(c.KS, c.Key(1))
	if err != nil || m == nil {
		return resp.Integer(0), err
	}
	var removed int64
	for _, f := range c.Args[2:] {
		if _, ok := m[string(f)]; ok {
			delete(m, string(f))
			removed++
		}
	}
	if removed > 0 {
		if err := storeCollection(c.KS, c.Key(1), sv, len(m) == 0); err != nil {
			return resp.Value{}, err
		}
	}
	return resp.Integer(removed), nil
}

func hlen(c *Ctx) (resp.Value, error) {
	m, _, err := getMap(c.KS, c.Key(1))
	return resp.Integer(int64(len(m))), err
}

func hexists(c *Ctx) (resp.Value, error) {
	m, _, err := getMap(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	_, ok := m[c.Arg(2)]
	return resp.Integer(boolInt(ok)), nil
}

func hkeys(c *Ctx) (resp.Value, error) {
	m, _, err := getMap(c.KS, c.Key(1))
	if err != nil || m == nil {
		return resp.Array(), err
	}
	return resp.StringArray(m.Fields()), nil
}

func hvals(c *Ctx) (resp.Value, error) {
	m, _, err := getMap(c.KS, c.Key(1))
	if err != nil || m == nil {
		return resp.Array(), err
	}
	fields := m.Fields()
	out := make([][]byte, len(fields))
	for i, f := range fields {
		out[i] = m[f]
	}
	return resp.BulkArray(out), nil
}

// hgetall answers a map, which protocol 2 clients receive as a flat array.
func hgetall(c *Ctx) (resp.Value, error) {
	m, _, err := getMap(c.KS, c.Key(1))
	if err != nil || m == nil {
		return resp.Map(), err
	}
	fields := m.Fields()
	out := make([]resp.Value, 0, 2*len(fields))
	for _, f := range fields {
		out = append(out, resp.BulkString(f), resp.Bulk(m[f]))
	}
	return resp.Map(out...), nil
}

func hincrby(c *Ctx) (resp.Value, error) {
	delta, err := c.Int(3)
	if err != nil {
		return resp.Value{}, err
	}
	m, sv, err := mapForWrite(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	var cur int64
	if raw, ok := m[c.Arg(2)]; ok {
		if cur, err = strconv.ParseInt(string(raw), 10, 64); err != nil {
			return resp.Value{}, ErrHashNotInteger
		}
	}
	if (delta > 0 && cur > math.MaxInt64-delta) || (delta < 0 && cur < math.MinInt64-delta) {
		return resp.Value{}, ErrOverflow
	}
	cur += delta
	m[c.Arg(2)] = strconv.AppendInt(nil, cur, 10)
	if err := c.KS.Set(c.Key(1), sv); err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(cur), nil
}

func hincrbyfloat(c *Ctx) (resp.Value, error) {
	delta, err := c.Float(3)
	if err != nil {
		return resp.Value{}, err
	}
	m, sv, err := mapForWrite(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	var cur float64
	if raw, ok := m[c.Arg(2)]; ok {
		if cur, err = parseFloat(raw); err != nil {
			return resp.Value{}, ErrHashNotFloat
		}
	}
	cur += delta
	if math.IsNaN(cur) || math.IsInf(cur, 0) {
		return resp.Value{}, ErrNaN
	}
	text := formatFloat(cur)
	m[c.Arg(2)] = []byte(text)
	if err := c.KS.Set(c.Key(1), sv); err != nil {
		return resp.Value{}, err
	}
	return resp.BulkString(text), nil
}

func hstrlen(c *Ctx) (resp.Value, error) {
	m, _, err := getMap(c.KS, c.Key(1))
	return resp.Integer(int64(len(m[c.Arg(2)]))), err
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
