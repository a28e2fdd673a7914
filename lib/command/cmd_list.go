package command

import (
	"bytes"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/resp"
)

func init() {
	register(
		&Command{Name: "lpush", Min: 3, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: push(true, false)},
		&Command{Name: "rpush", Min: 3, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: push(false, false)},
		&Command{Name: "lpushx", Min: 3, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: push(true, true)},
		&Command{Name: "rpushx", Min: 3, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: push(false, true)},
		&Command{Name: "lpop", Min: 2, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: pop(true)},
		&Command{Name: "rpop", Min: 2, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: pop(false)},
		&Command{Name: "llen", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: llen},
		&Command{Name: "lrange", Min: 4, Max: 4, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: lrange},
		&Command{Name: "lindex", Min: 3, Max: 3, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: lindex},
		&Command{Name: "lset", Min: 4, Max: 4, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: lset},
		&Command{Name: "lrem", Min: 4, Max: 4, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: lrem},
		&Command{Name: "ltrim", Min: 4, Max: 4, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: ltrim},
		&Command{Name: "linsert", Min: 5, Max: 5, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: linsert},
		&Command{Name: "lpos", Min: 3, Max: -1, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: lpos},
		&Command{Name: "rpoplpush", Min: 3, Max: 3, Flags: FlagWrite, FirstKey: 1, LastKey: 2, Step: 1, Handler: rpoplpush},
		&Command{Name: "lmove", Min: 5, Max: 5, Flags: FlagWrite, FirstKey: 1, LastKey: 2, Step: 1, Handler: lmove},
	)
}

func push(left, onlyExisting bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		l, sv, err := getList(c.KS, c.Key(1))
		if err != nil {
			return resp.Value{}, err
		}
		if l == nil {
			if onlyExisting {
				return resp.Integer(0), nil
			}
			l = db.NewList()
			sv = db.NewStoredValue(l)
		}
		for _, v := range c.Args[2:] {
			if left {
				l.PushFront(v)
			} else {
				l.PushBack(v)
			}
		}
		if err := c.KS.Set(c.Key(1), sv); err != nil {
			return resp.Value{}, err
		}
		return resp.Integer(int64(l.Len())), nil
	}
}

func pop(left bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		count, withCount := 1, c.NArgs() == 2
		if withCount {
			var err error
			if count, err = c.Count(2); err != nil {
				return resp.Value{}, err
			}
		}
		l, sv, err := getList(c.KS, c.Key(1))
		if err != nil {
			return resp.Value{}, err
		}
		if l == nil {
			if withCount {
				return resp.NullArray(), nil
			}
			return resp.NullBulk(), nil
		}

		popped := make([][]byte, 0, min(count, l.Len()))
		for len(popped) < count {
			var v []byte
			var ok bool
			if left {
				v, ok = l.PopFront()
			} else {
				v, ok = l.PopBack()
			}
			if !ok {
				break
			}
			popped = append(popped, v)
		}
		if len(popped) > 0 {
			if err := storeCollection(c.KS, c.Key(1), sv, l.Len() == 0); err != nil {
				return resp.Value{}, err
			}
		}
		if withCount {
			return resp.BulkArray(popped), nil
		}
		return resp.Bulk(popped[0]), nil
	}
}

func llen(c *Ctx) (resp.Value, error) {
	l, _, err := getList(c.KS, c.Key(1))
	if err != nil || l == nil {
		return resp.Integer(0), err
	}
	return resp.Integer(int64(l.Len())), nil
}

func lrange(c *Ctx) (resp.Value, error) {
	start, err := c.Int(2)
	if err != nil {
		return resp.Value{}, err
	}
	stop, err := c.Int(3)
	if err != nil {
		return resp.Value{}, err
	}
	l, _, err := getList(c.KS, c.Key(1))
	if err != nil || l == nil {
		return resp.Array(), err
	}
	return resp.BulkArray(l.Range(clampInt(start), clampInt(stop))), nil
}

func lindex(c *Ctx) (resp.Value, error) {
	idx, err := c.Int(2)
	if err != nil {
		return resp.Value{}, err
	}
	l, _, err := getList(c.KS, c.Key(1))
	if err != nil || l == nil {
		return resp.NullBulk(), err
	}
	v, ok := l.Index(clampInt(idx))
	if !ok {
		return resp.NullBulk(), nil
	}
	return resp.Bulk(v), nil
}

func lset(c *Ctx) (resp.Value, error) {
	idx, err := c.Int(2)
	if err != nil {
		return resp.Value{}, err
	}
	l, sv, err := getList(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if l == nil {
		return resp.Value{}, ErrNoSuchKey
	}
	if !l.SetIndex(clampInt(idx), c.Args[3]) {
		return resp.Value{}, ErrIndexOutOfRange
	}
	if err := c.KS.Set(c.Key(1), sv); err != nil {
		return resp.Value{}, err
	}
	return resp.OK, nil
}

func lrem(c *Ctx) (resp.Value, error) {
	count, err := c.Int(2)
	if err != nil {
		return resp.Value{}, err
	}
	l, sv, err := getList(c.KS, c.Key(1))
	if err != nil || l == nil {
		return resp.Integer(0), err
	}
	removed := l.RemoveWhere(c.Args[3], clampInt(count))
	if removed > 0 {
		if err := storeCollection(c.KS, c.Key(1), sv, l.Len() == 0); err != nil {
			return resp.Value{}, err
		}
	}
	return resp.Integer(int64(removed)), nil
}

func ltrim(c *Ctx) (resp.Value, error) {
	start, err := c.Int(2)
	if err != nil {
		return resp.Value{}, err
	}
	stop, err := c.Int(3)
	if err != nil {
		return resp.Value{}, err
	}
	l, sv, err := getList(c.KS, c.Key(1))
	if err != nil || l == nil {
		return resp.OK, err
	}
	l.Trim(clampInt(start), clampInt(stop))
	if err := storeCollection(c.KS, c.Key(1), sv, l.Len() == 0); err != nil {
		return resp.Value{}, err
	}
	return resp.OK, nil
}

func linsert(c *Ctx) (resp.Value, error) {
	var after bool
	switch {
	case c.Is(2, "BEFORE"):
	case c.Is(2, "AFTER"):
		after = true
	default:
		return resp.Value{}, ErrSyntax
	}
	l, sv, err := getList(c.KS, c.Key(1))
	if err != nil || l == nil {
		return resp.Integer(0), err
	}
	pivot := -1
	for i, v := range l.Values() {
		if bytes.Equal(v, c.Args[3]) {
			pivot = i
			break
		}
	}
	if pivot < 0 {
		return resp.Integer(-1), nil
	}
	if after {
		pivot++
	}
	l.InsertAt(pivot, c.Args[4])
	if err := c.KS.Set(c.Key(1), sv); err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(int64(l.Len())), nil
}

func lpos(c *Ctx) (resp.Value, error) {
	rank, count, maxLen, withCount := int64(1), int64(1), int64(0), false
	for i := 3; i < len(c.Args); i += 2 {
		if i+1 >= len(c.Args) {
			return resp.Value{}, ErrSyntax
		}
		n, err := c.Int(i + 1)
		if err != nil {
			return resp.Value{}, err
		}
		switch {
		case c.Is(i, "RANK"):
			if n == 0 {
				return resp.Value{}, Errf("RANK can't be zero: use 1 to start from the first match, 2 from the second ... or use negative to start from the end of the list")
			}
			rank = n
		case c.Is(i, "COUNT"):
			if n < 0 {
				return resp.Value{}, Errf("COUNT can't be negative")
			}
			count, withCount = n, true
		case c.Is(i, "MAXLEN"):
			if n < 0 {
				return resp.Value{}, Errf("MAXLEN can't be negative")
			}
			maxLen = n
		default:
			return resp.Value{}, ErrSyntax
		}
	}

	l, _, err := getList(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	var matches []resp.Value
	if l != nil {
		values := l.Values()
		skip := rank - 1
		step, i := 1, 0
		if rank < 0 {
			skip = -rank - 1
			step, i = -1, len(values)-1
		}
		for scanned := int64(0); i >= 0 && i < len(values); i += step {
			if maxLen > 0 && scanned >= maxLen {
				break
			}
			scanned++
			if !bytes.Equal(values[i], c.Args[2]) {
				continue
			}
			if skip > 0 {
				skip--
				continue
			}
			matches = append(matches, resp.Integer(int64(i)))
			if count > 0 && int64(len(matches)) >= count {
				break
			}
		}
	}
	if withCount {
		return resp.Array(matches...), nil
	}
	if len(matches) == 0 {
		return resp.NullBulk(), nil
	}
	return matches[0], nil
}

func rpoplpush(c *Ctx) (resp.Value, error) {
	return moveElement(c, false, true)
}

func lmove(c *Ctx) (resp.Value, error) {
	side := func(i int) (bool, error) {
		switch {
		case c.Is(i, "LEFT"):
			return true, nil
		case c.Is(i, "RIGHT"):
			return false, nil
		}
		return false, ErrSyntax
	}
	fromLeft, err := side(3)
	if err != nil {
		return resp.Value{}, err
	}
	toLeft, err := side(4)
	if err != nil {
		return resp.Value{}, err
	}
	return moveElement(c, fromLeft, toLeft)
}

// moveElement pops from the source list and pushes onto the destination,
// which may be the same list.
func moveElement(c *Ctx, fromLeft, toLeft bool) (resp.Value, error) {
	src, dst := c.Key(1), c.Key(2)
	sl, ssv, err := getList(c.KS, src)
	if err != nil || sl == nil {
		return resp.NullBulk(), err
	}
	dl, dsv := sl, ssv
	if dst != src {
		if dl, dsv, err = getList(c.KS, dst); err != nil {
			return resp.Value{}, err
		}
		if dl == nil {
			dl = db.NewList()
			dsv = db.NewStoredValue(dl)
		}
	}

	var v []byte
	if fromLeft {
		v, _ = sl.PopFront()
	} else {
		v, _ = sl.PopBack()
	}
	if toLeft {
		dl.PushFront(v)
	} else {
		dl.PushBack(v)
	}

	if dst != src {
		if err := storeCollection(c.KS, src, ssv, sl.Len() == 0); err != nil {
			return resp.Value{}, err
		}
	}
	if err := c.KS.Set(dst, dsv); err != nil {
		return resp.Value{}, err
	}
	return resp.Bulk(v), nil
}
