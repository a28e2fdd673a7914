package command

import (
	"math/rand/v2"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/resp"
)

func init() {
	register(
		&Command{Name: "sadd", Min: 3, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: sadd},
		&Command{Name: "srem", Min: 3, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: srem},
		&Command{Name: "smembers", Min: 2, Max: 2, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: smembers},
		&Command{Name: "sismember", Min: 3, Max: 3, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: sismember},
		&Command{Name: "smismember", Min: 3, Max: -1, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: smismember},
		&Command{Name: "scard", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: scard},
		&Command{Name: "spop", Min: 2, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: spop},
		&Command{Name: "srandmember", Min: 2, Max: 3, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: srandmember},
		&Command{Name: "smove", Min: 4, Max: 4, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 2, Step: 1, Handler: smove},
		&Command{Name: "sunion", Min: 2, Max: -1, Flags: FlagReadonly, FirstKey: 1, LastKey: -1, Step: 1, Handler: setOp(opUnion, false)},
		&Command{Name: "sinter", Min: 2, Max: -1, Flags: FlagReadonly, FirstKey: 1, LastKey: -1, Step: 1, Handler: setOp(opInter, false)},
		&Command{Name: "sdiff", Min: 2, Max: -1, Flags: FlagReadonly, FirstKey: 1, LastKey: -1, Step: 1, Handler: setOp(opDiff, false)},
		&Command{Name: "sunionstore", Min: 3, Max: -1, Flags: FlagWrite, FirstKey: 1, LastKey: -1, Step: 1, Handler: setOp(opUnion, true)},
		&Command{Name: "sinterstore", Min: 3, Max: -1, Flags: FlagWrite, FirstKey: 1, LastKey: -1, Step: 1, Handler: setOp(opInter, true)},
		&Command{Name: "sdiffstore", Min: 3, Max: -1, Flags: FlagWrite, FirstKey: 1, LastKey: -1, Step: 1, Handler: setOp(opDiff, true)},
		&Command{Name: "sintercard", Min: 3, Max: -1, Flags: FlagReadonly, KeysFunc: numKeysAt(1), Handler: sintercard},
	)
}

// numKeysAt extracts the keys of commands of the form CMD ... numkeys key [key ...].
func numKeysAt(pos int) func(args [][]byte) []string {
	return func(args [][]byte) []string {
		if pos >= len(args) {
			return nil
		}
		n, err := parseInt(args[pos])
		if err != nil || n <= 0 || int64(len(args)-pos-1) < n {
			return nil
		}
		keys := make([]string, n)
		for i := range keys {
			keys[i] = string(args[pos+1+i])
		}
		return keys
	}
}

func membersReply(members []string) resp.Value {
	out := make([]resp.Value, len(members))
	for i, m := range members {
		out[i] = resp.BulkString(m)
	}
	return resp.Set(out...)
}

func sadd(c *Ctx) (resp.Value, error) {
	s, sv, err := getSet(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if s == nil {
		s = db.Set{}
		sv = db.NewStoredValue(s)
	}
	var added int64
	for _, m := range c.Args[2:] {
		if !s.Has(string(m)) {
			s[string(m)] = struct{}{}
			added++
		}
	}
	if added > 0 {
		if err := c.KS.Set(c.Key(1), sv); err != nil {
			return resp.Value{}, err
		}
	}
	return resp.Integer(added), nil
}

func srem(c *Ctx) (resp.Value, error) {
	s, sv, err := getSet(c.KS, c.Key(1))
	if err != nil || s == nil {
		return resp.Integer(0), err
	}
	var removed int64
	for _, m := range c.Args[2:] {
		if s.Has(string(m)) {
			delete(s, string(m))
			removed++
		}
	}
	if removed > 0 {
		if err := storeCollection(c.KS, c.Key(1), sv, len(s) == 0); err != nil {
			return resp.Value{}, err
		}
	}
	return resp.Integer(removed), nil
}

func smembers(c *Ctx) (resp.Value, error) {
	s, _, err := getSet(c.KS, c.Key(1))
	if err != nil || s == nil {
		return resp.Set(), err
	}
	return membersReply(s.Members()), nil
}

func sismember(c *Ctx) (resp.Value, error) {
	s, _, err := getSet(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(boolInt(s.Has(c.Arg(2)))), nil
}

func smismember(c *Ctx) (resp.Value, error) {
	s, _, err := getSet(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	out := make([]resp.Value, 0, c.NArgs()-1)
	for _, m := range c.Args[2:] {
		out = append(out, resp.Integer(boolInt(s.Has(string(m)))))
	}
	return resp.Array(out...), nil
}

func scard(c *Ctx) (resp.Value, error) {
	s, _, err := getSet(c.KS, c.Key(1))
	return resp.Integer(int64(len(s))), err
}

func spop(c *Ctx) (resp.Value, error) {
	count, withCount := 1, c.NArgs() == 2
	if withCount {
		var err error
		if count, err = c.Count(2); err != nil {
			return resp.Value{}, err
		}
	}
	s, sv, err := getSet(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if s == nil {
		if withCount {
			return resp.Set(), nil
		}
		return resp.NullBulk(), nil
	}

	members := s.Members()
	rand.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
	popped := members[:min(count, len(members))]
	for _, m := range popped {
		delete(s, m)
	}
	if len(popped) > 0 {
		if err := storeCollection(c.KS, c.Key(1), sv, len(s) == 0); err != nil {
			return resp.Value{}, err
		}
	}
	if withCount {
		return membersReply(popped), nil
	}
	return resp.BulkString(popped[0]), nil
}

// srandmember returns distinct members for a positive count and allows
// repetitions for a negative one.
func srandmember(c *Ctx) (resp.Value, error) {
	var count int64
	withCount := c.NArgs() == 2
	if withCount {
		var err error
		if count, err = c.Int(2); err != nil {
			return resp.Value{}, err
		}
	}
	s, _, err := getSet(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if !withCount {
		if len(s) == 0 {
			return resp.NullBulk(), nil
		}
		members := s.Members()
		return resp.BulkString(members[rand.IntN(len(members))]), nil
	}
	if len(s) == 0 || count == 0 {
		return resp.Array(), nil
	}

	members := s.Members()
	if count > 0 {
		rand.Shuffle(len(members), func(i, j int) { members[i], members[j] = members[j], members[i] })
		return resp.StringArray(members[:min(count, int64(len(members)))]), nil
	}
	n := clampInt(-count)
	out := make([]string, n)
	for i := range out {
		out[i] = members[rand.IntN(len(members))]
	}
	return resp.StringArray(out), nil
}

func smove(c *Ctx) (resp.Value, error) {
	src, dst, member := c.Key(1), c.Key(2), c.Arg(3)
	ss, ssv, err := getSet(c.KS, src)
	if err != nil {
		return resp.Value{}, err
	}
	ds, dsv, err := getSet(c.KS, dst)
	if err != nil {
		return resp.Value{}, err
	}
	if !ss.Has(member) {
		return resp.Integer(0), nil
	}
	if src == dst {
		return resp.Integer(1), nil
	}
	delete(ss, member)
	if err := storeCollection(c.KS, src, ssv, len(ss) == 0); err != nil {
		return resp.Value{}, err
	}
	if ds == nil {
		ds = db.Set{}
		dsv = db.NewStoredValue(ds)
	}
	ds[member] = struct{}{}
	if err := c.KS.Set(dst, dsv); err != nil {
		return resp.Value{}, err
	}
	return resp.Integer(1), nil
}

// --------------------------------------------------------------------------
// Set Algebra
// --------------------------------------------------------------------------

type setOpKind int

const (
	opUnion setOpKind = iota
	opInter
	opDiff
)

// combine applies op to the sets stored at keys. Missing keys are empty sets.
func combine(ks Keyspace, op setOpKind, keys [][]byte) (db.Set, error) {
	sets := make([]db.Set, len(keys))
	for i, k := range keys {
		s, _, err := getSet(ks, string(k))
		if err != nil {
			return nil, err
		}
		sets[i] = s
	}

	out := db.Set{}
	switch op {
	case opUnion:
		for _, s := range sets {
			for m := range s {
				out[m] = struct{}{}
			}
		}
	case opInter:
		for m := range sets[0] {
			in := true
			for _, s := range sets[1:] {
				if !s.Has(m) {
					in = false
					break
				}
			}
			if in {
				out[m] = struct{}{}
			}
		}
	case opDiff:
		for m := range sets[0] {
			in := false
			for _, s := range sets[1:] {
				if s.Has(m) {
					in = true
					break
				}
			}
			if !in {
				out[m] = struct{}{}
			}
		}
	}
	return out, nil
}

func setOp(op setOpKind, store bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		from := 1
		if store {
			from = 2
		}
		result, err := combine(c.KS, op, c.Args[from:])
		if err != nil {
			return resp.Value{}, err
		}
		if !store {
			return membersReply(result.Members()), nil
		}
		if err := storeResult(c.KS, c.Key(1), result, len(result) == 0); err != nil {
			return resp.Value{}, err
		}
		return resp.Integer(int64(len(result))), nil
	}
}

// storeResult replaces dst with the result of a *STORE command. An empty
// result deletes dst.
func storeResult(ks Keyspace, dst string, v db.Value, empty bool) error {
	if empty {
		_, err := ks.Delete(dst)
		return err
	}
	return ks.Set(dst, db.NewStoredValue(v))
}

func sintercard(c *Ctx) (resp.Value, error) {
	n, err := c.Int(1)
	if err != nil {
		return resp.Value{}, err
	}
	if n <= 0 {
		return resp.Value{}, Errf("numkeys should be greater than 0")
	}
	if n > int64(c.NArgs()-1) {
		return resp.Value{}, Errf("Number of keys can't be greater than number of args")
	}
	keys := c.Args[2 : 2+n]
	limit := 0
	rest := c.Args[2+n:]
	switch {
	case len(rest) == 0:
	case len(rest) == 2 && lower(rest[0]) == "limit":
		l, err := parseInt(rest[1])
		if err != nil {
			return resp.Value{}, err
		}
		if l < 0 {
			return resp.Value{}, Errf("LIMIT can't be negative")
		}
		limit = clampInt(l)
	default:
		return resp.Value{}, ErrSyntax
	}
	result, err := combine(c.KS, opInter, keys)
	if err != nil {
		return resp.Value{}, err
	}
	card := len(result)
	if limit > 0 {
		card = min(card, limit)
	}
	return resp.Integer(int64(card)), nil
}
