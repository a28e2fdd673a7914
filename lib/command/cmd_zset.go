package command

import (
	"math"

	"github.com/ValentinKolb/rKV/lib/db"
	"github.com/ValentinKolb/rKV/lib/resp"
)

func init() {
	register(
		&Command{Name: "zadd", Min: 4, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zadd},
		&Command{Name: "zincrby", Min: 4, Max: 4, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zincrby},
		&Command{Name: "zrem", Min: 3, Max: -1, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zrem},
		&Command{Name: "zscore", Min: 3, Max: 3, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zscore},
		&Command{Name: "zmscore", Min: 3, Max: -1, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zmscore},
		&Command{Name: "zcard", Min: 2, Max: 2, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zcard},
		&Command{Name: "zcount", Min: 4, Max: 4, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zcount},
		&Command{Name: "zrank", Min: 3, Max: 4, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zrank(false)},
		&Command{Name: "zrevrank", Min: 3, Max: 4, Flags: FlagReadonly | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zrank(true)},
		&Command{Name: "zrange", Min: 4, Max: -1, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: zrange},
		&Command{Name: "zrevrange", Min: 4, Max: 5, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: zrevrange},
		&Command{Name: "zrangebyscore", Min: 4, Max: -1, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: zrangebyscore(false)},
		&Command{Name: "zrevrangebyscore", Min: 4, Max: -1, Flags: FlagReadonly, FirstKey: 1, LastKey: 1, Step: 1, Handler: zrangebyscore(true)},
		&Command{Name: "zremrangebyrank", Min: 4, Max: 4, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: zremrangebyrank},
		&Command{Name: "zremrangebyscore", Min: 4, Max: 4, Flags: FlagWrite, FirstKey: 1, LastKey: 1, Step: 1, Handler: zremrangebyscore},
		&Command{Name: "zpopmin", Min: 2, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zpop(false)},
		&Command{Name: "zpopmax", Min: 2, Max: 3, Flags: FlagWrite | FlagFast, FirstKey: 1, LastKey: 1, Step: 1, Handler: zpop(true)},
	)
}

// parseBound parses a score bound: a float, optionally prefixed with "(" for
// an exclusive bound, or -inf / +inf.
func parseBound(b []byte) (db.ScoreBound, error) {
	var bound db.ScoreBound
	if len(b) > 0 && b[0] == '(' {
		bound.Exclusive = true
		b = b[1:]
	}
	f, err := parseFloat(b)
	if err != nil {
		return bound, ErrMinMaxNotFloat
	}
	bound.Value = f
	return bound, nil
}

// entriesReply renders members, optionally with their scores. Protocol 3
// clients receive [member, score] pairs, protocol 2 clients a flat list.
func entriesReply(c *Ctx, entries []db.ZEntry, withScores bool) resp.Value {
	out := make([]resp.Value, 0, len(entries)*2)
	for _, e := range entries {
		switch {
		case !withScores:
			out = append(out, resp.BulkString(e.Member))
		case c.Proto() >= resp.Proto3:
			out = append(out, resp.Array(resp.BulkString(e.Member), resp.Double(e.Score)))
		default:
			out = append(out, resp.BulkString(e.Member), resp.Double(e.Score))
		}
	}
	return resp.Array(out...)
}

func zadd(c *Ctx) (resp.Value, error) {
	var nx, xx, gt, lt, ch, incr bool
	i := 2
loop:
	for ; i < len(c.Args); i++ {
		switch lower(c.Args[i]) {
		case "nx":
			nx = true
		case "xx":
			xx = true
		case "gt":
			gt = true
		case "lt":
			lt = true
		case "ch":
			ch = true
		case "incr":
			incr = true
		default:
			break loop
		}
	}
	pairs := c.Args[i:]
	switch {
	case len(pairs) == 0 || len(pairs)%2 != 0:
		return resp.Value{}, ErrSyntax
	case nx && xx:
		return resp.Value{}, Errf("XX and NX options at the same time are not compatible")
	case (gt && lt) || (nx && (gt || lt)):
		return resp.Value{}, Errf("GT, LT, and/or NX options at the same time are not compatible")
	case incr && len(pairs) != 2:
		return resp.Value{}, Errf("INCR option supports a single increment-element pair")
	}

	scores := make([]float64, len(pairs)/2)
	for j := range scores {
		f, err := parseFloat(pairs[2*j])
		if err != nil {
			return resp.Value{}, err
		}
		scores[j] = f
	}

	z, sv, err := getZSet(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if z == nil {
		if xx {
			if incr {
				return resp.NullBulk(), nil
			}
			return resp.Integer(0), nil
		}
		z = db.NewOrderedSet()
		sv = db.NewStoredValue(z)
	}

	var added, changed int64
	var last float64
	skipped := false
	for j, score := range scores {
		member := string(pairs[2*j+1])
		cur, exists := z.Score(member)
		if (nx && exists) || (xx && !exists) {
			skipped = true
			continue
		}
		if incr {
			score += cur
			if math.IsNaN(score) {
				return resp.Value{}, Errf("resulting score is not a number (NaN)")
			}
		}
		if exists && ((gt && score <= cur) || (lt && score >= cur)) {
			skipped = true
			continue
		}
		skipped = false
		if z.Add(member, score) {
			added++
		} else if exists && cur != score {
			changed++
		}
		last = score
	}

	if added+changed > 0 {
		if err := c.KS.Set(c.Key(1), sv); err != nil {
			return resp.Value{}, err
		}
	}
	if incr {
		if skipped {
			return resp.NullBulk(), nil
		}
		return resp.Double(last), nil
	}
	if ch {
		return resp.Integer(added + changed), nil
	}
	return resp.Integer(added), nil
}

func zincrby(c *Ctx) (resp.Value, error) {
	delta, err := c.Float(2)
	if err != nil {
		return resp.Value{}, err
	}
	z, sv, err := getZSet(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	if z == nil {
		z = db.NewOrderedSet()
		sv = db.NewStoredValue(z)
	}
	cur, _ := z.Score(c.Arg(3))
	score := cur + delta
	if math.IsNaN(score) {
		return resp.Value{}, Errf("resulting score is not a number (NaN)")
	}
	z.Add(c.Arg(3), score)
	if err := c.KS.Set(c.Key(1), sv); err != nil {
		return resp.Value{}, err
	}
	return resp.Double(score), nil
}

func zrem(c *Ctx) (resp.Value, error) {
	z, sv, err := getZSet(c.KS, c.Key(1))
	if err != nil || z == nil {
		return resp.Integer(0), err
	}
	var removed int64
	for _, m := range c.Args[2:] {
		if z.Remove(string(m)) {
			removed++
		}
	}
	if removed > 0 {
		if err := storeCollection(c.KS, c.Key(1), sv, z.Len() == 0); err != nil {
			return resp.Value{}, err
		}
	}
	return resp.Integer(removed), nil
}

func zscore(c *Ctx) (resp.Value, error) {
	z, _, err := getZSet(c.KS, c.Key(1))
	if err != nil || z == nil {
		return resp.NullBulk(), err
	}
	score, ok := z.Score(c.Arg(2))
	if !ok {
		return resp.NullBulk(), nil
	}
	return resp.Double(score), nil
}

func zmscore(c *Ctx) (resp.Value, error) {
	z, _, err := getZSet(c.KS, c.Key(1))
	if err != nil {
		return resp.Value{}, err
	}
	out := make([]resp.Value, 0, c.NArgs()-1)
	for _, m := range c.Args[2:] {
		if z == nil {
			out = append(out, resp.NullBulk())
			continue
		}
		if score, ok := z.Score(string(m)); ok {
			out = append(out, resp.Double(score))
		} else {
			out = append(out, resp.NullBulk())
		}
	}
	return resp.Array(out...), nil
}

func zcard(c *Ctx) (resp.Value, error) {
	z, _, err := getZSet(c.KS, c.Key(1))
	if err != nil || z == nil {
		return resp.Integer(0), err
	}
	return resp.Integer(int64(z.Len())), nil
}

func zcount(c *Ctx) (resp.Value, error) {
	lo, err := parseBound(c.Args[2])
	if err != nil {
		return resp.Value{}, err
	}
	hi, err := parseBound(c.Args[3])
	if err != nil {
		return resp.Value{}, err
	}
	z, _, err := getZSet(c.KS, c.Key(1))
	if err != nil || z == nil {
		return resp.Integer(0), err
	}
	return resp.Integer(int64(z.Count(lo, hi))), nil
}

func zrank(reverse bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		withScore := false
		if c.NArgs() == 3 {
			if !c.Is(3, "WITHSCORE") {
				return resp.Value{}, ErrSyntax
			}
			withScore = true
		}
		z, _, err := getZSet(c.KS, c.Key(1))
		if err != nil {
			return resp.Value{}, err
		}
		null := resp.NullBulk()
		if withScore {
			null = resp.NullArray()
		}
		if z == nil {
			return null, nil
		}
		rank, ok := z.Rank(c.Arg(2), reverse)
		if !ok {
			return null, nil
		}
		if withScore {
			score, _ := z.Score(c.Arg(2))
			return resp.Array(resp.Integer(int64(rank)), resp.Double(score)), nil
		}
		return resp.Integer(int64(rank)), nil
	}
}

// rangeQuery is the normalized form of the ZRANGE family.
type rangeQuery struct {
	byScore    bool
	reverse    bool
	withScores bool
	start      int // rank range
	stop       int
	min, max   db.ScoreBound
	offset     int
	count      int // -1 = unlimited
}

func (q rangeQuery) run(z *db.OrderedSet) []db.ZEntry {
	if q.byScore {
		return z.RangeByScore(q.min, q.max, q.reverse, q.offset, q.count)
	}
	return z.RangeByRank(q.start, q.stop, q.reverse)
}

// parseRangeOptions handles WITHSCORES and LIMIT after the range arguments.
func parseRangeOptions(c *Ctx, q *rangeQuery, from int, allowLimit bool) error {
	limit := false
	for i := from; i < len(c.Args); i++ {
		switch {
		case c.Is(i, "WITHSCORES"):
			q.withScores = true
		case c.Is(i, "LIMIT") && allowLimit && i+2 < len(c.Args):
			off, err := c.Int(i + 1)
			if err != nil {
				return err
			}
			cnt, err := c.Int(i + 2)
			if err != nil {
				return err
			}
			q.offset, q.count, limit = clampInt(off), clampInt(cnt), true
			if q.count < 0 {
				q.count = -1
			}
			i += 2
		case c.Is(i, "BYSCORE") && allowLimit:
			q.byScore = true
		case c.Is(i, "REV") && allowLimit:
			q.reverse = true
		default:
			return ErrSyntax
		}
	}
	if limit && !q.byScore {
		return Errf("syntax error, LIMIT is only supported in combination with either BYSCORE or BYLEX")
	}
	return nil
}

// resolveRange parses start and stop once the range kind is known.
func resolveRange(q *rangeQuery, start, stop []byte) error {
	if q.byScore {
		a, err := parseBound(start)
		if err != nil {
			return err
		}
		b, err := parseBound(stop)
		if err != nil {
			return err
		}
		// reversed score ranges are written max first
		if q.reverse {
			a, b = b, a
		}
		q.min, q.max = a, b
		return nil
	}
	a, err := parseInt(start)
	if err != nil {
		return err
	}
	b, err := parseInt(stop)
	if err != nil {
		return err
	}
	q.start, q.stop = clampInt(a), clampInt(b)
	return nil
}

func execRange(c *Ctx, q rangeQuery) (resp.Value, error) {
	z, _, err := getZSet(c.KS, c.Key(1))
	if err != nil || z == nil {
		return resp.Array(), err
	}
	return entriesReply(c, q.run(z), q.withScores), nil
}

func zrange(c *Ctx) (resp.Value, error) {
	q := rangeQuery{count: -1}
	if err := parseRangeOptions(c, &q, 4, true); err != nil {
		return resp.Value{}, err
	}
	if err := resolveRange(&q, c.Args[2], c.Args[3]); err != nil {
		return resp.Value{}, err
	}
	return execRange(c, q)
}

func zrevrange(c *Ctx) (resp.Value, error) {
	q := rangeQuery{count: -1, reverse: true}
	if err := parseRangeOptions(c, &q, 4, false); err != nil {
		return resp.Value{}, err
	}
	if err := resolveRange(&q, c.Args[2], c.Args[3]); err != nil {
		return resp.Value{}, err
	}
	return execRange(c, q)
}

func zrangebyscore(reverse bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		q := rangeQuery{count: -1, byScore: true, reverse: reverse}
		if err := parseRangeOptions(c, &q, 4, true); err != nil {
			return resp.Value{}, err
		}
		if q.reverse != reverse {
			return resp.Value{}, ErrSyntax
		}
		if err := resolveRange(&q, c.Args[2], c.Args[3]); err != nil {
			return resp.Value{}, err
		}
		return execRange(c, q)
	}
}

func removeEntries(c *Ctx, z *db.OrderedSet, sv *db.StoredValue, entries []db.ZEntry) (resp.Value, error) {
	for _, e := range entries {
		z.Remove(e.Member)
	}
	if len(entries) > 0 {
		if err := storeCollection(c.KS, c.Key(1), sv, z.Len() == 0); err != nil {
			return resp.Value{}, err
		}
	}
	return resp.Integer(int64(len(entries))), nil
}

func zremrangebyrank(c *Ctx) (resp.Value, error) {
	start, err := c.Int(2)
	if err != nil {
		return resp.Value{}, err
	}
	stop, err := c.Int(3)
	if err != nil {
		return resp.Value{}, err
	}
	z, sv, err := getZSet(c.KS, c.Key(1))
	if err != nil || z == nil {
		return resp.Integer(0), err
	}
	return removeEntries(c, z, sv, z.RangeByRank(clampInt(start), clampInt(stop), false))
}

func zremrangebyscore(c *Ctx) (resp.Value, error) {
	lo, err := parseBound(c.Args[2])
	if err != nil {
		return resp.Value{}, err
	}
	hi, err := parseBound(c.Args[3])
	if err != nil {
		return resp.Value{}, err
	}
	z, sv, err := getZSet(c.KS, c.Key(1))
	if err != nil || z == nil {
		return resp.Integer(0), err
	}
	return removeEntries(c, z, sv, z.RangeByScore(lo, hi, false, 0, -1))
}

func zpop(highest bool) Handler {
	return func(c *Ctx) (resp.Value, error) {
		count, withCount := 1, c.NArgs() == 2
		if withCount {
			var err error
			if count, err = c.Count(2); err != nil {
				return resp.Value{}, err
			}
		}
		z, sv, err := getZSet(c.KS, c.Key(1))
		if err != nil || z == nil {
			return resp.Array(), err
		}
		var popped []db.ZEntry
		if highest {
			popped = z.PopMax(count)
		} else {
			popped = z.PopMin(count)
		}
		if len(popped) > 0 {
			if err := storeCollection(c.KS, c.Key(1), sv, z.Len() == 0); err != nil {
				return resp.Value{}, err
			}
		}
		if !withCount && len(popped) == 1 {
			return resp.Array(resp.BulkString(popped[0].Member), resp.Double(popped[0].Score)), nil
		}
		return entriesReply(c, popped, true), nil
	}
}
