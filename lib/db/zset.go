package db

import (
	"math"

	"github.com/google/btree"
)

// btreeDegree is the branching factor used for all in-memory b-trees.
const btreeDegree = 32

// ZEntry is one member of an ordered set together with its score.
type ZEntry struct {
	Member string
	Score  float64
}

// Less orders entries by score, ties broken by member bytes.
func (e ZEntry) Less(than btree.Item) bool {
	o := than.(ZEntry)
	if e.Score != o.Score {
		return e.Score < o.Score
	}
	return e.Member < o.Member
}

// ScoreBound is one end of a score interval.
type ScoreBound struct {
	Value     float64
	Exclusive bool
}

// Above reports whether score lies on the inside of the bound used as minimum.
func (b ScoreBound) Above(score float64) bool {
	if b.Exclusive {
		return score > b.Value
	}
	return score >= b.Value
}

// Below reports whether score lies on the inside of the bound used as maximum.
func (b ScoreBound) Below(score float64) bool {
	if b.Exclusive {
		return score < b.Value
	}
	return score <= b.Value
}

// OrderedSet maps members to scores and keeps them ordered by (score, member).
type OrderedSet struct {
	scores map[string]float64
	tree   *btree.BTree
}

// NewOrderedSet creates an empty ordered set.
func NewOrderedSet() *OrderedSet {
	return &OrderedSet{
		scores: make(map[string]float64),
		tree:   btree.New(btreeDegree),
	}
}

func (z *OrderedSet) Kind() Kind { return KindOrderedSet }

func (z *OrderedSet) Clone() Value {
	c := &OrderedSet{
		scores: make(map[string]float64, len(z.scores)),
		tree:   z.tree.Clone(),
	}
	for m, s := range z.scores {
		c.scores[m] = s
	}
	return c
}

func (z *OrderedSet) SizeBytes() int {
	size := 0
	for m := range z.scores {
		size += len(m) + 8
	}
	return size
}

func (*OrderedSet) sealed() {}

// Len returns the number of members.
func (z *OrderedSet) Len() int { return len(z.scores) }

// Score returns the score of member.
func (z *OrderedSet) Score(member string) (float64, bool) {
	s, ok := z.scores[member]
	return s, ok
}

// Add inserts member or moves it to its new score. Returns true if the
// member was not present before.
func (z *OrderedSet) Add(member string, score float64) bool {
	old, exists := z.scores[member]
	if exists {
		if old == score {
			return false
		}
		z.tree.Delete(ZEntry{Member: member, Score: old})
	}
	z.scores[member] = score
	z.tree.ReplaceOrInsert(ZEntry{Member: member, Score: score})
	return !exists
}

// Remove deletes member. Returns false if it was not present.
func (z *OrderedSet) Remove(member string) bool {
	score, ok := z.scores[member]
	if !ok {
		return false
	}
	delete(z.scores, member)
	z.tree.Delete(ZEntry{Member: member, Score: score})
	return true
}

// Rank returns the 0-based position of member in ascending (or descending) order.
func (z *OrderedSet) Rank(member string, reverse bool) (int, bool) {
	score, ok := z.scores[member]
	if !ok {
		return 0, false
	}
	rank := 0
	z.tree.AscendLessThan(ZEntry{Member: member, Score: score}, func(btree.Item) bool {
		rank++
		return true
	})
	if reverse {
		rank = len(z.scores) - 1 - rank
	}
	return rank, true
}

// Entries returns all members in ascending order.
func (z *OrderedSet) Entries() []ZEntry {
	out := make([]ZEntry, 0, len(z.scores))
	z.tree.Ascend(func(it btree.Item) bool {
		out = append(out, it.(ZEntry))
		return true
	})
	return out
}

// RangeByRank returns the entries between the inclusive ranks start and stop.
// Negative ranks count from the end. With reverse, ranks are taken from the
// highest score downwards.
func (z *OrderedSet) RangeByRank(start, stop int, reverse bool) []ZEntry {
	n := len(z.scores)
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []ZEntry{}
	}

	out := make([]ZEntry, 0, stop-start+1)
	pos := 0
	visit := func(it btree.Item) bool {
		if pos > stop {
			return false
		}
		if pos >= start {
			out = append(out, it.(ZEntry))
		}
		pos++
		return true
	}
	if reverse {
		z.tree.Descend(visit)
	} else {
		z.tree.Ascend(visit)
	}
	return out
}

// RangeByScore returns the entries with min <= score <= max (honouring
// exclusive bounds), skipping offset entries and returning at most count
// entries (count < 0 means unlimited). With reverse the result is ordered from
// max to min.
func (z *OrderedSet) RangeByScore(min, max ScoreBound, reverse bool, offset, count int) []ZEntry {
	out := []ZEntry{}
	if count == 0 {
		return out
	}
	skipped := 0
	visit := func(it btree.Item) bool {
		e := it.(ZEntry)
		if reverse {
			if !max.Below(e.Score) {
				return true
			}
			if !min.Above(e.Score) {
				return false
			}
		} else {
			if !min.Above(e.Score) {
				return true
			}
			if !max.Below(e.Score) {
				return false
			}
		}
		if skipped < offset {
			skipped++
			return true
		}
		out = append(out, e)
		return count < 0 || len(out) < count
	}
	if reverse {
		if math.IsInf(max.Value, 1) {
			z.tree.Descend(visit)
		} else {
			// every member with score == max sorts below this pivot
			z.tree.DescendLessOrEqual(ZEntry{Score: math.Nextafter(max.Value, math.Inf(1))}, visit)
		}
	} else {
		z.tree.AscendGreaterOrEqual(ZEntry{Score: min.Value}, visit)
	}
	return out
}

// Count returns the number of members whose score lies in the interval.
func (z *OrderedSet) Count(min, max ScoreBound) int {
	n := 0
	z.tree.AscendGreaterOrEqual(ZEntry{Score: min.Value}, func(it btree.Item) bool {
		e := it.(ZEntry)
		if !min.Above(e.Score) {
			return true
		}
		if !max.Below(e.Score) {
			return false
		}
		n++
		return true
	})
	return n
}

// PopMin removes and returns up to count entries with the lowest scores.
func (z *OrderedSet) PopMin(count int) []ZEntry {
	out := make([]ZEntry, 0, min(count, len(z.scores)))
	for len(out) < count && z.tree.Len() > 0 {
		e := z.tree.DeleteMin().(ZEntry)
		delete(z.scores, e.Member)
		out = append(out, e)
	}
	return out
}

// PopMax removes and returns up to count entries with the highest scores.
func (z *OrderedSet) PopMax(count int) []ZEntry {
	out := make([]ZEntry, 0, min(count, len(z.scores)))
	for len(out) < count && z.tree.Len() > 0 {
		e := z.tree.DeleteMax().(ZEntry)
		delete(z.scores, e.Member)
		out = append(out, e)
	}
	return out
}

// ValidScore rejects NaN, which has no place in the ordering.
func ValidScore(f float64) bool {
	return !math.IsNaN(f)
}
