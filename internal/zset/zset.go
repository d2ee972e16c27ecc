// Package zset implements the ordered set (OS) data structure: a skip
// list kept ordered by (score, member) paired with a member-to-score
// map, the two updated together on every mutation so lookups are O(1)
// while range and rank queries stay O(log n).
package zset

// Member is one (name, score) pair in a ZSet.
type Member struct {
	Name  string
	Score float64
}

// ZSet is a sorted set: unique member names, each with a float64 score,
// ordered by score and then lexicographically by member.
type ZSet struct {
	scores map[string]float64
	sl     *skipList
}

// New creates an empty ordered set.
func New() *ZSet {
	return &ZSet{scores: make(map[string]float64), sl: newSkipList()}
}

// Add inserts member with score, or updates its score if already present.
// Returns true if member is newly present in the set.
func (z *ZSet) Add(member string, score float64) bool {
	old, exists := z.scores[member]
	if exists {
		if old == score {
			return false
		}
		z.sl.delete(member, old)
	}
	z.scores[member] = score
	z.sl.insert(member, score)
	return !exists
}

// Remove deletes member. Returns true if it was present.
func (z *ZSet) Remove(member string) bool {
	score, exists := z.scores[member]
	if !exists {
		return false
	}
	delete(z.scores, member)
	z.sl.delete(member, score)
	return true
}

// Score returns member's score and whether it is present.
func (z *ZSet) Score(member string) (float64, bool) {
	s, ok := z.scores[member]
	return s, ok
}

// Rank returns the 0-based ascending rank of member, or -1 if absent.
func (z *ZSet) Rank(member string) int {
	score, ok := z.scores[member]
	if !ok {
		return -1
	}
	return z.sl.getRank(member, score)
}

// RevRank returns the 0-based descending rank of member, or -1 if absent.
func (z *ZSet) RevRank(member string) int {
	r := z.Rank(member)
	if r == -1 {
		return -1
	}
	return z.Len() - r - 1
}

// Len returns the number of members.
func (z *ZSet) Len() int { return len(z.scores) }

// Range returns members scored in [min, max], skipping offset then
// returning at most count (count == -1 means unbounded).
func (z *ZSet) Range(min, max float64, offset, count int) []Member {
	return z.sl.getRange(min, max, offset, count, false)
}

// RevRange is Range in descending score order.
func (z *ZSet) RevRange(min, max float64, offset, count int) []Member {
	return z.sl.getRange(min, max, offset, count, true)
}

// RangeByRank returns members with rank in [start, stop], inclusive.
func (z *ZSet) RangeByRank(start, stop int) []Member {
	return z.sl.getRangeByRank(start, stop, false)
}

// RevRangeByRank is RangeByRank in descending order.
func (z *ZSet) RevRangeByRank(start, stop int) []Member {
	return z.sl.getRangeByRank(start, stop, true)
}

// IncrBy adds delta to member's score (creating it at delta if absent)
// and returns the resulting score.
func (z *ZSet) IncrBy(member string, delta float64) float64 {
	old, exists := z.scores[member]
	next := old + delta
	if exists {
		z.sl.delete(member, old)
	}
	z.scores[member] = next
	z.sl.insert(member, next)
	return next
}

// Count returns the number of members scored in [min, max].
func (z *ZSet) Count(min, max float64) int {
	return len(z.sl.getRange(min, max, 0, -1, false))
}

// PopMin removes and returns the lowest-scored member, or ok=false if empty.
func (z *ZSet) PopMin() (Member, bool) {
	first := z.sl.header.level[0]
	if first == nil {
		return Member{}, false
	}
	m := Member{Name: first.member, Score: first.score}
	z.Remove(first.member)
	return m, true
}

// PopMax removes and returns the highest-scored member, or ok=false if empty.
func (z *ZSet) PopMax() (Member, bool) {
	last := z.sl.tail
	if last == nil {
		return Member{}, false
	}
	m := Member{Name: last.member, Score: last.score}
	z.Remove(last.member)
	return m, true
}

// RemoveRangeByScore deletes every member scored in [min, max] and
// returns how many were removed.
func (z *ZSet) RemoveRangeByScore(min, max float64) int {
	members := z.sl.getRange(min, max, 0, -1, false)
	n := 0
	for _, m := range members {
		if z.Remove(m.Name) {
			n++
		}
	}
	return n
}

// RemoveRangeByRank deletes every member with rank in [start, stop] and
// returns how many were removed.
func (z *ZSet) RemoveRangeByRank(start, stop int) int {
	members := z.sl.getRangeByRank(start, stop, false)
	n := 0
	for _, m := range members {
		if z.Remove(m.Name) {
			n++
		}
	}
	return n
}

// All returns every member in ascending score order.
func (z *ZSet) All() []Member {
	if z.Len() == 0 {
		return nil
	}
	return z.sl.getRangeByRank(0, z.Len()-1, false)
}

// Clone returns a deep copy, used on the copy-on-write path before an
// in-place mutation of a shared object.
func (z *ZSet) Clone() *ZSet {
	c := New()
	for member, score := range z.scores {
		c.scores[member] = score
	}
	c.sl = z.sl.clone()
	return c
}
