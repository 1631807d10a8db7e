package sortedmap

import (
	"fmt"
	"math"
	"math/rand"
	"testing"
)

func buildMap(t *testing.T, pairs ...any) *Map {
	t.Helper()
	m := New()
	for i := 0; i < len(pairs); i += 2 {
		res := m.Insert(pairs[i].(float64), pairs[i+1].(string), 0)
		if !res.Added {
			t.Fatalf("fixture insert of %v failed", pairs[i+1])
		}
	}
	return m
}

func TestInsertAndScore(t *testing.T) {
	m := buildMap(t, 1.0, "a", 2.0, "b")

	if s, ok := m.GetScore("a"); !ok || s != 1.0 {
		t.Errorf("GetScore(a) = %f, %v", s, ok)
	}
	res := m.Insert(5.0, "a", 0)
	if res.Added || !res.Updated || res.NewScore != 5.0 {
		t.Errorf("update result %+v", res)
	}
	if s, _ := m.GetScore("a"); s != 5.0 {
		t.Errorf("score after update = %f", s)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestInsertFlags(t *testing.T) {
	m := buildMap(t, 1.0, "m")

	if res := m.Insert(9.0, "m", FlagNX); !res.Skipped {
		t.Errorf("NX on existing member applied: %+v", res)
	}
	if s, _ := m.GetScore("m"); s != 1.0 {
		t.Errorf("NX changed score to %f", s)
	}

	if res := m.Insert(9.0, "new", FlagXX); !res.Skipped {
		t.Errorf("XX on missing member applied: %+v", res)
	}
	if _, ok := m.GetScore("new"); ok {
		t.Errorf("XX created a member")
	}

	if res := m.Insert(0.5, "m", FlagGT); !res.Skipped {
		t.Errorf("GT with lower score applied")
	}
	if res := m.Insert(3.0, "m", FlagGT); !res.Updated {
		t.Errorf("GT with greater score skipped")
	}
	if res := m.Insert(9.0, "m", FlagLT); !res.Skipped {
		t.Errorf("LT with greater score applied")
	}
	if res := m.Insert(2.0, "m", FlagLT); !res.Updated {
		t.Errorf("LT with lower score skipped")
	}
}

func TestIncrNaN(t *testing.T) {
	m := buildMap(t, 1.0, "m")

	res := m.Insert(math.Inf(-1), "m", FlagIncr)
	if res.IsNan {
		t.Fatalf("1 + -inf is not NaN")
	}
	if s, _ := m.GetScore("m"); !math.IsInf(s, -1) {
		t.Fatalf("score = %f", s)
	}

	res = m.Insert(math.Inf(1), "m", FlagIncr)
	if !res.IsNan {
		t.Fatalf("-inf + inf should be NaN, got %+v", res)
	}
	if s, _ := m.GetScore("m"); !math.IsInf(s, -1) {
		t.Errorf("NaN increment modified the stored score: %f", s)
	}
}

func TestRankMonotonic(t *testing.T) {
	m := New()
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		m.Insert(rng.Float64()*100, fmt.Sprintf("m%04d", i), 0)
	}

	all := m.RangeByIndex(0, m.Len()-1, false)
	if len(all) != 500 {
		t.Fatalf("range returned %d members", len(all))
	}
	for i := 1; i < len(all); i++ {
		prev, cur := all[i-1], all[i]
		if prev.Score > cur.Score ||
			(prev.Score == cur.Score && prev.Member >= cur.Member) {
			t.Fatalf("order violated at %d: %+v then %+v", i, prev, cur)
		}
	}

	for i, sm := range all {
		if rank, ok := m.GetRank(sm.Member, false); !ok || rank != i {
			t.Fatalf("rank of %s = %d, want %d", sm.Member, rank, i)
		}
		if rrank, _ := m.GetRank(sm.Member, true); rrank != len(all)-1-i {
			t.Fatalf("reverse rank of %s wrong", sm.Member)
		}
	}
}

func TestTieBreakLex(t *testing.T) {
	m := buildMap(t, 0.0, "d", 0.0, "a", 0.0, "c", 0.0, "b")

	all := m.RangeByIndex(0, -1+m.Len(), false)
	want := []string{"a", "b", "c", "d"}
	for i, w := range want {
		if all[i].Member != w {
			t.Fatalf("tie order %v", all)
		}
	}
}

func TestRangeByScore(t *testing.T) {
	m := buildMap(t, 1.0, "a", 2.0, "b", 3.0, "c", 4.0, "d")

	spec := ScoreSpec{Min: ScoreBound{Val: 2}, Max: ScoreBound{Val: 3}}
	got := m.RangeByScore(spec, 0, -1, false)
	if len(got) != 2 || got[0].Member != "b" || got[1].Member != "c" {
		t.Errorf("inclusive range = %+v", got)
	}

	spec.Min.Exclusive = true
	got = m.RangeByScore(spec, 0, -1, false)
	if len(got) != 1 || got[0].Member != "c" {
		t.Errorf("exclusive min range = %+v", got)
	}

	got = m.RangeByScore(ScoreSpec{Min: MinusInfBound(), Max: PlusInfBound()}, 1, 2, true)
	if len(got) != 2 || got[0].Member != "c" || got[1].Member != "b" {
		t.Errorf("reverse offset/limit = %+v", got)
	}

	if n := m.CountByScore(ScoreSpec{Min: ScoreBound{Val: 1, Exclusive: true}, Max: PlusInfBound()}); n != 3 {
		t.Errorf("CountByScore = %d", n)
	}
}

func TestRangeByLex(t *testing.T) {
	m := buildMap(t, 0.0, "a", 0.0, "b", 0.0, "c", 0.0, "d")

	spec := LexSpec{
		Min: LexBound{Type: LexClosed, Val: "a"},
		Max: LexBound{Type: LexOpen, Val: "c"},
	}
	got := m.RangeByLex(spec, 0, -1, false)
	if len(got) != 2 || got[0].Member != "a" || got[1].Member != "b" {
		t.Errorf("[a (c = %+v", got)
	}

	got = m.RangeByLex(spec, 0, -1, true)
	if len(got) != 2 || got[0].Member != "b" || got[1].Member != "a" {
		t.Errorf("reversed (c [a = %+v", got)
	}

	all := m.RangeByLex(LexSpec{Min: LexBound{Type: LexMinusInf}, Max: LexBound{Type: LexPlusInf}}, 0, -1, false)
	if len(all) != 4 {
		t.Errorf("full lex range = %+v", all)
	}

	if n := m.CountByLex(spec); n != 2 {
		t.Errorf("CountByLex = %d", n)
	}
}

func TestDeleteRanges(t *testing.T) {
	m := buildMap(t, 1.0, "a", 2.0, "b", 3.0, "c", 4.0, "d", 5.0, "e")

	if n := m.DeleteRangeByRank(0, 1); n != 2 {
		t.Fatalf("DeleteRangeByRank = %d", n)
	}
	if _, ok := m.GetScore("a"); ok {
		t.Errorf("a survived rank delete")
	}

	if n := m.DeleteRangeByScore(ScoreSpec{Min: ScoreBound{Val: 5}, Max: PlusInfBound()}); n != 1 {
		t.Fatalf("DeleteRangeByScore = %d", n)
	}
	if m.Len() != 2 {
		t.Errorf("Len = %d", m.Len())
	}
}

func TestPopTop(t *testing.T) {
	m := buildMap(t, 1.0, "a", 2.0, "b", 3.0, "c")

	popped := m.PopTop(2, false)
	if len(popped) != 2 || popped[0].Member != "a" || popped[1].Member != "b" {
		t.Fatalf("PopTop min = %+v", popped)
	}

	popped = m.PopTop(5, true)
	if len(popped) != 1 || popped[0].Member != "c" {
		t.Fatalf("PopTop max = %+v", popped)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d after popping everything", m.Len())
	}
}

func TestScanCycle(t *testing.T) {
	m := New()
	for i := 0; i < 100; i++ {
		m.Insert(float64(i), fmt.Sprintf("m%d", i), 0)
	}

	seen := map[string]bool{}
	cursor := uint64(0)
	for {
		cursor = m.Scan(cursor, func(member string, score float64) {
			seen[member] = true
		})
		if cursor == 0 {
			break
		}
	}
	if len(seen) != 100 {
		t.Errorf("scan visited %d members", len(seen))
	}
}

func TestRandomMembers(t *testing.T) {
	m := buildMap(t, 1.0, "a", 2.0, "b", 3.0, "c")

	got := m.RandomMembers(2, true)
	if len(got) != 2 || got[0].Member == got[1].Member {
		t.Errorf("unique sample = %+v", got)
	}
	got = m.RandomMembers(10, true)
	if len(got) != 3 {
		t.Errorf("unique sample exceeded population: %+v", got)
	}
	got = m.RandomMembers(10, false)
	if len(got) != 10 {
		t.Errorf("with-replacement sample = %d", len(got))
	}
}

func TestDelete(t *testing.T) {
	m := buildMap(t, 1.0, "a", 2.0, "b")

	if !m.Delete("a") {
		t.Fatalf("Delete existing = false")
	}
	if m.Delete("a") {
		t.Fatalf("Delete missing = true")
	}
	if rank, ok := m.GetRank("b", false); !ok || rank != 0 {
		t.Errorf("rank of b after delete = %d, %v", rank, ok)
	}
}
