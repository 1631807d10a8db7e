package listpack

import (
	"bytes"
	"fmt"
	"testing"
)

func buildPairs(t *testing.T, pairs ...string) []byte {
	t.Helper()
	if len(pairs)%2 != 0 {
		t.Fatalf("odd pair count")
	}
	lp := New()
	for i := 0; i < len(pairs); i += 2 {
		var inserted bool
		lp, inserted = Insert(lp, []byte(pairs[i]), []byte(pairs[i+1]), false)
		if !inserted {
			t.Fatalf("duplicate field %q in fixture", pairs[i])
		}
	}
	return lp
}

func TestInsertFind(t *testing.T) {
	lp := buildPairs(t, "f1", "v1", "f2", "v2", "f3", "300")

	if NumPairs(lp) != 3 {
		t.Fatalf("NumPairs = %d", NumPairs(lp))
	}

	var buf [20]byte
	for _, tc := range [][2]string{{"f1", "v1"}, {"f2", "v2"}, {"f3", "300"}} {
		got, ok := Find(lp, []byte(tc[0]), buf[:])
		if !ok || string(got) != tc[1] {
			t.Errorf("Find(%s) = %q, %v", tc[0], got, ok)
		}
	}
	if _, ok := Find(lp, []byte("missing"), buf[:]); ok {
		t.Errorf("Find found a missing field")
	}
}

func TestInsertReplaceAndSkip(t *testing.T) {
	lp := buildPairs(t, "f", "old")

	lp, inserted := Insert(lp, []byte("f"), []byte("new"), false)
	if inserted {
		t.Errorf("replace reported as insert")
	}
	var buf [20]byte
	if got, _ := Find(lp, []byte("f"), buf[:]); string(got) != "new" {
		t.Errorf("value after replace = %q", got)
	}

	lp, inserted = Insert(lp, []byte("f"), []byte("skipped"), true)
	if inserted {
		t.Errorf("skipExists inserted over existing field")
	}
	if got, _ := Find(lp, []byte("f"), buf[:]); string(got) != "new" {
		t.Errorf("skipExists overwrote: %q", got)
	}
	if NumPairs(lp) != 1 {
		t.Errorf("NumPairs = %d", NumPairs(lp))
	}
}

func TestDelete(t *testing.T) {
	lp := buildPairs(t, "a", "1", "b", "2", "c", "3")

	lp, existed := Delete(lp, []byte("b"))
	if !existed {
		t.Fatalf("Delete(b) = false")
	}
	if NumPairs(lp) != 2 {
		t.Fatalf("NumPairs = %d", NumPairs(lp))
	}
	var buf [20]byte
	if _, ok := Find(lp, []byte("b"), buf[:]); ok {
		t.Errorf("deleted field still findable")
	}
	if v, _ := Find(lp, []byte("c"), buf[:]); string(v) != "3" {
		t.Errorf("entry after deleted pair corrupted: %q", v)
	}

	lp, existed = Delete(lp, []byte("b"))
	if existed {
		t.Errorf("Delete of missing field = true")
	}
}

func TestBidirectionalIteration(t *testing.T) {
	lp := buildPairs(t, "a", "1", "b", "2", "c", "3")

	var fwd []string
	var buf [20]byte
	for off := First(lp); off != -1; off = Next(lp, off) {
		fwd = append(fwd, string(Get(lp, off, buf[:])))
	}

	var bwd []string
	for off := Last(lp); off != -1; off = Prev(lp, off) {
		bwd = append(bwd, string(Get(lp, off, buf[:])))
	}

	if len(fwd) != 6 || len(bwd) != 6 {
		t.Fatalf("lens %d/%d", len(fwd), len(bwd))
	}
	for i := range fwd {
		if fwd[i] != bwd[len(bwd)-1-i] {
			t.Fatalf("fwd %v vs bwd %v", fwd, bwd)
		}
	}
}

func TestIntegerEncoding(t *testing.T) {
	lp := New()
	lp, _ = Insert(lp, []byte("n"), []byte("-987654321"), false)

	off := First(lp)
	voff := Next(lp, off)
	if v, ok := GetInt(lp, voff); !ok || v != -987654321 {
		t.Errorf("GetInt = %d, %v", v, ok)
	}
	var buf [20]byte
	if got, _ := Find(lp, []byte("n"), buf[:]); string(got) != "-987654321" {
		t.Errorf("decoded %q", got)
	}

	// "007" must not round trip through the int encoder
	lp, _ = Insert(lp, []byte("z"), []byte("007"), false)
	if got, _ := Find(lp, []byte("z"), buf[:]); string(got) != "007" {
		t.Errorf("leading zero string mangled: %q", got)
	}
}

func TestRandomSampling(t *testing.T) {
	lp := New()
	want := map[string]string{}
	for i := 0; i < 10; i++ {
		f, v := fmt.Sprintf("f%d", i), fmt.Sprintf("v%d", i)
		lp, _ = Insert(lp, []byte(f), []byte(v), false)
		want[f] = v
	}

	f, v, ok := RandomPair(lp)
	if !ok || want[string(f)] != string(v) {
		t.Errorf("RandomPair = %q/%q", f, v)
	}

	fields, values := RandomPairsUnique(lp, 5)
	if len(fields) != 5 {
		t.Fatalf("unique count = %d", len(fields))
	}
	seen := map[string]bool{}
	for i := range fields {
		if seen[string(fields[i])] {
			t.Errorf("duplicate in unique sample: %s", fields[i])
		}
		seen[string(fields[i])] = true
		if want[string(fields[i])] != string(values[i]) {
			t.Errorf("pair mismatch %s/%s", fields[i], values[i])
		}
	}

	fields, _ = RandomPairsUnique(lp, 100)
	if len(fields) != 10 {
		t.Errorf("unique sample larger than population: %d", len(fields))
	}

	fields, values = RandomPairs(lp, 25)
	if len(fields) != 25 {
		t.Errorf("with-replacement count = %d", len(fields))
	}
	for i := range fields {
		if want[string(fields[i])] != string(values[i]) {
			t.Errorf("pair mismatch %s/%s", fields[i], values[i])
		}
	}
}

func TestEmptyValue(t *testing.T) {
	lp := New()
	lp, inserted := Insert(lp, []byte("f"), []byte(""), false)
	if !inserted {
		t.Fatalf("insert failed")
	}
	var buf [20]byte
	got, ok := Find(lp, []byte("f"), buf[:])
	if !ok || !bytes.Equal(got, []byte{}) {
		t.Errorf("empty value round trip: %q, %v", got, ok)
	}
}
