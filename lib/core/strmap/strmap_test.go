package strmap

import (
	"fmt"
	"testing"
)

func TestAddOrUpdate(t *testing.T) {
	m := New()

	if !m.AddOrUpdate([]byte("f"), []byte("v1"), NoTTL) {
		t.Fatalf("first add returned false")
	}
	if m.AddOrUpdate([]byte("f"), []byte("v2"), NoTTL) {
		t.Fatalf("overwrite returned true")
	}

	it := m.Find([]byte("f"))
	if !it.Found() || string(it.Value()) != "v2" {
		t.Errorf("Find = %q, %v", it.Value(), it.Found())
	}
	if m.UpperBoundSize() != 1 {
		t.Errorf("UpperBoundSize = %d", m.UpperBoundSize())
	}
}

func TestAddOrSkip(t *testing.T) {
	m := New()
	m.AddOrUpdate([]byte("f"), []byte("keep"), NoTTL)

	if m.AddOrSkip([]byte("f"), []byte("lost"), NoTTL) {
		t.Errorf("AddOrSkip added over existing field")
	}
	if got := m.Find([]byte("f")); string(got.Value()) != "keep" {
		t.Errorf("value = %q", got.Value())
	}
	if !m.AddOrSkip([]byte("g"), []byte("new"), NoTTL) {
		t.Errorf("AddOrSkip of new field returned false")
	}
}

func TestErase(t *testing.T) {
	m := New()
	m.AddOrUpdate([]byte("f"), []byte("v"), NoTTL)

	if !m.Erase([]byte("f")) {
		t.Fatalf("Erase existing = false")
	}
	if m.Erase([]byte("f")) {
		t.Fatalf("Erase missing = true")
	}
	if m.Contains([]byte("f")) {
		t.Errorf("erased field still contained")
	}
	if !m.Empty() {
		t.Errorf("map not empty after erase")
	}
}

func TestTTL(t *testing.T) {
	m := New()
	m.SetTime(100)

	m.AddOrUpdate([]byte("short"), []byte("v"), 5)
	m.AddOrUpdate([]byte("long"), []byte("v"), 1000)
	m.AddOrUpdate([]byte("none"), []byte("v"), NoTTL)

	it := m.Find([]byte("short"))
	if !it.Found() || !it.HasExpiry() || it.ExpiryTime() != 105 {
		t.Fatalf("expiry = %d, %v", it.ExpiryTime(), it.Found())
	}
	if m.Find([]byte("none")).HasExpiry() {
		t.Errorf("HasExpiry on field without TTL")
	}

	m.SetTime(105)
	if m.Contains([]byte("short")) {
		t.Errorf("field visible at its expiry second")
	}
	if !m.Contains([]byte("long")) || !m.Contains([]byte("none")) {
		t.Errorf("unexpired fields disappeared")
	}

	// overwrite resets the TTL
	m.AddOrUpdate([]byte("long"), []byte("v2"), NoTTL)
	m.SetTime(5000)
	if !m.Contains([]byte("long")) {
		t.Errorf("TTL not cleared by overwrite")
	}
}

func TestScanVisitsAllSurvivors(t *testing.T) {
	m := New()
	m.SetTime(1)
	want := map[string]string{}
	for i := 0; i < 200; i++ {
		f, v := fmt.Sprintf("field-%d", i), fmt.Sprintf("val-%d", i)
		m.AddOrUpdate([]byte(f), []byte(v), NoTTL)
		want[f] = v
	}
	// some expired entries must not show up
	for i := 0; i < 50; i++ {
		m.AddOrUpdate([]byte(fmt.Sprintf("dead-%d", i)), []byte("x"), 1)
	}
	m.SetTime(10)

	got := map[string]int{}
	cursor := uint64(0)
	steps := 0
	for {
		cursor = m.Scan(cursor, func(f, v []byte) {
			if want[string(f)] != string(v) {
				t.Fatalf("scan produced %s=%s", f, v)
			}
			got[string(f)]++
		})
		steps++
		if cursor == 0 {
			break
		}
		if steps > 100000 {
			t.Fatalf("scan does not terminate")
		}
	}

	for f := range want {
		if got[f] == 0 {
			t.Errorf("survivor %s never visited", f)
		}
		if got[f] > 2 {
			t.Errorf("survivor %s visited %d times", f, got[f])
		}
	}
}

func TestRandomSampling(t *testing.T) {
	m := New()
	m.SetTime(1)
	for i := 0; i < 20; i++ {
		m.AddOrUpdate([]byte(fmt.Sprintf("f%d", i)), []byte(fmt.Sprintf("v%d", i)), NoTTL)
	}
	m.AddOrUpdate([]byte("dead"), []byte("x"), 1)
	m.SetTime(100)

	for i := 0; i < 50; i++ {
		f, _, ok := m.RandomPair()
		if !ok {
			t.Fatalf("RandomPair on non empty map failed")
		}
		if string(f) == "dead" {
			t.Fatalf("sampled an expired field")
		}
	}

	fields, values := m.RandomPairsUnique(10)
	if len(fields) != 10 || len(values) != 10 {
		t.Fatalf("unique sample sizes %d/%d", len(fields), len(values))
	}
	seen := map[string]bool{}
	for _, f := range fields {
		if seen[string(f)] {
			t.Errorf("duplicate %s in unique sample", f)
		}
		seen[string(f)] = true
	}

	fields, _ = m.RandomPairs(40)
	if len(fields) != 40 {
		t.Errorf("with-replacement sample size %d", len(fields))
	}
}

func TestGrowthKeepsEntries(t *testing.T) {
	m := New()
	for i := 0; i < 5000; i++ {
		m.AddOrUpdate([]byte(fmt.Sprintf("key-%d", i)), []byte(fmt.Sprintf("v-%d", i)), NoTTL)
	}
	for i := 0; i < 5000; i++ {
		it := m.Find([]byte(fmt.Sprintf("key-%d", i)))
		if !it.Found() || string(it.Value()) != fmt.Sprintf("v-%d", i) {
			t.Fatalf("key-%d lost after growth", i)
		}
	}
	if m.UpperBoundSize() != 5000 {
		t.Errorf("UpperBoundSize = %d", m.UpperBoundSize())
	}
}

func TestIterateOrdered(t *testing.T) {
	m := New()
	keys := []string{"c", "a", "b", "z", "m"}
	for i, k := range keys {
		m.AddOrUpdate([]byte(k), []byte(fmt.Sprintf("%d", i)), NoTTL)
	}

	var got []string
	m.IterateOrdered(func(f, v []byte) bool {
		got = append(got, string(f))
		return true
	})

	if len(got) != len(keys) {
		t.Fatalf("visited %d entries", len(got))
	}
	for i := range keys {
		if got[i] != keys[i] {
			t.Fatalf("insertion order broken: %v", got)
		}
	}
}

func TestReserve(t *testing.T) {
	m := New()
	m.Reserve(1000)
	for i := 0; i < 1000; i++ {
		m.AddOrUpdate([]byte(fmt.Sprintf("k%d", i)), []byte("v"), NoTTL)
	}
	if m.UpperBoundSize() != 1000 {
		t.Errorf("UpperBoundSize = %d", m.UpperBoundSize())
	}
}
