package tiered

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/finchdb/finch/lib/core"
	"github.com/finchdb/finch/lib/db"
)

// testLoop is a stand-in for the shard executor: a single goroutine
// draining submitted closures.
type testLoop struct {
	tasks chan func()
	stop  chan struct{}
}

func newTestLoop() *testLoop {
	l := &testLoop{tasks: make(chan func(), 256), stop: make(chan struct{})}
	go func() {
		for {
			select {
			case fn := <-l.tasks:
				fn()
			case <-l.stop:
				return
			}
		}
	}()
	return l
}

func (l *testLoop) exec(fn func()) { l.tasks <- fn }

// do runs fn on the loop and waits, establishing ordering with previously
// submitted completions.
func (l *testLoop) do(fn func()) {
	done := make(chan struct{})
	l.tasks <- func() { fn(); close(done) }
	<-done
}

func (l *testLoop) close() { close(l.stop) }

type fixture struct {
	loop  *testLoop
	slice *db.Slice
	ts    *Storage
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	loop := newTestLoop()
	slice := db.NewSlice(7, 1)
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = 1 << 26
	}
	if opts.WriteDepth == 0 {
		opts.WriteDepth = 50
	}
	if opts.MinValueSize == 0 {
		opts.MinValueSize = 64
	}
	ts := New(slice, loop.exec, opts)
	path := filepath.Join(t.TempDir(), "pages")
	if err := ts.Open(path); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		loop.close()
		ts.Close()
	})
	return &fixture{loop: loop, slice: slice, ts: ts}
}

func (f *fixture) ctx() db.Context { return db.Context{DB: 0, TimeNowMs: 1} }

func (f *fixture) set(t *testing.T, key, val string) *core.CompactValue {
	t.Helper()
	var pv *core.CompactValue
	f.loop.do(func() {
		res, status := f.slice.AddOrFind(f.ctx(), []byte(key))
		if status != db.StatusOK {
			t.Errorf("AddOrFind: %v", status)
			return
		}
		res.It.Value().SetString([]byte(val))
		res.PostUpdater.Run()
		pv = res.It.Value()
	})
	return pv
}

// waitExternal polls on the loop until the value becomes external.
func (f *fixture) waitExternal(t *testing.T, key string) core.DiskSegment {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var seg core.DiskSegment
		var ok bool
		f.loop.do(func() {
			it := f.slice.GetTable(0).Prime.Find([]byte(key))
			if it.IsValid() && it.Value().IsExternal() {
				seg = it.Value().GetExternalSlice()
				ok = true
			}
		})
		if ok {
			return seg
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("key %s never became external", key)
	return core.DiskSegment{}
}

func TestStashReadRoundTrip(t *testing.T) {
	f := newFixture(t, Options{CacheFetched: false})
	val := strings.Repeat("payload-", 512) // 4096 bytes, whole page path
	f.set(t, "big", val)

	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("big"))
		if !f.ts.TryStash(0, "big", it.Value()) {
			t.Errorf("TryStash refused an eligible value")
		}
		if !it.Value().HasIoPending() {
			t.Errorf("io pending not set after TryStash")
		}
	})

	seg := f.waitExternal(t, "big")
	if seg.Length != uint64(len(val)) {
		t.Fatalf("segment length = %d, want %d", seg.Length, len(val))
	}

	var fut Future[string]
	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("big"))
		fut = f.ts.Read(0, "big", it.Value())
	})
	if got := fut.Get(); got != val {
		t.Fatalf("read returned %d bytes, want %d", len(got), len(val))
	}

	// caching is off: the value must still be external
	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("big"))
		if !it.Value().IsExternal() {
			t.Errorf("value uploaded despite CacheFetched=false")
		}
	})
}

func TestReadUploadsWhenCachingEnabled(t *testing.T) {
	f := newFixture(t, Options{CacheFetched: true})
	val := strings.Repeat("x", 3000)
	f.set(t, "k", val)

	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("k"))
		f.ts.TryStash(0, "k", it.Value())
	})
	f.waitExternal(t, "k")

	var fut Future[string]
	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("k"))
		fut = f.ts.Read(0, "k", it.Value())
	})
	if got := fut.Get(); got != val {
		t.Fatalf("read mismatch")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var inMemory bool
		f.loop.do(func() {
			it := f.slice.GetTable(0).Prime.Find([]byte("k"))
			inMemory = !it.Value().IsExternal()
		})
		if inMemory {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("value never uploaded back to memory")
		}
		time.Sleep(time.Millisecond)
	}

	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("k"))
		if got := it.Value().ToString(); got != val {
			t.Errorf("uploaded value mismatch: %d bytes", len(got))
		}
	})
}

func TestModifyRoundTrip(t *testing.T) {
	f := newFixture(t, Options{CacheFetched: false})
	val := strings.Repeat("m", 2500)
	f.set(t, "k", val)

	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("k"))
		f.ts.TryStash(0, "k", it.Value())
	})
	f.waitExternal(t, "k")

	var fut Future[int]
	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("k"))
		fut = Modify(f.ts, 0, "k", it.Value(), func(v *[]byte) int {
			*v = append(*v, []byte("-suffix")...)
			return len(*v)
		})
	})
	if got := fut.Get(); got != len(val)+7 {
		t.Fatalf("modify result = %d", got)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var done bool
		f.loop.do(func() {
			it := f.slice.GetTable(0).Prime.Find([]byte("k"))
			done = !it.Value().IsExternal()
		})
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("modified value never landed in memory")
		}
		time.Sleep(time.Millisecond)
	}

	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("k"))
		if got := it.Value().ToString(); got != val+"-suffix" {
			t.Errorf("modified value = %d bytes", len(got))
		}
	})
}

func TestWriteDepthBackPressure(t *testing.T) {
	f := newFixture(t, Options{CacheFetched: false, WriteDepth: 1})

	val := strings.Repeat("d", 2048)
	for _, k := range []string{"a", "b", "c"} {
		f.set(t, k, val)
	}

	f.loop.do(func() {
		issued := 0
		for _, k := range []string{"a", "b", "c"} {
			it := f.slice.GetTable(0).Prime.Find([]byte(k))
			if f.ts.TryStash(0, k, it.Value()) {
				issued++
			}
		}
		if issued != 1 {
			t.Errorf("issued %d stashes with write depth 1", issued)
		}
		st := f.ts.GetStats()
		if st.TotalStashOverflows != 2 {
			t.Errorf("overflows = %d", st.TotalStashOverflows)
		}
		// refused values stay fully in memory
		it := f.slice.GetTable(0).Prime.Find([]byte("b"))
		if it.Value().HasIoPending() || it.Value().IsExternal() {
			t.Errorf("refused value left in a transient state")
		}
	})
}

func TestDeleteFreesSegment(t *testing.T) {
	f := newFixture(t, Options{CacheFetched: false})
	val := strings.Repeat("z", 4096)
	f.set(t, "k", val)

	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("k"))
		f.ts.TryStash(0, "k", it.Value())
	})
	f.waitExternal(t, "k")

	var before, after Stats
	f.loop.do(func() {
		before = f.ts.GetStats()
		it := f.slice.GetTable(0).Prime.Find([]byte("k"))
		f.ts.Delete(0, it.Value())
		it.Value().Reset()
		after = f.ts.GetStats()
	})
	if after.AllocatedBytes >= before.AllocatedBytes {
		t.Errorf("delete did not free pages: %d -> %d", before.AllocatedBytes, after.AllocatedBytes)
	}

	// the freed page is reused by the next stash
	f.set(t, "k2", val)
	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("k2"))
		f.ts.TryStash(0, "k2", it.Value())
	})
	seg := f.waitExternal(t, "k2")
	if seg.Offset != 0 {
		t.Errorf("freed page not reused: new segment at %d", seg.Offset)
	}
}

func TestSmallBinStashAndDefrag(t *testing.T) {
	f := newFixture(t, Options{CacheFetched: false, MinValueSize: 64, FragThreshold: 0.9})

	// ~500 byte values: a page fits 7 of them, the 8th seals the bin
	val := strings.Repeat("s", 500)
	keys := []string{}
	for i := 0; i < 9; i++ {
		k := "bin-key-" + string(rune('a'+i))
		keys = append(keys, k)
		f.set(t, k, val)
	}
	f.loop.do(func() {
		for _, k := range keys {
			it := f.slice.GetTable(0).Prime.Find([]byte(k))
			if !f.ts.TryStash(0, k, it.Value()) {
				t.Errorf("TryStash(%s) refused", k)
			}
		}
	})

	// the first 7 entries belong to the sealed bin and become external
	for _, k := range keys[:7] {
		f.waitExternal(t, k)
	}

	// deleting one entry of the bin pushes the live ratio below 0.9 and
	// triggers defragmentation: the survivors come back to memory
	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte(keys[0]))
		f.ts.Delete(0, it.Value())
		it.Value().Reset()
		it.Value().SetString([]byte("gone"))
	})

	deadline := time.Now().Add(2 * time.Second)
	for {
		var uploaded int
		f.loop.do(func() {
			for _, k := range keys[1:7] {
				it := f.slice.GetTable(0).Prime.Find([]byte(k))
				if it.IsValid() && !it.Value().IsExternal() {
					uploaded++
				}
			}
		})
		if uploaded == 6 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("defragmentation uploaded %d of 6 survivors", uploaded)
		}
		time.Sleep(time.Millisecond)
	}

	f.loop.do(func() {
		for _, k := range keys[1:7] {
			it := f.slice.GetTable(0).Prime.Find([]byte(k))
			if got := it.Value().ToString(); got != val {
				t.Errorf("%s corrupted after defrag: %d bytes", k, len(got))
			}
		}
		if f.ts.GetStats().TotalDefrags != 6 {
			t.Errorf("defrag counter = %d", f.ts.GetStats().TotalDefrags)
		}
	})
}

func TestCancelStash(t *testing.T) {
	f := newFixture(t, Options{CacheFetched: false})
	val := strings.Repeat("c", 2048)
	f.set(t, "k", val)

	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("k"))
		f.ts.TryStash(0, "k", it.Value())
		f.ts.CancelStash(0, "k", it.Value())
		if it.Value().HasIoPending() {
			t.Errorf("io pending survived cancel")
		}
	})

	// the in-flight completion must not make the value external
	time.Sleep(50 * time.Millisecond)
	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("k"))
		if it.Value().IsExternal() {
			t.Errorf("cancelled stash still installed a segment")
		}
		if got := it.Value().ToString(); got != val {
			t.Errorf("value corrupted by cancel")
		}
	})
}

func TestRunOffloading(t *testing.T) {
	f := newFixture(t, Options{CacheFetched: false, MinValueSize: 64})

	val := strings.Repeat("o", 3000)
	for i := 0; i < 10; i++ {
		f.set(t, "off-"+string(rune('0'+i)), val)
	}

	// untouched entries are eligible on the first sweep; the second call
	// is a no-op once everything is in flight or external
	f.loop.do(func() { f.ts.RunOffloading(0) })
	f.loop.do(func() { f.ts.RunOffloading(0) })

	for i := 0; i < 10; i++ {
		f.waitExternal(t, "off-"+string(rune('0'+i)))
	}
	f.loop.do(func() {
		if st := f.ts.GetStats(); st.TotalStashes != 10 {
			t.Errorf("stashes = %d", st.TotalStashes)
		}
	})
}

func TestStickyNeverOffloaded(t *testing.T) {
	f := newFixture(t, Options{CacheFetched: false})
	val := strings.Repeat("p", 3000)
	f.set(t, "pinned", val)

	f.loop.do(func() {
		it := f.slice.GetTable(0).Prime.Find([]byte("pinned"))
		it.Value().SetSticky(true)
		if f.ts.TryStash(0, "pinned", it.Value()) {
			t.Errorf("sticky value was stashed")
		}
	})
}
