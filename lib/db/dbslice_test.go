package db

import (
	"fmt"
	"testing"

	"github.com/finchdb/finch/lib/core"
)

func testCtx(nowMs uint64) Context {
	return Context{DB: 0, TimeNowMs: nowMs}
}

func addString(t *testing.T, s *Slice, ctx Context, key, val string) {
	t.Helper()
	res, status := s.AddOrFind(ctx, []byte(key))
	if status != StatusOK {
		t.Fatalf("AddOrFind(%s) = %v", key, status)
	}
	res.It.Value().SetString([]byte(val))
	res.PostUpdater.Run()
}

func TestSliceAddFindDel(t *testing.T) {
	s := NewSlice(0, 1)
	ctx := testCtx(1000)

	addString(t, s, ctx, "k", "v")

	it, status := s.FindReadOnly(ctx, []byte("k"), core.ObjString)
	if status != StatusOK {
		t.Fatalf("FindReadOnly = %v", status)
	}
	if got := it.Value().ToString(); got != "v" {
		t.Errorf("value = %q", got)
	}

	if _, status = s.FindReadOnly(ctx, []byte("absent"), core.ObjString); status != StatusKeyNotFound {
		t.Errorf("missing key status = %v", status)
	}
	if _, status = s.FindReadOnly(ctx, []byte("k"), core.ObjHash); status != StatusWrongType {
		t.Errorf("type mismatch status = %v", status)
	}

	s.Del(ctx, it)
	if _, status = s.FindReadOnly(ctx, []byte("k"), core.ObjString); status != StatusKeyNotFound {
		t.Errorf("deleted key status = %v", status)
	}
}

func TestSliceExpiry(t *testing.T) {
	s := NewSlice(0, 1)
	ctx := testCtx(1000)

	addString(t, s, ctx, "k", "v")
	it, _ := s.FindReadOnly(ctx, []byte("k"), core.ObjString)
	s.SetExpire(ctx, it, 1500)

	if got := s.ExpireTime(ctx, []byte("k")); got != 1500 {
		t.Fatalf("ExpireTime = %d", got)
	}

	// before the deadline the key is visible
	if _, status := s.FindReadOnly(testCtx(1499), []byte("k"), core.ObjString); status != StatusOK {
		t.Errorf("key missing before deadline: %v", status)
	}
	// at the deadline it reads as absent and is lazily removed
	if _, status := s.FindReadOnly(testCtx(1500), []byte("k"), core.ObjString); status != StatusKeyNotFound {
		t.Errorf("expired key status = %v", status)
	}
	if s.GetTable(0).Prime.Len() != 0 {
		t.Errorf("lazy expiry left the entry in the prime table")
	}
}

func TestExpireCycle(t *testing.T) {
	s := NewSlice(0, 1)
	ctx := testCtx(1000)

	for i := 0; i < 100; i++ {
		key := fmt.Sprintf("k%d", i)
		addString(t, s, ctx, key, "v")
		it, _ := s.FindReadOnly(ctx, []byte(key), core.ObjString)
		if i%2 == 0 {
			s.SetExpire(ctx, it, 1100)
		}
	}

	late := testCtx(2000)
	total := 0
	for i := 0; i < 100; i++ {
		total += s.ExpireCycle(late, 8)
	}
	if total != 50 {
		t.Errorf("expire cycle removed %d entries", total)
	}
	if s.GetTable(0).Prime.Len() != 50 {
		t.Errorf("prime table has %d entries", s.GetTable(0).Prime.Len())
	}
}

func TestPostUpdaterAccounting(t *testing.T) {
	s := NewSlice(0, 1)
	ctx := testCtx(1000)

	addString(t, s, ctx, "k", "small")
	stats := s.MutableStats(0)
	if stats.ObjCount[core.ObjString] != 1 {
		t.Fatalf("string count = %d", stats.ObjCount[core.ObjString])
	}

	res, _ := s.FindMutable(ctx, []byte("k"), core.ObjString)
	res.It.Value().SetString([]byte(string(make([]byte, 500))))
	res.PostUpdater.Run()

	if stats.ObjMemUsage[core.ObjString] < 400 {
		t.Errorf("memory accounting missed the growth: %d", stats.ObjMemUsage[core.ObjString])
	}

	it, _ := s.FindReadOnly(ctx, []byte("k"), core.ObjString)
	s.Del(ctx, it)
	if stats.ObjCount[core.ObjString] != 0 {
		t.Errorf("count after delete = %d", stats.ObjCount[core.ObjString])
	}
}

func TestPostUpdaterDoubleRunPanics(t *testing.T) {
	s := NewSlice(0, 1)
	ctx := testCtx(1)
	addString(t, s, ctx, "k", "v")

	res, _ := s.FindMutable(ctx, []byte("k"), core.ObjString)
	res.PostUpdater.Run()

	defer func() {
		if recover() == nil {
			t.Errorf("second Run did not panic")
		}
	}()
	res.PostUpdater.Run()
}

func TestChangeCallbacks(t *testing.T) {
	s := NewSlice(0, 1)
	ctx := testCtx(1)

	var newKeys []string
	var updates int
	ver := s.RegisterOnChange(func(dbid DbIndex, req ChangeReq) {
		if req.UpdateIt.IsValid() {
			updates++
		} else {
			newKeys = append(newKeys, string(req.Key))
		}
	})

	addString(t, s, ctx, "a", "1")
	addString(t, s, ctx, "b", "2")

	if len(newKeys) != 2 || newKeys[0] != "a" || newKeys[1] != "b" {
		t.Errorf("new key notifications = %v", newKeys)
	}
	if updates != 2 {
		t.Errorf("update notifications = %d (one per PostUpdater.Run)", updates)
	}

	s.UnregisterOnChange(ver)
	addString(t, s, ctx, "c", "3")
	if len(newKeys) != 2 {
		t.Errorf("callback fired after unregister")
	}
}

func TestFindScanAgreeOnLiveness(t *testing.T) {
	s := NewSlice(0, 1)
	ctx := testCtx(1000)

	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("key-%d", i)
		addString(t, s, ctx, key, "v")
		if i%3 == 0 {
			it, _ := s.FindReadOnly(ctx, []byte(key), core.ObjString)
			s.SetExpire(ctx, it, 1100)
		}
	}

	late := testCtx(5000)
	scanned := map[string]bool{}
	var scratch []byte
	cursor := Cursor(0)
	for {
		cursor = s.Traverse(0, cursor, func(it Iterator) {
			// the scan itself must skip entries that read as dead
			key := append([]byte(nil), it.Key().GetSlice(&scratch)...)
			if s.ExpireTime(late, key) != 0 && s.ExpireTime(late, key) <= late.TimeNowMs {
				return
			}
			scanned[string(key)] = true
		})
		if cursor == 0 {
			break
		}
	}

	for i := 0; i < 300; i++ {
		key := fmt.Sprintf("key-%d", i)
		_, status := s.FindReadOnly(late, []byte(key), core.ObjString)
		if (status == StatusOK) != scanned[key] {
			t.Errorf("find and scan disagree on %s: find=%v scanned=%v", key, status, scanned[key])
		}
	}
}
