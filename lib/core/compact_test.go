package core

import (
	"bytes"
	"strings"
	"testing"
)

func TestSetStringRepresentations(t *testing.T) {
	cases := []struct {
		name   string
		val    string
		inline bool
	}{
		{"Empty", "", true},
		{"Short", "hello", true},
		{"Exactly16", strings.Repeat("a", 16), true},
		{"PackedInline18", strings.Repeat("b", 18), true},
		{"Small32", strings.Repeat("c", 32), false},
		{"NonASCII", "hello-\xffworld-\xfe-bytes", false},
		{"Large", strings.Repeat("d", 100), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var cv CompactValue
			cv.SetString([]byte(tc.val))

			if got := cv.ToString(); got != tc.val {
				t.Errorf("round trip mismatch: got %q want %q", got, tc.val)
			}
			if cv.IsInline() != tc.inline {
				t.Errorf("IsInline() = %v, want %v", cv.IsInline(), tc.inline)
			}
			if cv.Size() != len(tc.val) {
				t.Errorf("Size() = %d, want %d", cv.Size(), len(tc.val))
			}
			if !cv.EqualBytes([]byte(tc.val)) {
				t.Errorf("EqualBytes(%q) = false", tc.val)
			}
			if cv.EqualBytes([]byte(tc.val + "x")) {
				t.Errorf("EqualBytes matched a different string")
			}
			if cv.HashCode() != HashCode([]byte(tc.val)) {
				t.Errorf("hash code differs from raw hash for %q", tc.val)
			}
		})
	}
}

func TestSetStringAllLengths(t *testing.T) {
	// every length up to 64 must round trip regardless of representation
	for n := 0; n <= 64; n++ {
		val := strings.Repeat("x", n)
		var cv CompactValue
		cv.SetString([]byte(val))
		if got := cv.ToString(); got != val {
			t.Fatalf("len %d: got %q", n, got)
		}
		if cv.Size() != n {
			t.Fatalf("len %d: Size() = %d", n, cv.Size())
		}
	}
}

func TestSetInt(t *testing.T) {
	var cv CompactValue
	cv.SetInt(-1234567)

	if v, ok := cv.TryGetInt(); !ok || v != -1234567 {
		t.Errorf("TryGetInt() = %d, %v", v, ok)
	}
	if got := cv.ToString(); got != "-1234567" {
		t.Errorf("ToString() = %q", got)
	}
	if !cv.EqualBytes([]byte("-1234567")) {
		t.Errorf("EqualBytes failed for int cell")
	}

	cv.SetString([]byte("42"))
	if v, ok := cv.TryGetInt(); !ok || v != 42 {
		t.Errorf("TryGetInt on numeric string = %d, %v", v, ok)
	}

	cv.SetString([]byte("no number"))
	if _, ok := cv.TryGetInt(); ok {
		t.Errorf("TryGetInt accepted a non numeric string")
	}
}

func TestRepresentationSwitchReleasesInner(t *testing.T) {
	var cv CompactValue
	cv.SetString([]byte(strings.Repeat("a", 100)))
	cv.SetInt(7)
	if cv.Robj() != nil {
		t.Errorf("wrapper survived transition to int")
	}
	cv.SetString([]byte("tiny"))
	if got := cv.ToString(); got != "tiny" {
		t.Errorf("got %q", got)
	}
}

func TestAsRef(t *testing.T) {
	var cv CompactValue
	cv.SetString([]byte("shared value, longer than inline"))

	ref := cv.AsRef()
	if !ref.IsRef() {
		t.Fatalf("ref flag not set")
	}
	if ref.ToString() != cv.ToString() {
		t.Errorf("ref decodes differently")
	}
	if !ref.EqualValue(&cv) {
		t.Errorf("EqualValue(owner) = false")
	}
}

func TestExternalRoundTrip(t *testing.T) {
	val := strings.Repeat("payload", 10) // ascii, packed as small is too long -> robj

	var cv CompactValue
	cv.SetString([]byte(val))
	raw, encoded := cv.GetRawString()

	cv.SetExternal(4096, uint64(len(raw)))
	if !cv.IsExternal() {
		t.Fatalf("not external after SetExternal")
	}
	seg := cv.GetExternalSlice()
	if seg.Offset != 4096 || seg.Length != uint64(len(raw)) {
		t.Fatalf("bad segment %+v", seg)
	}

	// decoder cell: descriptor + encoding flags only
	var dec CompactValue
	dec.ImportExternal(&cv)
	dec.Materialize(raw, encoded)
	if got := dec.ToString(); got != val {
		t.Errorf("materialized %q, want %q", got, val)
	}
}

func TestExternalPackedRoundTrip(t *testing.T) {
	// small-string path keeps the ascii packing; the raw bytes written to
	// disk are packed and must decode through the flags
	val := strings.Repeat("k", 30)

	var cv CompactValue
	cv.SetString([]byte(val))
	raw, encoded := cv.GetRawString()
	if !encoded {
		t.Fatalf("expected packed representation for %q", val)
	}
	if len(raw) >= len(val) {
		t.Fatalf("packing did not compress: %d >= %d", len(raw), len(val))
	}

	cv.SetExternal(0, uint64(len(raw)))
	var dec CompactValue
	dec.ImportExternal(&cv)
	dec.Materialize(raw, true)
	if got := dec.ToString(); got != val {
		t.Errorf("materialized %q, want %q", got, val)
	}
}

func TestStickySurvivesMaterialize(t *testing.T) {
	var cv CompactValue
	cv.SetString([]byte(strings.Repeat("v", 40)))
	cv.SetSticky(true)
	raw, isRaw := cv.GetRawString()
	cv.SetExternal(0, uint64(len(raw)))
	cv.Materialize(raw, isRaw)
	if !cv.IsSticky() {
		t.Errorf("sticky flag lost across materialize")
	}
	if cv.HasIoPending() {
		t.Errorf("io pending set after materialize")
	}
}

func TestFlagMask(t *testing.T) {
	var cv CompactValue
	cv.SetString([]byte("x"))

	cv.SetExpire(true)
	cv.SetTouched(true)
	if !cv.HasExpire() || !cv.WasTouched() {
		t.Fatalf("flags not set")
	}
	cv.SetExpire(false)
	if cv.HasExpire() || !cv.WasTouched() {
		t.Fatalf("flag clearing leaked into other bits")
	}
}

func TestInitRobj(t *testing.T) {
	var cv CompactValue
	cv.InitRobj(ObjHash, EncodingListPack, []byte{1, 2, 3})
	if cv.ObjType() != ObjHash || cv.Encoding() != EncodingListPack {
		t.Fatalf("type/enc = %v/%v", cv.ObjType(), cv.Encoding())
	}
	if !bytes.Equal(cv.RobjInner().([]byte), []byte{1, 2, 3}) {
		t.Fatalf("inner payload mismatch")
	}

	cv.SetRobjInner([]byte{9})
	if !bytes.Equal(cv.RobjInner().([]byte), []byte{9}) {
		t.Fatalf("SetRobjInner did not replace payload")
	}
}

func TestSBFPayload(t *testing.T) {
	s := NewSBF(8, 0.01, 2)
	for i := 0; i < 100; i++ {
		s.Add([]byte{byte(i), byte(i >> 4), 'k'})
	}
	for i := 0; i < 100; i++ {
		if !s.Exists([]byte{byte(i), byte(i >> 4), 'k'}) {
			t.Fatalf("false negative for element %d", i)
		}
	}
	if s.Cardinality() != 100 {
		t.Errorf("cardinality = %d", s.Cardinality())
	}

	var cv CompactValue
	cv.SetSBF(s)
	if cv.ObjType() != ObjSBF {
		t.Errorf("type = %v", cv.ObjType())
	}
}
