package core

import "math"

// --------------------------------------------------------------------------
// Scalable bloom filter payload
// --------------------------------------------------------------------------

// SBF is a scalable bloom filter: a stack of plain bloom filters where each
// new layer grows by growFactor and tightens its false positive rate, so the
// compound rate stays bounded while the filter accepts unbounded inserts.
type SBF struct {
	filters    []*bloomLayer
	fpProb     float64
	growFactor float64
	card       uint64
}

type bloomLayer struct {
	bits     []uint64
	nbits    uint64
	hashes   int
	capacity uint64
	count    uint64
}

// NewSBF creates a scalable bloom filter with the given initial capacity,
// target false positive probability and growth factor.
func NewSBF(initialCapacity uint64, fpProb, growFactor float64) *SBF {
	if initialCapacity == 0 {
		initialCapacity = 64
	}
	if fpProb <= 0 || fpProb >= 1 {
		fpProb = 0.01
	}
	if growFactor < 1 {
		growFactor = 2
	}
	s := &SBF{fpProb: fpProb, growFactor: growFactor}
	s.filters = append(s.filters, newBloomLayer(initialCapacity, fpProb))
	return s
}

func newBloomLayer(capacity uint64, fpProb float64) *bloomLayer {
	// standard sizing: m = -n ln(p) / (ln 2)^2, k = m/n ln(2)
	m := uint64(math.Ceil(-float64(capacity) * math.Log(fpProb) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := int(math.Round(float64(m) / float64(capacity) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return &bloomLayer{
		bits:     make([]uint64, (m+63)/64),
		nbits:    m,
		hashes:   k,
		capacity: capacity,
	}
}

func (l *bloomLayer) positions(b []byte) (uint64, uint64) {
	h1 := HashBytes(b, 0x9E3779B97F4A7C15)
	h2 := HashBytes(b, 0xC2B2AE3D27D4EB4F)
	return h1, h2
}

func (l *bloomLayer) set(b []byte) {
	h1, h2 := l.positions(b)
	for i := 0; i < l.hashes; i++ {
		pos := (h1 + uint64(i)*h2) % l.nbits
		l.bits[pos/64] |= 1 << (pos % 64)
	}
}

func (l *bloomLayer) test(b []byte) bool {
	h1, h2 := l.positions(b)
	for i := 0; i < l.hashes; i++ {
		pos := (h1 + uint64(i)*h2) % l.nbits
		if l.bits[pos/64]&(1<<(pos%64)) == 0 {
			return false
		}
	}
	return true
}

// Exists reports whether b may have been added (false positives possible,
// false negatives not).
func (s *SBF) Exists(b []byte) bool {
	for _, l := range s.filters {
		if l.test(b) {
			return true
		}
	}
	return false
}

// Add inserts b and returns true if Exists did not already report it. A
// false positive of Exists makes Add return false without inserting or
// counting b.
func (s *SBF) Add(b []byte) bool {
	if s.Exists(b) {
		return false
	}
	top := s.filters[len(s.filters)-1]
	if top.count >= top.capacity {
		// each layer tightens the rate so the compound sum converges
		nextFp := s.fpProb * math.Pow(0.5, float64(len(s.filters)))
		top = newBloomLayer(uint64(float64(top.capacity)*s.growFactor), nextFp)
		s.filters = append(s.filters, top)
	}
	top.set(b)
	top.count++
	s.card++
	return true
}

// Cardinality returns the number of Add calls that returned true.
func (s *SBF) Cardinality() uint64 { return s.card }

// MallocUsed estimates heap usage of all layers.
func (s *SBF) MallocUsed() int {
	total := 0
	for _, l := range s.filters {
		total += len(l.bits) * 8
	}
	return total
}

// Len implements Container.
func (s *SBF) Len() int { return int(s.card) }
