package logger

import (
	"strconv"
	"strings"
	"sync/atomic"
)

// ratioSampler passes num out of every den calls. A zero ratio passes everything.
type ratioSampler struct {
	ratio atomic.Uint64 // num<<32 | den
	calls atomic.Uint64
}

func newRatioSampler(num, den int) *ratioSampler {
	s := &ratioSampler{}
	s.Set(num, den)
	return s
}

// Set replaces the ratio and restarts the cycle. num is capped at den.
func (s *ratioSampler) Set(num, den int) {
	var r uint64
	if num > 0 && den > 0 {
		r = uint64(min(num, den))<<32 | uint64(den)
	}
	s.ratio.Store(r)
	s.calls.Store(0)
}

// Allow reports whether this call falls in the sampled part of the cycle.
func (s *ratioSampler) Allow() bool {
	r := s.ratio.Load()
	if r == 0 {
		return true
	}
	num, den := r>>32, r&0xffffffff
	return (s.calls.Add(1)-1)%den < num
}

// parseRatioSpec accepts "n/d" or "d" (one in d). Anything unparsable or
// non-positive yields 0/0.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if numRaw, denRaw, ok := strings.Cut(spec, "/"); ok {
		num, err1 := strconv.Atoi(strings.TrimSpace(numRaw))
		den, err2 := strconv.Atoi(strings.TrimSpace(denRaw))
		if err1 == nil && err2 == nil {
			return num, den
		}
		return 0, 0
	}
	if v, err := strconv.Atoi(spec); err == nil && v > 0 {
		return 1, v
	}
	return 0, 0
}
