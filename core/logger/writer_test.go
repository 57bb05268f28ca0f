package logger

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
)

type countingWriter struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	writes int
}

func (w *countingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.writes++
	return w.buf.Write(p)
}

func TestAsyncWriterFansOutAndFlushes(t *testing.T) {
	a, b := &countingWriter{}, &countingWriter{}
	aw := newAsyncWriter([]io.Writer{a, nil, b}, 4096)
	for i := 0; i < 50; i++ {
		if err := aw.Write([]byte("line\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	for _, w := range []*countingWriter{a, b} {
		w.mu.Lock()
		n := strings.Count(w.buf.String(), "line\n")
		w.mu.Unlock()
		if n != 50 {
			t.Fatalf("sink got %d lines", n)
		}
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestAsyncWriterRejectsAfterClose(t *testing.T) {
	aw := newAsyncWriter([]io.Writer{io.Discard}, 0)
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := aw.Write([]byte("late\n")); !errors.Is(err, errWriterClosed) {
		t.Fatalf("write after close: %v", err)
	}
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush after close: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestAsyncWriterKeepsFirstError(t *testing.T) {
	aw := newAsyncWriter([]io.Writer{failingWriter{}}, 16)
	_ = aw.Write([]byte("0123456789abcdefghij\n"))
	if err := aw.Close(); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("close error = %v", err)
	}
	if err := aw.Write([]byte("again\n")); err == nil {
		t.Fatal("write after sink failure should fail")
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(2, 5)
	passed := 0
	for i := 0; i < 20; i++ {
		if s.Allow() {
			passed++
		}
	}
	if passed != 8 {
		t.Fatalf("passed %d of 20, want 8", passed)
	}

	s.Set(0, 0)
	for i := 0; i < 3; i++ {
		if !s.Allow() {
			t.Fatal("disabled sampler must pass everything")
		}
	}
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"1/50":  {1, 50},
		" 3/4 ": {3, 4},
		"10":    {1, 10},
		"0":     {0, 0},
		"x/2":   {0, 0},
		"":      {0, 0},
	}
	for spec, want := range cases {
		if num, den := parseRatioSpec(spec); num != want[0] || den != want[1] {
			t.Fatalf("parseRatioSpec(%q) = %d/%d, want %d/%d", spec, num, den, want[0], want[1])
		}
	}
}
