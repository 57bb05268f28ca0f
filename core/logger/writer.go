package logger

import (
	"bufio"
	"errors"
	"io"
	"sync"
)

var errWriterClosed = errors.New("logger: writer closed")

// asyncWriter moves sink I/O off the logging goroutines. Lines are buffered
// and flushed whenever the queue runs empty, so a burst costs one write per sink.
type asyncWriter struct {
	queue   chan []byte
	flushes chan chan error
	done    chan struct{}
	out     *bufio.Writer

	mu     sync.RWMutex // guards closed against sends on a closed queue
	closed bool

	errMu sync.Mutex
	err   error
}

func newAsyncWriter(writers []io.Writer, bufSize int) *asyncWriter {
	if bufSize <= 0 {
		bufSize = 64 * 1024
	}
	sinks := make([]io.Writer, 0, len(writers))
	for _, w := range writers {
		if w != nil {
			sinks = append(sinks, w)
		}
	}
	w := &asyncWriter{
		queue:   make(chan []byte, 256),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
		out:     bufio.NewWriterSize(io.MultiWriter(sinks...), bufSize),
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.done)
	for {
		select {
		case line, ok := <-w.queue:
			if !ok {
				w.setErr(w.out.Flush())
				return
			}
			w.write(line)
			if len(w.queue) == 0 {
				w.setErr(w.out.Flush())
			}
		case ack := <-w.flushes:
			for len(w.queue) > 0 {
				w.write(<-w.queue)
			}
			ack <- w.out.Flush()
		}
	}
}

func (w *asyncWriter) write(line []byte) {
	if len(line) == 0 {
		return
	}
	if _, err := w.out.Write(line); err != nil {
		w.setErr(err)
	}
}

// Write queues a copy of p. It blocks when the queue is full rather than drop lines.
func (w *asyncWriter) Write(p []byte) error {
	if err := w.getErr(); err != nil {
		return err
	}
	if len(p) == 0 {
		return nil
	}
	line := append([]byte(nil), p...)
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errWriterClosed
	}
	w.queue <- line
	return nil
}

// Flush writes every queued line and flushes the sinks.
func (w *asyncWriter) Flush() error {
	if err := w.getErr(); err != nil {
		return err
	}
	w.mu.RLock()
	closed := w.closed
	w.mu.RUnlock()
	if closed {
		return nil
	}
	ack := make(chan error, 1)
	select {
	case w.flushes <- ack:
		return <-ack
	case <-w.done:
		return w.getErr()
	}
}

// Close drains the queue and returns the first write error.
func (w *asyncWriter) Close() error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
	return w.getErr()
}

func (w *asyncWriter) getErr() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

func (w *asyncWriter) setErr(err error) {
	if err == nil {
		return
	}
	w.errMu.Lock()
	defer w.errMu.Unlock()
	if w.err == nil {
		w.err = err
	}
}
