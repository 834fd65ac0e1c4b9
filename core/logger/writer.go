package logger

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

const maxBatchLines = 128

// asyncWriter fans log lines out to every sink from a single goroutine.
// Lines queued while a write is in progress are coalesced into one write per sink.
type asyncWriter struct {
	lines   chan []byte
	flushes chan chan error
	done    chan struct{}
	once    sync.Once
	sinks   []io.Writer

	mu  sync.Mutex
	err error

	closeMu sync.RWMutex
	closed  bool
}

func newAsyncWriter(sinks []io.Writer, queueSize int) *asyncWriter {
	if queueSize <= 0 {
		queueSize = 1024
	}
	live := make([]io.Writer, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			live = append(live, s)
		}
	}
	w := &asyncWriter{
		lines:   make(chan []byte, queueSize),
		flushes: make(chan chan error),
		done:    make(chan struct{}),
		sinks:   live,
	}
	go w.run()
	return w
}

func (w *asyncWriter) run() {
	defer close(w.done)
	var batch bytes.Buffer
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				return
			}
			batch.Reset()
			batch.Write(line)
			open := w.collect(&batch)
			w.emit(batch.Bytes())
			if !open {
				return
			}
		case ack := <-w.flushes:
			ack <- w.drain()
		}
	}
}

// collect appends already queued lines without blocking. It reports false once the queue is closed.
func (w *asyncWriter) collect(batch *bytes.Buffer) bool {
	for i := 1; i < maxBatchLines; i++ {
		select {
		case line, ok := <-w.lines:
			if !ok {
				return false
			}
			batch.Write(line)
		default:
			return true
		}
	}
	return true
}

// drain writes everything queued before the flush request.
func (w *asyncWriter) drain() error {
	var batch bytes.Buffer
	for {
		select {
		case line, ok := <-w.lines:
			if !ok {
				w.emit(batch.Bytes())
				return w.stickyErr()
			}
			batch.Write(line)
		default:
			w.emit(batch.Bytes())
			return w.stickyErr()
		}
	}
}

func (w *asyncWriter) emit(p []byte) {
	if len(p) == 0 {
		return
	}
	var errs []error
	for _, s := range w.sinks {
		if _, err := s.Write(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		w.mu.Lock()
		if w.err == nil {
			w.err = errors.Join(errs...)
		}
		w.mu.Unlock()
	}
}

func (w *asyncWriter) stickyErr() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Write queues a copy of p. It blocks while the queue is full so no line is lost.
func (w *asyncWriter) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	line := append([]byte(nil), p...)
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		return errors.New("logger: writer closed")
	}
	w.lines <- line
	return nil
}

// Flush blocks until every line queued so far has reached the sinks.
func (w *asyncWriter) Flush() error {
	ack := make(chan error, 1)
	select {
	case w.flushes <- ack:
		return <-ack
	case <-w.done:
		return w.stickyErr()
	}
}

// Close writes what is queued and stops the writer goroutine.
func (w *asyncWriter) Close() error {
	w.once.Do(func() {
		w.closeMu.Lock()
		w.closed = true
		close(w.lines)
		w.closeMu.Unlock()
	})
	<-w.done
	return w.stickyErr()
}
