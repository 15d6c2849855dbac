package tts

import (
	"io"
	"sync"
)

// bufferedPipe never blocks the writer, so a provider can keep receiving
// audio while nobody reads yet.
type bufferedPipe struct {
	buf    []byte
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
	err    error
}

func newBufferedPipe(capacity int) *bufferedPipe {
	bp := &bufferedPipe{buf: make([]byte, 0, capacity)}
	bp.cond = sync.NewCond(&bp.mu)
	return bp
}

func (bp *bufferedPipe) Write(p []byte) (int, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if bp.closed {
		return 0, io.ErrClosedPipe
	}
	bp.buf = append(bp.buf, p...)
	bp.cond.Signal()
	return len(p), nil
}

func (bp *bufferedPipe) Read(p []byte) (int, error) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	for len(bp.buf) == 0 && !bp.closed {
		bp.cond.Wait()
	}
	if len(bp.buf) == 0 {
		if bp.err != nil {
			return 0, bp.err
		}
		return 0, io.EOF
	}

	n := copy(p, bp.buf)
	bp.buf = bp.buf[n:]
	return n, nil
}

func (bp *bufferedPipe) Close() error {
	return bp.CloseWithError(nil)
}

// CloseWithError makes readers see err instead of io.EOF once the buffered
// audio is drained.
func (bp *bufferedPipe) CloseWithError(err error) error {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if !bp.closed {
		bp.closed = true
		bp.err = err
	}
	bp.cond.Broadcast()
	return nil
}
