package vigilib

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/valyala/bytebufferpool"
)

// readChunkSize is how many bytes the reader asks the sink to
// preallocate per read.
const readChunkSize = 2048

// sink receives transport events. The Connection implements it. No
// sink callback may block the reader or writer goroutine indefinitely.
type sink interface {
	readBuffer() []byte
	bytesRead(n int)
	readEOF()
	readErr(err error)
	writeErr(err error)
}

// transport owns the stream socket: a writer goroutine drains a queue
// of pending writes, a reader goroutine fills sink-supplied buffers
// and reports how much arrived.
type transport struct {
	conn net.Conn
	sink sink

	mu         sync.Mutex
	writerCond sync.Cond
	queue      []*pendingWrite
	done       bool

	wg sync.WaitGroup
}

func dialTransport(path string, s sink) (*transport, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, err
	}

	t := &transport{conn: conn, sink: s}
	t.writerCond.L = &t.mu

	t.wg.Add(2)
	go t.writeLoop()
	go t.readLoop()

	return t, nil
}

// write hands one framed PDU to the writer goroutine. It never
// blocks; completion failure is reported through the sink. The buffer
// is returned to its pool once written.
func (t *transport) write(buf *bytebufferpool.ByteBuffer) {
	pw := pendingWritePool.acquire(buf)

	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		bytebufferpool.Put(buf)
		pendingWritePool.release(pw)
		return
	}
	t.queue = append(t.queue, pw)
	t.mu.Unlock()

	t.writerCond.Signal()
}

func (t *transport) writeLoop() {
	defer t.wg.Done()

	for {
		t.mu.Lock()
		for !t.done && len(t.queue) == 0 {
			t.writerCond.Wait()
		}
		if t.done {
			for _, pw := range t.queue {
				bytebufferpool.Put(pw.buf)
				pendingWritePool.release(pw)
			}
			t.queue = nil
			t.mu.Unlock()
			return
		}
		pw := t.queue[0]
		t.queue = t.queue[1:]
		t.mu.Unlock()

		_, err := t.conn.Write(pw.buf.B)

		bytebufferpool.Put(pw.buf)
		pendingWritePool.release(pw)

		if err != nil {
			if !t.stopped() {
				t.sink.writeErr(err)
			}
			return
		}
	}
}

func (t *transport) readLoop() {
	defer t.wg.Done()

	for {
		buf := t.sink.readBuffer()

		n, err := t.conn.Read(buf)
		if n > 0 {
			t.sink.bytesRead(n)
		}
		if err != nil {
			if t.stopped() {
				return
			}
			if errors.Is(err, io.EOF) {
				t.sink.readEOF()
			} else {
				t.sink.readErr(err)
			}
			return
		}
	}
}

func (t *transport) stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// close tears the socket down and joins both goroutines. Idempotent.
func (t *transport) close() {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		t.wg.Wait()
		return
	}
	t.done = true
	queue := t.queue
	t.queue = nil
	t.mu.Unlock()

	t.writerCond.Broadcast()
	_ = t.conn.Close()

	// The writer may have exited on an error before draining these.
	for _, pw := range queue {
		bytebufferpool.Put(pw.buf)
		pendingWritePool.release(pw)
	}

	t.wg.Wait()
}
