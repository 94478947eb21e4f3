package vigilib

import (
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/TheSmallBoat/vigil/wire"
	"github.com/stretchr/testify/require"
)

// mockServer plays the vigil service end of the socket. A non-nil
// handler auto-responds to commands it recognizes; everything else is
// recorded for the test to consume and answer by hand.
type mockServer struct {
	t       *testing.T
	ln      net.Listener
	handler func(cmd []any) map[string]any

	ready chan struct{}
	cmds  chan []any

	mu   sync.Mutex
	conn net.Conn

	wmu sync.Mutex
	wg  sync.WaitGroup
}

func newMockServer(t *testing.T, handler func(cmd []any) map[string]any) *mockServer {
	t.Helper()

	ln, err := net.Listen("unix", filepath.Join(t.TempDir(), "vigild.sock"))
	require.NoError(t, err)

	s := &mockServer{
		t:       t,
		ln:      ln,
		handler: handler,
		ready:   make(chan struct{}),
		cmds:    make(chan []any, 128),
	}

	s.wg.Add(1)
	go s.serve()

	return s
}

func (s *mockServer) path() string {
	return s.ln.Addr().String()
}

func (s *mockServer) serve() {
	defer s.wg.Done()

	conn, err := s.ln.Accept()
	if err != nil {
		return
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	close(s.ready)

	var buf []byte
	tmp := make([]byte, 4096)

	for {
		n, err := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
			for {
				pdu, rest, ok := wire.SplitFrame(buf)
				if !ok {
					break
				}

				var cmd []any
				if err := wire.Unmarshal(pdu, &cmd); err != nil {
					s.t.Errorf("mock server failed to decode a command: %v", err)
					return
				}

				m := copy(buf, rest)
				buf = buf[:m]

				if s.handler != nil {
					if res := s.handler(cmd); res != nil {
						s.send(res)
						continue
					}
				}
				s.cmds <- cmd
			}
		}
		if err != nil {
			return
		}
	}
}

// nextCommand returns the next command the client wrote that the
// handler did not answer.
func (s *mockServer) nextCommand() []any {
	s.t.Helper()

	select {
	case cmd := <-s.cmds:
		return cmd
	case <-time.After(3 * time.Second):
		s.t.Fatal("timed out waiting for a command")
		return nil
	}
}

// send may run on the serve goroutine, so it reports failures with
// Errorf rather than aborting.
func (s *mockServer) send(v map[string]any) {
	payload, err := wire.Marshal(v)
	if err != nil {
		s.t.Errorf("mock server failed to encode a response: %v", err)
		return
	}
	s.sendRaw(wire.AppendFrame(nil, payload))
}

func (s *mockServer) sendRaw(b []byte) {
	<-s.ready

	s.wmu.Lock()
	defer s.wmu.Unlock()

	if _, err := s.conn.Write(b); err != nil {
		s.t.Errorf("mock server failed to write: %v", err)
	}
}

// closeConn hangs up on the client, delivering an end-of-stream.
func (s *mockServer) closeConn() {
	<-s.ready

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.Close()
}

func (s *mockServer) shutdown() {
	_ = s.ln.Close()

	s.mu.Lock()
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// versionHandler answers the handshake the way a current server does.
func versionHandler(cmd []any) map[string]any {
	if len(cmd) > 0 && cmd[0] == "version" {
		return map[string]any{
			"version":      "5.1.0",
			"capabilities": map[string]any{"relative_root": true},
		}
	}
	return nil
}

// echoHandler additionally answers every other command by echoing its
// argument back.
func echoHandler(cmd []any) map[string]any {
	if res := versionHandler(cmd); res != nil {
		return res
	}
	if len(cmd) < 2 {
		return map[string]any{"echo": nil}
	}
	return map[string]any{"echo": cmd[1]}
}
