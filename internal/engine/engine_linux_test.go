//go:build linux

package engine

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestEngine(t *testing.T, path string, cfg Config) *Engine {
	t.Helper()
	cfg.Path = path
	cfg.Port = 0
	if cfg.PipeCapacity == 0 {
		cfg.PipeCapacity = 4096
	}
	eng, err := New(zap.NewNop(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return eng
}

func dialAndBootstrap(t *testing.T, eng *Engine, offset string) net.Conn {
	t.Helper()
	addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(eng.ListenPort()))
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial %s: %v", addr, err)
	}
	if _, err := conn.Write([]byte(offset + "\n")); err != nil {
		t.Fatalf("write header: %v", err)
	}
	return conn
}

func readExactly(t *testing.T, conn net.Conn, r io.Reader, n int, deadline time.Time) []byte {
	t.Helper()
	conn.SetReadDeadline(deadline)
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		t.Fatalf("readExactly(%d): %v", n, err)
	}
	return buf
}

// TestEngineStreamsFromOffsetAndFollowsGrowth exercises the normal path
// through onAccept, onHeaderReadable and onFileGrew/pumpAndRearm end to
// end with a real loopback socket and a real file on disk.
func TestEngineStreamsFromOffsetAndFollowsGrowth(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched")
	if err := os.WriteFile(path, []byte("hello "), 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	eng := newTestEngine(t, path, Config{})
	done := make(chan error, 1)
	go func() { done <- eng.Run() }()

	conn := dialAndBootstrap(t, eng, "0")
	defer conn.Close()
	r := bufio.NewReader(conn)

	got := readExactly(t, conn, r, len("hello "), time.Now().Add(2*time.Second))
	if string(got) != "hello " {
		t.Fatalf("got %q, want %q", got, "hello ")
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("reopen for append: %v", err)
	}
	if _, err := f.WriteString("world\n"); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.Close()

	got = readExactly(t, conn, r, len("world\n"), time.Now().Add(2*time.Second))
	if string(got) != "world\n" {
		t.Fatalf("got %q after growth, want %q", got, "world\n")
	}

	eng.RequestShutdown("test complete")
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after RequestShutdown")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := r.ReadByte(); err != io.EOF {
		t.Fatalf("expected EOF after shutdown, got %v", err)
	}
}

// TestEngineDrainsBackpressuredClientViaWritableEdge forces a client into
// Draining (its pipe fills faster than it reads its socket) and confirms
// every byte still eventually arrives once the peer starts reading,
// exercising onWritable and pumpAndRearm's EPOLLOUT bookkeeping.
func TestEngineDrainsBackpressuredClientViaWritableEdge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched")
	content := make([]byte, 256*1024)
	for i := range content {
		content[i] = byte('a' + i%26)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	eng := newTestEngine(t, path, Config{PipeCapacity: 4096})
	done := make(chan error, 1)
	go func() { done <- eng.Run() }()

	conn := dialAndBootstrap(t, eng, "0")
	defer conn.Close()

	// Let the engine push as much as it can into the client's pipe and
	// the socket's own send buffer before this test starts reading, so
	// the client is parked in Draining, not Idle/Filling, at least once.
	time.Sleep(200 * time.Millisecond)

	got := readExactly(t, conn, conn, len(content), time.Now().Add(10*time.Second))
	if string(got) != string(content) {
		t.Fatalf("stream corrupted or incomplete under backpressure (got %d bytes, want %d)", len(got), len(content))
	}

	eng.RequestShutdown("test complete")
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after RequestShutdown")
	}
}

// TestEngineTerminalFileRemovalDrainsThenCloses exercises the terminal
// file event through beginShutdown and closeAll: bytes the engine already
// sent toward a client before the watched file is removed must still
// reach it, Run must return nil, and the connection must then be closed.
func TestEngineTerminalFileRemovalDrainsThenCloses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watched")
	content := []byte("buffered-before-removal\n")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("seed file: %v", err)
	}

	eng := newTestEngine(t, path, Config{ShutdownGrace: 2 * time.Second})
	done := make(chan error, 1)
	go func() { done <- eng.Run() }()

	conn := dialAndBootstrap(t, eng, "0")
	defer conn.Close()

	// Don't read yet: let the engine push the existing bytes toward the
	// client, then remove the file out from under the engine.
	time.Sleep(100 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove watched file: %v", err)
	}

	got := readExactly(t, conn, conn, len(content), time.Now().Add(5*time.Second))
	if string(got) != string(content) {
		t.Fatalf("got %q, want already-buffered data %q to survive shutdown", got, content)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after the watched file was removed")
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected EOF once the engine finished shutting down, got %v", err)
	}
}
