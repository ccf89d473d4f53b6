package audit

import (
	"fmt"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testSocketPath returns a short, unique Unix socket path. Unix socket
// paths are limited to 108 characters, which t.TempDir can exceed.
func testSocketPath(t *testing.T, suffix string) string {
	t.Helper()
	p := fmt.Sprintf("/tmp/usufruit_%d_%s.sock", os.Getpid(), suffix)
	os.Remove(p)
	t.Cleanup(func() { os.Remove(p) })
	return p
}

func listenDatagram(t *testing.T, path string) *net.UnixConn {
	t.Helper()
	conn, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *net.UnixConn) string {
	t.Helper()
	buf := make([]byte, 8192)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, err := conn.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestSyslogEmitterDelivers(t *testing.T) {
	t.Log("Testing: Emit delivers an RFC 5424 message with sorted structured data")

	path := testSocketPath(t, "deliver")
	conn := listenDatagram(t, path)

	w, err := NewSyslogEmitter(SyslogConfig{SocketPath: path, Hostname: "test.local"})
	require.NoError(t, err)
	defer w.Close()

	ev := NewLibrarianDeleted("lib_1", "lbr_admin", "lbr_gone", DispositionCascade, "", 2, 3, "req-7")
	ev.Timestamp = testTime
	require.NoError(t, w.Emit(ev))

	got := readMessage(t, conn)
	t.Logf("Received: %s", got)

	assert.True(t, strings.HasPrefix(got, "<132>1 2026-02-04T15:30:00.000Z test.local usufruitd "), got)
	assert.Contains(t, got, " librarian.deleted [usufruit ")
	assert.Contains(t, got,
		`library_id="lib_1" actor_id="lbr_admin" target_id="lbr_gone" request_id="req-7" books="2" disposition="cascade" loans="3"]`)
	assert.True(t, strings.HasSuffix(got, "librarian.deleted lbr_gone by lbr_admin"), got)
}

func TestSyslogEmitterAnonymousSummary(t *testing.T) {
	t.Parallel()

	w := &SyslogEmitter{facility: FacLocal0, hostname: "h", appName: "a"}
	msg := w.message(NewAuthFailure("", "fp", "", "unknown secret", "GET", "/", ""))
	assert.Equal(t, "auth.failure by anonymous", msg.Text)
}

func TestSyslogEmitterConcurrentWrites(t *testing.T) {
	t.Log("Testing: concurrent Emit calls each deliver one whole message")

	path := testSocketPath(t, "concurrent")
	conn := listenDatagram(t, path)

	w, err := NewSyslogEmitter(SyslogConfig{SocketPath: path})
	require.NoError(t, err)
	defer w.Close()

	const n = 20
	received := make(chan string, n)
	go func() {
		defer close(received)
		buf := make([]byte, 8192)
		for i := 0; i < n; i++ {
			if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
				return
			}
			m, err := conn.Read(buf)
			if err != nil {
				return
			}
			received <- string(buf[:m])
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, w.Emit(NewLoanReturned("lib_1", "lbr_1", fmt.Sprintf("ln_%d", i), "bk_1", "")))
		}(i)
	}
	wg.Wait()

	got := 0
	for msg := range received {
		assert.True(t, strings.HasPrefix(msg, "<134>1 "), msg)
		got++
	}
	assert.Equal(t, n, got)
}

func TestSyslogEmitterStalledDaemon(t *testing.T) {
	t.Log("Testing: a syslog socket nobody reads fails writes within the deadline")

	path := testSocketPath(t, "stalled")
	listenDatagram(t, path)

	w, err := NewSyslogEmitter(SyslogConfig{SocketPath: path, WriteTimeout: 50 * time.Millisecond})
	require.NoError(t, err)
	defer w.Close()

	start := time.Now()
	var emitErr error
	for i := 0; i < 1000 && emitErr == nil; i++ {
		emitErr = w.Emit(NewLibraryCreated("lib_1", "", ""))
	}
	require.Error(t, emitErr, "the datagram queue should fill up")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSyslogEmitterUnavailableSocket(t *testing.T) {
	t.Parallel()

	_, err := NewSyslogEmitter(SyslogConfig{SocketPath: "/tmp/usufruit-does-not-exist.sock"})
	assert.Error(t, err)
}

func TestSyslogEmitterReconnects(t *testing.T) {
	t.Log("Testing: a restarted syslog socket is picked up on the next write")

	path := testSocketPath(t, "reconnect")
	first, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)

	w, err := NewSyslogEmitter(SyslogConfig{SocketPath: path})
	require.NoError(t, err)
	defer w.Close()

	first.Close()
	os.Remove(path)
	second := listenDatagram(t, path)

	require.NoError(t, w.Emit(NewLibraryCreated("lib_1", "", "")))
	assert.Contains(t, readMessage(t, second), "library.created")
}

func TestSyslogEmitterReconnectBackoff(t *testing.T) {
	t.Log("Testing: repeated reconnect failures back off instead of redialing")

	path := testSocketPath(t, "backoff")
	listener, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: path, Net: "unixgram"})
	require.NoError(t, err)

	w, err := NewSyslogEmitter(SyslogConfig{SocketPath: path})
	require.NoError(t, err)
	defer w.Close()

	listener.Close()
	os.Remove(path)

	err = w.Emit(NewLibraryCreated("lib_1", "", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syslog reconnect")
	assert.Equal(t, reconnectBackoffInit, w.backoff)

	err = w.Emit(NewLibraryCreated("lib_1", "", ""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backoff")
}

func TestSyslogEmitterNilReceiver(t *testing.T) {
	t.Parallel()

	var w *SyslogEmitter
	assert.NoError(t, w.Emit(Event{}))
	assert.NoError(t, w.Close())
}
