package audit

import (
	"fmt"
	"net"
	"os"
	"sort"
	"sync"
	"time"
)

const (
	reconnectBackoffInit = 100 * time.Millisecond
	reconnectBackoffMax  = 30 * time.Second
	defaultWriteTimeout  = time.Second

	sdID = "usufruit"
)

// SyslogEmitter writes audit events to the local syslog daemon as RFC 5424
// messages with structured data.
//
// On write failure it reconnects to the socket with exponential backoff
// (100ms initial, 30s cap), so a restarting syslog daemon does not cause a
// tight reconnect loop. Each write carries a deadline; a daemon that stops
// draining its queue surfaces as a write failure instead of a stalled
// request.
type SyslogEmitter struct {
	conn         net.Conn
	hostname     string
	appName      string
	facility     Facility
	socketPath   string
	writeTimeout time.Duration

	mu              sync.Mutex
	backoff         time.Duration
	lastReconnectAt time.Time
}

// SyslogConfig holds configuration for the syslog emitter.
type SyslogConfig struct {
	SocketPath string   // Default: "/dev/log"
	Hostname   string   // Default: os.Hostname()
	AppName    string   // Default: "usufruitd"
	Facility   Facility // Default: FacLocal0

	WriteTimeout time.Duration // Default: 1s
}

// NewSyslogEmitter connects to the syslog socket. Callers should carry on
// with the SQLite audit table alone if this fails.
func NewSyslogEmitter(cfg SyslogConfig) (*SyslogEmitter, error) {
	if cfg.SocketPath == "" {
		cfg.SocketPath = "/dev/log"
	}
	if cfg.Hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			h = "unknown"
		}
		cfg.Hostname = h
	}
	if cfg.AppName == "" {
		cfg.AppName = "usufruitd"
	}
	if cfg.Facility == 0 {
		cfg.Facility = FacLocal0
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}

	conn, err := dialSyslog(cfg.SocketPath)
	if err != nil {
		return nil, fmt.Errorf("syslog connect: %w", err)
	}

	return &SyslogEmitter{
		conn:         conn,
		hostname:     cfg.Hostname,
		appName:      cfg.AppName,
		facility:     cfg.Facility,
		socketPath:   cfg.SocketPath,
		writeTimeout: cfg.WriteTimeout,
	}, nil
}

// Emit formats ev as an RFC 5424 message and writes it to the socket.
// Safe to call on a nil receiver.
func (w *SyslogEmitter) Emit(ev Event) error {
	if w == nil {
		return nil
	}
	return w.writeOrReconnect(FormatMessage(w.message(ev)))
}

func (w *SyslogEmitter) message(ev Event) Message {
	params := make([]SDParam, 0, 5+len(ev.Details))
	for _, p := range []SDParam{
		{Name: "library_id", Value: ev.LibraryID},
		{Name: "actor_id", Value: ev.ActorID},
		{Name: "target_id", Value: ev.TargetID},
		{Name: "ip", Value: ev.IP},
		{Name: "request_id", Value: ev.RequestID},
	} {
		if p.Value != "" {
			params = append(params, p)
		}
	}

	keys := make([]string, 0, len(ev.Details))
	for k := range ev.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		params = append(params, SDParam{Name: k, Value: ev.Details[k]})
	}

	return Message{
		Facility:  w.facility,
		Severity:  ev.Severity,
		Timestamp: ev.Timestamp,
		Hostname:  w.hostname,
		AppName:   w.appName,
		ProcessID: fmt.Sprint(os.Getpid()),
		MessageID: string(ev.Type),
		SD:        []SDElement{{ID: sdID, Params: params}},
		Text:      summary(ev),
	}
}

// summary is the free-text part of the message.
func summary(ev Event) string {
	actor := ev.ActorID
	if actor == "" {
		actor = "anonymous"
	}
	if ev.TargetID == "" {
		return fmt.Sprintf("%s by %s", ev.Type, actor)
	}
	return fmt.Sprintf("%s %s by %s", ev.Type, ev.TargetID, actor)
}

// writeOrReconnect writes data to the socket. On failure, including a
// deadline timeout, it reconnects once (subject to backoff) and retries.
func (w *SyslogEmitter) writeOrReconnect(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	err := w.writeLocked(data)
	if err == nil {
		w.backoff = 0
		return nil
	}

	if reconnErr := w.reconnectLocked(); reconnErr != nil {
		return fmt.Errorf("syslog write failed (%v), reconnect failed: %w", err, reconnErr)
	}

	if err = w.writeLocked(data); err != nil {
		return fmt.Errorf("syslog write: %w", err)
	}
	w.backoff = 0
	return nil
}

func (w *SyslogEmitter) writeLocked(data []byte) error {
	if w.writeTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout)); err != nil {
			return err
		}
	}
	_, err := w.conn.Write(data)
	return err
}

// reconnectLocked replaces the connection. w.mu must be held.
func (w *SyslogEmitter) reconnectLocked() error {
	if w.backoff > 0 && time.Since(w.lastReconnectAt) < w.backoff {
		return fmt.Errorf("syslog reconnect backoff: retry in %v", w.backoff-time.Since(w.lastReconnectAt))
	}

	w.conn.Close()

	conn, err := dialSyslog(w.socketPath)
	if err != nil {
		w.lastReconnectAt = time.Now()
		w.backoff = min(max(w.backoff*2, reconnectBackoffInit), reconnectBackoffMax)
		return fmt.Errorf("syslog reconnect: %w", err)
	}

	w.conn = conn
	w.backoff = 0
	w.lastReconnectAt = time.Time{}
	return nil
}

// Close closes the socket. Safe to call on a nil receiver.
func (w *SyslogEmitter) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.Close()
}

// dialSyslog tries a datagram socket first, then a stream socket.
func dialSyslog(socketPath string) (net.Conn, error) {
	conn, err := net.Dial("unixgram", socketPath)
	if err == nil {
		return conn, nil
	}
	return net.Dial("unix", socketPath)
}
