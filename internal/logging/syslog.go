package logging

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"grimm.is/setguard/internal/brand"
)

// SyslogConfig holds the log sink configuration.
type SyslogConfig struct {
	Enabled  bool
	Network  string // unixgram, unix, udp or tcp
	Address  string // socket path or host:port
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns the local syslog socket with the product tag.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  true,
		Network:  "unixgram",
		Address:  "/dev/log",
		Tag:      brand.SyslogTag,
		Facility: 1, // LOG_USER
	}
}

// SyslogWriter implements io.Writer and sends each line to a syslog socket.
type SyslogWriter struct {
	mu       sync.Mutex
	conn     net.Conn
	config   SyslogConfig
	hostname string
}

// NewSyslogWriter dials the configured syslog endpoint.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("syslog address is required")
	}
	if cfg.Network == "" {
		cfg.Network = "unixgram"
	}
	if cfg.Tag == "" {
		cfg.Tag = brand.SyslogTag
	}

	conn, err := net.DialTimeout(cfg.Network, cfg.Address, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to syslog %s %s: %w", cfg.Network, cfg.Address, err)
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = brand.LowerName
	}

	return &SyslogWriter{
		conn:     conn,
		config:   cfg,
		hostname: hostname,
	}, nil
}

// ForList returns a copy of cfg whose tag is scoped to one list.
func (c SyslogConfig) ForList(list string) SyslogConfig {
	c.Tag = brand.ListTag(list)
	return c
}

// Write formats p as an RFC 3164 message: <priority>timestamp hostname tag: message
func (w *SyslogWriter) Write(p []byte) (n int, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn == nil {
		return 0, fmt.Errorf("syslog connection closed")
	}

	priority := w.config.Facility*8 + severityOf(p)
	msg := fmt.Sprintf("<%d>%s %s %s: %s", priority, time.Now().Format(time.Stamp), w.hostname, w.config.Tag, bytes.TrimRight(p, "\n"))

	if _, err = w.conn.Write([]byte(msg)); err != nil {
		w.reconnect()
		return 0, err
	}
	return len(p), nil
}

// severityOf maps the console level marker to a syslog severity.
func severityOf(line []byte) int {
	switch {
	case bytes.Contains(line, []byte("[error]")):
		return 3
	case bytes.Contains(line, []byte("[warn]")):
		return 4
	case bytes.Contains(line, []byte("[debug]")):
		return 7
	default:
		return 6
	}
}

func (w *SyslogWriter) reconnect() {
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
	}
	conn, err := net.DialTimeout(w.config.Network, w.config.Address, 5*time.Second)
	if err != nil {
		return
	}
	w.conn = conn
}

// Close closes the syslog connection.
func (w *SyslogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.conn != nil {
		err := w.conn.Close()
		w.conn = nil
		return err
	}
	return nil
}

// ForList returns a logger for one list. When the sink is enabled every entry is
// also sent to syslog under the list's own tag. A sink that cannot be reached
// is reported on the base logger and the console-only logger is returned.
func ForList(base *Logger, list string, cfg SyslogConfig) (*Logger, io.Closer) {
	if !cfg.Enabled {
		return base.WithList(list), nopCloser{}
	}
	w, err := NewSyslogWriter(cfg.ForList(list))
	if err != nil {
		base.Warn("syslog sink unavailable", "list", list, "error", err)
		return base.WithList(list), nopCloser{}
	}
	return base.Tee(w).WithList(list), w
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
