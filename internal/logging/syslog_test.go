package logging

import (
	"bytes"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultSyslogConfig(t *testing.T) {
	cfg := DefaultSyslogConfig()
	if cfg.Network != "unixgram" || cfg.Address != "/dev/log" {
		t.Errorf("unexpected default endpoint %s %s", cfg.Network, cfg.Address)
	}
	if cfg.ForList("ipsum").Tag != "setguard-ipsum" {
		t.Errorf("list tag = %q", cfg.ForList("ipsum").Tag)
	}
}

func TestNewSyslogWriter_MissingAddress(t *testing.T) {
	if _, err := NewSyslogWriter(SyslogConfig{Enabled: true}); err == nil {
		t.Error("expected error for missing address")
	}
}

func TestSyslogWriter_UDP(t *testing.T) {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("cannot listen on udp: %v", err)
	}
	defer pc.Close()

	w, err := NewSyslogWriter(SyslogConfig{Network: "udp", Address: pc.LocalAddr().String(), Tag: "setguard-ipsum", Facility: 1})
	if err != nil {
		t.Fatalf("NewSyslogWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("2026-01-01T00:00:00Z setguard[1]: [warn] feed unchanged\n")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	buf := make([]byte, 1024)
	pc.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	msg := string(buf[:n])
	if !strings.HasPrefix(msg, "<12>") {
		t.Errorf("expected warning priority <12>, got %q", msg)
	}
	if !strings.Contains(msg, "setguard-ipsum: ") {
		t.Errorf("missing tag in %q", msg)
	}
}

func TestForListWithoutSink(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Output: &buf})

	l, closer := ForList(base, "whitelist", SyslogConfig{Enabled: false})
	defer closer.Close()
	l.Info("hello")
	if !strings.Contains(buf.String(), "list=whitelist") {
		t.Errorf("list attribute missing: %q", buf.String())
	}
}

func TestForListUnreachableSink(t *testing.T) {
	var buf bytes.Buffer
	base := New(Config{Level: LevelInfo, Output: &buf})

	cfg := SyslogConfig{Enabled: true, Network: "unixgram", Address: filepath.Join(t.TempDir(), "missing.sock")}
	l, closer := ForList(base, "ipsum", cfg)
	defer closer.Close()

	if !strings.Contains(buf.String(), "syslog sink unavailable") {
		t.Errorf("expected warning about sink, got %q", buf.String())
	}
	l.Info("still logs")
	if !strings.Contains(buf.String(), "still logs") {
		t.Error("fallback logger did not write")
	}
}

func TestSeverityOf(t *testing.T) {
	cases := map[string]int{
		"x [error] y": 3,
		"x [warn] y":  4,
		"x [info] y":  6,
		"x [debug] y": 7,
	}
	for line, want := range cases {
		if got := severityOf([]byte(line)); got != want {
			t.Errorf("severityOf(%q) = %d, want %d", line, got, want)
		}
	}
}
