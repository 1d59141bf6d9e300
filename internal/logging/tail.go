package logging

import (
	"bufio"
	"os"
	"strings"
	"time"
)

// LogEntry is a line read back from the log file.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
	Raw       string
}

// RecentEntries returns the last limit lines of path that belong to list,
// oldest first. A missing file yields no entries and no error.
func RecentEntries(path, list string, limit int) ([]LogEntry, error) {
	if path == "" || limit <= 0 {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	marker := "list=" + list
	ring := make([]string, 0, limit)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !hasField(line, marker) {
			continue
		}
		if len(ring) == limit {
			ring = ring[1:]
		}
		ring = append(ring, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	entries := make([]LogEntry, 0, len(ring))
	for _, line := range ring {
		entries = append(entries, parseConsoleLine(line))
	}
	return entries, nil
}

func hasField(line, field string) bool {
	for _, tok := range strings.Fields(line) {
		if tok == field {
			return true
		}
	}
	return false
}

// parseConsoleLine splits a ConsoleHandler line back into its parts.
func parseConsoleLine(line string) LogEntry {
	entry := LogEntry{Raw: line, Message: line}

	ts, rest, ok := strings.Cut(line, " ")
	if !ok {
		return entry
	}
	if t, err := time.Parse(time.RFC3339, ts); err == nil {
		entry.Timestamp = t
	}

	// skip "name[pid]:"
	if _, after, ok := strings.Cut(rest, "]: "); ok {
		rest = after
	}
	if strings.HasPrefix(rest, "[") {
		if lvl, after, ok := strings.Cut(rest[1:], "] "); ok {
			entry.Level = lvl
			rest = after
		}
	}
	entry.Message = rest
	return entry
}
