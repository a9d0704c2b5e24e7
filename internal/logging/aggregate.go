package logging

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// LogEntry is one parsed debug.log record.
type LogEntry struct {
	Timestamp time.Time
	Level     string
	Message   string
	TaskID    string
	Phase     string
	Attrs     map[string]string
}

// LogFilter selects entries. Zero-valued fields do not filter.
type LogFilter struct {
	Level           string
	TaskID          string
	Phase           string
	MessageContains string
}

var levelOrder = map[string]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// ReadEntries parses {logDir}/debug.log, skipping malformed lines, and
// returns the entries sorted by time.
func ReadEntries(logDir string) ([]LogEntry, error) {
	file, err := os.Open(filepath.Join(logDir, "debug.log"))
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var entries []LogEntry
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !gjson.Valid(line) {
			continue
		}
		entries = append(entries, parseLogEntry(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading log file: %w", err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return entries, nil
}

func parseLogEntry(line string) LogEntry {
	entry := LogEntry{Attrs: make(map[string]string)}
	gjson.Parse(line).ForEach(func(key, value gjson.Result) bool {
		switch key.String() {
		case "time":
			if t, err := time.Parse(time.RFC3339Nano, value.String()); err == nil {
				entry.Timestamp = t
			}
		case "level":
			entry.Level = value.String()
		case "msg":
			entry.Message = value.String()
		case "task_id":
			entry.TaskID = value.String()
		case "phase":
			entry.Phase = value.String()
		default:
			entry.Attrs[key.String()] = value.String()
		}
		return true
	})
	return entry
}

// FilterLogs returns the entries matching every set criterion.
func FilterLogs(entries []LogEntry, filter LogFilter) []LogEntry {
	var out []LogEntry
	for _, e := range entries {
		if filter.Level != "" && levelOrder[strings.ToUpper(e.Level)] < levelOrder[ParseLevel(filter.Level)] {
			continue
		}
		if filter.TaskID != "" && e.TaskID != filter.TaskID {
			continue
		}
		if filter.Phase != "" && e.Phase != filter.Phase {
			continue
		}
		if filter.MessageContains != "" && !strings.Contains(e.Message, filter.MessageContains) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Tail returns the last n lines of the file at path. A missing file yields
// an empty slice.
func Tail(path string, n int) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil, nil
	}
	if n > 0 && len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines, nil
}

// Format renders an entry as a single human-readable line.
func (e LogEntry) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-5s %s", e.Timestamp.Format("15:04:05"), e.Level, e.Message)
	keys := make([]string, 0, len(e.Attrs))
	for k := range e.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%s", k, e.Attrs[k])
	}
	return b.String()
}
