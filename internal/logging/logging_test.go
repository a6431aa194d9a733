package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/coreos/go-systemd/v22/journal"
)

type sentEntry struct {
	message  string
	priority journal.Priority
	fields   map[string]string
}

func recordingJournal(level slog.Level) (*JournalHandler, *[]sentEntry) {
	var sent []sentEntry
	h := NewJournalHandler(level)
	h.send = func(message string, priority journal.Priority, fields map[string]string) error {
		sent = append(sent, sentEntry{message, priority, fields})
		return nil
	}
	return h, &sent
}

func TestFieldName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"pid", "LAUNCHALL_PID"},
		{"label", "LAUNCHALL_LABEL"},
		{"run.id", "LAUNCHALL_RUN_ID"},
		{"exit-code", "LAUNCHALL_EXIT_CODE"},
		{"Pid2", "LAUNCHALL_PID2"},
	}
	for _, tt := range tests {
		if got := FieldName(tt.key); got != tt.want {
			t.Errorf("FieldName(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestJournalHandler_Fields(t *testing.T) {
	h, sent := recordingJournal(slog.LevelInfo)
	logger := slog.New(h).With("run", "abc123")

	logger.Info("started", "label", "Enpal API Server", "pid", 4242)
	logger.Debug("filtered out")
	logger.WithGroup("child").Error("start failed", "label", "ghost")

	if len(*sent) != 2 {
		t.Fatalf("expected 2 journal entries, got %d", len(*sent))
	}

	first := (*sent)[0]
	if first.message != "started" || first.priority != journal.PriInfo {
		t.Errorf("unexpected first entry: %+v", first)
	}
	for k, v := range map[string]string{
		"LAUNCHALL_RUN":   "abc123",
		"LAUNCHALL_LABEL": "Enpal API Server",
		"LAUNCHALL_PID":   "4242",
	} {
		if first.fields[k] != v {
			t.Errorf("field %s = %q, want %q", k, first.fields[k], v)
		}
	}

	second := (*sent)[1]
	if second.priority != journal.PriErr {
		t.Errorf("priority = %v, want PriErr", second.priority)
	}
	if second.fields["LAUNCHALL_CHILD_LABEL"] != "ghost" {
		t.Errorf("grouped field missing: %v", second.fields)
	}
	if second.fields["LAUNCHALL_RUN"] != "abc123" {
		t.Errorf("attrs added before the group should stay ungrouped: %v", second.fields)
	}
}

func TestPriority(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  journal.Priority
	}{
		{slog.LevelDebug, journal.PriDebug},
		{slog.LevelInfo, journal.PriInfo},
		{slog.LevelWarn, journal.PriWarning},
		{slog.LevelError, journal.PriErr},
		{slog.LevelError + 4, journal.PriErr},
	}
	for _, tt := range tests {
		if got := priority(tt.level); got != tt.want {
			t.Errorf("priority(%v) = %v, want %v", tt.level, got, tt.want)
		}
	}
}

func TestFanout(t *testing.T) {
	var info, debug bytes.Buffer
	logger := slog.New(Fanout(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewTextHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)).With("run", "r1")

	logger.Debug("exited", "pid", 1)
	logger.Info("launched", "pids", []int{1, 2})

	if strings.Contains(info.String(), "exited") {
		t.Errorf("info handler got debug record: %s", info.String())
	}
	if !strings.Contains(info.String(), "msg=launched") || !strings.Contains(info.String(), "run=r1") {
		t.Errorf("info handler missing record: %s", info.String())
	}
	if strings.Count(debug.String(), "\n") != 2 {
		t.Errorf("debug handler should get both records: %s", debug.String())
	}
}

func TestNew_TextOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Out: &buf, Level: slog.LevelInfo})
	logger.Info("starting", "label", "API")

	line := buf.String()
	if !strings.HasPrefix(line, "time=") || !strings.Contains(line, "msg=starting") || !strings.Contains(line, "label=API") {
		t.Errorf("unexpected line: %q", line)
	}
}

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLevel(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}
