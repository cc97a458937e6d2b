package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Campus != "02" {
		t.Errorf("campus = %q, want 02", cfg.Campus)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("poll interval = %s, want 1s", cfg.PollInterval)
	}
	if cfg.RecoverDeadline != 5*time.Minute {
		t.Errorf("recover deadline = %s, want 5m", cfg.RecoverDeadline)
	}
	if cfg.MQTTTopic != "course-sentinel/events" {
		t.Errorf("mqtt topic = %q", cfg.MQTTTopic)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_CAMPUS", "01")
	t.Setenv("SENTINEL_POLL_INTERVAL", "250ms")
	t.Setenv("SENTINEL_LOG_JSON", "true")
	t.Setenv("SENTINEL_PROBE_INTERVAL", "not-a-duration")

	cfg := Load()
	if cfg.Campus != "01" {
		t.Errorf("campus = %q, want 01", cfg.Campus)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("poll interval = %s, want 250ms", cfg.PollInterval)
	}
	if !cfg.LogJSON {
		t.Error("log json override ignored")
	}
	if cfg.ProbeInterval != time.Minute {
		t.Errorf("bad duration should fall back to default, got %s", cfg.ProbeInterval)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Load()
	cfg.PortalBase = ""
	cfg.PollInterval = 0
	cfg.RecoverDeadline = -time.Second

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil for broken config")
	}
	for _, want := range []string{"SENTINEL_PORTAL_BASE", "SENTINEL_POLL_INTERVAL", "SENTINEL_RECOVER_DEADLINE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %s: %v", want, err)
		}
	}
}

func TestStateRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := State{
		Username:      "20230001",
		Password:      "secret",
		NotifyEnabled: true,
		ServerChanKey: "SCT123",
		BatchCode:     "batch-9",
	}
	if err := SaveState(path, st); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("state file mode = %o, want 600", perm)
	}

	got, err := LoadState(path)
	if err != nil {
		t.Fatalf("LoadState() error = %v", err)
	}
	if got != st {
		t.Errorf("round trip = %+v, want %+v", got, st)
	}
}

func TestLoadStateMissingFile(t *testing.T) {
	got, err := LoadState(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("LoadState() error = %v, want nil for missing file", err)
	}
	if got != (State{}) {
		t.Errorf("state = %+v, want zero", got)
	}
}

func TestMonitorFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitor_state.json")

	active, err := ReadMonitorFlag(path)
	if err != nil || active {
		t.Errorf("missing flag = %v, %v, want inactive", active, err)
	}

	if err := WriteMonitorFlag(path, true); err != nil {
		t.Fatalf("WriteMonitorFlag() error = %v", err)
	}
	active, err = ReadMonitorFlag(path)
	if err != nil || !active {
		t.Errorf("flag = %v, %v, want active", active, err)
	}
}

func TestLoadWishlist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	doc := `targets:
  - teaching_class_id: "202620271000123"
    course_number: "CS101"
    course_name: "算法设计"
    teacher: "王老师"
    type: recommend
    time_place: "1-18周 星期二 5-6节"
  - teaching_class_id: "202620271000456"
    course_number: "PE007"
    course_name: "羽毛球"
    type: sport
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	targets, err := LoadWishlist(path)
	if err != nil {
		t.Fatalf("LoadWishlist() error = %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("targets = %d, want 2", len(targets))
	}
	if targets[0].CourseName != "算法设计" || targets[0].Type != "recommend" {
		t.Errorf("first target = %+v", targets[0])
	}
	if targets[1].Teacher != "" {
		t.Errorf("optional teacher should stay empty, got %q", targets[1].Teacher)
	}
}

func TestLoadWishlistRejectsMissingID(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.yaml")
	doc := `targets:
  - course_name: "没有编号的课"
    type: recommend
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadWishlist(path); err == nil {
		t.Error("LoadWishlist() = nil for target without teaching_class_id")
	}
}

func TestLoadWishlistMissingFile(t *testing.T) {
	targets, err := LoadWishlist(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || targets != nil {
		t.Errorf("missing file = %v, %v, want empty without error", targets, err)
	}
}
