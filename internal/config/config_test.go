package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/musher-dev/spawn/internal/launch"
)

// unsetEnvForTest unsets an environment variable and registers cleanup to
// restore its original state.
func unsetEnvForTest(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func isolate(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	unsetEnvForTest(t, "SPAWN_LAUNCH_MODE")
	unsetEnvForTest(t, "SPAWN_LAUNCH_HELPER_PATH")
	unsetEnvForTest(t, "SPAWN_SESSIONS_DIR")
	unsetEnvForTest(t, "SPAWN_SESSIONS_RETENTION")

	return dir
}

func TestLoad_Defaults(t *testing.T) {
	dir := isolate(t)

	cfg := Load()

	mode, err := cfg.LaunchMode()
	if err != nil {
		t.Fatalf("LaunchMode() error = %v", err)
	}

	if mode != launch.HelperDelegated {
		t.Errorf("LaunchMode() = %v, want helper", mode)
	}

	if got := cfg.HelperPath(); got != "" {
		t.Errorf("HelperPath() = %q, want empty", got)
	}

	if want := filepath.Join(dir, "spawn", "config.yaml"); cfg.File() != want {
		t.Errorf("File() = %q, want %q", cfg.File(), want)
	}
}

func TestLoad_FromEnv(t *testing.T) {
	isolate(t)
	t.Setenv("SPAWN_LAUNCH_MODE", "vfork")
	t.Setenv("SPAWN_LAUNCH_HELPER_PATH", "/opt/spawn/spawnhelper")

	cfg := Load()

	mode, err := cfg.LaunchMode()
	if err != nil {
		t.Fatalf("LaunchMode() error = %v", err)
	}

	if mode != launch.SpeculativeFork {
		t.Errorf("LaunchMode() = %v, want vfork", mode)
	}

	if got := cfg.HelperPath(); got != "/opt/spawn/spawnhelper" {
		t.Errorf("HelperPath() = %q", got)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := isolate(t)

	file := filepath.Join(dir, "spawn", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(file, []byte("launch:\n  mode: fork\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	mode, err := Load().LaunchMode()
	if err != nil {
		t.Fatalf("LaunchMode() error = %v", err)
	}

	if mode != launch.DirectFork {
		t.Errorf("LaunchMode() = %v, want fork", mode)
	}
}

func TestLoad_EnvBeatsFile(t *testing.T) {
	dir := isolate(t)

	file := filepath.Join(dir, "spawn", "config.yaml")
	if err := os.MkdirAll(filepath.Dir(file), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(file, []byte("launch:\n  mode: fork\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SPAWN_LAUNCH_MODE", "helper")

	if got := Load().GetString(KeyLaunchMode); got != "helper" {
		t.Errorf("launch.mode = %q, want env value", got)
	}
}

func TestConfig_SetPersists(t *testing.T) {
	isolate(t)

	cfg := Load()
	if err := cfg.Set(KeyLaunchMode, "fork"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	data, err := os.ReadFile(cfg.File())
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}

	if !strings.Contains(string(data), "mode: fork") {
		t.Fatalf("config file missing value:\n%s", data)
	}

	if got := Load().GetString(KeyLaunchMode); got != "fork" {
		t.Errorf("reloaded launch.mode = %q, want fork", got)
	}
}

func TestConfig_SetRejects(t *testing.T) {
	isolate(t)

	cfg := Load()

	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{name: "unknown key", key: "api.url", value: "x", want: "unknown config key"},
		{name: "bad mode", key: KeyLaunchMode, value: "turbo", want: "unknown launch mode"},
		{name: "bad retention", key: KeySessionsRetention, value: "a month", want: "invalid retention"},
		{name: "negative retention", key: KeySessionsRetention, value: "-1h", want: "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := cfg.Set(tt.key, tt.value)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Set() error = %v, want %q", err, tt.want)
			}
		})
	}

	if _, err := os.Stat(cfg.File()); !os.IsNotExist(err) {
		t.Errorf("rejected Set wrote the config file: %v", err)
	}
}

func TestConfig_All(t *testing.T) {
	isolate(t)

	all := Load().All()

	launchSettings, ok := all["launch"].(map[string]any)
	if !ok {
		t.Fatalf("All() missing launch section: %v", all)
	}

	if launchSettings["mode"] != DefaultLaunchMode {
		t.Errorf("launch.mode = %v, want %q", launchSettings["mode"], DefaultLaunchMode)
	}
}

func TestConfig_Sessions(t *testing.T) {
	isolate(t)

	state := t.TempDir()
	t.Setenv("XDG_STATE_HOME", state)

	cfg := Load()

	dir, err := cfg.SessionsDir()
	if err != nil {
		t.Fatalf("SessionsDir() error = %v", err)
	}

	if want := filepath.Join(state, "spawn", "sessions"); dir != want {
		t.Errorf("SessionsDir() = %q, want %q", dir, want)
	}

	retention, err := cfg.SessionsRetention()
	if err != nil || retention != DefaultSessionsRetention {
		t.Errorf("SessionsRetention() = %v, %v; want %v", retention, err, DefaultSessionsRetention)
	}

	t.Setenv("SPAWN_SESSIONS_DIR", "/var/tmp/spawn-sessions")
	t.Setenv("SPAWN_SESSIONS_RETENTION", "36h")

	cfg = Load()

	if dir, _ := cfg.SessionsDir(); dir != "/var/tmp/spawn-sessions" {
		t.Errorf("SessionsDir() = %q, want env override", dir)
	}

	if retention, _ := cfg.SessionsRetention(); retention != 36*time.Hour {
		t.Errorf("SessionsRetention() = %v, want 36h", retention)
	}
}
