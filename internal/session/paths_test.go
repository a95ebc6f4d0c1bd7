package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/ims/internal/config"
)

func TestDirDefaultsToHome(t *testing.T) {
	t.Setenv("IMS_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".ims", "sessions", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestPathsUnderSession(t *testing.T) {
	base := t.TempDir()
	t.Setenv("IMS_HOME", base)

	tests := []struct {
		got  string
		want string
	}{
		{SocketPath("test"), filepath.Join("sessions", "test", "daemon.sock")},
		{LockPath("test"), filepath.Join("sessions", "test", "LOCK")},
		{StatePath("test"), filepath.Join("sessions", "test", "ims.db")},
		{LogPath("test"), filepath.Join("sessions", "test", "logs", "imsd.log")},
	}
	for _, tt := range tests {
		if !strings.HasPrefix(tt.got, base) || !strings.HasSuffix(tt.got, tt.want) {
			t.Errorf("path %q, want %s/.../%s", tt.got, base, tt.want)
		}
	}
	if got := ConfigPath(); got != filepath.Join(base, "config.toml") {
		t.Errorf("ConfigPath() = %q", got)
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("IMS_HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if !info.IsDir() || info.Mode().Perm() != 0700 {
			t.Errorf("%s: mode %v, want dir 0700", d, info.Mode())
		}
	}
}

func TestResolvePrecedence(t *testing.T) {
	t.Setenv("IMS_HOME", t.TempDir())

	got, err := Resolve("")
	if err != nil || got != DefaultSessionName {
		t.Errorf("Resolve() without config = %q, %v; want main", got, err)
	}

	if err := config.Save(ConfigPath(), &config.Config{DefaultSession: "work"}); err != nil {
		t.Fatal(err)
	}
	if got, _ := Resolve(""); got != "work" {
		t.Errorf("Resolve() with config = %q, want work", got)
	}
	if got, _ := Resolve("play"); got != "play" {
		t.Errorf("Resolve(play) = %q, want play", got)
	}
	if _, err := Resolve("Bad Name"); err == nil {
		t.Error("Resolve(Bad Name) expected error")
	}
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"main", false},
		{"work-2", false},
		{"my_session", false},
		{strings.Repeat("a", 64), false},
		{"", true},
		{"Main", true},
		{"my.session", true},
		{"../etc", true},
		{strings.Repeat("a", 65), true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			err := ValidateName(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateName(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
