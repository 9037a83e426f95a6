package profile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/matheus3301/complaintfeed/internal/config"
)

func TestDir(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".complaintfeed", "profiles", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestPaths(t *testing.T) {
	tests := []struct {
		got, suffix string
	}{
		{SocketPath("test"), filepath.Join("profiles", "test", "daemon.sock")},
		{LockPath("test"), filepath.Join("profiles", "test", "LOCK")},
		{CacheDBPath("test"), filepath.Join("profiles", "test", "cache.db")},
		{LogPath("test"), filepath.Join("profiles", "test", "logs", "feedd.log")},
	}
	for _, tt := range tests {
		if !strings.HasSuffix(tt.got, tt.suffix) {
			t.Errorf("%q, want suffix %s", tt.got, tt.suffix)
		}
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(LogDir("test"))
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() || info.Mode().Perm() != 0700 {
		t.Errorf("log dir mode = %v", info.Mode())
	}
}

func TestResolve(t *testing.T) {
	t.Setenv(HomeEnv, t.TempDir())

	if got := Resolve(""); got != DefaultName {
		t.Errorf("Resolve() without config = %q, want %q", got, DefaultName)
	}
	cfg := config.Default()
	cfg.DefaultProfile = "warden"
	if err := config.Save(ConfigPath(), cfg); err != nil {
		t.Fatal(err)
	}
	if got := Resolve(""); got != "warden" {
		t.Errorf("Resolve() = %q, want warden", got)
	}
	if got := Resolve("office"); got != "office" {
		t.Errorf("Resolve(flag) = %q, want office", got)
	}
}
