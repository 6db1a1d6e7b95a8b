package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/redact"
)

func TestRunInit_UserMode(t *testing.T) {
	buf, home := setupCLI(t)

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	configDir := filepath.Join(home, ".trustgate")

	if _, err := os.Stat(filepath.Join(configDir, "approvals")); err != nil {
		t.Error("approvals directory not created")
	}

	data, err := os.ReadFile(filepath.Join(configDir, "policy.yaml"))
	if err != nil {
		t.Fatalf("policy.yaml not created: %v", err)
	}
	if _, err := policy.ParseConfig(data); err != nil {
		t.Errorf("generated policy invalid: %v", err)
	}

	if cfg, err := redact.LoadConfig(filepath.Join(configDir, "redact.yaml")); err != nil || cfg == nil {
		t.Errorf("redact.yaml not usable: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "trustgate init complete.") || !strings.Contains(out, "Created:") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRunInit_NoOverwriteWithoutForce(t *testing.T) {
	buf, home := setupCLI(t)

	configDir := filepath.Join(home, ".trustgate")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatal(err)
	}

	// Pre-create policy.yaml with sentinel content.
	sentinel := "# sentinel content\n"
	policyPath := filepath.Join(configDir, "policy.yaml")
	writeFile(t, policyPath, sentinel)

	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	data, _ := os.ReadFile(policyPath)
	if string(data) != sentinel {
		t.Error("policy.yaml was overwritten without --force")
	}
	buf.Reset()

	if err := runInit(nil, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "All files already exist") {
		t.Errorf("unexpected second run output %q", buf.String())
	}
}

func TestRunInit_ForceOverwrites(t *testing.T) {
	_, home := setupCLI(t)

	configDir := filepath.Join(home, ".trustgate")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatal(err)
	}

	sentinel := "# sentinel content\n"
	policyPath := filepath.Join(configDir, "policy.yaml")
	writeFile(t, policyPath, sentinel)

	initForce = true
	if err := runInit(nil, nil); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	data, _ := os.ReadFile(policyPath)
	if string(data) != policy.DefaultConfigYAML() {
		t.Error("policy.yaml was NOT overwritten with --force")
	}
}

func TestRunInit_InvalidMode(t *testing.T) {
	setupCLI(t)
	initMode = "invalid"

	err := runInit(nil, nil)
	if err == nil {
		t.Fatal("expected error for invalid mode")
	}
	if !strings.Contains(err.Error(), "unknown mode") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInitConfigDir(t *testing.T) {
	_, home := setupCLI(t)

	tests := []struct {
		mode    string
		want    string
		wantErr bool
	}{
		{"user", filepath.Join(home, ".trustgate"), false},
		{"", filepath.Join(home, ".trustgate"), false},
		{"system", "/etc/trustgate", false},
		{"invalid", "", true},
	}

	for _, tt := range tests {
		initMode = tt.mode
		got, err := initConfigDir()
		if tt.wantErr {
			if err == nil {
				t.Errorf("mode=%q: expected error", tt.mode)
			}
			continue
		}
		if err != nil {
			t.Errorf("mode=%q: unexpected error: %v", tt.mode, err)
			continue
		}
		if got != tt.want {
			t.Errorf("mode=%q: got %q, want %q", tt.mode, got, tt.want)
		}
	}
}

func TestWriteIfMissing(t *testing.T) {
	setupCLI(t)
	path := filepath.Join(t.TempDir(), "nested", "test.txt")

	wrote, err := writeIfMissing(path, "hello")
	if err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if !wrote {
		t.Error("first write should return true")
	}

	wrote, err = writeIfMissing(path, "world")
	if err != nil {
		t.Fatalf("second write failed: %v", err)
	}
	if wrote {
		t.Error("second write should return false without force")
	}

	initForce = true
	if wrote, _ = writeIfMissing(path, "world"); !wrote {
		t.Error("forced write should return true")
	}
	data, _ := os.ReadFile(path)
	if string(data) != "world" {
		t.Errorf("expected forced content, got %q", data)
	}
}
