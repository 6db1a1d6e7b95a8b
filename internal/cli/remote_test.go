package cli

import (
	"io"
	"log/slog"
	"net"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/trustgate/internal/policy"
	"github.com/ppiankov/trustgate/internal/server"
)

// startServer runs a server on a loopback port with the default policy.
func startServer(t *testing.T, home string) string {
	t.Helper()
	policyPath := filepath.Join(home, "server-policy.yaml")
	writeFile(t, policyPath, policy.DefaultConfigYAML())

	srv, err := server.New(server.Config{
		PolicyPath:   policyPath,
		DBPath:       filepath.Join(home, "server.db"),
		AuditLogPath: filepath.Join(home, "server-audit.jsonl"),
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.ServeOn(lis)
	t.Cleanup(func() {
		srv.GracefulStop()
		srv.Close()
	})
	return lis.Addr().String()
}

func TestEvaluateRemote(t *testing.T) {
	buf, home := setupCLI(t)
	evalRemote = startServer(t, home)
	evalTools = []string{"Read"}
	evalTargets = []string{"/srv/app/.env"}

	if err := runEvaluate(nil, nil); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	out := decodeOutput(t, buf)
	if out["decision"] != "deny" || out["matched_rule"] != "deny-secrets" {
		t.Errorf("unexpected remote evaluation %v", out)
	}
	if h, _ := out["policy_hash"].(string); len(h) != 16 {
		t.Errorf("expected policy hash, got %v", out["policy_hash"])
	}
}

func TestEvaluateRemoteRejectsBatch(t *testing.T) {
	setupCLI(t)
	evalRemote = "127.0.0.1:1"
	evalTools = []string{"Read", "Bash"}

	if err := runEvaluate(nil, nil); err == nil {
		t.Fatal("expected error for remote batch")
	}
}

func TestEvaluateRemoteUnreachableDenies(t *testing.T) {
	buf, _ := setupCLI(t)
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	evalRemote = lis.Addr().String()
	lis.Close()
	evalTools = []string{"Read"}

	if err := runEvaluate(nil, nil); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	out := decodeOutput(t, buf)
	if out["decision"] != "deny" || out["enforced"] != true {
		t.Errorf("expected enforced deny, got %v", out)
	}
	if reason, _ := out["reason"].(string); !strings.Contains(reason, "unreachable") {
		t.Errorf("unexpected reason %q", reason)
	}
}

func TestDecideRemote(t *testing.T) {
	buf, home := setupCLI(t)
	decideRemote = startServer(t, home)
	decideTool = "Task"
	decideEntityID = "agent-1"
	decideSession = "remote-session"

	for i := 0; i < 2; i++ {
		if err := runDecide(nil, nil); err != nil {
			t.Fatalf("decide %d: %v", i, err)
		}
		out := decodeOutput(t, buf)
		if out["session_id"] != "remote-session" {
			t.Errorf("unexpected session %v", out["session_id"])
		}
		chain, _ := out["chain"].(map[string]any)
		if chain["sequence_number"] != float64(i+1) {
			t.Errorf("expected sequence %d, got %v", i+1, chain["sequence_number"])
		}
	}

	// The server mirrors both records to its audit log.
	auditSession = ""
	if err := runAuditVerify(nil, []string{filepath.Join(home, "server-audit.jsonl")}); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !strings.Contains(buf.String(), "OK: 2 entries verified") {
		t.Errorf("unexpected verify output %q", buf.String())
	}
}
