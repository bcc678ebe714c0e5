package audit

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLog(t *testing.T) (*JSONL, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "decisions.jsonl")
	l, err := OpenJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	return l, path
}

func testEntry(verdict string) Entry {
	return Entry{
		Timestamp:  time.Now().UTC(),
		DecisionID: "d-1",
		AgentID:    "agent-1",
		ActionType: "tool_call",
		Tool:       "bash",
		Target:     "prod-db",
		Verdict:    verdict,
		Score:      0.82,
		RuleID:     "threshold.block",
	}
}

func TestChainedWritesVerify(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 5; i++ {
		if err := l.RecordDecision(context.Background(), testEntry("block")); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
	if err := l.RecordOutcome(context.Background(), "d-1", OutcomeSuccess, ""); err != nil {
		t.Fatal(err)
	}
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("chain invalid at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 6 {
		t.Errorf("lines = %d, want 6", result.Lines)
	}
}

func TestVerifyDetectsTampering(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		if err := l.RecordDecision(context.Background(), testEntry("allow")); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	lines[1] = strings.Replace(lines[1], `"allow"`, `"block"`, 1)
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	result := Verify(path)
	if result.Valid {
		t.Fatal("tampered chain verified as valid")
	}
	if result.ErrorLine != 3 {
		t.Errorf("error line = %d, want 3", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletion(t *testing.T) {
	l, path := newTestLog(t)
	for i := 0; i < 3; i++ {
		if err := l.RecordDecision(context.Background(), testEntry("allow")); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if err := os.WriteFile(path, []byte(lines[0]+"\n"+lines[2]+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if result := Verify(path); result.Valid {
		t.Fatal("chain with deleted line verified as valid")
	}
}

func TestReopenContinuesChain(t *testing.T) {
	l, path := newTestLog(t)
	if err := l.RecordDecision(context.Background(), testEntry("warn")); err != nil {
		t.Fatal(err)
	}
	l.Close()

	reopened, err := OpenJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := reopened.RecordDecision(context.Background(), testEntry("allow")); err != nil {
		t.Fatal(err)
	}
	reopened.Close()

	result := Verify(path)
	if !result.Valid || result.Lines != 2 {
		t.Errorf("result = %+v, want valid 2-line chain", result)
	}
}
