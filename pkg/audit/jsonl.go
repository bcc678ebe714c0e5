package audit

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// genesisHash seeds the chain for a fresh log file.
const genesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// outcomeLine is the append-only form of an outcome report: the original
// decision line is never rewritten, a linked line closes it out instead.
type outcomeLine struct {
	Timestamp  time.Time `json:"ts"`
	Kind       string    `json:"kind"`
	DecisionID string    `json:"decision_id"`
	Outcome    string    `json:"outcome"`
	Detail     string    `json:"detail,omitempty"`
	PrevHash   string    `json:"prev_hash"`
}

// JSONL is an append-only decision log with SHA-256 hash chaining: each
// line's prev_hash is the hash of the previous line, so deleting, editing,
// or inserting a record breaks the chain at that point.
type JSONL struct {
	mu       sync.Mutex
	file     *os.File
	prevHash string
}

// OpenJSONL opens or creates the log and recovers the chain tail from the
// last existing line.
func OpenJSONL(path string) (*JSONL, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}

	prevHash := genesisHash
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		last, err := lastLine(path)
		if err != nil {
			return nil, err
		}
		if len(last) > 0 {
			prevHash = hashLine(last)
		}
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("audit: open %s: %w", path, err)
	}
	return &JSONL{file: file, prevHash: prevHash}, nil
}

func lastLine(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("audit: read existing log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var last []byte
	for scanner.Scan() {
		last = append(last[:0], scanner.Bytes()...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return last, nil
}

func (l *JSONL) RecordDecision(ctx context.Context, e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	e.PrevHash = l.prevHash
	return l.appendLocked(e)
}

func (l *JSONL) RecordOutcome(ctx context.Context, decisionID, outcome, detail string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendLocked(outcomeLine{
		Timestamp:  time.Now().UTC(),
		Kind:       "outcome",
		DecisionID: decisionID,
		Outcome:    outcome,
		Detail:     detail,
		PrevHash:   l.prevHash,
	})
}

func (l *JSONL) appendLocked(v any) error {
	line, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("audit: marshal: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.prevHash = hashLine(line)
	return nil
}

func (l *JSONL) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func hashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}

// VerifyResult reports chain integrity for a log file.
type VerifyResult struct {
	Valid     bool
	Lines     int
	ErrorLine int
	Error     string
}

// Verify walks the file and checks every prev_hash against the previous
// line's actual hash.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		return VerifyResult{Error: err.Error()}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	expected := genesisHash
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		var head struct {
			PrevHash string `json:"prev_hash"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			return VerifyResult{Lines: lineNo, ErrorLine: lineNo, Error: "unparsable line"}
		}
		if head.PrevHash != expected {
			return VerifyResult{Lines: lineNo, ErrorLine: lineNo, Error: "chain break"}
		}
		expected = hashLine(append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return VerifyResult{Lines: lineNo, Error: err.Error()}
	}
	return VerifyResult{Valid: true, Lines: lineNo}
}
