package policy

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func boolPtrForTest(b bool) *bool { return &b }

func TestAuditLogAppendKeepsInMemoryEntries(t *testing.T) {
	a := NewAuditLog(AuditConfig{})
	a.Append(AuditEntry{Timestamp: time.Now(), Tool: "echo", Level: "info", Approved: boolPtrForTest(true)})
	a.Append(AuditEntry{Timestamp: time.Now(), Tool: "delete_file", Level: "warn", Approved: boolPtrForTest(false)})

	entries := a.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Tool != "echo" || entries[1].Tool != "delete_file" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestAuditLogDisabledWritesNoSinkFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	a := NewAuditLog(AuditConfig{Enabled: false, FilePath: path})
	a.Append(AuditEntry{Tool: "t"})
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected no sink file to be created when disabled")
	}
}

func TestAuditLogSinkFileWritesOneLinePerEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.jsonl")
	a := NewAuditLog(AuditConfig{Enabled: true, FilePath: path})
	a.Append(AuditEntry{Tool: "send_email", Scope: "outbound"})
	a.Append(AuditEntry{Tool: "delete_file", Scope: "fs"})
	if err := a.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines in the sink file, got %d: %v", len(lines), lines)
	}
	if !strings.Contains(lines[0], "send_email") || !strings.Contains(lines[1], "delete_file") {
		t.Fatalf("unexpected sink contents: %v", lines)
	}
}
