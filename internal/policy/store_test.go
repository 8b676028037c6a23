package policy

import (
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	dir := t.TempDir()
	p, err := Load(filepath.Join(dir, "missing.toml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.ConsentMode != ConsentOnce {
		t.Fatalf("expected built-in default consent mode, got %v", p.ConsentMode)
	}
	if len(p.Rules) != 0 {
		t.Fatalf("expected no rules in the default policy, got %v", p.Rules)
	}
}

func TestSaveThenLoadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.toml")

	p := &Policy{
		ConsentMode: ConsentPerTool,
		Rules: []Rule{
			{Condition: Condition{Kind: "tool_name_equals", ToolName: "delete_file"}, Action: Action{Kind: ActionDeny, Reason: "blocked"}},
		},
		AuditConfig: AuditConfig{Enabled: true, FilePath: "/var/log/audit.jsonl"},
	}
	if err := Save(path, p); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.ConsentMode != ConsentPerTool {
		t.Fatalf("expected consent mode to round-trip, got %v", loaded.ConsentMode)
	}
	if len(loaded.Rules) != 1 || loaded.Rules[0].Action.Reason != "blocked" {
		t.Fatalf("expected rules to round-trip, got %+v", loaded.Rules)
	}
	if !loaded.AuditConfig.Enabled || loaded.AuditConfig.FilePath != "/var/log/audit.jsonl" {
		t.Fatalf("expected audit config to round-trip, got %+v", loaded.AuditConfig)
	}
}

func TestSaveLeavesNoTempFileBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.toml")
	if err := Save(path, Default()); err != nil {
		t.Fatalf("save: %v", err)
	}
	matches, err := filepath.Glob(filepath.Join(dir, ".policy-*.toml"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 0 {
		t.Fatalf("expected no leftover temp files, found %v", matches)
	}
}
