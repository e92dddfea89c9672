package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nimburion/autocache-mongo/pkg/cache/mongostore"
	"github.com/nimburion/autocache-mongo/pkg/health"
	"github.com/nimburion/autocache-mongo/pkg/version"
)

func runCommand(t *testing.T, opts CommandOptions, args ...string) (string, error) {
	t.Helper()
	if opts.LogOutput == nil {
		opts.LogOutput = io.Discard
	}
	cmd := NewCommand(opts)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestNewCommand_Subcommands(t *testing.T) {
	cmd := NewCommand(CommandOptions{})
	for _, path := range [][]string{{"get"}, {"set"}, {"destroy"}, {"clear"}, {"status"}, {"version"}, {"config", "show"}} {
		found, _, err := cmd.Find(path)
		if err != nil || found == nil || found.Name() != path[len(path)-1] {
			t.Errorf("expected %v command, got %v (err=%v)", path, found, err)
		}
	}
	if cmd.Use != "autocache-mongo" {
		t.Errorf("expected default name, got %s", cmd.Use)
	}
}

func TestCommands_SetGetDestroy(t *testing.T) {
	connector := mongostore.NewMemoryConnector(nil)
	opts := CommandOptions{Connector: connector}

	if _, err := runCommand(t, opts, "set", "user:1", `{"name":"ada","admin":true}`); err != nil {
		t.Fatalf("set error = %v", err)
	}
	if connector.Collection().Len() != 1 {
		t.Fatalf("expected 1 document, got %d", connector.Collection().Len())
	}

	out, err := runCommand(t, opts, "get", "user:1")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("get output is not JSON: %q", out)
	}
	if got["name"] != "ada" || got["admin"] != true {
		t.Errorf("unexpected value %v", got)
	}

	out, err = runCommand(t, opts, "destroy", "user:1")
	if err != nil {
		t.Fatalf("destroy error = %v", err)
	}
	if strings.TrimSpace(out) != "removed: true" {
		t.Errorf("unexpected destroy output %q", out)
	}

	_, err = runCommand(t, opts, "get", "user:1")
	if !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestCommands_PrefixFlag(t *testing.T) {
	connector := mongostore.NewMemoryConnector(nil)
	opts := CommandOptions{Connector: connector}

	if _, err := runCommand(t, opts, "--prefix", "a:", "set", "k", "plain text"); err != nil {
		t.Fatalf("set error = %v", err)
	}
	if _, err := runCommand(t, opts, "--prefix", "b:", "get", "k"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("expected miss under another prefix, got %v", err)
	}
	out, err := runCommand(t, opts, "--prefix", "a:", "get", "k")
	if err != nil {
		t.Fatalf("get error = %v", err)
	}
	if strings.TrimSpace(out) != `"plain text"` {
		t.Errorf("unexpected output %q", out)
	}
}

func TestCommands_Clear(t *testing.T) {
	connector := mongostore.NewMemoryConnector(nil)
	opts := CommandOptions{Connector: connector}

	for _, key := range []string{"a", "b", "c"} {
		if _, err := runCommand(t, opts, "set", key, "1"); err != nil {
			t.Fatalf("set %s error = %v", key, err)
		}
	}
	if _, err := runCommand(t, opts, "clear"); err != nil {
		t.Fatalf("clear error = %v", err)
	}
	if n := connector.Collection().Len(); n != 0 {
		t.Errorf("expected empty collection, got %d", n)
	}
}

func TestCommands_Status(t *testing.T) {
	out, err := runCommand(t, CommandOptions{Connector: mongostore.NewMemoryConnector(nil)}, "status")
	if err != nil {
		t.Fatalf("status error = %v", err)
	}
	var result health.AggregatedResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("status output is not JSON: %v", err)
	}
	if result.Status != health.StatusHealthy || len(result.Checks) != 2 {
		t.Fatalf("unexpected status %+v", result)
	}
	if result.Checks[0].Name != "autocache" || result.Checks[1].Name != "mongodb" {
		t.Errorf("expected collection and mongodb checks, got %s, %s", result.Checks[0].Name, result.Checks[1].Name)
	}
}

func TestCommands_StatusSingleCheck(t *testing.T) {
	opts := CommandOptions{Connector: mongostore.NewMemoryConnector(nil)}

	out, err := runCommand(t, opts, "status", "--check", "mongodb")
	if err != nil {
		t.Fatalf("status --check error = %v", err)
	}
	var res health.CheckResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("status output is not JSON: %v", err)
	}
	if res.Name != "mongodb" || res.Status != health.StatusHealthy {
		t.Errorf("unexpected check result %+v", res)
	}

	_, err = runCommand(t, opts, "status", "--check", "missing")
	if err == nil || !strings.Contains(err.Error(), "available: autocache, mongodb") {
		t.Fatalf("expected unknown check error listing names, got %v", err)
	}
}

func TestCommands_LogsCarryOperationID(t *testing.T) {
	var logs bytes.Buffer
	opts := CommandOptions{Connector: mongostore.NewMemoryConnector(nil), LogOutput: &logs}

	if _, err := runCommand(t, opts, "set", "k", "v"); err != nil {
		t.Fatalf("set error = %v", err)
	}
	first := operationIDs(t, logs.String())
	if len(first) != 1 {
		t.Fatalf("expected one operation_id per invocation, got %v", first)
	}

	logs.Reset()
	if _, err := runCommand(t, opts, "get", "k"); err != nil {
		t.Fatalf("get error = %v", err)
	}
	second := operationIDs(t, logs.String())
	if len(second) != 1 {
		t.Fatalf("expected one operation_id per invocation, got %v", second)
	}
	for id := range first {
		if second[id] {
			t.Errorf("operation_id %s reused across invocations", id)
		}
	}
}

func operationIDs(t *testing.T, logs string) map[string]bool {
	t.Helper()
	ids := make(map[string]bool)
	for _, line := range strings.Split(strings.TrimSpace(logs), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", line)
		}
		id, _ := entry["operation_id"].(string)
		if id == "" {
			t.Fatalf("log line without operation_id: %q", line)
		}
		ids[id] = true
	}
	if len(ids) == 0 {
		t.Fatal("no log lines written")
	}
	return ids
}

func TestCommands_ConfigShowRedactsURL(t *testing.T) {
	out, err := runCommand(t, CommandOptions{}, "--url", "mongodb://user:hunter2@db:27017/cache", "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	if strings.Contains(out, "hunter2") {
		t.Errorf("password leaked in config output:\n%s", out)
	}
	if !strings.Contains(out, "prefix: 'autocache:'") && !strings.Contains(out, `prefix: "autocache:"`) && !strings.Contains(out, "prefix: autocache:") {
		t.Errorf("expected default prefix in output:\n%s", out)
	}
}

func TestCommands_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autocache.yaml")
	if err := os.WriteFile(path, []byte("store:\n  prefix: \"file:\"\nlog:\n  level: debug\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	connector := mongostore.NewMemoryConnector(nil)
	opts := CommandOptions{Connector: connector, ConfigPath: path}

	if _, err := runCommand(t, opts, "set", "k", "42"); err != nil {
		t.Fatalf("set error = %v", err)
	}
	if _, ok, _ := connector.Collection().FindValue(t.Context(), "file:k"); !ok {
		t.Error("expected key stored with prefix from config file")
	}
}

func TestCommands_InvalidConfig(t *testing.T) {
	_, err := runCommand(t, CommandOptions{}, "--url", "http://localhost", "config", "show")
	if err == nil || !strings.Contains(err.Error(), "store.url") {
		t.Fatalf("expected url validation error, got %v", err)
	}
}

func TestCommands_Version(t *testing.T) {
	out, err := runCommand(t, CommandOptions{Name: "cachectl"}, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "Service:    cachectl") {
		t.Errorf("unexpected version output %q", out)
	}
}

func TestCommands_VersionBuildTime(t *testing.T) {
	orig := version.BuildTime
	t.Cleanup(func() { version.BuildTime = orig })

	version.BuildTime = "2026-01-02T04:04:05+01:00"
	out, err := runCommand(t, CommandOptions{}, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "Build Time: Fri, 02 Jan 2026 03:04:05 UTC") {
		t.Errorf("expected build time normalized to UTC, got %q", out)
	}

	version.BuildTime = "last tuesday"
	out, err = runCommand(t, CommandOptions{}, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.Contains(out, "Build Time: last tuesday") {
		t.Errorf("expected raw build time, got %q", out)
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		raw  string
		want any
	}{
		{raw: "42", want: float64(42)},
		{raw: "true", want: true},
		{raw: `"quoted"`, want: "quoted"},
		{raw: "not json", want: "not json"},
		{raw: "null", want: nil},
	}
	for _, tt := range tests {
		if got := parseValue(tt.raw); got != tt.want {
			t.Errorf("parseValue(%q) = %#v, want %#v", tt.raw, got, tt.want)
		}
	}
}
