package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/urfave/cli/v3"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err := app.Run(context.Background(), append([]string{"nrt"}, args...))
	return out.String(), err
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, "allocator: host\ncapacity: 4096\nstats_mode: global\nnrt_enabled: false\nserver_address: 0.0.0.0:1234\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Allocator != "host" || cfg.Capacity == nil || *cfg.Capacity != 4096 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.NRTEnabled == nil || *cfg.NRTEnabled || cfg.ServerAddress != "0.0.0.0:1234" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for a missing explicit config")
	}
	if _, err := LoadConfig(writeConfig(t, "capacity: [")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestFlagsOverrideConfig(t *testing.T) {
	path := writeConfig(t, "allocator: cuda\nstats_mode: global\ncapacity: 128\n")
	cmd := &cli.Command{
		Name:  "nrt",
		Flags: runtimeFlags(),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := LoadConfig(configFile)
			if err != nil {
				return err
			}
			applyConfig(cmd, cfg)
			return nil
		},
	}
	if err := cmd.Run(context.Background(), []string{"nrt", "--config", path, "--allocator", "host"}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if allocatorName != "host" {
		t.Fatalf("explicit flag must win, allocator=%q", allocatorName)
	}
	if statsMode != "global" || capacity != 128 {
		t.Fatalf("config values not applied: mode=%q capacity=%d", statsMode, capacity)
	}
}

func TestSelftestCommand(t *testing.T) {
	out, err := runApp(t, "--allocator", "host", "--log-format", "text", "--log-level", "error", "selftest")
	if err != nil {
		t.Fatalf("selftest: %v\n%s", err, out)
	}
	for _, name := range []string{"no-return", "escaping-loop-var", "slice-return"} {
		if !strings.Contains(out, name) {
			t.Fatalf("output missing %s:\n%s", name, out)
		}
	}
}

func TestStatsCommandJSON(t *testing.T) {
	out, err := runApp(t, "--allocator", "host", "--stats-mode", "per-stream", "--log-level", "error",
		"stats", "--json", "--streams", "2", "--blocks", "2", "--threads", "4", "--iterations", "3")
	if err != nil {
		t.Fatalf("stats: %v\n%s", err, out)
	}
	var report statsReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if len(report.Scopes) != 3 || report.Scopes[0].Scope != "global" {
		t.Fatalf("unexpected scopes %+v", report.Scopes)
	}
	if g := report.Scopes[0]; g.Alloc != 48 || !g.Balanced() {
		t.Fatalf("global scope %+v", g)
	}
	if s := report.Scopes[1]; s.Alloc != 24 || !s.Balanced() {
		t.Fatalf("stream scope %+v", s)
	}
}

func TestStatsCommandTable(t *testing.T) {
	out, err := runApp(t, "--allocator", "host", "--log-level", "error", "stats", "--streams", "1")
	if err != nil {
		t.Fatalf("stats: %v\n%s", err, out)
	}
	if !strings.Contains(out, "MI_ALLOC") || !strings.Contains(out, "demo-0") {
		t.Fatalf("unexpected table output:\n%s", out)
	}
}

func TestUnknownAllocator(t *testing.T) {
	if _, err := runApp(t, "--allocator", "tpu", "--log-level", "error", "selftest"); err == nil {
		t.Fatal("expected error for unknown allocator")
	}
}
