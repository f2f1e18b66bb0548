package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/plotweave/internal/indexer"
)

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Project.Root = filepath.Join(t.TempDir(), "novel")
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "state", "index.db")
	return cfg
}

func writeProjectFile(t *testing.T, cfg *Config, p, content string) {
	t.Helper()
	abs := filepath.Join(cfg.Project.Root, filepath.FromSlash(p))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestOpen_CreatesProjectLayout(t *testing.T) {
	cfg := testConfig(t)
	a, err := Open(context.Background(), cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	for _, dir := range []string{"chapters", "settings"} {
		if info, err := os.Stat(filepath.Join(cfg.Project.Root, dir)); err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", dir, err)
		}
	}
	st, err := a.Reconcile(context.Background(), indexer.RebuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if st.Scanned != 0 {
		t.Errorf("scanned = %d, want 0 for an empty project", st.Scanned)
	}
}

func TestOpen_RestoresPersistedGraph(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	writeProjectFile(t, cfg, "settings/characters.md", "## 角色：张三\n## 角色：李四\n")
	writeProjectFile(t, cfg, "chapters/ch001.md", "# 初遇\n张三认识李四。\n")

	a, err := Open(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	st, err := a.Reconcile(ctx, indexer.RebuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if st.Indexed != 2 {
		t.Fatalf("indexed = %d, want 2", st.Indexed)
	}
	before := a.Store.Snapshot().Stats()
	a.Close()

	b, err := Open(ctx, cfg, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	if got := b.Store.Snapshot().Stats(); got.Nodes != before.Nodes || got.Edges != before.Edges {
		t.Errorf("restored stats = %+v, want %+v", got, before)
	}
	st, err = b.Reconcile(ctx, indexer.RebuildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if st.Indexed != 0 || st.Unchanged != 2 {
		t.Errorf("second reconcile indexed=%d unchanged=%d, want 0 and 2", st.Indexed, st.Unchanged)
	}

	results, err := b.Service.Retrieve(ctx, b.Service.DefaultQuery("张三"))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 || results[0].Target.Path != "chapters/ch001.md" {
		t.Errorf("results = %+v, want ch001 first", results)
	}

	var buf bytes.Buffer
	if err := b.Service.Export(&buf); err != nil {
		t.Fatal(err)
	}
	if !json.Valid(buf.Bytes()) {
		t.Error("export is not valid JSON")
	}
}

func TestNewLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	NewLogger(ApplicationConfig{LogFormat: LogFormatJSON}, &buf).Info("hello", slog.String("k", "v"))
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("json log line %q: %v", buf.String(), err)
	}
	if line["k"] != "v" {
		t.Errorf("line = %v", line)
	}

	buf.Reset()
	NewLogger(ApplicationConfig{LogFormat: LogFormatConsole}, &buf).Info("hello", slog.String("k", "v"))
	if !bytes.Contains(buf.Bytes(), []byte("hello")) || json.Valid(buf.Bytes()) {
		t.Errorf("console line = %q", buf.String())
	}
}
