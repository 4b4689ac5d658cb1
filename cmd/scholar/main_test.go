package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/hyperjump/scholar/internal/config"
	"github.com/hyperjump/scholar/internal/models"
	"go.uber.org/zap"
)

func TestArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after question are moved first",
			args:     []string{"what is attention", "-n", "3"},
			expected: []string{"-n", "3", "what is attention"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-n", "3", "what is attention"},
			expected: []string{"-n", "3", "what is attention"},
		},
		{
			name:     "question only returns unchanged",
			args:     []string{"what is attention"},
			expected: []string{"what is attention"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"id1", "id2", "--aspects", "results"},
			expected: []string{"--aspects", "results", "id1", "id2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := argsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("argsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestJoinArgs(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"attention"}, "attention"},
		{"multiple words", []string{"what", "is", "attention"}, "what is attention"},
		{"quoted phrase", []string{"what is attention"}, "what is attention"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := joinArgs(tt.args); got != tt.expected {
				t.Errorf("joinArgs(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(""); got != nil {
		t.Errorf("splitList(\"\") = %v, want nil", got)
	}
	got := splitList(" methodology, ,results ,")
	if !reflect.DeepEqual(got, []string{"methodology", "results"}) {
		t.Errorf("splitList() = %v", got)
	}
}

func TestCollectFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "b.PDF", "notes.txt", filepath.Join("sub", "c.pdf")} {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("%PDF-1.4"), 0600); err != nil {
			t.Fatal(err)
		}
	}
	explicit := filepath.Join(dir, "notes.txt")

	files, err := collectFiles([]string{dir, explicit}, []string{".pdf"})
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(files)
	want := []string{
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "b.PDF"),
		explicit,
		filepath.Join(dir, "sub", "c.pdf"),
	}
	sort.Strings(want)
	if !reflect.DeepEqual(files, want) {
		t.Errorf("collectFiles() = %v, want %v", files, want)
	}

	if _, err := collectFiles([]string{filepath.Join(dir, "missing.pdf")}, nil); err == nil {
		t.Error("expected error for a missing path")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
server:
  host: "localhost"
  port: 8080
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s (canon %s), want %s (canon %s)", resolved, resolvedCanon, configPath, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
storage:
  database_path: "./test.db"
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
	if cfg.Storage.DatabasePath != filepath.Join(dir, "test.db") {
		t.Errorf("database path = %s", cfg.Storage.DatabasePath)
	}
}

func TestInitializeComponents_offline(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Storage:   config.StorageConfig{DatabasePath: filepath.Join(dir, "papers.db")},
		Embedding: config.EmbeddingConfig{Provider: "mock", Dimensions: 16},
		LLM:       config.LLMConfig{Provider: "mock"},
	}
	config.ApplyDefaults(cfg)
	cfg.Storage.BleveIndexPath = filepath.Join(dir, "catalogue")
	cfg.Storage.FilesDir = filepath.Join(dir, "papers")
	cfg.Grobid.URL = ""

	components, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer components.Close()

	ctx := context.Background()
	res, err := components.Indexer.Ingest(ctx, &models.IngestRequest{
		Filename: "attention.md",
		Content:  []byte("Attention Is All You Need\n\nAbstract\nWe propose the Transformer.\n\nResults\nIt reaches 28.4 BLEU."),
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.ChunksProcessed == 0 {
		t.Fatalf("no chunks: %+v", res)
	}

	if path, err := components.Engine.PaperFile(ctx, res.PaperID); err != nil || filepath.Dir(path) != cfg.Storage.FilesDir {
		t.Errorf("PaperFile = %s, %v", path, err)
	}

	answer, err := components.Engine.Query(ctx, &models.QueryRequest{Query: "what is proposed?"})
	if err != nil {
		t.Fatal(err)
	}
	if len(answer.Citations) != 1 || answer.Citations[0].PaperID != res.PaperID {
		t.Errorf("citations = %+v", answer.Citations)
	}

	st, err := components.Engine.Status(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Stats.Papers != 1 || st.Embedding.Provider != "mock" || st.Chunking.ChunkSize != cfg.RAG.ChunkSize {
		t.Errorf("status = %+v", st)
	}
	if _, ok := st.Collaborators["grobid"]; ok {
		t.Error("grobid probed without a configured url")
	}
}
