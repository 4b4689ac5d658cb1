// Package main is the scholar CLI entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/scholar/internal/cli"
	"github.com/hyperjump/scholar/internal/comparator"
	"github.com/hyperjump/scholar/internal/composer"
	"github.com/hyperjump/scholar/internal/config"
	"github.com/hyperjump/scholar/internal/embedding"
	"github.com/hyperjump/scholar/internal/export"
	"github.com/hyperjump/scholar/internal/extract"
	"github.com/hyperjump/scholar/internal/indexer"
	"github.com/hyperjump/scholar/internal/keyword"
	"github.com/hyperjump/scholar/internal/llm"
	"github.com/hyperjump/scholar/internal/models"
	"github.com/hyperjump/scholar/internal/retriever"
	"github.com/hyperjump/scholar/internal/search"
	"github.com/hyperjump/scholar/internal/server"
	"github.com/hyperjump/scholar/internal/storage"
	"github.com/hyperjump/scholar/internal/vector"
	"github.com/hyperjump/scholar/internal/watcher"
	"github.com/hyperjump/scholar/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/scholar/config.yaml"

// loadConfig loads config from path. When path is the default, a config.yaml in the
// current directory takes precedence so that "scholar server" from a project dir uses
// the project's config. A .env file next to the loaded config, or in the current
// directory, is applied first. Returns the config and the path that was loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	if err := config.LoadDotEnv(".env", filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, "", fmt.Errorf("failed to load .env: %w", err)
	}
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	args := os.Args[2:]
	switch command {
	case "server":
		runServer(args)
	case "ingest":
		runIngest(args)
	case "query":
		runQuery(args)
	case "list":
		runList(args)
	case "show":
		runShow(args)
	case "delete":
		runDelete(args)
	case "compare":
		runCompare(args)
	case "status":
		runStatus(args)
	case "export":
		runExport(args)
	case "version", "--version", "-v":
		fmt.Printf("scholar version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
		zap.String("embedding_provider", cfg.Embedding.Provider),
		zap.String("llm_provider", cfg.LLM.Provider),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	restored, err := components.Indexer.Restore(ctx)
	if err != nil {
		logger.Fatal("Failed to restore vector index", zap.Error(err))
	}
	logger.Info("vector index restored", zap.Int("vectors", restored))

	var srvOpts []server.Option
	if cfg.Watch.Enabled {
		watchSvc := watcher.New(
			cfg.WatchRoots(),
			cfg.Watch.Extensions,
			cfg.Watch.RecursiveOrDefault(),
			components.Indexer,
			watcher.WithLogger(logger),
		)
		if err := watchSvc.Start(ctx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
		go func() {
			n := watchSvc.SyncExisting(ctx)
			logger.Info("inbox synced", zap.Int("ingested", n))
		}()
		srvOpts = append(srvOpts, server.WithWatcher(watchSvc))
	}

	srv := server.NewServer(components.Engine, components.Indexer, &cfg.Server, logger, srvOpts...)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
}

// clientFlags registers the flags shared by the commands that talk to a running server.
type clientFlags struct {
	server  *string
	format  *string
	timeout *time.Duration
}

func addClientFlags(fs *flag.FlagSet) clientFlags {
	return clientFlags{
		server:  fs.String("server", cli.DefaultServerURL, "server URL"),
		format:  fs.String("format", "text", "output format: text or json"),
		timeout: fs.Duration("timeout", 5*time.Minute, "request timeout"),
	}
}

func (f clientFlags) client() *cli.Client {
	return cli.NewClient(*f.server, *f.timeout)
}

func (f clientFlags) outputFormat() cli.OutputFormat {
	format, err := cli.ParseFormat(*f.format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	return format
}

func fail(what string, err error) {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", what, err)
	os.Exit(1)
}

func runIngest(args []string) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	cf := addClientFlags(fs)
	exts := fs.String("ext", ".pdf", "comma-separated extensions to pick up when a directory is given")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 1 {
		fmt.Println("Usage: scholar ingest [flags] <file-or-directory>...")
		os.Exit(1)
	}
	format := cf.outputFormat()

	files, err := collectFiles(fs.Args(), splitList(*exts))
	if err != nil {
		fail("Ingest", err)
	}
	if len(files) == 0 {
		fail("Ingest", fmt.Errorf("no files with extensions %s", *exts))
	}

	c := cf.client()
	var results []*models.IngestResult
	failed := 0
	for _, path := range files {
		res, err := c.Ingest(context.Background(), path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", path, err)
			failed++
			continue
		}
		results = append(results, res)
	}
	if err := cli.WriteIngestResults(os.Stdout, results, format); err != nil {
		fail("Output", err)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// collectFiles expands directories in paths to the files below them with one of exts.
// Files named explicitly are kept regardless of extension.
func collectFiles(paths []string, exts []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && extract.Supported(path, exts) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: scholar query [flags] <question>\n\n")
	fmt.Fprintf(fs.Output(), "The question is all remaining arguments joined by spaces.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  scholar query what is self-attention
  scholar query --paper 3f2a9c01e4b7 --n 8 "how was the model evaluated?"
  scholar query --partial --format json "which datasets were used"
`)
}

func runQuery(args []string) {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	cf := addClientFlags(fs)
	papers := fs.String("paper", "", "comma-separated paper ids to restrict the search to")
	n := fs.Int("n", 0, "number of contexts to retrieve (0 uses the server default)")
	partial := fs.Bool("partial", false, "show retrieved contexts, also when answering fails")
	fs.Usage = func() { printQueryUsage(fs) }
	_ = fs.Parse(argsReorder(args))

	question := joinArgs(fs.Args())
	if question == "" {
		printQueryUsage(fs)
		os.Exit(1)
	}
	format := cf.outputFormat()

	res, err := cf.client().Query(context.Background(), &models.QueryRequest{
		Query:    question,
		PaperIDs: splitList(*papers),
		NResults: *n,
		Partial:  *partial,
	})
	if err != nil {
		var apiErr *cli.APIError
		if errors.As(err, &apiErr) && len(apiErr.Contexts) > 0 && format == cli.OutputText {
			fmt.Fprintf(os.Stderr, "Answer unavailable: %v\n\nRetrieved contexts:\n", err)
			cli.WriteContexts(os.Stdout, apiErr.Contexts)
			os.Exit(1)
		}
		fail("Query", err)
	}
	if err := cli.WriteAnswer(os.Stdout, res, format); err != nil {
		fail("Output", err)
	}
}

func runList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	cf := addClientFlags(fs)
	q := fs.String("q", "", "search titles, authors and abstracts")
	_ = fs.Parse(args)
	format := cf.outputFormat()

	papers, err := cf.client().ListPapers(context.Background(), *q)
	if err != nil {
		fail("List", err)
	}
	if err := cli.WritePapers(os.Stdout, papers, format); err != nil {
		fail("Output", err)
	}
}

func runShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	cf := addClientFlags(fs)
	file := fs.String("file", "", "save the original uploaded file to this path")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() != 1 {
		fmt.Println("Usage: scholar show [flags] <paper-id>")
		os.Exit(1)
	}
	format := cf.outputFormat()
	c := cf.client()

	if *file != "" {
		out, err := os.Create(*file)
		if err != nil {
			fail("Show", err)
		}
		name, err := c.DownloadPaperFile(context.Background(), fs.Arg(0), out)
		if closeErr := out.Close(); err == nil {
			err = closeErr
		}
		if err != nil {
			_ = os.Remove(*file)
			fail("Download", err)
		}
		fmt.Fprintf(os.Stderr, "Saved %s to %s\n", name, *file)
		return
	}

	paper, err := c.GetPaper(context.Background(), fs.Arg(0))
	if err != nil {
		fail("Show", err)
	}
	if err := cli.WritePaper(os.Stdout, paper, format); err != nil {
		fail("Output", err)
	}
}

func runDelete(args []string) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 1 {
		fmt.Println("Usage: scholar delete [flags] <paper-id>...")
		os.Exit(1)
	}
	format := cf.outputFormat()

	c := cf.client()
	deleted := make(map[string]int)
	for _, id := range fs.Args() {
		n, err := c.DeletePaper(context.Background(), id)
		if err != nil {
			fail("Deletion of "+id, err)
		}
		deleted[id] = n
		if format == cli.OutputText {
			fmt.Printf("Paper deleted: %s (%d chunks)\n", id, n)
		}
	}
	if format == cli.OutputJSON {
		if err := cli.WriteJSON(os.Stdout, deleted); err != nil {
			fail("Output", err)
		}
	}
}

func runCompare(args []string) {
	fs := flag.NewFlagSet("compare", flag.ExitOnError)
	cf := addClientFlags(fs)
	aspects := fs.String("aspects", "", "comma-separated aspects (default: methodology, results, conclusions, limitations)")
	_ = fs.Parse(argsReorder(args))
	if fs.NArg() < 2 {
		fmt.Println("Usage: scholar compare [--aspects a,b] <paper-id> <paper-id>...")
		os.Exit(1)
	}
	format := cf.outputFormat()

	res, err := cf.client().Compare(context.Background(), &models.CompareRequest{
		PaperIDs: fs.Args(),
		Aspects:  splitList(*aspects),
	})
	if err != nil {
		fail("Comparison", err)
	}
	if err := cli.WriteComparison(os.Stdout, res, format); err != nil {
		fail("Output", err)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	cf := addClientFlags(fs)
	_ = fs.Parse(args)
	format := cf.outputFormat()

	st, err := cf.client().Status(context.Background())
	if err != nil {
		fail("Status", err)
	}
	if err := cli.WriteStatus(os.Stdout, st, format); err != nil {
		fail("Output", err)
	}
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	cf := addClientFlags(fs)
	out := fs.String("out", "papers.xlsx", "workbook path")
	compareIDs := fs.String("compare", "", "comma-separated paper ids to compare into the workbook")
	aspects := fs.String("aspects", "", "comma-separated aspects for --compare")
	_ = fs.Parse(args)

	c := cf.client()
	ctx := context.Background()
	papers, err := c.ListPapers(ctx, "")
	if err != nil {
		fail("Export", err)
	}
	var comparisons []*models.ComparisonResult
	if ids := splitList(*compareIDs); len(ids) > 0 {
		res, err := c.Compare(ctx, &models.CompareRequest{PaperIDs: ids, Aspects: splitList(*aspects)})
		if err != nil {
			fail("Comparison", err)
		}
		comparisons = append(comparisons, res)
	}
	if err := export.WriteFile(*out, papers, comparisons...); err != nil {
		fail("Export", err)
	}
	fmt.Printf("Wrote %d paper(s) and %d comparison(s) to %s\n", len(papers), len(comparisons), *out)
}

// argsReorder moves any flags (and their values) that appear after the positional
// arguments to the front so that flag.Parse sees them. Go's flag package stops at
// the first non-flag argument, so "scholar query what is attention --n 3" would
// otherwise leave --n unparsed.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args with spaces so multi-word questions work the same
// with or without shell quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// splitList splits a comma-separated flag value, dropping blanks. An empty value gives nil.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Components holds initialized services.
type Components struct {
	Storage     storage.Storage
	Embedder    embedding.Embedder
	VectorIndex vector.VectorIndex
	Catalogue   keyword.CatalogueIndex
	Engine      *search.Engine
	Indexer     *indexer.Indexer
}

func (c *Components) Close() {
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
	if c.Embedder != nil {
		_ = c.Embedder.Close()
	}
	if c.VectorIndex != nil {
		_ = c.VectorIndex.Close()
	}
	if c.Catalogue != nil {
		_ = c.Catalogue.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	c := &Components{}
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	c.Storage = store

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}
	c.Embedder = embedder

	vectorIndex, err := vector.NewMemoryIndex(cfg.Embedding.Dimensions)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize vector index: %w", err)
	}
	c.VectorIndex = vectorIndex

	catalogue, err := keyword.NewBleveIndex(cfg.Storage.BleveIndexPath)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize catalogue index: %w", err)
	}
	c.Catalogue = catalogue

	files, err := storage.NewFileStore(cfg.Storage.FilesDir)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize file store: %w", err)
	}

	completer, err := llm.New(cfg.LLM, logger)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize completion service: %w", err)
	}

	var extractors []extract.StructureExtractor
	if cfg.Grobid.URL != "" {
		extractors = append(extractors, extract.NewGrobidClient(cfg.Grobid.URL, cfg.Grobid.Timeout,
			extract.WithGrobidLogger(logger)))
	}
	if cfg.Grobid.URL == "" || cfg.Grobid.FallbackOrDefault() {
		extractors = append(extractors, extract.NewLocal())
	}
	extractor := extract.NewChain(logger, extractors...)

	r := retriever.New(vectorIndex, embedder, store,
		retriever.WithQueryPrefix(cfg.Embedding.QueryPrefix),
		retriever.WithMaxContextTokens(cfg.RAG.MaxContextTokens),
		retriever.WithLogger(logger),
	)
	cmp := comparator.New(store, r, completer,
		comparator.WithContextsPerAspect(cfg.RAG.CompareContextsPerAspect),
		comparator.WithDefaultAspects(cfg.RAG.DefaultAspects),
		comparator.WithStrictIDs(cfg.RAG.StrictIDs),
		comparator.WithLogger(logger),
	)

	engineOpts := []search.EngineOption{
		search.WithCatalogue(catalogue),
		search.WithFileStore(files),
		search.WithMaxResults(cfg.RAG.MaxNResults),
		search.WithDefaultResults(cfg.RAG.DefaultNResults),
		search.WithServiceInfo(
			models.ServiceInfo{Provider: cfg.Embedding.Provider, Model: cfg.Embedding.Model, Dimensions: cfg.Embedding.Dimensions},
			models.ServiceInfo{Provider: cfg.LLM.Provider, Model: cfg.LLM.Model},
		),
		search.WithChunking(models.ChunkingInfo{
			ChunkSize:         cfg.RAG.ChunkSize,
			ChunkOverlap:      cfg.RAG.ChunkOverlap,
			SentenceTolerance: cfg.RAG.SentenceTolerance,
		}),
		search.WithDiskPaths(append(storage.DatabaseFiles(cfg.Storage.DatabasePath), cfg.Storage.BleveIndexPath, cfg.Storage.FilesDir)...),
		search.WithLogger(logger),
	}
	if cfg.Grobid.URL != "" {
		engineOpts = append(engineOpts, search.WithProbe("grobid", extractor))
	}
	if p, ok := embedder.(embedding.Pinger); ok {
		engineOpts = append(engineOpts, search.WithProbe("embedding", p))
	}
	if p, ok := completer.(llm.Pinger); ok {
		engineOpts = append(engineOpts, search.WithProbe("llm", p))
	}
	c.Engine = search.NewEngine(store, vectorIndex, r, composer.New(completer, composer.WithLogger(logger)), cmp, engineOpts...)

	c.Indexer = indexer.NewIndexer(store, embedder, vectorIndex,
		indexer.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, indexer.WithSentenceTolerance(cfg.RAG.SentenceTolerance)),
		indexer.WithCatalogue(catalogue),
		indexer.WithExtractor(extractor),
		indexer.WithFileStore(files),
		indexer.WithLogger(logger),
	)
	return c, nil
}

func printUsage() {
	fmt.Println(`scholar - Citation-grounded question answering over research papers

Usage:
  scholar server [flags]                      Start the HTTP server (and the inbox watcher when enabled)
  scholar ingest [flags] <file-or-dir>...     Upload papers
  scholar query [flags] <question>            Ask a question and get a cited answer
  scholar list [flags]                        List papers (--q searches the catalogue)
  scholar show [flags] <paper-id>             Show one paper (--file saves the original)
  scholar delete [flags] <paper-id>...        Delete papers
  scholar compare [flags] <id> <id>...        Compare papers across aspects
  scholar status [flags]                      Show corpus stats and collaborator health
  scholar export [flags]                      Write the catalogue (and comparisons) to an xlsx workbook
  scholar version                             Show version
  scholar help                                Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/scholar/config.yaml)
  --debug            Enable debug logging

Client Flags (every command except server):
  --server string    Server URL (default: http://localhost:8080)
  --format string    Output format: text or json (default: text)
  --timeout duration Request timeout (default: 5m)

Examples:
  scholar server
  scholar ingest ~/papers/attention.pdf
  scholar ingest --ext .pdf,.md ~/papers
  scholar query what problem does the transformer solve
  scholar query --paper 3f2a9c01e4b7 --n 8 "how was it evaluated?"
  scholar list --q "graph neural"
  scholar show --file attention.pdf 3f2a9c01e4b7
  scholar compare --aspects methodology,results 3f2a9c01e4b7 81c0d5a2f9e3
  scholar export --out papers.xlsx --compare 3f2a9c01e4b7,81c0d5a2f9e3
  scholar status --format json`)
}
