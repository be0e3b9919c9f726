package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fabfab/contract-assistant/api"
	"github.com/fabfab/contract-assistant/config"
	"github.com/fabfab/contract-assistant/contracts"
	"github.com/fabfab/contract-assistant/database"
	"github.com/fabfab/contract-assistant/engine"
	"github.com/fabfab/contract-assistant/ingestion"
	"github.com/fabfab/contract-assistant/llm"
	"github.com/fabfab/contract-assistant/paramstore"
	"github.com/fabfab/contract-assistant/storage"
	"github.com/fabfab/contract-assistant/threads"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	var err error
	switch os.Args[1] {
	case "serve":
		err = serveCmd(cfg, logger, os.Args[2:])
	case "run":
		err = runCmd(cfg, logger, os.Args[2:])
	case "migrate":
		err = migrateCmd(cfg, logger)
	case "assistant":
		err = assistantCmd(cfg, logger, os.Args[2:])
	default:
		logger.Error("unknown command", "command", os.Args[1])
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		logger.Error(os.Args[1]+" failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// app holds everything the use-cases need. Postgres-backed parts are nil when
// POSTGRES_DSN is unset.
type app struct {
	registry  engine.Registry
	contracts *contracts.Service
	pool      *pgxpool.Pool
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func newAssistantClient(ctx context.Context, cfg config.Config, logger *slog.Logger) (*llm.AssistantClient, error) {
	if err := cfg.ValidateLLM(); err != nil {
		return nil, err
	}
	if cfg.LLM.APIKey == "" {
		params, err := paramstore.NewFromRegion(ctx, cfg.Storage.Region)
		if err != nil {
			return nil, fmt.Errorf("parameter store: %w", err)
		}
		key, err := paramstore.Resolve(ctx, params, "", cfg.LLM.APIKeyParam)
		if err != nil {
			return nil, fmt.Errorf("resolve api key: %w", err)
		}
		cfg.LLM.APIKey = key
		logger.Info("api key loaded from parameter store", "param", cfg.LLM.APIKeyParam)
	}
	return llm.NewClient(cfg, logger)
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	client, err := newAssistantClient(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("llm setup: %w", err)
	}

	splitter, err := ingestion.NewSentenceSplitter()
	if err != nil {
		return nil, fmt.Errorf("sentence splitter: %w", err)
	}
	tokenizer, err := ingestion.NewTiktokenTokenizer(cfg.Chunking.TokenModel)
	if err != nil {
		return nil, fmt.Errorf("tokenizer: %w", err)
	}

	a := &app{}
	deps := engine.Deps{
		Conversation:        client,
		Extractor:           ingestion.NewExtractor(cfg.WorkDir, logger),
		SentenceChunker:     ingestion.NewSentenceChunker(cfg.Chunking.SentenceChunkWords, splitter),
		TokenChunker:        ingestion.NewTokenChunker(cfg.Chunking.TokenChunkSize, tokenizer),
		Logger:              logger,
		TextLengthThreshold: cfg.Chunking.TextLengthThreshold,
	}

	if cfg.PostgresDSN != "" {
		pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection: %w", err)
		}
		a.pool = pool
		deps.Ledger = threads.NewPostgresLedger(pool)

		blobs, err := newBlobStore(ctx, cfg, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.contracts = contracts.NewService(contracts.NewPostgresRepository(pool), blobs, logger)
	} else {
		logger.Warn("POSTGRES_DSN not set; thread ledger and contract records disabled")
	}

	a.registry, err = engine.NewRegistry(deps)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func newBlobStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (storage.BlobStore, error) {
	if cfg.Storage.Bucket != "" {
		store, err := storage.NewS3Store(ctx, cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		return store, nil
	}
	store, err := storage.NewLocalStore(filepath.Join(cfg.WorkDir, "contracts"))
	if err != nil {
		return nil, fmt.Errorf("local storage: %w", err)
	}
	logger.Info("BUCKET_NAME not set; storing contracts on disk", "dir", filepath.Join(cfg.WorkDir, "contracts"))
	return store, nil
}

func serveCmd(cfg config.Config, logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("serve", flag.ExitOnError)
	addr := flags.String("addr", cfg.Addr, "address to listen on")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse serve flags: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	var store api.ContractStore
	if a.contracts != nil {
		store = a.contracts
	}
	srv, err := api.New(cfg, a.registry, store, logger)
	if err != nil {
		return fmt.Errorf("api setup: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", *addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down http server")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 30*time.Second)
	defer stop()
	return httpSrv.Shutdown(shutdownCtx)
}

func runCmd(cfg config.Config, logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("run", flag.ExitOnError)
	useCase := flags.String("usecase", "", "summarization, authoring, comparison, spend-analytics or conversational")
	file := flags.String("file", "", "contract document (PDF or text)")
	masterFile := flags.String("master-file", "", "master contract document, for comparison")
	threadID := flags.String("thread", "", "thread id for a follow-up question")
	query := flags.String("query", "", "follow-up question")
	contractType := flags.String("contract-type", "", "contract type, for authoring")
	prompt := flags.String("prompt", "", "drafting instructions, for authoring")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse run flags: %w", err)
	}

	uc, err := engine.ParseUseCase(*useCase)
	if err != nil {
		return err
	}
	req := engine.Request{
		ThreadID:     *threadID,
		UserQuery:    *query,
		ContractType: *contractType,
		UserPrompt:   *prompt,
	}
	if req.ContractPDF, err = readEncoded(*file); err != nil {
		return err
	}
	if req.MasterContractPDF, err = readEncoded(*masterFile); err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.registry.Run(ctx, uc, req)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func readEncoded(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func migrateCmd(cfg config.Config, logger *slog.Logger) error {
	if cfg.PostgresDSN == "" {
		return errors.New("POSTGRES_DSN not set")
	}
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres connection: %w", err)
	}
	defer pool.Close()

	if err := database.EnsureSchema(ctx, pool); err != nil {
		return err
	}
	logger.Info("schema ready", "statements", len(database.SchemaStatements))
	return nil
}

func assistantCmd(cfg config.Config, logger *slog.Logger, args []string) error {
	flags := flag.NewFlagSet("assistant", flag.ExitOnError)
	name := flags.String("name", "Contract Assistant", "assistant name")
	instructions := flags.String("instructions", "You are a contract analyst. Answer only from the contract text you are given.", "system instructions")
	model := flags.String("model", cfg.LLM.DefaultModel, "deployment or model name")
	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("parse assistant flags: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	client, err := newAssistantClient(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("llm setup: %w", err)
	}
	id, err := client.CreateAssistant(ctx, *name, *instructions, *model)
	if err != nil {
		return err
	}
	fmt.Println(id)
	return nil
}

func printUsage() {
	fmt.Println("Usage: contract-assistant <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  serve      Serve the contract HTTP API (use --addr to override ADDR)")
	fmt.Println("  run        Run one use-case against local files and print the JSON result")
	fmt.Println("  migrate    Create the Postgres tables")
	fmt.Println("  assistant  Create a hosted assistant and print its id (set ASSISTANT_ID to it)")
}
