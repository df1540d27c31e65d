// Command analyst runs the data-analysis agent server.
//
// Clients upload a tabular dataset with a natural-language request; the
// server drives an LLM through a tool-using loop, executes generated code in
// a sandbox, and streams progress events until a Markdown report is ready.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	analyst "github.com/nevindra/analyst"
	"github.com/nevindra/analyst/internal/config"
	"github.com/nevindra/analyst/observer"
	"github.com/nevindra/analyst/provider/openaicompat"
	"github.com/nevindra/analyst/sandbox"
	"github.com/nevindra/analyst/server"
	"github.com/nevindra/analyst/tools/dataset"
	"github.com/nevindra/analyst/tools/runcode"
	"github.com/nevindra/analyst/tools/todo"
)

func main() {
	configPath := flag.String("config", "analyst.toml", "path to the config file")
	flag.Parse()

	// Local development convenience; missing .env is fine.
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Observability (optional).
	var (
		inst   *observer.Instruments
		tracer analyst.Tracer
	)
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
		tracer = observer.NewTracer()
	}

	// LLM backend: OpenAI-compatible endpoint behind retry (and, when
	// enabled, OTEL instrumentation).
	var llm analyst.Provider = openaicompat.NewProvider(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.BaseURL)
	if inst != nil {
		llm = observer.WrapProvider(llm, cfg.LLM.Model, inst)
	}
	llm = analyst.WithRetry(llm, analyst.RetryLogger(logger))

	// Sandbox.
	timeout := time.Duration(cfg.Sandbox.CodeTimeoutSeconds) * time.Second
	var runner sandbox.Runner
	switch cfg.Sandbox.Runtime {
	case "docker":
		var err error
		runner, err = sandbox.NewDockerRunner(
			sandbox.WithTimeout(timeout),
			sandbox.WithImage(cfg.Sandbox.Image),
		)
		if err != nil {
			return err
		}
	default:
		runner = sandbox.NewSubprocessRunner(cfg.Sandbox.PythonBin, sandbox.WithTimeout(timeout))
	}

	// Tool surface.
	datasetTool := dataset.New()
	registry := analyst.NewToolRegistry()
	for _, t := range []analyst.Tool{
		datasetTool,
		runcode.New(runner, timeout),
		todo.New(),
	} {
		if inst != nil {
			registry.Add(observer.WrapTool(t, inst))
		} else {
			registry.Add(t)
		}
	}

	mgr := analyst.NewManager(analyst.Deps{
		Provider: llm,
		Tools:    registry,
		Profiler: datasetTool,
		Logger:   logger,
		Tracer:   tracer,
	}, analyst.ManagerConfig{
		MaxIterations:    cfg.Agent.MaxIterations,
		MaxPerTask:       cfg.Agent.MaxIterationsPerTask,
		EventBufferSize:  cfg.Server.EventBufferSize,
		RetentionTTL:     time.Duration(cfg.Session.RetentionSeconds) * time.Second,
		UploadDir:        cfg.Server.UploadDir,
		MaxFileSizeBytes: cfg.Server.MaxFileSizeBytes,
		DefaultStrategy:  cfg.Agent.Mode,
	})
	defer mgr.Close()

	srv := server.New(mgr, server.Config{
		UploadDir:        cfg.Server.UploadDir,
		MaxFileSizeBytes: cfg.Server.MaxFileSizeBytes,
		Logger:           logger,
	})

	httpSrv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: srv.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("analyst server listening", "addr", cfg.Server.Addr, "strategy", cfg.Agent.Mode, "sandbox", cfg.Sandbox.Runtime)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	}
}
