package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/starcoach/internal/api"
	"github.com/kalambet/starcoach/internal/coach"
	"github.com/kalambet/starcoach/internal/config"
	"github.com/kalambet/starcoach/internal/engine"
	"github.com/kalambet/starcoach/internal/llmscore"
	"github.com/kalambet/starcoach/internal/media"
	"github.com/kalambet/starcoach/internal/pipeline"
	"github.com/kalambet/starcoach/internal/storage"
	"github.com/kalambet/starcoach/internal/transcribe"
	"github.com/kalambet/starcoach/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the starcoach server (foreground)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running starcoach server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show starcoach system status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve MCP tools over stdio")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "starcoach.pid")
}

func lockFilePath(dataDir string) string {
	return filepath.Join(dataDir, "starcoach.lock")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "starcoach version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// MCP owns stdout when enabled, so logs always go to stderr.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLogLevel(cfg.Log.Level)})))

	if err := os.MkdirAll(cfg.Storage.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir: %w", err)
	}

	// One server per data directory.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	lock := flock.New(lockFilePath(cfg.Storage.DataDir))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("starcoach is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("another starcoach instance holds %s", lock.Path())
	}
	defer lock.Unlock()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("port %d is already serving starcoach", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	if n, err := store.SeedQuestions(storage.DefaultQuestions); err != nil {
		return fmt.Errorf("seeding questions: %w", err)
	} else if n > 0 {
		slog.Info("seeded question catalog", "count", n)
	}
	// Runs cut off by a previous shutdown are never resumed.
	if n, err := store.FailStaleJobs("interrupted by server shutdown"); err != nil {
		return fmt.Errorf("failing stale runs: %w", err)
	} else if n > 0 {
		slog.Warn("marked interrupted analysis runs as failed", "count", n)
	}

	library, err := media.Open(cfg.Media.RecordingsDir)
	if err != nil {
		return err
	}

	// An unreachable LLM backend degrades analyses to fallback feedback
	// instead of refusing to start.
	eng, err := engine.Detect(engine.DetectConfig{
		Backend:          cfg.LLM.Backend,
		OllamaBaseURL:    cfg.Ollama.BaseURL,
		OpenRouterAPIKey: cfg.OpenRouter.APIKey,
	})
	if err != nil {
		return fmt.Errorf("detecting llm backend: %w", err)
	}
	printStep("checking %s backend", cfg.LLM.Backend)
	if err := engine.EnsureReady(ctx, eng, cfg.Model(), os.Stderr); err != nil {
		printWarning("llm backend not ready: %v", err)
		printWarning("analyses will store fallback feedback until it is available")
	}

	orch := pipeline.New(store, library, pipeline.Capabilities{
		Transcriber: transcribe.New(cfg.Transcribe.BaseURL),
		Scorer:      llmscore.New(eng, cfg.Model()),
		Advisor:     coach.New(eng, cfg.Model()),
	}, pipeline.Options{
		TranscribeTimeout: cfg.Transcribe.Timeout,
		LLMTimeout:        cfg.LLM.Timeout,
	})
	if n, err := orch.RecoverStalled(); err != nil {
		return fmt.Errorf("recovering stalled attempts: %w", err)
	} else if n > 0 {
		slog.Warn("stored fallback feedback for stalled attempts", "count", n)
	}

	w := worker.NewWorker(store, orch, pipeline.JobType, cfg.Pipeline.PollInterval, cfg.Pipeline.MaxConcurrentRuns)
	orch.SetScheduler(w)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		w.Run(ctx)
	}()

	router := api.NewRouter(api.Deps{
		Store:          store,
		Analysis:       orch,
		Media:          library,
		MaxUploadBytes: cfg.MaxUploadBytes(),
	})
	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Store: store, Analysis: orch}, version)
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "starcoach listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	var serveErr error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			serveErr = fmt.Errorf("server error: %w", err)
		}
		stop()
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	// In-flight runs finish so their artifacts and fallbacks are written.
	<-workerDone
	return serveErr
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("starcoach is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop starcoach (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to starcoach (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/api/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}
	if pid, err := readPIDFile(pidFilePath(cfg.Storage.DataDir)); err == nil {
		printStatus("PID", "%d", pid)
	}

	eng, err := engine.Detect(engine.DetectConfig{
		Backend:          cfg.LLM.Backend,
		OllamaBaseURL:    cfg.Ollama.BaseURL,
		OpenRouterAPIKey: cfg.OpenRouter.APIKey,
	})
	switch {
	case err != nil:
		printStatus("LLM", "misconfigured: %v", err)
	case !eng.IsRunning(ctx):
		printStatus("LLM", "%s not reachable", cfg.LLM.Backend)
	case !eng.HasModel(ctx, cfg.Model()):
		printStatus("LLM", "%s running, model %s not pulled", cfg.LLM.Backend, cfg.Model())
	default:
		printStatus("LLM", "%s ready (%s)", cfg.LLM.Backend, cfg.Model())
	}

	if asrResp, err := client.Get(cfg.Transcribe.BaseURL); err != nil {
		printStatus("Transcription", "not reachable at %s", cfg.Transcribe.BaseURL)
	} else {
		asrResp.Body.Close()
		printStatus("Transcription", "reachable at %s", cfg.Transcribe.BaseURL)
	}

	if running {
		if dResp, err := client.Get(serverURL + "/api/dashboard"); err == nil {
			var stats storage.DashboardStats
			if json.NewDecoder(dResp.Body).Decode(&stats) == nil {
				printStatus("Attempts", "%d across %d questions", stats.TotalAttempts, stats.QuestionsPracticed)
			}
			dResp.Body.Close()
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Recordings", "%s", cfg.Media.RecordingsDir)
	return nil
}
