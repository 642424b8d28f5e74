package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AriseOS/amid/internal/common/config"
	"github.com/AriseOS/amid/internal/common/logger"
	"github.com/AriseOS/amid/internal/common/portutil"
	"github.com/AriseOS/amid/internal/httpapi"
	"github.com/AriseOS/amid/internal/task"
	v1 "github.com/AriseOS/amid/pkg/api/v1"
)

// shutdownGrace bounds how long the in-flight HTTP server is given to
// drain connections once a shutdown signal arrives.
const shutdownGrace = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the amid daemon",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.LoadWithPath(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	logger.SetDefault(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d, err := newDaemon(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("wire daemon: %w", err)
	}
	defer d.Close()

	handler := httpapi.New(d.registry, &starter{d: d}, log)
	router := httpapi.NewRouter(handler)

	port := cfg.Server.Port
	if port == 0 {
		allocated, allocErr := portutil.AllocatePort()
		if allocErr != nil {
			return fmt.Errorf("allocate port: %w", allocErr)
		}
		port = allocated
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	portFilePath, err := writePortFile(port)
	if err != nil {
		log.WithError(err).Warn("failed to write daemon.port rendezvous file")
	}
	defer removePortFile(portFilePath)

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("amid listening on %s", server.Addr))
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			errCh <- serveErr
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		fmt.Println("\nShutting down...")
	case serveErr := <-errCh:
		fmt.Fprintf(os.Stderr, "\nserver error: %v\n", serveErr)
	}

	cancel()
	cancelRunningTasks(d.registry, log)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	fmt.Println("amid shutdown complete")
	return nil
}

// cancelRunningTasks marks every non-terminal task cancelled so a SIGTERM
// unwinds in-flight orchestrator sessions instead of leaving them to run
// out their appctx.Detached goroutine on its own (bounded only by
// maxTaskRuntime otherwise). Each session's next poll of state.Cancelled()
// or state.CancelCh() observes this and returns.
func cancelRunningTasks(registry *task.Registry, log *logger.Logger) {
	for _, summary := range registry.List() {
		switch summary.Status {
		case v1.TaskStatusPending, v1.TaskStatusRunning, v1.TaskStatusWaiting:
		default:
			continue
		}
		state, err := registry.Get(summary.TaskID)
		if err != nil {
			continue
		}
		state.MarkCancelled("daemon shutting down")
		log.WithTaskID(summary.TaskID).Info("cancelled in-flight task for daemon shutdown")
	}
}
