package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"todoapp/internal/archive"
	"todoapp/internal/cleanup"
	"todoapp/internal/config"
	"todoapp/internal/controller"
	"todoapp/internal/models"
	"todoapp/internal/queue"
	"todoapp/internal/repository"
	"todoapp/internal/routes"
	"todoapp/internal/scheduler"
	"todoapp/internal/service"
	"todoapp/internal/worker"
	"todoapp/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		logger.Error(context.Background(), "Exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Get()
	logger.SetLevel(cfg.LogLevel)

	store, err := repository.Open(ctx, cfg)
	if err != nil {
		return err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		return err
	}

	q, err := queue.Open(cfg)
	if err != nil {
		return err
	}
	defer q.Close()
	if err := q.Ensure(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.EnableHTTP {
		tc := controller.NewTodoController(service.NewTodoService(store, q), storeReady(store))
		server := &http.Server{
			Addr:         ":" + cfg.HTTPPort,
			Handler:      routes.Router(tc),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}
		g.Go(func() error {
			logger.Info(ctx, "HTTP server listening", "port", cfg.HTTPPort)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			logger.Info(ctx, "Shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if cfg.EnableWorker {
		blobs, err := archive.Open(ctx, cfg)
		if err != nil {
			return err
		}
		if c, ok := blobs.(io.Closer); ok {
			defer c.Close()
		}
		g.Go(func() error {
			return worker.Run(ctx, q, worker.NewArchiver(blobs))
		})
	}

	if cfg.EnableCleanup {
		sched, err := scheduler.New("cleanup", cfg.CleanupSchedule)
		if err != nil {
			return err
		}
		job := cleanup.NewJob(store)
		g.Go(func() error {
			return sched.Run(ctx, func(ctx context.Context) error {
				_, err := job.Run(ctx)
				return err
			})
		})
	}

	err = g.Wait()
	logger.Info(context.Background(), "Stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// storeReady reports whether the task store answers a point read.
func storeReady(store repository.TaskStore) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		_, err := store.Get(ctx, models.PartitionKey, "readiness-probe")
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
}
