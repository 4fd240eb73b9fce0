package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/KamdynS/agentconsole/render"
	"github.com/KamdynS/agentconsole/server"
	"github.com/KamdynS/agentconsole/worker"
)

// ServeCmd starts the admin API and an in-process run worker.
// Usage: agentconsole serve --addr :8080
type ServeCmd struct {
	Addr     string `short:"a" long:"addr" description:"listen address (overrides config)"`
	NoWorker bool   `long:"no-worker" description:"do not execute queued runs in this process"`
}

func (s *ServeCmd) Execute(_ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if s.Addr != "" {
		cfg.HTTP.Addr = s.Addr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.startRunner(); err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Addr:              cfg.HTTP.Addr,
		Runner:            a.runner,
		Store:             a.store,
		Queue:             a.queue,
		QueueName:         cfg.Queue.Name,
		Renderer:          render.New(),
		Logger:            a.logger,
		PollInterval:      cfg.HTTP.PollInterval,
		HeartbeatInterval: cfg.HTTP.HeartbeatInterval,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	})
	if err != nil {
		return err
	}

	var w *worker.Worker
	if !s.NoWorker {
		w, err = worker.New(worker.Config{
			ID:            cfg.Worker.ID,
			Queue:         a.queue,
			QueueName:     cfg.Queue.Name,
			Executor:      a.runner,
			PollInterval:  cfg.Worker.PollInterval,
			MaxConcurrent: cfg.Worker.Concurrency,
			MaxAttempts:   cfg.Worker.MaxAttempts,
			RunTimeout:    cfg.Worker.RunTimeout,
		})
		if err != nil {
			return err
		}
		if err := w.Start(ctx); err != nil {
			return err
		}
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		log.Printf("[CLI] Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("[CLI] Server shutdown error: %v", err)
	}
	if w != nil {
		if err := w.Stop(shutdownCtx); err != nil {
			log.Printf("[CLI] Worker shutdown error: %v", err)
		}
	}
	return nil
}
