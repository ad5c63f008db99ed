// Command conductord is the multi-model orchestration server.
//
// It routes chat completions across the configured model adapters, executes
// tools on their behalf, and runs deep research workflows. Configuration
// comes from conductor.toml plus CONDUCTOR_* environment variables.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nevindra/conductor/internal/config"
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lmsgprefix)
	log.SetPrefix("[conductord] ")

	configPath := flag.String("config", "", "path to conductor.toml")
	flag.Parse()

	cfg := config.Load(*configPath)
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("startup error: %v", err)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      a.routes(),
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 35 * time.Minute, // code model calls can run long
		IdleTimeout:  30 * time.Second,
	}

	go func() {
		log.Printf("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down...")

	shutCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	a.close(shutCtx)
	log.Println("stopped")
}
