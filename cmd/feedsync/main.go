// Command feedsync is a line-oriented terminal client for the feed and the
// social graph. Each input line is one command; "help" lists them.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/internal/app"
	"feedsync/internal/config"
	"feedsync/internal/observability"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	token := flag.String("token", os.Getenv("FEEDSYNC_TOKEN"), "Session token issued by the backend")
	metricsAddr := flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (disabled when empty)")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.SetLevel(cfg.LogLevel)

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    cfg.TracingService,
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		OTLPInsecure:   cfg.OTLPInsecure,
		SamplerRatio:   cfg.TracingSampleRate,
	})
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *metricsAddr != "" {
		srv := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
		defer func() { _ = srv.Close() }()
	}

	client, err := app.NewClient(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}
	if *token != "" {
		user, err := client.Login(ctx, *token)
		if err != nil {
			log.Fatalf("Login failed: %v", err)
		}
		log.Printf("Logged in as %s", user.ID)
	} else if ok, err := client.Restore(ctx); err != nil {
		log.Printf("Session restore failed: %v", err)
	} else if ok {
		log.Printf("Resumed session for %s", client.Session().UserID())
	}

	if err := client.Start(ctx); err != nil {
		log.Fatalf("Failed to start client: %v", err)
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	shell := newShell(client, os.Stdout)
	shell.prompt()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok || shell.run(ctx, line) {
				break loop
			}
			shell.prompt()
		}
	}

	log.Println("Shutting down client...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.Shutdown(shutdownCtx); err != nil {
		log.Printf("Client shutdown error: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("Tracing shutdown error: %v", err)
	}
}
