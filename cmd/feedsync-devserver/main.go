// Command feedsync-devserver runs an in-memory backend for the feedsync
// client: the REST API plus the websocket push channel, seeded with fake data.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedsync/internal/devserver"

	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

func main() {
	port := flag.String("port", envOr("PORT", "8375"), "port to listen on")
	secret := flag.String("secret", envOr("JWT_SECRET", "feedsync-dev-secret"), "HMAC secret used to sign tokens")
	users := flag.Int("users", 8, "number of seeded users")
	posts := flag.Int("posts", 3, "posts per seeded user")
	comments := flag.Int("comments", 2, "comments per seeded post")
	seed := flag.Int64("seed", 0, "random seed (0 picks one from the clock)")
	flag.Parse()

	store := devserver.NewStore()
	seeded := devserver.Seed(store, devserver.SeedOptions{
		Users:           *users,
		PostsPerUser:    *posts,
		CommentsPerPost: *comments,
		Seed:            *seed,
	})

	srv := devserver.NewServer(store, []byte(*secret))
	app := srv.App(
		logger.New(),
		cors.New(cors.Config{
			AllowOrigins: "*",
			AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		}),
	)

	if len(seeded) > 0 {
		token, err := srv.TokenFor(seeded[0])
		if err != nil {
			log.Fatalf("issue token: %v", err)
		}
		fmt.Printf("seeded %d users; log in as %s with:\n  FEEDSYNC_TOKEN=%s\n", len(seeded), seeded[0].Name, token)
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		srv.Shutdown()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := app.ShutdownWithContext(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on port %s (metrics at /metrics)...", *port)
	if err := app.Listen(":" + *port); err != nil {
		log.Fatal(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
