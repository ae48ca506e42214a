package devserver

import (
	"encoding/json"
	"log"
	"strings"
	"time"

	"feedsync/internal/models"
	"feedsync/internal/push"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 24 * time.Hour

// Server holds the in-memory backend's dependencies and provides handlers.
type Server struct {
	store    *Store
	hub      *Hub
	secret   []byte
	tokenTTL time.Duration

	registry       *prometheus.Registry
	promMiddleware *fiberprometheus.FiberPrometheus
}

// NewServer creates a Server over store signing tokens with secret.
func NewServer(store *Store, secret []byte) *Server {
	// Each server gets its own registry so several can live in one process.
	registry := prometheus.NewRegistry()
	return &Server{
		store:          store,
		hub:            NewHub(),
		secret:         secret,
		tokenTTL:       DefaultTokenTTL,
		registry:       registry,
		promMiddleware: fiberprometheus.NewWithRegistry(registry, "feedsync-devserver", "http", "", nil),
	}
}

// Store returns the backing store.
func (s *Server) Store() *Store { return s.store }

// Hub returns the push connection hub.
func (s *Server) Hub() *Hub { return s.hub }

// TokenFor issues a token for an existing user.
func (s *Server) TokenFor(user models.User) (string, error) {
	return IssueToken(s.secret, user, s.tokenTTL)
}

// App builds the fiber application with every route mounted. middleware runs
// before the routes, after panic recovery.
func (s *Server) App(middleware ...fiber.Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName: "feedsync dev backend",
		// Handlers keep path params in the store.
		Immutable: true,
	})
	app.Use(recover.New())
	app.Use(s.promMiddleware.Middleware)
	for _, m := range middleware {
		app.Use(m)
	}
	s.SetupRoutes(app)
	return app
}

// SetupRoutes mounts the REST surface under /api, the push channel at /ws and
// the request metrics at /metrics.
func (s *Server) SetupRoutes(app *fiber.App) {
	auth := AuthRequired(s.secret)

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := app.Group("/api")
	api.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"message": "feedsync dev backend", "version": "1.0.0"})
	})
	api.Post("/auth/login", s.Login)

	posts := api.Group("/posts")
	posts.Get("/", s.GetPosts)
	posts.Get("/:id/comments", s.GetComments)
	posts.Post("/:id/comments", auth, s.CreateComment)

	users := api.Group("/users")
	users.Get("/search", auth, s.SearchUsers)
	users.Get("/:id/following", s.GetFollowing)
	users.Post("/:id/follow", auth, s.Follow)
	users.Delete("/:id/follow", auth, s.Unfollow)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", auth, websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals(localUserID).(string)
		s.hub.serve(userID, conn)
	}))
}

type loginRequest struct {
	Username string `json:"username"`
}

// Login issues a token for username, creating the user on first use. There
// are no passwords on the dev backend.
func (s *Server) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
	}
	name := strings.TrimSpace(req.Username)
	if name == "" {
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "Username is required")
	}
	user, ok := s.store.UserByName(name)
	if !ok {
		user = s.store.AddUser(name, name+"@example.com")
	}
	token, err := s.TokenFor(user)
	if err != nil {
		return writeAppError(c, models.NewInternalError(err))
	}
	return c.JSON(fiber.Map{"token": token, "user": user})
}

// GetPosts lists the feed.
func (s *Server) GetPosts(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"posts": s.store.Posts()})
}

// GetComments lists the comments of a post.
func (s *Server) GetComments(c *fiber.Ctx) error {
	list, err := s.store.Comments(c.Params("id"))
	if err != nil {
		return writeAppError(c, err)
	}
	return c.JSON(fiber.Map{"comments": list})
}

type createCommentRequest struct {
	Content string `json:"content"`
}

// CreateComment stores a comment and pushes it to every connected client.
func (s *Server) CreateComment(c *fiber.Ctx) error {
	var req createCommentRequest
	if err := c.BodyParser(&req); err != nil {
		return writeError(c, fiber.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body")
	}
	comment, err := s.store.AddComment(c.Params("id"), currentUser(c), req.Content)
	if err != nil {
		return writeAppError(c, err)
	}
	s.broadcastComment(comment)
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"comment": comment})
}

func (s *Server) broadcastComment(comment models.Comment) {
	payload, err := json.Marshal(push.NewComment{PostID: comment.PostID, Comment: comment})
	if err != nil {
		log.Printf("devserver: marshal comment: %v", err)
		return
	}
	frame, err := json.Marshal(push.Frame{Type: push.EventNewComment, Payload: payload})
	if err != nil {
		log.Printf("devserver: marshal frame: %v", err)
		return
	}
	s.hub.Broadcast(frame)
}

// GetFollowing lists who a user follows.
func (s *Server) GetFollowing(c *fiber.Ctx) error {
	id := c.Params("id")
	if _, ok := s.store.User(id); !ok {
		return writeAppError(c, models.NewNotFoundError("User", id))
	}
	return c.JSON(fiber.Map{"following": s.store.Following(id)})
}

// Follow makes the caller follow the user in the path.
func (s *Server) Follow(c *fiber.Ctx) error {
	if err := s.store.Follow(currentUser(c), c.Params("id")); err != nil {
		return writeAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Unfollow removes the caller's follow edge to the user in the path.
func (s *Server) Unfollow(c *fiber.Ctx) error {
	if err := s.store.Unfollow(currentUser(c), c.Params("id")); err != nil {
		return writeAppError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SearchUsers finds users by name.
func (s *Server) SearchUsers(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"users": s.store.SearchUsers(c.Query("q"))})
}

// Shutdown closes every push connection.
func (s *Server) Shutdown() {
	s.hub.Shutdown()
}
