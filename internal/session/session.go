package session

import (
	"context"
	"fmt"
	"sync"

	"feedsync/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

const storageKey = "session"

type persisted struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// Session holds the logged-in identity and its bearer token.
type Session struct {
	store Storage

	mu    sync.RWMutex
	user  *models.User
	token string
}

// New creates a logged-out session persisted in store.
func New(store Storage) *Session {
	return &Session{store: store}
}

// IdentityFromToken extracts the user identity from the claims of a token
// issued by the backend. The signature is not checked: the client only
// needs the identity the server already vouched for.
func IdentityFromToken(token string) (models.User, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return models.User{}, models.NewValidationError(fmt.Sprintf("malformed session token: %v", err))
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return models.User{}, models.NewValidationError("session token has no subject")
	}
	user := models.User{ID: sub}
	if name, ok := claims["username"].(string); ok {
		user.Name = name
	} else if name, ok := claims["name"].(string); ok {
		user.Name = name
	}
	if email, ok := claims["email"].(string); ok {
		user.Email = email
	}
	return user, nil
}

// Login records the identity carried by token and persists it.
func (s *Session) Login(ctx context.Context, token string) (models.User, error) {
	user, err := IdentityFromToken(token)
	if err != nil {
		return models.User{}, err
	}
	if err := s.LoginUser(ctx, user, token); err != nil {
		return models.User{}, err
	}
	return user, nil
}

// LoginUser records an identity obtained elsewhere (e.g. a signup response).
func (s *Session) LoginUser(ctx context.Context, user models.User, token string) error {
	if user.ID == "" {
		return models.NewValidationError("user ID is required")
	}
	s.mu.Lock()
	u := user
	s.user = &u
	s.token = token
	s.mu.Unlock()

	if err := SetJSON(ctx, s.store, storageKey, persisted{User: user, Token: token}, 0); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Restore loads a previously persisted identity. It reports whether one was found.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	var p persisted
	found, err := GetJSON(ctx, s.store, storageKey, &p)
	if err != nil {
		return false, fmt.Errorf("restore session: %w", err)
	}
	if !found || p.User.ID == "" {
		return false, nil
	}
	s.mu.Lock()
	s.user = &p.User
	s.token = p.Token
	s.mu.Unlock()
	return true, nil
}

// Logout clears the identity and its persisted copy.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	s.user = nil
	s.token = ""
	s.mu.Unlock()
	return s.store.Delete(ctx, storageKey)
}

// Current returns the logged-in user.
func (s *Session) Current() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// UserID returns the logged-in user's ID, or "" when logged out.
func (s *Session) UserID() string {
	u, _ := s.Current()
	return u.ID
}

// LoggedIn reports whether an identity is present.
func (s *Session) LoggedIn() bool {
	_, ok := s.Current()
	return ok
}

// Token returns the bearer token, or "" when logged out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
