// Package devserver is an in-memory backend speaking the same REST and
// websocket protocol as the production API. It backs local development of
// the client and end-to-end tests.
package devserver

import (
	"sort"
	"strings"
	"sync"
	"time"

	"feedsync/internal/models"

	"github.com/google/uuid"
)

// Store keeps users, posts, comments and follow edges in memory.
type Store struct {
	now func() time.Time

	mu        sync.RWMutex
	users     map[string]models.User
	userOrder []string
	posts     map[string]*models.Post
	postOrder []string
	comments  map[string][]models.Comment
	following map[string][]string
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		now:       time.Now,
		users:     make(map[string]models.User),
		posts:     make(map[string]*models.Post),
		comments:  make(map[string][]models.Comment),
		following: make(map[string][]string),
	}
}

// AddUser creates a user with a fresh ID.
func (s *Store) AddUser(name, email string) models.User {
	u := models.User{ID: uuid.NewString(), Name: name, Email: email, Avatar: models.AvatarDefault}
	s.mu.Lock()
	s.users[u.ID] = u
	s.userOrder = append(s.userOrder, u.ID)
	s.mu.Unlock()
	return u
}

// User looks up a user by ID.
func (s *Store) User(id string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// UserByName looks up a user by exact name.
func (s *Store) UserByName(name string) (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.userOrder {
		if s.users[id].Name == name {
			return s.users[id], true
		}
	}
	return models.User{}, false
}

// Users lists users in creation order.
func (s *Store) Users() []models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		out = append(out, s.users[id])
	}
	return out
}

// SearchUsers returns users whose name contains query, case-insensitively.
func (s *Store) SearchUsers(query string) []models.User {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return []models.User{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.User{}
	for _, id := range s.userOrder {
		if strings.Contains(strings.ToLower(s.users[id].Name), q) {
			out = append(out, s.users[id])
		}
	}
	return out
}

// AddPost stores a post. A zero created time means now.
func (s *Store) AddPost(post models.Post) (models.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[post.AuthorID]; !ok {
		return models.Post{}, models.NewNotFoundError("User", post.AuthorID)
	}
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = s.now()
	}
	if post.Media.Kind == "" {
		post.Media.Kind = models.MediaNone
	}
	p := post
	s.posts[p.ID] = &p
	s.postOrder = append(s.postOrder, p.ID)
	return p, nil
}

// Posts returns every post, newest first, with its current comment count.
func (s *Store) Posts() []models.Post {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Post, 0, len(s.postOrder))
	for _, id := range s.postOrder {
		p := *s.posts[id]
		p.CommentCount = len(s.comments[id])
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Comments returns the comments of postID in creation order.
func (s *Store) Comments(postID string) ([]models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.posts[postID]; !ok {
		return nil, models.NewNotFoundError("Post", postID)
	}
	out := make([]models.Comment, len(s.comments[postID]))
	copy(out, s.comments[postID])
	return out, nil
}

// AddComment appends a comment by authorID to postID.
func (s *Store) AddComment(postID, authorID, text string) (models.Comment, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Comment{}, models.NewValidationError("Content is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.posts[postID]; !ok {
		return models.Comment{}, models.NewNotFoundError("Post", postID)
	}
	c := models.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		Text:      text,
		AuthorID:  authorID,
		CreatedAt: s.now(),
	}
	s.comments[postID] = append(s.comments[postID], c)
	return c, nil
}

// addCommentAt is AddComment with an explicit timestamp, for seeding.
func (s *Store) addCommentAt(postID, authorID, text string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.comments[postID] = append(s.comments[postID], models.Comment{
		ID:        uuid.NewString(),
		PostID:    postID,
		Text:      text,
		AuthorID:  authorID,
		CreatedAt: at,
	})
}

// Following returns who userID follows, in follow order.
func (s *Store) Following(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.following[userID]))
	copy(out, s.following[userID])
	return out
}

// Follow records that userID follows target. Following twice is a no-op.
func (s *Store) Follow(userID, target string) error {
	if userID == target {
		return models.NewValidationError("cannot follow yourself")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[target]; !ok {
		return models.NewNotFoundError("User", target)
	}
	for _, id := range s.following[userID] {
		if id == target {
			return nil
		}
	}
	s.following[userID] = append(s.following[userID], target)
	return nil
}

// Unfollow removes the edge userID -> target if present.
func (s *Store) Unfollow(userID, target string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[target]; !ok {
		return models.NewNotFoundError("User", target)
	}
	list := s.following[userID]
	for i, id := range list {
		if id == target {
			s.following[userID] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	return nil
}
