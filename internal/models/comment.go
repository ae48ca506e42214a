package models

import (
	"fmt"
	"time"
)

// Comment is a single comment on a post. IDs are assigned by the backend and
// unique per post.
type Comment struct {
	ID        string    `json:"id"`
	PostID    string    `json:"post_id"`
	Text      string    `json:"content"`
	AuthorID  string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
	// Elapsed is a display label such as "5m"; computed client-side when empty.
	Elapsed string `json:"time_ago,omitempty"`
}

// ElapsedLabel renders the compact "time since" label used next to comments.
func ElapsedLabel(created, now time.Time) string {
	d := now.Sub(created)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d/time.Hour))
	case d < 7*24*time.Hour:
		return fmt.Sprintf("%dd", int(d/(24*time.Hour)))
	default:
		return fmt.Sprintf("%dw", int(d/(7*24*time.Hour)))
	}
}
