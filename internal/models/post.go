// Package models contains data structures for the client's domain models.
package models

import "time"

// MediaKind describes what, if anything, is attached to a post.
type MediaKind string

// Media kinds.
const (
	MediaNone  MediaKind = "none"
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Media is the media descriptor of a post. URL is empty for MediaNone.
type Media struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url,omitempty"`
}

// Post represents a post in the feed.
type Post struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Body         string    `json:"content"`
	Media        Media     `json:"media"`
	AuthorID     string    `json:"user_id"`
	CreatedAt    time.Time `json:"created_at"`
	LikeCount    int       `json:"likes_count"`
	LikedBy      []string  `json:"liked_by,omitempty"`
	CommentCount int       `json:"comments_count"`
	// Comments may be empty until the post's detail view is opened.
	Comments []Comment `json:"comments,omitempty"`
}

// HasMedia reports whether the post carries an image or a video.
func (p Post) HasMedia() bool {
	return p.Media.Kind == MediaImage || p.Media.Kind == MediaVideo
}

// LikedByUser reports whether userID is in the post's liker set.
func (p Post) LikedByUser(userID string) bool {
	for _, id := range p.LikedBy {
		if id == userID {
			return true
		}
	}
	return false
}
