// Package api defines the backend collaborator contracts the sync core
// consumes and an HTTP/JSON client implementing them.
package api

import (
	"context"

	"feedsync/internal/models"
)

// FeedSource fetches the initial post collection.
type FeedSource interface {
	FetchFeed(ctx context.Context) ([]models.Post, error)
}

// CommentSource fetches the existing comments of a post.
type CommentSource interface {
	FetchComments(ctx context.Context, postID string) ([]models.Comment, error)
}

// CommentCreator submits a new comment. The canonical comment is delivered
// later over the push channel.
type CommentCreator interface {
	CreateComment(ctx context.Context, postID, text string) error
}

// FollowingSource fetches the authoritative following list of a user.
type FollowingSource interface {
	FetchFollowing(ctx context.Context, userID string) ([]string, error)
}

// FollowMirror mirrors local follow/unfollow actions to the backend.
type FollowMirror interface {
	Follow(ctx context.Context, userID string) error
	Unfollow(ctx context.Context, userID string) error
}

// UserSearcher runs a free-text people search.
type UserSearcher interface {
	SearchUsers(ctx context.Context, query string) ([]models.User, error)
}

// Backend is the full collaborator surface; *Client implements it.
type Backend interface {
	FeedSource
	CommentSource
	CommentCreator
	FollowingSource
	FollowMirror
	UserSearcher
}

var _ Backend = (*Client)(nil)
