package models

// Avatar is an avatar reference: empty when absent, AvatarDefault for the
// stock image, otherwise a URL.
type Avatar string

// AvatarDefault selects the stock avatar.
const AvatarDefault Avatar = "default"

// User represents a user profile as returned by the backend.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"username"`
	Email  string `json:"email"`
	Avatar Avatar `json:"avatar,omitempty"`
}

// FollowAction is the kind of change published when the following set mutates.
type FollowAction string

// Follow actions.
const (
	ActionFollow   FollowAction = "follow"
	ActionUnfollow FollowAction = "unfollow"
)

// FollowChange is the payload published on the event bus for every
// follow/unfollow mutation.
type FollowChange struct {
	UserID string       `json:"user_id"`
	Action FollowAction `json:"action"`
}
