package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"feedsync/internal/models"
	"feedsync/internal/observability"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

// errorResponse mirrors the backend's standardized error body.
type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// TokenFunc returns the current bearer token, or "" when logged out.
type TokenFunc func() string

// Client talks to the backend REST API.
type Client struct {
	baseURL string
	http    *http.Client
	token   TokenFunc
}

// NewClient creates a Client for baseURL. token may be nil.
func NewClient(baseURL string, timeout time.Duration, token TokenFunc) *Client {
	if token == nil {
		token = func() string { return "" }
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

type postsResponse struct {
	Posts []models.Post `json:"posts"`
}

type commentsResponse struct {
	Comments []models.Comment `json:"comments"`
}

type followingResponse struct {
	Following []string `json:"following"`
}

type usersResponse struct {
	Users []models.User `json:"users"`
}

// FetchFeed implements FeedSource.
func (c *Client) FetchFeed(ctx context.Context) ([]models.Post, error) {
	var out postsResponse
	if err := c.do(ctx, "fetch_feed", http.MethodGet, "/api/posts", nil, &out); err != nil {
		return nil, err
	}
	return out.Posts, nil
}

// FetchComments implements CommentSource.
func (c *Client) FetchComments(ctx context.Context, postID string) ([]models.Comment, error) {
	var out commentsResponse
	path := "/api/posts/" + url.PathEscape(postID) + "/comments"
	if err := c.do(ctx, "fetch_comments", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Comments, nil
}

// CreateComment implements CommentCreator.
func (c *Client) CreateComment(ctx context.Context, postID, text string) error {
	path := "/api/posts/" + url.PathEscape(postID) + "/comments"
	body := map[string]string{"content": text}
	return c.do(ctx, "create_comment", http.MethodPost, path, body, nil)
}

// FetchFollowing implements FollowingSource.
func (c *Client) FetchFollowing(ctx context.Context, userID string) ([]string, error) {
	var out followingResponse
	path := "/api/users/" + url.PathEscape(userID) + "/following"
	if err := c.do(ctx, "fetch_following", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Following, nil
}

// Follow implements FollowMirror.
func (c *Client) Follow(ctx context.Context, userID string) error {
	path := "/api/users/" + url.PathEscape(userID) + "/follow"
	return c.do(ctx, "follow", http.MethodPost, path, nil, nil)
}

// Unfollow implements FollowMirror.
func (c *Client) Unfollow(ctx context.Context, userID string) error {
	path := "/api/users/" + url.PathEscape(userID) + "/follow"
	return c.do(ctx, "unfollow", http.MethodDelete, path, nil, nil)
}

// SearchUsers implements UserSearcher.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.User, error) {
	var out usersResponse
	path := "/api/users/search?q=" + url.QueryEscape(query)
	if err := c.do(ctx, "search_users", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Users, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	span, ctx := observability.NewClientSpan(ctx, "api."+op,
		attribute.String("http.method", method),
		attribute.String("http.route", path),
	)
	status := "error"
	done := observability.TrackAPICall(op)
	defer func() {
		span.SetError(err)
		span.End()
		done(status)
	}()

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := c.token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	if id := observability.ExtractCorrelationID(ctx); id != "" {
		req.Header.Set("X-Correlation-ID", id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	status = strconv.Itoa(resp.StatusCode)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func decodeError(resp *http.Response) *models.AppError {
	appErr := &models.AppError{Status: resp.StatusCode}
	var er errorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&er); err == nil && er.Error != "" {
		appErr.Message = er.Error
		appErr.Code = er.Code
		if er.Details != "" {
			appErr.Err = errors.New(er.Details)
		}
	} else {
		appErr.Message = http.StatusText(resp.StatusCode)
	}
	if appErr.Code == "" {
		switch resp.StatusCode {
		case http.StatusNotFound:
			appErr.Code = "NOT_FOUND"
		case http.StatusUnauthorized, http.StatusForbidden:
			appErr.Code = "UNAUTHORIZED"
		case http.StatusBadRequest, http.StatusUnprocessableEntity:
			appErr.Code = "VALIDATION_ERROR"
		default:
			appErr.Code = "INTERNAL_ERROR"
		}
	}
	return appErr
}
