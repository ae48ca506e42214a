package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"feedsync/internal/app"
	"feedsync/internal/search"
)

const searchWait = 15 * time.Second

const usage = `commands:
  login <token>             log in with a backend-issued token
  logout                    log out and clear local state
  feed                      reload and print the feed
  open <post>               open a post and print its comments
  close <post>              close a post
  comments <post>           print the comments of an open post
  draft <post> <text>       set the pending comment text of an open post
  comment <post> [text]     submit text, or the pending draft
  follow <user>             follow a user
  unfollow <user>           unfollow a user
  following                 list followed users
  search <query>            search people
  quit                      exit
`

// shell executes one command line at a time against a client.
type shell struct {
	client *app.Client
	out    io.Writer
}

func newShell(client *app.Client, out io.Writer) *shell {
	return &shell{client: client, out: out}
}

func (s *shell) prompt() {
	fmt.Fprint(s.out, "> ")
}

func (s *shell) printf(format string, args ...any) {
	fmt.Fprintf(s.out, format, args...)
}

// run executes line and reports whether the shell should exit.
func (s *shell) run(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	cmd, args := fields[0], fields[1:]
	rest := func(from int) string {
		if len(args) <= from {
			return ""
		}
		return strings.Join(args[from:], " ")
	}

	switch cmd {
	case "quit", "exit":
		return true
	case "help":
		s.printf("%s", usage)
	case "login":
		if len(args) != 1 {
			s.printf("usage: login <token>\n")
			return false
		}
		user, err := s.client.Login(ctx, args[0])
		if err != nil {
			s.printf("login failed: %v\n", err)
			return false
		}
		s.printf("logged in as %s (following %d)\n", user.ID, s.client.Following().Count())
	case "logout":
		if err := s.client.Logout(ctx); err != nil {
			s.printf("logout failed: %v\n", err)
			return false
		}
		s.printf("logged out\n")
	case "feed":
		s.client.Feed().Load(ctx)
		s.printFeed()
	case "open":
		if !s.needArgs(args, 1, "open <post>") {
			return false
		}
		s.client.Comments().Open(ctx, args[0])
		s.printComments(args[0])
	case "close":
		if !s.needArgs(args, 1, "close <post>") {
			return false
		}
		s.client.Comments().Close(args[0])
	case "comments":
		if !s.needArgs(args, 1, "comments <post>") {
			return false
		}
		s.printComments(args[0])
	case "draft":
		if !s.needArgs(args, 1, "draft <post> <text>") {
			return false
		}
		s.client.Comments().SetDraft(args[0], rest(1))
	case "comment":
		if !s.needArgs(args, 1, "comment <post> [text]") {
			return false
		}
		text := rest(1)
		if text == "" {
			text = s.client.Comments().Draft(args[0])
		}
		if !s.client.Comments().Submit(ctx, args[0], text) {
			s.printf("nothing sent (empty text or not logged in)\n")
			return false
		}
		s.printf("sent; it will appear once the server confirms it\n")
	case "follow":
		if !s.needArgs(args, 1, "follow <user>") {
			return false
		}
		s.client.Following().Follow(ctx, args[0])
		s.printf("following %d\n", s.client.Following().Count())
	case "unfollow":
		if !s.needArgs(args, 1, "unfollow <user>") {
			return false
		}
		s.client.Following().Unfollow(ctx, args[0])
		s.printf("following %d\n", s.client.Following().Count())
	case "following":
		for _, id := range s.client.Following().List() {
			s.printf("%s\n", id)
		}
	case "search":
		s.search(rest(0))
	default:
		s.printf("unknown command %q, try help\n", cmd)
	}
	return false
}

func (s *shell) needArgs(args []string, n int, use string) bool {
	if len(args) < n {
		s.printf("usage: %s\n", use)
		return false
	}
	return true
}

func (s *shell) printFeed() {
	feed := s.client.Feed()
	if feed.IsEmpty() {
		s.printf("no posts yet\n")
		return
	}
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, p := range feed.Posts() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d comments\n", p.ID, p.CreatedAt.Format(time.RFC3339), p.Title, p.CommentCount)
	}
	_ = w.Flush()
}

func (s *shell) printComments(postID string) {
	if !s.client.Comments().IsOpen(postID) {
		s.printf("post %s is not open\n", postID)
		return
	}
	list := s.client.Comments().Comments(postID)
	if len(list) == 0 {
		s.printf("no comments\n")
		return
	}
	w := tabwriter.NewWriter(s.out, 0, 4, 2, ' ', 0)
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", c.AuthorID, c.Elapsed, c.Text)
	}
	_ = w.Flush()
}

func (s *shell) search(query string) {
	d := s.client.Search()
	settled := make(chan struct{}, 1)
	d.OnChange(func(st search.State) {
		if st == search.ShowResults || st == search.ShowError {
			select {
			case settled <- struct{}{}:
			default:
			}
		}
	})
	defer d.OnChange(nil)

	d.Input(query)
	if strings.TrimSpace(query) == "" {
		return
	}
	d.SubmitNow()
	select {
	case <-settled:
	case <-time.After(searchWait):
		s.printf("search timed out\n")
		return
	}
	if err := d.Err(); err != nil {
		s.printf("search failed: %v\n", err)
		return
	}
	results := d.Results()
	if len(results) == 0 {
		s.printf("no people found\n")
		return
	}
	for _, u := range results {
		mark := " "
		if s.client.Following().IsFollowing(u.ID) {
			mark = "*"
		}
		s.printf("%s %s\t%s\n", mark, u.ID, u.Name)
	}
}
