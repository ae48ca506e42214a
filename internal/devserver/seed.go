package devserver

import (
	"fmt"
	"math/rand"
	"time"

	"feedsync/internal/models"

	"github.com/brianvoe/gofakeit/v6"
)

// SeedOptions sizes the demo data set.
type SeedOptions struct {
	Users           int
	PostsPerUser    int
	CommentsPerPost int
	// MaxDays bounds how far back post timestamps are spread.
	MaxDays int
	// Seed makes the data reproducible when non-zero.
	Seed int64
}

// Seed fills store with fake users, posts, comments and follow edges.
func Seed(store *Store, opts SeedOptions) []models.User {
	if opts.MaxDays <= 0 {
		opts.MaxDays = 14
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(seed)
	r := rand.New(rand.NewSource(seed))
	now := store.now()

	users := make([]models.User, 0, opts.Users)
	for i := 0; i < opts.Users; i++ {
		users = append(users, store.AddUser(faker.Username(), faker.Email()))
	}

	for _, u := range users {
		for i := 0; i < opts.PostsPerUser; i++ {
			created := now.Add(-time.Duration(r.Intn(opts.MaxDays*24*60)) * time.Minute)
			post := models.Post{
				Title:     faker.Sentence(5),
				Body:      faker.Paragraph(1, 3, 12, "\n"),
				AuthorID:  u.ID,
				CreatedAt: created,
			}
			if r.Intn(3) == 0 {
				post.Media = models.Media{Kind: models.MediaImage, URL: fmt.Sprintf("https://picsum.photos/seed/%s/800/800", faker.UUID())}
			}
			p, err := store.AddPost(post)
			if err != nil {
				continue
			}
			for j := 0; j < opts.CommentsPerPost && len(users) > 0; j++ {
				author := users[r.Intn(len(users))]
				at := created.Add(time.Duration(j+1) * time.Duration(r.Intn(90)+1) * time.Minute)
				if at.After(now) {
					at = now
				}
				store.addCommentAt(p.ID, author.ID, faker.Sentence(8), at)
			}
		}
	}

	// Everyone follows a few others.
	for _, u := range users {
		for _, idx := range r.Perm(len(users)) {
			if len(store.Following(u.ID)) >= 3 {
				break
			}
			_ = store.Follow(u.ID, users[idx].ID)
		}
	}
	return users
}
