package hype

import (
	"math"
	"sync"

	"solana-hype-trader/internal/domain"
)

const maxAuthorScore = 100.0

// AuthorStats is the reputation record of one author.
type AuthorStats struct {
	Score float64 `json:"score"`
	Posts int     `json:"posts"`
}

// AuthorBook tracks author reputation. Weight is bounded to [1, 3].
type AuthorBook struct {
	mu      sync.RWMutex
	authors map[string]AuthorStats
}

// NewAuthorBook creates an empty book.
func NewAuthorBook() *AuthorBook {
	return &AuthorBook{authors: make(map[string]AuthorStats)}
}

// Observe credits the author of ev. Events without an author are ignored.
func (b *AuthorBook) Observe(ev *domain.SocialEvent) {
	if ev == nil || ev.AuthorHandle == "" {
		return
	}

	credit := 1.0
	if ev.AuthorFollowers > 0 {
		credit += math.Log10(float64(ev.AuthorFollowers))
	}
	credit += 0.1 * float64(ev.Engagement[domain.EngagementLikes]+
		ev.Engagement[domain.EngagementReplies]+
		ev.Engagement[domain.EngagementNumComments])

	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.authors[ev.AuthorHandle]
	st.Score = math.Min(maxAuthorScore, st.Score+credit)
	st.Posts++
	b.authors[ev.AuthorHandle] = st
}

// Weight returns 1 + min(2, score/50); unknown or empty authors weigh 1.
func (b *AuthorBook) Weight(handle string) float64 {
	if handle == "" {
		return 1.0
	}

	b.mu.RLock()
	st, ok := b.authors[handle]
	b.mu.RUnlock()
	if !ok {
		return 1.0
	}
	return 1.0 + math.Min(2.0, st.Score/50.0)
}

// Len returns the number of known authors.
func (b *AuthorBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.authors)
}

func (b *AuthorBook) entries() map[string]AuthorStats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]AuthorStats, len(b.authors))
	for h, st := range b.authors {
		out[h] = st
	}
	return out
}

func (b *AuthorBook) replace(authors map[string]AuthorStats) {
	b.mu.Lock()
	b.authors = authors
	b.mu.Unlock()
}
