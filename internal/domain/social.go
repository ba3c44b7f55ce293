package domain

import "time"

// SocialEvent is a single post or comment mentioning one or more symbols.
// Immutable once created.
type SocialEvent struct {
	Platform        string         // bluesky, reddit, ...
	ID              string         // platform-unique id
	AuthorHandle    string         // empty when unknown
	AuthorFollowers int            // 0 when unknown
	CreatedAt       time.Time      // platform timestamp
	Text            string         // raw text
	URL             string         // permalink, may be empty
	Symbols         []string       // upper-case tags, without "$"
	Engagement      map[string]int // likes, score, replies, num_comments
}

// Engagement counter keys summed into the engagement metric.
const (
	EngagementLikes       = "likes"
	EngagementScore       = "score"
	EngagementReplies     = "replies"
	EngagementNumComments = "num_comments"
)

// Interactions returns the sum of the counters used by the hype engagement metric.
func (e *SocialEvent) Interactions() int {
	return e.Engagement[EngagementLikes] +
		e.Engagement[EngagementScore] +
		e.Engagement[EngagementReplies] +
		e.Engagement[EngagementNumComments]
}

// NewsItem is a headline mentioning one or more symbols.
type NewsItem struct {
	Source      string
	Title       string
	URL         string
	PublishedAt time.Time
	Symbols     []string
}
