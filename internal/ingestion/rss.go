package ingestion

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/observability"
)

// Default feeds and poll intervals.
var DefaultRSSFeeds = []string{
	"https://www.coindesk.com/arc/outboundfeeds/rss/",
	"https://cointelegraph.com/rss",
	"https://decrypt.co/feed",
}

const (
	DefaultRSSInterval        = 60 * time.Second
	DefaultGoogleNewsInterval = 5 * time.Minute
	DefaultGoogleNewsURL      = "https://news.google.com/rss/search"
	DefaultMaxQueries         = 20
	maxSeenLinks              = 20000
	sourceRSS                 = "rss"
	sourceGoogleNews          = "google_news"
	googleNewsHost            = "news.google.com"
)

var pubDateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	time.RFC3339,
}

// FeedEntry is one item of an RSS or Atom feed.
type FeedEntry struct {
	Title     string
	Link      string
	Published time.Time // zero when missing or unparseable
}

type rssDocument struct {
	Channel struct {
		Items []struct {
			Title   string `xml:"title"`
			Link    string `xml:"link"`
			PubDate string `xml:"pubDate"`
		} `xml:"item"`
	} `xml:"channel"`
	Entries []struct {
		Title string `xml:"title"`
		Link  struct {
			Href string `xml:"href,attr"`
		} `xml:"link"`
		Updated string `xml:"updated"`
	} `xml:"entry"`
}

// ParseFeed parses an RSS 2.0 or Atom document.
func ParseFeed(data []byte) ([]FeedEntry, error) {
	var doc rssDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}
	out := make([]FeedEntry, 0, len(doc.Channel.Items)+len(doc.Entries))
	for _, it := range doc.Channel.Items {
		out = append(out, FeedEntry{
			Title:     strings.TrimSpace(it.Title),
			Link:      strings.TrimSpace(it.Link),
			Published: parsePubDate(it.PubDate),
		})
	}
	for _, e := range doc.Entries {
		out = append(out, FeedEntry{
			Title:     strings.TrimSpace(e.Title),
			Link:      strings.TrimSpace(e.Link.Href),
			Published: parsePubDate(e.Updated),
		})
	}
	return out, nil
}

func parsePubDate(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// linkSet remembers delivered links. It is cleared when it grows past its
// bound, so a very old link may be delivered twice.
type linkSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func (s *linkSet) add(link string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen == nil || len(s.seen) >= maxSeenLinks {
		s.seen = make(map[string]struct{})
	}
	if _, ok := s.seen[link]; ok {
		return false
	}
	s.seen[link] = struct{}{}
	return true
}

// feedFetcher downloads feeds over HTTP.
type feedFetcher struct {
	http *resty.Client
}

func newFeedFetcher(timeout time.Duration) feedFetcher {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return feedFetcher{http: resty.New().SetTimeout(timeout).SetHeader("User-Agent", "solana-hype-trader/1.0")}
}

func (f feedFetcher) fetch(ctx context.Context, feedURL string) ([]FeedEntry, error) {
	resp, err := f.http.R().SetContext(ctx).Get(feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", feedURL, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("fetch %s: http %d", feedURL, resp.StatusCode())
	}
	return ParseFeed(resp.Body())
}

// RSSOptions configures an RSSPoller.
type RSSOptions struct {
	Feeds    []string // default DefaultRSSFeeds
	Interval time.Duration
	Timeout  time.Duration
	Logger   logrus.FieldLogger
	Metrics  *observability.Metrics
	Now      func() time.Time
}

// RSSPoller polls news feeds and emits headlines carrying cashtags.
type RSSPoller struct {
	feeds    []string
	interval time.Duration
	fetcher  feedFetcher
	seen     linkSet
	log      logrus.FieldLogger
	metrics  *observability.Metrics
	now      func() time.Time
}

// NewRSSPoller creates an RSSPoller.
func NewRSSPoller(opts RSSOptions) *RSSPoller {
	if len(opts.Feeds) == 0 {
		opts.Feeds = DefaultRSSFeeds
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultRSSInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &RSSPoller{
		feeds:    opts.Feeds,
		interval: opts.Interval,
		fetcher:  newFeedFetcher(opts.Timeout),
		log:      logging.Component(opts.Logger, "rss"),
		metrics:  opts.Metrics,
		now:      opts.Now,
	}
}

// Name returns "rss".
func (p *RSSPoller) Name() string {
	return sourceRSS
}

// Run polls every feed immediately and then every interval.
func (p *RSSPoller) Run(ctx context.Context, out chan<- domain.NewsItem) error {
	return pollLoop(ctx, p.interval, func() bool {
		for _, item := range p.Poll(ctx) {
			if !send(ctx, out, item) {
				return false
			}
		}
		return true
	})
}

// Poll fetches every feed once and returns the unseen items with cashtags.
func (p *RSSPoller) Poll(ctx context.Context) []domain.NewsItem {
	var out []domain.NewsItem
	for _, feed := range p.feeds {
		entries, err := p.fetcher.fetch(ctx, feed)
		if err != nil {
			p.metrics.RecordIngestionError(sourceRSS)
			p.log.WithError(err).WithField("feed", feed).Warn("feed unavailable")
			continue
		}
		host := hostOf(feed)
		for _, e := range entries {
			if e.Link == "" || !p.seen.add(e.Link) {
				continue
			}
			symbols := ExtractSymbols(e.Title)
			if len(symbols) == 0 {
				continue
			}
			p.metrics.RecordNewsItem()
			out = append(out, domain.NewsItem{
				Source:      host,
				Title:       e.Title,
				URL:         e.Link,
				PublishedAt: publishedOr(e.Published, p.now()),
				Symbols:     symbols,
			})
		}
	}
	return out
}

// GoogleNewsOptions configures a GoogleNewsPoller.
type GoogleNewsOptions struct {
	BaseURL    string // default DefaultGoogleNewsURL
	Lang       string // hl, default en-US
	Geo        string // gl, default US
	CEID       string // ceid, default US:en
	Interval   time.Duration
	Timeout    time.Duration
	MaxQueries int

	// Symbols returns the symbols to search for, typically the symbols with
	// market data. Required.
	Symbols func() []string

	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// GoogleNewsPoller searches Google News for each tracked symbol and emits
// headlines whose title names the symbol.
type GoogleNewsPoller struct {
	opts    GoogleNewsOptions
	fetcher feedFetcher
	seen    linkSet
	log     logrus.FieldLogger
	metrics *observability.Metrics
}

// NewGoogleNewsPoller creates a GoogleNewsPoller.
func NewGoogleNewsPoller(opts GoogleNewsOptions) *GoogleNewsPoller {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultGoogleNewsURL
	}
	if opts.Lang == "" {
		opts.Lang = "en-US"
	}
	if opts.Geo == "" {
		opts.Geo = "US"
	}
	if opts.CEID == "" {
		opts.CEID = "US:en"
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultGoogleNewsInterval
	}
	if opts.MaxQueries <= 0 {
		opts.MaxQueries = DefaultMaxQueries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &GoogleNewsPoller{
		opts:    opts,
		fetcher: newFeedFetcher(opts.Timeout),
		log:     logging.Component(opts.Logger, "google_news"),
		metrics: opts.Metrics,
	}
}

// Name returns "google_news".
func (p *GoogleNewsPoller) Name() string {
	return sourceGoogleNews
}

// Run searches immediately and then every interval.
func (p *GoogleNewsPoller) Run(ctx context.Context, out chan<- domain.NewsItem) error {
	return pollLoop(ctx, p.opts.Interval, func() bool {
		for _, item := range p.Poll(ctx) {
			if !send(ctx, out, item) {
				return false
			}
		}
		return true
	})
}

// SearchURL returns the feed URL for a query.
func (p *GoogleNewsPoller) SearchURL(query string) string {
	v := url.Values{}
	v.Set("q", query)
	v.Set("hl", p.opts.Lang)
	v.Set("gl", p.opts.Geo)
	v.Set("ceid", p.opts.CEID)
	return p.opts.BaseURL + "?" + v.Encode()
}

// Poll runs one search per tracked symbol.
func (p *GoogleNewsPoller) Poll(ctx context.Context) []domain.NewsItem {
	if p.opts.Symbols == nil {
		return nil
	}
	symbols := p.opts.Symbols()
	if len(symbols) > p.opts.MaxQueries {
		symbols = symbols[:p.opts.MaxQueries]
	}

	var out []domain.NewsItem
	for _, sym := range symbols {
		if ctx.Err() != nil {
			break
		}
		entries, err := p.fetcher.fetch(ctx, p.SearchURL(sym))
		if err != nil {
			p.metrics.RecordIngestionError(sourceGoogleNews)
			p.log.WithError(err).WithField("symbol", sym).Warn("search failed")
			continue
		}
		for _, e := range entries {
			if e.Link == "" || !p.seen.add(e.Link) {
				continue
			}
			matched := MatchTitle(e.Title, symbols)
			if len(matched) == 0 {
				continue
			}
			p.metrics.RecordNewsItem()
			out = append(out, domain.NewsItem{
				Source:      googleNewsHost,
				Title:       e.Title,
				URL:         e.Link,
				PublishedAt: publishedOr(e.Published, p.opts.Now()),
				Symbols:     matched,
			})
		}
	}
	return out
}

func pollLoop(ctx context.Context, interval time.Duration, poll func() bool) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if !poll() {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func publishedOr(t, now time.Time) time.Time {
	if t.IsZero() {
		return now.UTC()
	}
	return t
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return strings.TrimPrefix(u.Hostname(), "www.")
}
