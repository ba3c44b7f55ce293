package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/observability"
)

// DefaultJetstreamURL subscribes to new Bluesky posts.
const DefaultJetstreamURL = "wss://jetstream2.us-east.bsky.network/subscribe?wantedCollections=app.bsky.feed.post"

const (
	platformBluesky = "bluesky"
	postCollection  = "app.bsky.feed.post"
)

// JetstreamOptions configures the Bluesky Jetstream source.
type JetstreamOptions struct {
	URL string // default DefaultJetstreamURL

	// ReconnectDelay is the initial delay before reconnecting. It doubles on
	// every failed connection up to MaxReconnectDelay.
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout bounds the silence between two frames.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	Logger  logrus.FieldLogger
	Metrics *observability.Metrics
	Now     func() time.Time
}

// DefaultJetstreamOptions returns the production connection settings.
func DefaultJetstreamOptions() JetstreamOptions {
	return JetstreamOptions{
		URL:               DefaultJetstreamURL,
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      20 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Jetstream streams Bluesky posts carrying cashtags.
type Jetstream struct {
	opts    JetstreamOptions
	log     logrus.FieldLogger
	metrics *observability.Metrics
}

// NewJetstream creates a Jetstream source. Zero fields take the defaults.
func NewJetstream(opts JetstreamOptions) *Jetstream {
	def := DefaultJetstreamOptions()
	if opts.URL == "" {
		opts.URL = def.URL
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = def.ReconnectDelay
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = def.MaxReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = def.PingInterval
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = def.ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = def.WriteTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Jetstream{
		opts:    opts,
		log:     logging.Component(opts.Logger, "jetstream"),
		metrics: opts.Metrics,
	}
}

// Name returns "bluesky".
func (j *Jetstream) Name() string {
	return platformBluesky
}

// Run streams posts until ctx is cancelled, reconnecting with exponential
// backoff. The backoff resets once a connection delivers a frame.
func (j *Jetstream) Run(ctx context.Context, out chan<- *domain.SocialEvent) error {
	delay := j.opts.ReconnectDelay
	for {
		received, err := j.stream(ctx, out)
		if ctx.Err() != nil {
			return nil
		}
		if received {
			delay = j.opts.ReconnectDelay
		}
		j.metrics.RecordIngestionError(platformBluesky)
		j.log.WithError(err).WithField("retry_in", delay).Warn("jetstream disconnected")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > j.opts.MaxReconnectDelay {
			delay = j.opts.MaxReconnectDelay
		}
	}
}

// stream runs one connection. It reports whether any frame was received.
func (j *Jetstream) stream(ctx context.Context, out chan<- *domain.SocialEvent) (bool, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, j.opts.URL, nil)
	if err != nil {
		return false, fmt.Errorf("websocket dial: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(j.opts.WriteTimeout))
			conn.Close()
		case <-done:
		}
	}()
	go j.pingLoop(conn, done)

	_ = conn.SetReadDeadline(time.Now().Add(j.opts.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(j.opts.ReadTimeout))
	})

	received := false
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return received, fmt.Errorf("websocket read: %w", err)
		}
		received = true
		_ = conn.SetReadDeadline(time.Now().Add(j.opts.ReadTimeout))

		ev, ok := ParseJetstream(msg, j.opts.Now())
		if !ok {
			continue
		}
		j.metrics.RecordEvent(platformBluesky)
		if !send(ctx, out, ev) {
			return received, ctx.Err()
		}
	}
}

func (j *Jetstream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(j.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(j.opts.WriteTimeout)); err != nil {
				j.log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}

type jetstreamFrame struct {
	DID    string `json:"did"`
	Kind   string `json:"kind"`
	Commit *struct {
		Operation  string `json:"operation"`
		Collection string `json:"collection"`
		RKey       string `json:"rkey"`
		Record     struct {
			Text      string `json:"text"`
			CreatedAt string `json:"createdAt"`
		} `json:"record"`
	} `json:"commit"`
}

// ParseJetstream converts a Jetstream frame into a social event. Only newly
// created posts with at least one cashtag are accepted. now is used when the
// post carries no valid timestamp.
func ParseJetstream(raw []byte, now time.Time) (*domain.SocialEvent, bool) {
	var f jetstreamFrame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	if f.Kind != "commit" || f.Commit == nil {
		return nil, false
	}
	c := f.Commit
	if c.Operation != "create" || c.Collection != postCollection {
		return nil, false
	}
	symbols := ExtractSymbols(c.Record.Text)
	if len(symbols) == 0 {
		return nil, false
	}

	created := now.UTC()
	if t, err := time.Parse(time.RFC3339Nano, c.Record.CreatedAt); err == nil {
		created = t.UTC()
	}
	return &domain.SocialEvent{
		Platform:     platformBluesky,
		ID:           c.RKey,
		AuthorHandle: f.DID,
		CreatedAt:    created,
		Text:         c.Record.Text,
		URL:          fmt.Sprintf("https://bsky.app/profile/%s/post/%s", f.DID, c.RKey),
		Symbols:      symbols,
		Engagement:   map[string]int{},
	}, true
}
