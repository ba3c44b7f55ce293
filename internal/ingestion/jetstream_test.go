package ingestion

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-hype-trader/internal/domain"
)

func postFrame(rkey, text string) string {
	return fmt.Sprintf(`{"did":"did:plc:abc","kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.post","rkey":%q,"record":{"text":%q,"createdAt":"2024-05-01T10:00:00.000Z"}}}`, rkey, text)
}

func TestParseJetstream(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ev, ok := ParseJetstream([]byte(postFrame("r1", "aping $bonk and $wif")), now)
	require.True(t, ok)
	assert.Equal(t, "bluesky", ev.Platform)
	assert.Equal(t, "r1", ev.ID)
	assert.Equal(t, "did:plc:abc", ev.AuthorHandle)
	assert.Equal(t, []string{"BONK", "WIF"}, ev.Symbols)
	assert.Equal(t, "https://bsky.app/profile/did:plc:abc/post/r1", ev.URL)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ev.CreatedAt)

	rejected := []string{
		postFrame("r2", "no tags here"),
		`{"did":"did:plc:abc","kind":"identity"}`,
		`{"did":"did:plc:abc","kind":"commit","commit":{"operation":"delete","collection":"app.bsky.feed.post","rkey":"r3"}}`,
		`{"did":"did:plc:abc","kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.like","rkey":"r4","record":{"text":"$BONK"}}}`,
		`not json`,
	}
	for _, raw := range rejected {
		_, ok := ParseJetstream([]byte(raw), now)
		assert.False(t, ok, raw)
	}
}

func TestParseJetstreamMissingTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw := `{"did":"d","kind":"commit","commit":{"operation":"create","collection":"app.bsky.feed.post","rkey":"r","record":{"text":"$BONK"}}}`

	ev, ok := ParseJetstream([]byte(raw), now)
	require.True(t, ok)
	assert.Equal(t, now, ev.CreatedAt)
}

func TestJetstreamReconnects(t *testing.T) {
	var conns atomic.Int32
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := conns.Add(1)
		_ = c.WriteMessage(websocket.TextMessage, []byte(postFrame(fmt.Sprintf("r%d", n), "$BONK")))
		if n == 1 {
			return
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	js := NewJetstream(JetstreamOptions{
		URL:            "ws" + strings.TrimPrefix(srv.URL, "http"),
		ReconnectDelay: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	out := make(chan *domain.SocialEvent, 4)
	errc := make(chan error, 1)
	go func() { errc <- js.Run(ctx, out) }()

	var ids []string
	for len(ids) < 2 {
		select {
		case ev := <-out:
			ids = append(ids, ev.ID)
		case <-time.After(5 * time.Second):
			t.Fatalf("received %v before timeout", ids)
		}
	}
	assert.Equal(t, []string{"r1", "r2"}, ids)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
