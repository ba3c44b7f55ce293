package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelegram_Notify(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegram(TelegramOptions{BotToken: "TOKEN", ChatID: "42", BaseURL: srv.URL})
	n.Notify(t.Context(), "TP1 exit 30% BONK")

	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "TP1 exit 30% BONK", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
}

func TestTelegram_FailureIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)

	n := NewTelegram(TelegramOptions{BotToken: "T", ChatID: "1", BaseURL: srv.URL, Logger: logger})
	n.Notify(t.Context(), "hello")

	assert.Contains(t, buf.String(), "alert not delivered")
	assert.Contains(t, buf.String(), "http 403")
}

func TestLog_Notify(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)

	NewLog(logger).Notify(t.Context(), "breaker open")
	assert.Contains(t, buf.String(), "breaker open")
}
