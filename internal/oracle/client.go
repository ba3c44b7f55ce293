// Package oracle asks a chat-completions model for a trading decision.
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/logging"
	"solana-hype-trader/internal/observability"
)

// Default client settings.
const (
	DefaultBaseURL     = "https://api.perplexity.ai"
	DefaultModel       = "sonar-small-online"
	DefaultTimeout     = 60 * time.Second
	DefaultTemperature = 0.2
)

const completionsPath = "/chat/completions"

// SystemPrompt instructs the model to answer with a decision object only.
const SystemPrompt = "You are a crypto event & trading decision engine. Return STRICT JSON by schema."

// Errors.
var (
	ErrNoAPIKeys    = errors.New("no available api keys")
	ErrEmptyContent = errors.New("empty oracle content")
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration // per HTTP attempt
	Keys        *KeyRing
	Logger      logrus.FieldLogger
	Metrics     *observability.Metrics

	// Transport breaker: opens after BreakerFailures consecutive failed
	// calls and half-opens after BreakerTimeout.
	BreakerFailures uint32        // default 5
	BreakerTimeout  time.Duration // default 60s
}

// Client evaluates oracle payloads. Safe for concurrent use.
type Client struct {
	http        *resty.Client
	model       string
	temperature float64
	keys        *KeyRing
	breaker     *gobreaker.CircuitBreaker
	log         logrus.FieldLogger
	metrics     *observability.Metrics
}

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.Temperature <= 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Keys == nil {
		opts.Keys = NewKeyRing(nil, nil)
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 5
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 60 * time.Second
	}

	log := logging.Component(opts.Logger, "oracle")
	failures := opts.BreakerFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "oracle",
		Timeout: opts.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).Warn("oracle transport breaker changed state")
		},
	})

	return &Client{
		http: resty.New().
			SetBaseURL(opts.BaseURL).
			SetTimeout(opts.Timeout).
			SetHeader("Accept", "application/json"),
		model:       opts.Model,
		temperature: opts.Temperature,
		keys:        opts.Keys,
		breaker:     breaker,
		log:         log,
		metrics:     opts.Metrics,
	}
}

// Keys returns the key ring.
func (c *Client) Keys() *KeyRing {
	return c.keys
}

// BreakerState returns the transport breaker state.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	OutputText string `json:"output_text"`
	Answer     string `json:"answer"`
}

func (r *chatResponse) content() string {
	if len(r.Choices) > 0 && r.Choices[0].Message.Content != "" {
		return r.Choices[0].Message.Content
	}
	if r.OutputText != "" {
		return r.OutputText
	}
	return r.Answer
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	Message string `json:"message"`
}

// Evaluate sends the payload and parses the returned decision.
func (c *Client) Evaluate(ctx context.Context, payload domain.OraclePayload) (*domain.Decision, error) {
	start := time.Now()
	dec, err := c.evaluate(ctx, payload)
	c.metrics.RecordOracleCall(time.Since(start), err)
	return dec, err
}

func (c *Client) evaluate(ctx context.Context, payload domain.OraclePayload) (*domain.Decision, error) {
	user, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.complete(ctx, string(user))
	})
	if err != nil {
		return nil, fmt.Errorf("oracle %s: %w", payload.Symbol, err)
	}

	text := out.(string)
	if text == "" {
		return nil, fmt.Errorf("oracle %s: %w", payload.Symbol, ErrEmptyContent)
	}
	dec, err := ParseDecision(text)
	if err != nil {
		return nil, fmt.Errorf("oracle %s: %w", payload.Symbol, err)
	}
	return dec, nil
}

// complete tries each usable key at most once and returns the message content
// of the first successful response.
func (c *Client) complete(ctx context.Context, user string) (string, error) {
	body := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: SystemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: c.temperature,
	}

	tried := make(map[string]bool)
	var lastErr error
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		key, ok := c.keys.Next()
		if !ok || tried[key] {
			if lastErr != nil {
				return "", fmt.Errorf("%w: last error: %v", ErrNoAPIKeys, lastErr)
			}
			return "", ErrNoAPIKeys
		}
		tried[key] = true

		var res chatResponse
		resp, err := c.http.R().
			SetContext(ctx).
			SetAuthToken(key).
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			SetResult(&res).
			Post(completionsPath)
		if err != nil {
			c.keys.MarkError(key, StatusTransportError, err.Error())
			c.log.WithError(err).Warn("oracle request failed")
			lastErr = err
			continue
		}
		if resp.StatusCode() != 200 {
			msg := errorMessage(resp.Body())
			c.keys.MarkError(key, resp.StatusCode(), msg)
			c.log.WithFields(logrus.Fields{"status": resp.StatusCode(), "message": msg}).Warn("oracle key rejected")
			lastErr = fmt.Errorf("http %d: %s", resp.StatusCode(), msg)
			continue
		}

		c.keys.MarkSuccess(key)
		return res.content(), nil
	}
}

func errorMessage(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		if eb.Error.Message != "" {
			return eb.Error.Message
		}
		if eb.Message != "" {
			return eb.Message
		}
	}
	s := string(body)
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
