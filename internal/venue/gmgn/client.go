// Package gmgn implements the execution router over the GMGN Solana swap API.
package gmgn

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"solana-hype-trader/internal/execution"
	"solana-hype-trader/internal/logging"
)

// DefaultBaseURL is the public GMGN API host.
const DefaultBaseURL = "https://gmgn.ai"

const (
	routePath  = "/defi/router/v1/sol/tx/get_swap_route"
	submitPath = "/txproxy/v1/send_transaction"
	statusPath = "/defi/router/v1/sol/tx/get_transaction_status"
)

// Default client settings.
const (
	DefaultTimeout        = 20 * time.Second
	DefaultRequestsPerSec = 2.0
	DefaultRetryCount     = 2
)

// ErrAPI is returned when the API answers with a non-zero code.
var ErrAPI = errors.New("gmgn api error")

// Options configures a Client.
type Options struct {
	BaseURL        string  // default DefaultBaseURL
	Timeout        time.Duration
	RequestsPerSec float64 // default DefaultRequestsPerSec
	RetryCount     int     // transport retries, default DefaultRetryCount; negative disables
	Logger         logrus.FieldLogger
}

// Client is an execution.Router backed by GMGN.
type Client struct {
	http    *resty.Client
	limiter *rate.Limiter
	log     logrus.FieldLogger
}

var _ execution.Router = (*Client)(nil)

// NewClient creates a Client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.RequestsPerSec <= 0 {
		opts.RequestsPerSec = DefaultRequestsPerSec
	}
	retries := opts.RetryCount
	if retries == 0 {
		retries = DefaultRetryCount
	}
	if retries < 0 {
		retries = 0
	}

	httpClient := resty.New().
		SetBaseURL(opts.BaseURL).
		SetTimeout(opts.Timeout).
		SetRetryCount(retries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
		})

	return &Client{
		http:    httpClient,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSec), 1),
		log:     logging.Component(opts.Logger, "gmgn"),
	}
}

// envelope is the common response wrapper.
type envelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type routeData struct {
	Quote json.RawMessage `json:"quote"`
	RawTx struct {
		SwapTransaction      string      `json:"swapTransaction"`
		LastValidBlockHeight json.Number `json:"lastValidBlockHeight"`
	} `json:"raw_tx"`
}

type submitData struct {
	Hash string `json:"hash"`
}

type statusData struct {
	Success bool `json:"success"`
	Expired bool `json:"expired"`
	Failed  bool `json:"failed"`
}

// Quote fetches a swap route including the unsigned transaction.
func (c *Client) Quote(ctx context.Context, req execution.QuoteRequest) (*execution.Quote, error) {
	params := map[string]string{
		"token_in_address":  req.InToken,
		"token_out_address": req.OutToken,
		"in_amount":         strconv.FormatUint(req.Amount, 10),
		"from_address":      req.Trader,
		"slippage":          strconv.FormatFloat(req.SlippagePct, 'f', -1, 64),
	}
	if req.AntiMEV {
		params["is_anti_mev"] = "true"
	}
	if req.PriorityFeeSOL > 0 {
		params["fee"] = strconv.FormatFloat(req.PriorityFeeSOL, 'f', -1, 64)
	}

	env, err := c.do(ctx, "route", func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParams(params).Get(routePath)
	})
	if err != nil {
		return nil, err
	}

	var data routeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode route: %w", err)
	}

	fields := map[string]any{}
	if len(data.Quote) > 0 && string(data.Quote) != "null" {
		dec := json.NewDecoder(bytes.NewReader(data.Quote))
		dec.UseNumber()
		if err := dec.Decode(&fields); err != nil {
			return nil, fmt.Errorf("decode quote: %w", err)
		}
	}

	var lastValid uint64
	if data.RawTx.LastValidBlockHeight != "" {
		lastValid, err = strconv.ParseUint(data.RawTx.LastValidBlockHeight.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse last valid height: %w", err)
		}
	}

	return &execution.Quote{
		Fields:          fields,
		UnsignedTx:      data.RawTx.SwapTransaction,
		LastValidHeight: lastValid,
		Raw:             env.Data,
	}, nil
}

// Submit sends a signed transaction and returns its signature.
func (c *Client) Submit(ctx context.Context, signedTx string, antiMEV bool) (string, error) {
	body := map[string]any{
		"chain":    "sol",
		"signedTx": signedTx,
	}
	if antiMEV {
		body["isAntiMev"] = true
	}

	env, err := c.do(ctx, "submit", func(r *resty.Request) (*resty.Response, error) {
		return r.SetHeader("Content-Type", "application/json").SetBody(body).Post(submitPath)
	})
	if err != nil {
		return "", err
	}

	var data submitData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("decode submit: %w", err)
	}
	if data.Hash == "" {
		return "", fmt.Errorf("%w: submit returned no hash", ErrAPI)
	}
	return data.Hash, nil
}

// Status reports the settlement status of a submitted transaction.
func (c *Client) Status(ctx context.Context, txRef string, lastValidHeight uint64) (execution.TxStatus, error) {
	params := map[string]string{
		"hash":              txRef,
		"last_valid_height": strconv.FormatUint(lastValidHeight, 10),
	}

	env, err := c.do(ctx, "status", func(r *resty.Request) (*resty.Response, error) {
		return r.SetQueryParams(params).Get(statusPath)
	})
	if err != nil {
		return "", err
	}

	var data statusData
	if len(env.Data) > 0 && string(env.Data) != "null" {
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return "", fmt.Errorf("decode status: %w", err)
		}
	}

	switch {
	case data.Success:
		return execution.TxConfirmed, nil
	case data.Expired:
		return execution.TxExpired, nil
	case data.Failed:
		return execution.TxFailed, nil
	default:
		return execution.TxPending, nil
	}
}

// do waits for the limiter, runs the request and unwraps the envelope.
func (c *Client) do(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error)) (*envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s: rate limit: %w", op, err)
	}

	var env envelope
	resp, err := send(c.http.R().SetContext(ctx).SetResult(&env))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s: http %d: %s", op, resp.StatusCode(), truncate(resp.String(), 200))
	}
	if env.Code != 0 {
		c.log.WithFields(logrus.Fields{"op": op, "code": env.Code, "msg": env.Msg}).Warn("router rejected request")
		return nil, fmt.Errorf("%w: %s: code %d: %s", ErrAPI, op, env.Code, env.Msg)
	}
	return &env, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
