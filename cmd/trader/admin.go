package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"solana-hype-trader/internal/control"
	"solana-hype-trader/internal/domain"
	"solana-hype-trader/internal/risk"
)

const adminTimeout = 10 * time.Second

// adminClient talks to the admin API of a running trader.
type adminClient struct {
	http *resty.Client
}

func newAdminClient(baseURL string) *adminClient {
	return &adminClient{http: resty.New().SetBaseURL(baseURL).SetTimeout(adminTimeout)}
}

// call sends a request and decodes the JSON response into out.
func (c *adminClient) call(method, path string, query map[string]string, body, out any) error {
	req := c.http.R().SetQueryParams(query)
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if resp.IsError() {
		var e errorResponse
		if json.Unmarshal(resp.Body(), &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: http %d: %s", method, path, resp.StatusCode(), e.Error)
		}
		return fmt.Errorf("%s %s: http %d", method, path, resp.StatusCode())
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func positionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var open []*domain.Position
			if err := newAdminClient(serverURL).call("GET", "/positions", nil, nil, &open); err != nil {
				return err
			}
			printPositions(cmd.OutOrStdout(), open)
			return nil
		},
	}
}

func printPositions(w io.Writer, open []*domain.Position) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tQTY\tINVESTED\tHWM RET\tTP1\tTP2\tOPENED")
	for _, p := range open {
		fmt.Fprintf(tw, "%d\t%s\t%.6f\t%.4f\t%.2f%%\t%t\t%t\t%s\n",
			p.ID, p.Symbol, p.Quantity, p.Invested, p.HWMReturn*100, p.TP1Done, p.TP2Done,
			p.OpenedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func signalsCmd() *cobra.Command {
	var (
		symbol string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "signals",
		Short: "Show the latest evaluated signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			query := map[string]string{"limit": strconv.Itoa(limit)}
			if symbol != "" {
				query["symbol"] = symbol
			}
			var recs []*domain.SignalRecord
			if err := newAdminClient(serverURL).call("GET", "/signals", query, nil, &recs); err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tSYMBOL\tHYPE\tMARKET\tNEWS\tACTION\tWEIGHT\tOUTCOME")
			for _, r := range recs {
				fmt.Fprintf(tw, "%s\t%s\t%.2f\t%.2f\t%.2f\t%s\t%.4f\t%s\n",
					r.Timestamp.Format(time.RFC3339), r.Symbol, r.HypeScore, r.MarketScore, r.NewsScore,
					r.Action, r.Weight, r.Outcome)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().IntVar(&limit, "limit", defaultSignalLimit, "maximum records")
	return cmd
}

func breakerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect or control the trading circuit breaker",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return breakerCall(cmd, "GET", "/breaker", nil)
		},
	}
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Close the breaker and clear the manual override",
		RunE: func(cmd *cobra.Command, args []string) error {
			return breakerCall(cmd, "POST", "/breaker/reset", nil)
		},
	}

	var enabled bool
	override := &cobra.Command{
		Use:   "override",
		Short: "Force the breaker closed (--enabled) or restore normal operation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return breakerCall(cmd, "POST", "/breaker/override", map[string]string{"enabled": strconv.FormatBool(enabled)})
		},
	}
	override.Flags().BoolVar(&enabled, "enabled", true, "enable the manual override")

	cmd.AddCommand(status, reset, override)
	return cmd
}

func breakerCall(cmd *cobra.Command, method, path string, query map[string]string) error {
	var st risk.BreakerStatus
	if err := newAdminClient(serverURL).call(method, path, query, nil, &st); err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), st)
}

func controlCmd() *cobra.Command {
	var (
		dryRun   bool
		sizeSOL  float64
		sizeUSDC float64
		enable   []string
		disable  []string
	)
	cmd := &cobra.Command{
		Use:   "control",
		Short: "Show or change the runtime control state",
		Long: `Without flags the current state is printed. Flags patch the state of the
running trader; the change is persisted and survives restarts.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var p control.Patch
			if flags.Changed("dry-run") {
				p.DryRun = &dryRun
			}
			if flags.Changed("size-sol") {
				p.SizeSOL = &sizeSOL
			}
			if flags.Changed("size-usdc") {
				p.SizeUSDC = &sizeUSDC
			}
			if len(enable)+len(disable) > 0 {
				p.Sources = make(map[string]bool, len(enable)+len(disable))
				for _, s := range enable {
					p.Sources[s] = true
				}
				for _, s := range disable {
					p.Sources[s] = false
				}
			}

			client := newAdminClient(serverURL)
			var st control.State
			var err error
			if p.DryRun == nil && p.SizeSOL == nil && p.SizeUSDC == nil && p.Sources == nil {
				err = client.call("GET", "/control", nil, nil, &st)
			} else {
				err = client.call("POST", "/control", nil, p, &st)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "simulate executions")
	cmd.Flags().Float64Var(&sizeSOL, "size-sol", 0, "entry size in SOL")
	cmd.Flags().Float64Var(&sizeUSDC, "size-usdc", 0, "entry size in USDC")
	cmd.Flags().StringSliceVar(&enable, "enable", nil, "sources to enable ("+control.SourceBluesky+", "+control.SourceRSS+", ...)")
	cmd.Flags().StringSliceVar(&disable, "disable", nil, "sources to disable")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
