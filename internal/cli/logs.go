package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"stripekit/internal/tracking"
	"stripekit/internal/utils"
)

func newLogsCommand(a *app) *cobra.Command {
	var (
		filter  tracking.Filter
		since   time.Duration
		summary bool
		asJSON  bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the persistent request log",
		Example: `  stripekit logs --status failed --limit 20
  stripekit logs --path /v1/refunds --since 24h
  stripekit logs --summary --since 168h`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !a.cfg.RequestLog.Enabled {
				return fmt.Errorf("request log is disabled, set request_log.enabled in %s", a.configPath)
			}
			switch filter.Status {
			case "", tracking.StatusSuccess, tracking.StatusFailed:
			default:
				return fmt.Errorf("--status must be %q or %q", tracking.StatusSuccess, tracking.StatusFailed)
			}
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}

			tracker, err := a.openTracker()
			if err != nil {
				return err
			}
			defer a.closeTracker(tracker)

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			if summary {
				s, err := tracker.Summary(ctx, filter.Since)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(out, s)
				}
				return printSummary(out, s)
			}

			logs, err := tracker.GetRequestLogs(ctx, filter)
			if err != nil {
				return err
			}
			if asJSON {
				if logs == nil {
					logs = []tracking.RequestLog{}
				}
				return writeJSON(out, logs)
			}
			total, err := tracker.CountRequestLogs(ctx, filter)
			if err != nil {
				return err
			}
			return printRequestLogs(out, logs, total)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&filter.Status, "status", "", "success or failed")
	flags.StringVar(&filter.Method, "method", "", "HTTP method")
	flags.StringVar(&filter.Path, "path", "", "path prefix, e.g. /v1/refunds")
	flags.DurationVar(&since, "since", 0, "only calls started within this duration, e.g. 24h")
	flags.IntVar(&filter.Limit, "limit", 20, "maximum rows")
	flags.IntVar(&filter.Offset, "offset", 0, "rows to skip")
	flags.BoolVar(&summary, "summary", false, "print aggregate counts instead of rows")
	flags.BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func printRequestLogs(w io.Writer, logs []tracking.RequestLog, total int64) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMETHOD\tPATH\tSTATUS\tHTTP\tATTEMPTS\tDURATION\tERROR")
	for _, l := range logs {
		errText := "-"
		if l.Status == tracking.StatusFailed {
			errText = l.ErrorKind
			if l.ErrorCode != "" {
				errText += "/" + l.ErrorCode
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			l.StartTime.Format("2006-01-02 15:04:05"),
			l.Method,
			utils.Truncate(l.Path, 48),
			l.Status,
			l.HTTPStatus,
			l.Attempts,
			utils.FormatResponseTime(l.Duration),
			errText)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d of %d records\n", len(logs), total)
	return err
}

func printSummary(w io.Writer, s *tracking.Summary) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Total calls:\t%d\n", s.Total)
	fmt.Fprintf(tw, "Succeeded:\t%d (%s)\n", s.Succeeded, utils.FormatPercentage(s.Succeeded, s.Total))
	fmt.Fprintf(tw, "Failed:\t%d (%s)\n", s.Failed, utils.FormatPercentage(s.Failed, s.Total))
	fmt.Fprintf(tw, "Retried calls:\t%d\n", s.Retried)
	fmt.Fprintf(tw, "Extra attempts:\t%d\n", s.ExtraAttempts)
	fmt.Fprintf(tw, "Avg duration:\t%s\n",
		utils.FormatResponseTime(time.Duration(s.AvgDurationMs*float64(time.Millisecond))))

	if len(s.ErrorCodes) > 0 {
		codes := make([]string, 0, len(s.ErrorCodes))
		for code := range s.ErrorCodes {
			codes = append(codes, code)
		}
		sort.Slice(codes, func(i, j int) bool {
			if s.ErrorCodes[codes[i]] != s.ErrorCodes[codes[j]] {
				return s.ErrorCodes[codes[i]] > s.ErrorCodes[codes[j]]
			}
			return codes[i] < codes[j]
		})
		fmt.Fprintln(tw, "Error codes:\t")
		for _, code := range codes {
			fmt.Fprintf(tw, "  %s\t%d\n", code, s.ErrorCodes[code])
		}
	}
	return tw.Flush()
}
