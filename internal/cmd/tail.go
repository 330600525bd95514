package cmd

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xraph/beacon/client"
	"github.com/xraph/beacon/event"
	"github.com/xraph/beacon/reconcile"
	"github.com/xraph/beacon/wire"
)

var (
	tailServer string
	tailFormat string
)

var tailCmd = &cobra.Command{
	Use:   "tail [job-id]",
	Short: "Follow a job's events",
	Long: `Follow a job's events from a beacon server. Without a job ID the
server's active job is followed. The viewer catches up on connect, then
renders pushed events, falling back to polling while push is down.

Examples:
  beacon tail                       # follow the active job
  beacon tail import-42 --format msgpack`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().StringVar(&tailServer, "server", "http://localhost:8080", "Server base URL")
	tailCmd.Flags().StringVar(&tailFormat, "format", wire.CodecNameJSON, "Stream format (json, msgpack)")
}

func runTail(cmd *cobra.Command, args []string) error {
	c := client.New(tailServer, client.WithFormat(tailFormat), client.WithLogger(logger))

	opts := append(reconcile.OptionsFromConfig(cfg), reconcile.WithLogger(logger))
	if len(args) == 1 {
		opts = append(opts, reconcile.WithJob(args[0]))
	}
	r := reconcile.New(reconcile.FromClient(c), opts...)
	r.Observe(&printer{w: cmd.OutOrStdout()}, 100)

	return r.Run(cmd.Context())
}

// printer renders events and state changes as text lines.
type printer struct {
	w io.Writer
}

func (p *printer) Name() string { return "printer" }

func (p *printer) OnEvent(_ context.Context, evt event.Event, _ reconcile.Mode) error {
	_, err := fmt.Fprintln(p.w, formatEvent(evt))
	return err
}

func (p *printer) OnStateChange(_ context.Context, _, to reconcile.State) error {
	_, err := fmt.Fprintf(p.w, "-- %s --\n", to)
	return err
}

// formatEvent renders one event as a single line.
func formatEvent(evt event.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-8s", evt.OccurredAt.Local().Format("15:04:05.000"), evt.JobID)

	switch p := evt.Payload.(type) {
	case event.Log:
		fmt.Fprintf(&b, " %-5s", strings.ToUpper(string(p.Level)))
	case event.Phase:
		fmt.Fprintf(&b, " PHASE %s", p.Phase)
	case event.Progress:
		fmt.Fprintf(&b, " %d/%d", p.Current, p.Total)
	case event.Status:
		fmt.Fprintf(&b, " STATUS %s", p.Status)
		if p.Reason != "" {
			fmt.Fprintf(&b, " (%s)", p.Reason)
		}
	}
	if evt.Component != "" {
		fmt.Fprintf(&b, " [%s]", evt.Component)
	}
	if evt.Payload != nil && evt.Payload.Text() != "" {
		b.WriteString(" " + evt.Payload.Text())
	}

	if len(evt.Data) > 0 {
		keys := make([]string, 0, len(evt.Data))
		for k := range evt.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, evt.Data[k])
		}
	}
	return b.String()
}
