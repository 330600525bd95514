package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/beacon/backoff"
	"github.com/xraph/beacon/job"
	"github.com/xraph/beacon/lifecycle"
	"github.com/xraph/beacon/recorder"
)

type demoOptions struct {
	JobID    string
	Phases   []string
	Steps    int
	Interval time.Duration
}

func (o *demoOptions) defaults() {
	if o.JobID == "" {
		o.JobID = fmt.Sprintf("demo-%d", time.Now().Unix())
	}
	if len(o.Phases) == 0 {
		o.Phases = []string{"fetch", "parse", "index"}
	}
	if o.Steps <= 0 {
		o.Steps = 5
	}
	if o.Interval <= 0 {
		o.Interval = 200 * time.Millisecond
	}
}

// runDemo drives one job through every phase, logging through the
// recorder's slog bridge. An interrupted run completes as a failure.
func runDemo(ctx context.Context, coord *lifecycle.Coordinator, rec *recorder.Recorder, o demoOptions) error {
	o.defaults()
	jobID := o.JobID

	wlog := slog.New(recorder.NewHandler(rec, logger.Handler(),
		recorder.WithComponent("demo"),
		recorder.WithLevel(slog.LevelInfo),
	))
	ctx = recorder.WithJob(ctx, jobID)

	if err := coord.StartJob(ctx, jobID); err != nil {
		return err
	}

	total := int64(len(o.Phases) * o.Steps)
	var done int64
	for _, phase := range o.Phases {
		if err := coord.AdvancePhase(ctx, jobID, phase, "entering "+phase); err != nil {
			return err
		}
		for i := 1; i <= o.Steps; i++ {
			if !backoff.Sleep(ctx, o.Interval) {
				return coord.CompleteJob(context.WithoutCancel(ctx), jobID, job.StatusFailure, "interrupted")
			}
			done++
			wlog.InfoContext(ctx, fmt.Sprintf("%s: item %d/%d done", phase, i, o.Steps),
				slog.String("phase", phase),
				slog.Int("item", i),
			)
			if err := coord.ReportProgress(ctx, jobID, done, total, ""); err != nil {
				return err
			}
		}
	}
	return coord.CompleteJob(ctx, jobID, job.StatusSuccess, "all phases complete")
}
