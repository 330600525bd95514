// Package beacon relays progress and log events from long-running
// background jobs to observing clients in near real time.
//
// A job worker records events through a [recorder.Recorder]; each event
// is appended to a bounded, expiring per-job log (the event store) and
// published on one of three fixed bus channels. The [relay.Relay]
// consumes those channels, drops malformed, throttled and duplicate
// envelopes, batches the rest and pushes them to connected sessions.
// Clients reconcile a catch-up query with the live push stream and fall
// back to polling when push is unavailable.
//
// # Quick Start
//
//	st := memory.New(memory.WithMaxEvents(100), memory.WithTTL(time.Hour))
//	b := bus.NewMemory()
//	rec := recorder.New(st, b)
//	coord := lifecycle.New(st, rec)
//
//	r := relay.New(b, relay.WithBatchDelay(50*time.Millisecond))
//	go r.Run(ctx)
//
//	srv := server.New(st, r)
//	go srv.ListenAndServe(ctx, ":8080", 5*time.Second)
//
//	_ = coord.StartJob(ctx, "job-42")
//	_ = coord.AdvancePhase(ctx, "job-42", "fetch", "fetching sources")
//
// Viewers follow a job with [reconcile.Reconciler] over [client.Client],
// or run "beacon tail".
//
// # Architecture
//
// Every subsystem defines its own store interface (event.Store,
// job.Store); a single backend (memory or Redis) implements both.
// Publisher and relay agree on channel names through the constants in
// the event package.
package beacon
