package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/beacon/event"
)

// Attribute keys the Handler lifts out of a record.
const (
	AttrJobID     = "job_id"
	AttrComponent = "component"
)

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithLevel sets the minimum level turned into events. Records below it
// still reach the fallback handler if it accepts them.
func WithLevel(l slog.Leveler) HandlerOption {
	return func(h *Handler) { h.level = l }
}

// WithComponent sets the component used when a record has none.
func WithComponent(c string) HandlerOption {
	return func(h *Handler) { h.component = c }
}

// Handler is a slog.Handler that turns a worker's log records into Log
// events for its job and forwards every record to a fallback handler.
//
// The job comes from WithJob on the record's context or from a job_id
// attribute. Records without a job, and records whose context carries
// the Internal marker, only reach the fallback; the recorder's own
// diagnostics therefore cannot loop back into the pipeline.
type Handler struct {
	rec       *Recorder
	fallback  slog.Handler
	level     slog.Leveler
	component string
	jobID     string
	attrs     []slog.Attr // pre-resolved, keys already qualified by group
	group     string      // dotted prefix for later attrs
}

// NewHandler creates a Handler writing to rec and forwarding to fallback.
func NewHandler(rec *Recorder, fallback slog.Handler, opts ...HandlerOption) *Handler {
	h := &Handler{
		rec:      rec,
		fallback: fallback,
		level:    slog.LevelInfo,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() || h.fallback.Enabled(ctx, l)
}

// Handle implements slog.Handler.
func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if h.fallback.Enabled(ctx, r.Level) {
		if err := h.fallback.Handle(ctx, r); err != nil {
			return err
		}
	}
	if IsInternal(ctx) || r.Level < h.level.Level() {
		return nil
	}

	jobID, component := h.jobID, h.component
	if id, ok := JobFromContext(ctx); ok {
		jobID = id
	}

	data := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		data[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		a.Value = a.Value.Resolve()
		switch {
		case h.group == "" && a.Key == AttrJobID:
			jobID = a.Value.String()
		case h.group == "" && a.Key == AttrComponent:
			component = a.Value.String()
		default:
			flatten(data, h.group, a)
		}
		return true
	})
	if jobID == "" {
		return nil
	}
	if len(data) == 0 {
		data = nil
	}

	at := r.Time
	if at.IsZero() {
		at = time.Now()
	}
	h.rec.Record(ctx, event.Event{
		JobID:      jobID,
		OccurredAt: at.UTC(),
		Component:  component,
		Payload:    event.Log{Level: levelOf(r.Level), Message: r.Message},
		Data:       data,
	})
	return nil
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := h.clone()
	c.fallback = h.fallback.WithAttrs(attrs)
	for _, a := range attrs {
		a.Value = a.Value.Resolve()
		switch {
		case h.group == "" && a.Key == AttrJobID:
			c.jobID = a.Value.String()
		case h.group == "" && a.Key == AttrComponent:
			c.component = a.Value.String()
		default:
			m := map[string]any{}
			flatten(m, h.group, a)
			for k, v := range m {
				c.attrs = append(c.attrs, slog.Any(k, v))
			}
		}
	}
	return c
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	c := h.clone()
	c.fallback = h.fallback.WithGroup(name)
	c.group = qualify(h.group, name)
	return c
}

func (h *Handler) clone() *Handler {
	c := *h
	c.attrs = append([]slog.Attr(nil), h.attrs...)
	return &c
}

func flatten(dst map[string]any, prefix string, a slog.Attr) {
	if a.Equal(slog.Attr{}) {
		return
	}
	if a.Value.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = qualify(prefix, a.Key)
		}
		for _, ga := range a.Value.Group() {
			flatten(dst, p, ga)
		}
		return
	}
	v := a.Value.Any()
	switch tv := v.(type) {
	case error:
		v = tv.Error()
	case time.Duration:
		v = tv.String()
	}
	dst[qualify(prefix, a.Key)] = v
}

func qualify(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}

func levelOf(l slog.Level) event.Level {
	switch {
	case l < slog.LevelInfo:
		return event.LevelDebug
	case l < slog.LevelWarn:
		return event.LevelInfo
	case l < slog.LevelError:
		return event.LevelWarn
	default:
		return event.LevelError
	}
}
