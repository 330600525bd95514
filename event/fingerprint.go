package event

import (
	"container/list"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/xxh3"
)

// DefaultBucket is the time bucket folded into fingerprints when no
// other bucket is configured.
const DefaultBucket = time.Second

// Fingerprint is the heuristic identity of an event: a hash of kind,
// job, payload and the time bucket it occurred in. Two emissions of the
// same message in the same bucket collide on purpose; the component is
// not part of the identity. It is not an
// ordering key.
type Fingerprint uint64

// String renders the fingerprint as fixed-width hex.
func (f Fingerprint) String() string {
	s := strconv.FormatUint(uint64(f), 16)
	for len(s) < 16 {
		s = "0" + s
	}
	return s
}

// FingerprintOf computes e's fingerprint using the given time bucket.
func FingerprintOf(e Event, bucket time.Duration) Fingerprint {
	if bucket <= 0 {
		bucket = DefaultBucket
	}
	var canonical string
	if e.Payload != nil {
		canonical = e.Payload.canonical()
	}
	slot := e.OccurredAt.UnixNano() / int64(bucket)

	h := xxh3.New()
	_, _ = h.WriteString(string(e.Kind()))
	_, _ = h.WriteString("\x1f")
	_, _ = h.WriteString(e.JobID)
	_, _ = h.WriteString("\x1f")
	_, _ = h.WriteString(canonical)
	_, _ = h.WriteString("\x1f")
	_, _ = h.WriteString(strconv.FormatInt(slot, 10))
	return Fingerprint(h.Sum64())
}

// Unique drops later events whose fingerprint matches an earlier one.
// Order is preserved.
func Unique(events []Event, bucket time.Duration) []Event {
	seen := make(map[Fingerprint]struct{}, len(events))
	out := events[:0:0]
	for _, e := range events {
		fp := FingerprintOf(e, bucket)
		if _, dup := seen[fp]; dup {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, e)
	}
	return out
}

// SortChronological orders events by OccurredAt, keeping arrival order
// for equal timestamps.
func SortChronological(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].OccurredAt.Before(events[j].OccurredAt)
	})
}

// Deduper remembers fingerprints for a window and reports repeats. The
// window is fixed from first sighting: a repeat does not extend it.
// Capacity bounds memory; the oldest fingerprints are forgotten first.
// It is safe for concurrent use.
type Deduper struct {
	window   time.Duration
	capacity int

	mu    sync.Mutex
	order *list.List // of *seenEntry, oldest first
	index map[Fingerprint]*list.Element
}

type seenEntry struct {
	fp Fingerprint
	at time.Time
}

// NewDeduper creates a Deduper. A non-positive capacity means 4096.
func NewDeduper(window time.Duration, capacity int) *Deduper {
	if capacity <= 0 {
		capacity = 4096
	}
	return &Deduper{
		window:   window,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[Fingerprint]*list.Element),
	}
}

// Seen records fp at now and reports whether it was already recorded
// within the window.
func (d *Deduper) Seen(fp Fingerprint, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.expire(now)

	if el, ok := d.index[fp]; ok {
		if now.Sub(el.Value.(*seenEntry).at) < d.window { //nolint:errcheck // list holds *seenEntry only
			return true
		}
		d.order.Remove(el)
		delete(d.index, fp)
	}

	d.index[fp] = d.order.PushBack(&seenEntry{fp: fp, at: now})
	for d.order.Len() > d.capacity {
		d.evict(d.order.Front())
	}
	return false
}

// Len returns the number of fingerprints currently remembered.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

func (d *Deduper) expire(now time.Time) {
	for el := d.order.Front(); el != nil; el = d.order.Front() {
		if now.Sub(el.Value.(*seenEntry).at) < d.window { //nolint:errcheck // list holds *seenEntry only
			return
		}
		d.evict(el)
	}
}

func (d *Deduper) evict(el *list.Element) {
	d.order.Remove(el)
	delete(d.index, el.Value.(*seenEntry).fp) //nolint:errcheck // list holds *seenEntry only
}
