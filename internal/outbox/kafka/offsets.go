package kafka

import (
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"lamport/internal/outbox"
)

type inflightRecord struct {
	rec         *kgo.Record
	acked       bool
	deliveredAt time.Time
}

// offsetTracker follows delivered records of one partition in fetch order.
type offsetTracker struct {
	inflight []*inflightRecord
	byOffset map[int64]*inflightRecord
	// rewoundTo is the offset the partition was seeked back to, -1 otherwise.
	// Records fetched before the seek are dropped until it arrives.
	rewoundTo int64
	paused    bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{byOffset: make(map[int64]*inflightRecord), rewoundTo: -1}
}

// delivered starts tracking r and reports whether it should be handed out.
func (t *offsetTracker) delivered(r *kgo.Record, now time.Time) bool {
	if t.rewoundTo >= 0 {
		if r.Offset != t.rewoundTo {
			return false
		}
		t.rewoundTo = -1
	}
	if _, ok := t.byOffset[r.Offset]; ok {
		return false
	}
	in := &inflightRecord{rec: r, deliveredAt: now}
	t.inflight = append(t.inflight, in)
	t.byOffset[r.Offset] = in
	return true
}

// ack marks offset done and returns the last record of the acknowledged
// prefix when the prefix grew, nil otherwise.
func (t *offsetTracker) ack(offset int64) (*kgo.Record, error) {
	in, ok := t.byOffset[offset]
	if !ok {
		return nil, outbox.ErrUnknownDelivery
	}
	in.acked = true

	var last *kgo.Record
	for len(t.inflight) > 0 && t.inflight[0].acked {
		last = t.inflight[0].rec
		delete(t.byOffset, last.Offset)
		t.inflight[0] = nil
		t.inflight = t.inflight[1:]
	}
	return last, nil
}

// stuck returns the head record when it has waited for an ack at least idle.
func (t *offsetTracker) stuck(now time.Time, idle time.Duration) (*kgo.Record, bool) {
	if len(t.inflight) == 0 {
		return nil, false
	}
	head := t.inflight[0]
	if head.acked || now.Sub(head.deliveredAt) < idle {
		return nil, false
	}
	return head.rec, true
}

// rewind forgets everything in flight; fetching resumes at offset.
func (t *offsetTracker) rewind(offset int64) {
	t.inflight = nil
	t.byOffset = make(map[int64]*inflightRecord)
	t.rewoundTo = offset
}

func (t *offsetTracker) full(max int) bool {
	return len(t.inflight) >= max
}
