package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/rcliao/memtier/internal/tier"
)

// TierStatus describes one tier.
type TierStatus struct {
	Tier       tier.Tier `json:"-"`
	Name       string    `json:"name"`
	Number     int       `json:"number"`
	Configured bool      `json:"configured"`
	Enabled    bool      `json:"enabled"`
	Available  bool      `json:"available"`
	Writes     int64     `json:"writes"`
	Failures   int64     `json:"failures"`

	// Size is the number of entries the tier holds, or -1 when it cannot
	// report one.
	Size int64 `json:"size"`
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	Running         bool         `json:"running"`
	Tiers           []TierStatus `json:"tiers"`
	QueueDepth      int          `json:"queue_depth"`
	QueueCapacity   int          `json:"queue_capacity"`
	QueueRejected   int64        `json:"queue_rejected"`
	QueueSpilled    int64        `json:"queue_spilled"`
	LocalRecords    int          `json:"local_records"`
	TotalEverStored int64        `json:"total_ever_stored"`
	MirrorRecords   int          `json:"mirror_records"`
}

type mirrorCounter interface {
	MirrorCount(ctx context.Context) int
}

// Status reports tier, queue, and store state.
func (o *Orchestrator) Status(ctx context.Context) Status {
	o.mu.Lock()
	running := o.running
	o.mu.Unlock()

	s := Status{
		Running:       running,
		QueueDepth:    o.queue.Len(),
		QueueCapacity: o.queue.Cap(),
		QueueRejected: o.queue.Rejected(),
		QueueSpilled:  o.queue.Spilled(),
		MirrorRecords: -1,
	}
	if o.records != nil {
		s.LocalRecords = o.records.Len()
		s.TotalEverStored = o.records.TotalEverStored()
	}

	for _, t := range tier.All {
		st := o.tiers[t]
		ts := TierStatus{
			Tier:       t,
			Name:       t.String(),
			Number:     int(t),
			Configured: st.backend != nil,
			Enabled:    st.enabled.Load(),
			Writes:     st.writes.Load(),
			Failures:   st.failures.Load(),
			Size:       -1,
		}
		if st.backend != nil {
			ts.Available = st.backend.Available()
			if sz, ok := st.backend.(tier.Sizer); ok {
				ts.Size = sz.Size()
			}
			if mc, ok := st.backend.(mirrorCounter); ok {
				s.MirrorRecords = mc.MirrorCount(ctx)
			}
		}
		s.Tiers = append(s.Tiers, ts)
	}
	return s
}

func (s Status) String() string {
	var b strings.Builder
	state := "stopped"
	if s.Running {
		state = "running"
	}
	fmt.Fprintf(&b, "worker: %s\n", state)
	fmt.Fprintf(&b, "queue: %d/%d (rejected %d, spilled %d)\n",
		s.QueueDepth, s.QueueCapacity, s.QueueRejected, s.QueueSpilled)
	fmt.Fprintf(&b, "records: %d live, %d ever stored\n", s.LocalRecords, s.TotalEverStored)
	if s.MirrorRecords >= 0 {
		fmt.Fprintf(&b, "mirror: %d records\n", s.MirrorRecords)
	}
	b.WriteString("\n")

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIER\tNAME\tENABLED\tAVAILABLE\tWRITES\tFAILURES\tSIZE")
	for _, t := range s.Tiers {
		size := "-"
		if t.Size >= 0 {
			size = fmt.Sprint(t.Size)
		}
		enabled := yesNo(t.Enabled)
		if !t.Configured {
			enabled = "unconfigured"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\n",
			t.Number, t.Name, enabled, yesNo(t.Available), t.Writes, t.Failures, size)
	}
	w.Flush()
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
