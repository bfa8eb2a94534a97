package agents

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/metrics"
)

// ProcessMessages decodes every datagram in inbox under mode and hands it to
// the active detection strategy. Malformed records and records the mode
// does not expect are dropped; an unknown mode is an error.
func (r *Robot) ProcessMessages(mode comm.Mode, inbox []comm.Datagram) error {
	if !mode.Valid() {
		return fmt.Errorf("process messages in %s: %w", mode, ErrUnknownMode)
	}

	for _, dg := range inbox {
		msg, err := comm.Decode(dg.Payload, mode)
		if err != nil {
			reason := "malformed"
			if errors.Is(err, comm.ErrUnknownTag) {
				reason = "unknown_tag"
			}
			metrics.MessagesDropped.WithLabelValues(reason).Inc()
			slog.Warn("dropping message", "robot", r.ID, "mode", mode.String(), "error", err)
			continue
		}
		if !r.handle(mode, msg, dg) {
			metrics.MessagesDropped.WithLabelValues("unexpected").Inc()
			slog.Debug("unexpected message", "robot", r.ID, "mode", mode.String(), "tag", string(msg.Tag()))
		}
	}
	return nil
}

// handle routes one decoded message. It returns false when nothing in the
// current mode consumes it.
func (r *Robot) handle(mode comm.Mode, msg comm.Message, dg comm.Datagram) bool {
	d, l := r.detector, r.locator
	switch m := msg.(type) {
	case comm.Ping:
		if d == nil || mode != comm.ModeDetection {
			return false
		}
		d.ranges = append(d.ranges, dg.Range)
	case comm.FeatureBits:
		if d == nil {
			return false
		}
		d.onFeatureBits(m)
	case comm.CellCount:
		if d == nil {
			return false
		}
		d.onCellCount(m)
	case comm.Cells:
		if d == nil {
			return false
		}
		d.onCells(m)
	case comm.Decision:
		if d == nil {
			return false
		}
		d.onDecision(m)
	case comm.Location:
		if l == nil || mode != comm.ModeLocalization {
			return false
		}
		l.onLocation(m, dg)
	case comm.Votes:
		if l == nil || mode != comm.ModeResponse {
			return false
		}
		l.onVotes(m)
	default:
		return false
	}
	return true
}
