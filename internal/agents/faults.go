package agents

import (
	"fmt"
	"log/slog"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/metrics"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// InjectFault applies a sensor fault by numeric code. Codes outside 0..5
// return ErrInvalidFaultCode; P_BIAS, FREEZE, T_LOSS and DRIFT are known
// but return ErrUnsupportedFault. Reinjecting the active fault is a no-op.
func (r *Robot) InjectFault(code int) error {
	ft, err := ParseFaultCode(code)
	if err != nil {
		return err
	}
	if r.faultInjected && r.fault == ft {
		return nil
	}

	var offset world.Vec2
	switch ft {
	case FaultNone:
	case FaultCBias:
		offset = world.Polar(r.cfg.Faults.OffsetDistance, r.rng.Angle())
	default:
		return fmt.Errorf("inject %s into %s: %w", ft, r.ID, ErrUnsupportedFault)
	}

	r.body.SetPositionOffset(offset)
	r.fault = ft
	r.faultInjected = true
	metrics.FaultsInjected.WithLabelValues(ft.String()).Inc()
	slog.Info("fault injected", "robot", r.ID, "type", ft.String(), "offset", offset.String())
	return nil
}

// ClearFault removes any injected fault. Clearing a healthy robot is a no-op.
func (r *Robot) ClearFault() {
	if !r.faultInjected {
		return
	}
	r.body.SetPositionOffset(world.Vec2{})
	r.fault = FaultNone
	r.faultInjected = false
	slog.Info("fault cleared", "robot", r.ID)
}
