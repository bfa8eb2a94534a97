package agents

import (
	"log/slog"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// locator is the older localization vote: robots broadcast where they
// think they are, neighbours check the claim against range and bearing and
// answer, and a robot that collects enough "wrong" answers is flagged.
type locator struct {
	r          *Robot
	cycleTicks uint64
	mode       comm.Mode
	cycleStart uint64

	responses []comm.Vote
	voters    map[string]bool
	votes     []bool
}

func newLocator(r *Robot) *locator {
	cycle := r.cfg.Timing.Ticks(r.cfg.Detection.CycleSeconds)
	if cycle == 0 {
		cycle = 1
	}
	return &locator{r: r, cycleTicks: cycle, mode: comm.ModeLocalization, voters: make(map[string]bool)}
}

func (l *locator) reset() {
	l.mode = comm.ModeLocalization
	l.responses = nil
	clear(l.voters)
	l.votes = nil
}

// step runs one tick: broadcast at cycle start, check claims heard the tick
// after, answer, then collect answers until the next cycle.
func (l *locator) step(inbox []comm.Datagram) error {
	r := l.r
	if r.tick%l.cycleTicks == 0 {
		pos := r.body.BelievedPosition()
		r.send(comm.Location{Sender: r.ID, X: pos.X, Y: pos.Y})
		l.mode = comm.ModeLocalization
		l.cycleStart = r.tick
	}

	if err := r.ProcessMessages(l.mode, inbox); err != nil {
		return err
	}

	if l.mode == comm.ModeLocalization && r.tick > l.cycleStart {
		if len(l.responses) > 0 {
			r.send(comm.Votes{Votes: l.responses})
			l.responses = nil
		}
		l.mode = comm.ModeResponse
	}

	if limit := r.cfg.Detection.VoteCap; limit > 0 && len(l.voters) >= limit {
		l.processVotes()
		clear(l.voters)
	}
	return nil
}

func (l *locator) onLocation(m comm.Location, dg comm.Datagram) {
	ok := l.r.LocalizationCheck(world.Vec2{X: m.X, Y: m.Y}, dg.Range, dg.Bearing)
	l.responses = append(l.responses, comm.Vote{Target: m.Sender, Voter: l.r.ID, Correct: ok})
}

func (l *locator) onVotes(m comm.Votes) {
	for _, v := range m.Votes {
		if v.Target != l.r.ID || l.voters[v.Voter] {
			continue
		}
		l.votes = append(l.votes, v.Correct)
		l.voters[v.Voter] = true
	}
}

// processVotes flags the robot when more voters saw a wrong position than
// a right one.
func (l *locator) processVotes() {
	r := l.r
	var right, wrong int
	for _, v := range l.votes {
		if v {
			right++
		} else {
			wrong++
		}
	}
	if right < wrong {
		r.faultDetected = true
	}
	switch {
	case r.faultInjected && r.fault != FaultNone && !r.faultDetected:
		slog.Info("false negative", "robot", r.ID, "right", right, "wrong", wrong)
	case !(r.faultInjected && r.fault != FaultNone) && r.faultDetected:
		slog.Info("false positive", "robot", r.ID, "right", right, "wrong", wrong)
	}
	l.votes = l.votes[:0]
}

// LocalizationCheck reports whether a neighbour's claimed position agrees
// with where range and bearing say the signal came from.
func (r *Robot) LocalizationCheck(claimed world.Vec2, rng, bearing float64) bool {
	adjusted := bearing + r.body.Heading()
	origin := r.body.BelievedPosition().Add(world.Polar(rng, adjusted))
	ok := claimed.DistanceTo(origin) < r.cfg.Detection.LocalizationTolerance
	if !ok {
		slog.Debug("localization mismatch",
			"robot", r.ID,
			"claimed", claimed.String(),
			"computed", origin.String(),
		)
	}
	return ok
}
