package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

func localization(c *config.Config) {
	c.Detection.Enabled = true
	c.Detection.Strategy = "localization"
	c.Detection.CycleSeconds = 1
	c.Detection.VoteCap = 3
}

func TestLocalizationCheck(t *testing.T) {
	rg := newRig(t, localization)
	rg.body.pos = world.Vec2{X: 1, Y: 1}
	rg.body.heading = 0.5
	r := rg.robot

	// Neighbour 1 m due east of us, seen at bearing −0.5 relative to heading.
	assert.True(t, r.LocalizationCheck(world.Vec2{X: 2, Y: 1}, 1, -0.5))
	assert.True(t, r.LocalizationCheck(world.Vec2{X: 2.3, Y: 1}, 1, -0.5))
	assert.False(t, r.LocalizationCheck(world.Vec2{X: 2.5, Y: 1}, 1, -0.5), "boundary is exclusive")
	assert.False(t, r.LocalizationCheck(world.Vec2{X: 1, Y: 2}, 1, -0.5))
}

func TestLocalizationVotesFlagRobot(t *testing.T) {
	rg := newRig(t, localization)
	l := rg.robot.locator
	l.mode = comm.ModeResponse
	rg.robot.tick = 5

	votes := comm.Votes{Votes: []comm.Vote{
		{Target: "fb01", Voter: "fb02", Correct: false},
		{Target: "fb01", Voter: "fb02", Correct: true}, // duplicate voter
		{Target: "fb09", Voter: "fb03", Correct: false}, // someone else's
		{Target: "fb01", Voter: "fb03", Correct: false},
		{Target: "fb01", Voter: "fb04", Correct: true},
	}}
	require.NoError(t, l.step([]comm.Datagram{{Payload: comm.Frame(votes)}}))

	assert.True(t, rg.robot.FaultDetected())
	assert.Empty(t, l.voters, "voters cleared after processing")
}

func TestLocalizationRoundFindsOffsetRobot(t *testing.T) {
	sw := newSwarm(t, []world.Vec2{{}, {X: 0.5}, {Y: 0.5}, {X: 0.5, Y: 0.5}}, localization)
	faulty := sw.robots[0]
	faulty.body.SetPositionOffset(world.Vec2{X: 1})

	ctx := context.Background()
	for tick := 0; tick < 4; tick++ {
		sw.bus.Deliver()
		for _, r := range sw.robots {
			r.tick = uint64(tick)
			require.NoError(t, r.communicate(ctx))
		}
	}

	assert.True(t, faulty.FaultDetected())
	for _, r := range sw.robots[1:] {
		assert.False(t, r.FaultDetected(), r.ID)
	}
}
