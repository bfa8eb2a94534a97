package agents

import (
	"testing"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/comm"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/config"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/entropy"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/registry"
	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// fakeBody stands still unless moved by the test.
type fakeBody struct {
	pos      world.Vec2
	offset   world.Vec2
	heading  float64
	target   world.Vec2
	toNest   bool
	atTarget bool
	stopped  bool
}

func (b *fakeBody) BelievedPosition() world.Vec2 { return b.pos.Add(b.offset) }
func (b *fakeBody) TruePosition() world.Vec2     { return b.pos }
func (b *fakeBody) Heading() float64             { return b.heading }
func (b *fakeBody) Target() world.Vec2           { return b.target }
func (b *fakeBody) IsAtTarget() bool             { return b.atTarget }
func (b *fakeBody) Stop()                        { b.stopped = true }

func (b *fakeBody) SetTarget(p world.Vec2, headingToNest bool) {
	b.target = p
	b.toNest = headingToNest
}

func (b *fakeBody) SetPositionOffset(offset world.Vec2) { b.offset = offset }

// fakeRadio records broadcasts and serves a scripted inbox.
type fakeRadio struct {
	sent  [][]byte
	inbox []comm.Datagram
}

func (f *fakeRadio) Broadcast(payload []byte) { f.sent = append(f.sent, payload) }

func (f *fakeRadio) Receive() []comm.Datagram {
	in := f.inbox
	f.inbox = nil
	return in
}

// decoded returns every sent message as read in mode.
func (f *fakeRadio) decoded(t *testing.T, mode comm.Mode) []comm.Message {
	t.Helper()
	var out []comm.Message
	for _, p := range f.sent {
		m, err := comm.Decode(p, mode)
		if err != nil {
			t.Fatalf("decode %q: %v", p, err)
		}
		out = append(out, m)
	}
	return out
}

func testArena() *world.Arena {
	return world.NewArena(10, 10, world.Vec2{}, 0.25, 0.05)
}

func testConfig(mutate func(*config.Config)) *config.Config {
	cfg := config.Default()
	cfg.Detection.Enabled = false
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

type rig struct {
	robot *Robot
	body  *fakeBody
	radio *fakeRadio
	reg   *registry.Memory
}

func newRig(t *testing.T, mutate func(*config.Config)) *rig {
	t.Helper()
	cfg := testConfig(mutate)
	reg := registry.NewMemory(world.Vec2{}, cfg.Forage.PheromoneThreshold)
	t.Cleanup(func() { _ = reg.Close() })

	b := &fakeBody{}
	radio := &fakeRadio{}
	r := NewRobot("fb01", cfg, testArena(), b, radio, reg, entropy.New(1))
	t.Cleanup(r.Close)
	return &rig{robot: r, body: b, radio: radio, reg: reg}
}
