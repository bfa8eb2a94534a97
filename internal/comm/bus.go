package comm

import (
	"fmt"
	"sort"
	"sync"

	"github.com/MARSLab-UTRGV/ARGoS-Fault-Detection/internal/world"
)

// Datagram is a received payload with the range (meters) and bearing
// (radians, relative to the receiver's heading) measured by the sensor.
type Datagram struct {
	Payload []byte
	Range   float64
	Bearing float64
}

// Pose reports where an endpoint physically is. The bus always measures
// with ground truth; faults only corrupt what a robot believes.
type Pose interface {
	TruePosition() world.Vec2
	Heading() float64
}

// Radio is what a controller sees of the channel.
type Radio interface {
	Broadcast(payload []byte)
	Receive() []Datagram
}

// Bus is a broadcast medium with a range limit. Payloads queued during
// tick t are delivered by Deliver and read by receivers on tick t+1.
type Bus struct {
	rangeLimit float64

	mu        sync.Mutex
	endpoints map[string]*Endpoint
}

// NewBus creates a bus. rangeLimit <= 0 means unlimited range.
func NewBus(rangeLimit float64) *Bus {
	return &Bus{
		rangeLimit: rangeLimit,
		endpoints:  make(map[string]*Endpoint),
	}
}

// Attach registers a robot. Attaching the same id twice is an error.
func (b *Bus) Attach(id string, pose Pose) (*Endpoint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, dup := b.endpoints[id]; dup {
		return nil, fmt.Errorf("attach %s: already attached", id)
	}
	ep := &Endpoint{id: id, pose: pose}
	b.endpoints[id] = ep
	return ep, nil
}

// Deliver moves every queued payload into the inbox of each in-range
// receiver other than the sender. It returns the number of deliveries.
func (b *Bus) Deliver() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.endpoints))
	for id := range b.endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	type pending struct {
		from    *Endpoint
		payload []byte
	}
	var sends []pending
	for _, id := range ids {
		ep := b.endpoints[id]
		for _, p := range ep.drainOutbox() {
			sends = append(sends, pending{from: ep, payload: p})
		}
	}

	delivered := 0
	for _, s := range sends {
		from := s.from.pose.TruePosition()
		for _, id := range ids {
			rx := b.endpoints[id]
			if rx == s.from {
				continue
			}
			to := rx.pose.TruePosition()
			offset := from.Sub(to)
			dist := offset.Length()
			if b.rangeLimit > 0 && dist > b.rangeLimit {
				continue
			}
			rx.push(Datagram{
				Payload: s.payload,
				Range:   dist,
				Bearing: world.SignedNormalize(offset.Angle() - rx.pose.Heading()),
			})
			delivered++
		}
	}
	return delivered
}

// Endpoint is one robot's attachment to the bus.
type Endpoint struct {
	id   string
	pose Pose

	mu     sync.Mutex
	outbox [][]byte
	inbox  []Datagram
}

var _ Radio = (*Endpoint)(nil)

// ID returns the attached robot id.
func (e *Endpoint) ID() string { return e.id }

// Broadcast queues a payload for the next delivery.
func (e *Endpoint) Broadcast(payload []byte) {
	cp := append([]byte(nil), payload...)
	e.mu.Lock()
	e.outbox = append(e.outbox, cp)
	e.mu.Unlock()
}

// Receive drains everything delivered since the previous call.
func (e *Endpoint) Receive() []Datagram {
	e.mu.Lock()
	defer e.mu.Unlock()
	in := e.inbox
	e.inbox = nil
	return in
}

func (e *Endpoint) drainOutbox() [][]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := e.outbox
	e.outbox = nil
	return out
}

func (e *Endpoint) push(d Datagram) {
	e.mu.Lock()
	e.inbox = append(e.inbox, d)
	e.mu.Unlock()
}
