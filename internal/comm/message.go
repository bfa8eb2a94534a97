// Package comm implements the swarm's text datagram protocol and the
// in-memory radio that carries it between robots.
//
// A datagram is a comma-separated record whose first field is a one-letter
// tag. Senders append a trailing comma and NUL-pad to PacketSize; decoders
// accept both padded and bare records.
package comm

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PacketSize is the fixed range-and-bearing payload size in bytes.
const PacketSize = 192

var (
	// ErrMalformed marks a record whose field count or values are wrong.
	ErrMalformed = errors.New("malformed message")
	// ErrUnknownTag marks a record with an unrecognised type tag.
	ErrUnknownTag = errors.New("unknown message tag")
)

// Tag is the first field of every datagram.
type Tag byte

const (
	TagBroadcast Tag = 'b' // location or feature-vector broadcast
	TagPing      Tag = 'p' // proximity ping
	TagCellCount Tag = 'c' // advertised total cell count
	TagCells     Tag = 's' // diffused cell payload
	TagDecision  Tag = 'd' // per-vector fault decisions
	TagVote      Tag = 'r' // localization vote responses
)

// Message is any decoded datagram.
type Message interface {
	Tag() Tag
	Encode() string
}

// Location is a "b,id,x,y" broadcast used by the localization check.
type Location struct {
	Sender string
	X, Y   float64
}

// FeatureBits is a "b,id,bit1,bit2" broadcast of a robot's feature vector.
type FeatureBits struct {
	Sender string
	Bits   []bool
}

// Ping is a "p,id" proximity ping.
type Ping struct {
	Sender string
}

// CellCount is a "c,id,T1|T2|..." advertisement of per-vector totals.
type CellCount struct {
	Sender string
	Totals []float64
}

// Total sums the advertised per-vector totals.
func (c CellCount) Total() float64 {
	sum := 0.0
	for _, t := range c.Totals {
		sum += t
	}
	return sum
}

// Cells is an "s,target,sender,E1|..,R1|.." diffusion payload.
type Cells struct {
	Target    string
	Sender    string
	Effector  []float64
	Regulator []float64
}

// Decision is a "d,id,FV:0|1,..." fault decision map.
type Decision struct {
	Sender    string
	Vectors   []string
	Decisions []bool
}

// Vote is one (target, voter, correct) triple of an "r" message.
type Vote struct {
	Target  string
	Voter   string
	Correct bool
}

// Votes is an "r,target,sender,bool,..." response batch.
type Votes struct {
	Votes []Vote
}

func (Location) Tag() Tag    { return TagBroadcast }
func (FeatureBits) Tag() Tag { return TagBroadcast }
func (Ping) Tag() Tag        { return TagPing }
func (CellCount) Tag() Tag   { return TagCellCount }
func (Cells) Tag() Tag       { return TagCells }
func (Decision) Tag() Tag    { return TagDecision }
func (Votes) Tag() Tag       { return TagVote }

func (m Location) Encode() string {
	return fmt.Sprintf("b,%s,%.3f,%.3f", m.Sender, m.X, m.Y)
}

func (m FeatureBits) Encode() string {
	var b strings.Builder
	b.WriteString("b,")
	b.WriteString(m.Sender)
	for _, bit := range m.Bits {
		b.WriteByte(',')
		b.WriteString(boolField(bit))
	}
	return b.String()
}

func (m Ping) Encode() string { return "p," + m.Sender }

func (m CellCount) Encode() string {
	return "c," + m.Sender + "," + joinFloats(m.Totals)
}

func (m Cells) Encode() string {
	return "s," + m.Target + "," + m.Sender + "," + joinFloats(m.Effector) + "," + joinFloats(m.Regulator)
}

func (m Decision) Encode() string {
	var b strings.Builder
	b.WriteString("d,")
	b.WriteString(m.Sender)
	for i, v := range m.Vectors {
		b.WriteByte(',')
		b.WriteString(v)
		b.WriteByte(':')
		b.WriteString(boolField(m.Decisions[i]))
	}
	return b.String()
}

func (m Votes) Encode() string {
	parts := make([]string, 0, 1+3*len(m.Votes))
	parts = append(parts, "r")
	for _, v := range m.Votes {
		parts = append(parts, v.Target, v.Voter, boolField(v.Correct))
	}
	return strings.Join(parts, ",")
}

// Frame pads an encoded record to PacketSize the way the range-and-bearing
// actuator expects. Records longer than PacketSize are sent unpadded.
func Frame(m Message) []byte {
	rec := m.Encode() + ","
	if len(rec) >= PacketSize {
		return []byte(rec)
	}
	buf := make([]byte, PacketSize)
	copy(buf, rec)
	return buf
}

// Decode parses one datagram. mode selects how an ambiguous "b" record is
// read: ModeDetection expects feature bits, the localization modes expect
// coordinates.
func Decode(payload []byte, mode Mode) (Message, error) {
	fields := splitFields(payload)
	if len(fields) == 0 || len(fields[0]) != 1 {
		return nil, fmt.Errorf("decode %q: %w", payload, ErrMalformed)
	}
	args := fields[1:]

	switch Tag(fields[0][0]) {
	case TagBroadcast:
		if mode == ModeDetection {
			return decodeFeatureBits(args)
		}
		return decodeLocation(args)
	case TagPing:
		if len(args) != 1 || args[0] == "" {
			return nil, fmt.Errorf("ping: %w", ErrMalformed)
		}
		return Ping{Sender: args[0]}, nil
	case TagCellCount:
		return decodeCellCount(args)
	case TagCells:
		return decodeCells(args)
	case TagDecision:
		return decodeDecision(args)
	case TagVote:
		return decodeVotes(args)
	default:
		return nil, fmt.Errorf("decode tag %q: %w", fields[0], ErrUnknownTag)
	}
}

// splitFields strips NUL padding and a trailing separator, then splits.
func splitFields(payload []byte) []string {
	s := string(payload)
	if i := strings.IndexByte(s, 0); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, ",")
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func decodeLocation(args []string) (Message, error) {
	if len(args) != 3 || args[0] == "" {
		return nil, fmt.Errorf("location: want 3 fields, got %d: %w", len(args), ErrMalformed)
	}
	x, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return nil, fmt.Errorf("location x: %w", ErrMalformed)
	}
	y, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return nil, fmt.Errorf("location y: %w", ErrMalformed)
	}
	return Location{Sender: args[0], X: x, Y: y}, nil
}

func decodeFeatureBits(args []string) (Message, error) {
	if len(args) < 2 || args[0] == "" {
		return nil, fmt.Errorf("feature bits: want id and bits: %w", ErrMalformed)
	}
	bits := make([]bool, 0, len(args)-1)
	for _, a := range args[1:] {
		b, err := parseBool(a)
		if err != nil {
			return nil, fmt.Errorf("feature bit %q: %w", a, ErrMalformed)
		}
		bits = append(bits, b)
	}
	return FeatureBits{Sender: args[0], Bits: bits}, nil
}

func decodeCellCount(args []string) (Message, error) {
	if len(args) != 2 || args[0] == "" {
		return nil, fmt.Errorf("cell count: want 2 fields, got %d: %w", len(args), ErrMalformed)
	}
	totals, err := splitFloats(args[1])
	if err != nil {
		return nil, fmt.Errorf("cell count totals: %w", err)
	}
	return CellCount{Sender: args[0], Totals: totals}, nil
}

func decodeCells(args []string) (Message, error) {
	if len(args) != 4 || args[0] == "" || args[1] == "" {
		return nil, fmt.Errorf("cells: want 4 fields, got %d: %w", len(args), ErrMalformed)
	}
	e, err := splitFloats(args[2])
	if err != nil {
		return nil, fmt.Errorf("cells effector: %w", err)
	}
	r, err := splitFloats(args[3])
	if err != nil {
		return nil, fmt.Errorf("cells regulator: %w", err)
	}
	if len(e) != len(r) {
		return nil, fmt.Errorf("cells: %d effector vs %d regulator values: %w", len(e), len(r), ErrMalformed)
	}
	return Cells{Target: args[0], Sender: args[1], Effector: e, Regulator: r}, nil
}

func decodeDecision(args []string) (Message, error) {
	if len(args) < 1 || args[0] == "" {
		return nil, fmt.Errorf("decision: missing sender: %w", ErrMalformed)
	}
	d := Decision{Sender: args[0]}
	for _, pair := range args[1:] {
		fv, val, ok := strings.Cut(pair, ":")
		if !ok || fv == "" {
			return nil, fmt.Errorf("decision pair %q: %w", pair, ErrMalformed)
		}
		b, err := parseBool(val)
		if err != nil {
			return nil, fmt.Errorf("decision value %q: %w", val, ErrMalformed)
		}
		d.Vectors = append(d.Vectors, fv)
		d.Decisions = append(d.Decisions, b)
	}
	return d, nil
}

func decodeVotes(args []string) (Message, error) {
	if len(args) == 0 || len(args)%3 != 0 {
		return nil, fmt.Errorf("votes: field count %d is not a multiple of 3: %w", len(args), ErrMalformed)
	}
	var v Votes
	for i := 0; i < len(args); i += 3 {
		b, err := parseBool(args[i+2])
		if err != nil {
			return nil, fmt.Errorf("vote value %q: %w", args[i+2], ErrMalformed)
		}
		v.Votes = append(v.Votes, Vote{Target: args[i], Voter: args[i+1], Correct: b})
	}
	return v, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func parseBool(s string) (bool, error) {
	switch s {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, ErrMalformed
	}
}

func joinFloats(vs []float64) string {
	parts := make([]string, len(vs))
	for i, v := range vs {
		parts[i] = strconv.FormatFloat(v, 'g', -1, 64)
	}
	return strings.Join(parts, "|")
}

func splitFloats(s string) ([]float64, error) {
	if s == "" {
		return nil, ErrMalformed
	}
	parts := strings.Split(s, "|")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return nil, fmt.Errorf("value %q: %w", p, ErrMalformed)
		}
		out[i] = v
	}
	return out, nil
}
