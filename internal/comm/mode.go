package comm

import "fmt"

// Mode tells the dispatcher which phase of which detection strategy is
// running. It decides how ambiguous records are read.
type Mode byte

const (
	ModeDetection    Mode = 'f' // feature vectors, cell counts, diffusion, decisions
	ModeLocalization Mode = 'b' // location broadcasts awaiting a check
	ModeResponse     Mode = 'r' // localization vote responses
)

// Valid reports whether m is one of the known modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeDetection, ModeLocalization, ModeResponse:
		return true
	}
	return false
}

func (m Mode) String() string {
	switch m {
	case ModeDetection:
		return "detection"
	case ModeLocalization:
		return "localization"
	case ModeResponse:
		return "response"
	}
	return fmt.Sprintf("mode(%q)", byte(m))
}
