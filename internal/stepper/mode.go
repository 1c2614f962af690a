package stepper

import "errors"

// ErrBusy is returned by structural setters while an engine is running in
// either mode.
var ErrBusy = errors.New("stepper: engine is busy")

// Mode is the execution mode an engine is currently in.
type Mode int

const (
	ModeIdle Mode = iota
	ModeContinuous
	ModeStep
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeContinuous:
		return "continuous"
	case ModeStep:
		return "step"
	default:
		return "unknown"
	}
}

// Status is the Idle|Running(mode) state of one engine instance together with
// the id of the session that is (or was last) running.
type Status struct {
	Mode  Mode   `json:"mode"`
	RunID string `json:"runId,omitempty"`
}

// Idle reports whether no mode is active.
func (s Status) Idle() bool {
	return s.Mode == ModeIdle
}
