// Package observerproto defines the wire types for the live observer
// websocket. Observers are read-mostly: they subscribe for per-tick
// events and may send control commands that pace or stop the run.
package observerproto

import "savannah.ai/internal/sim/perturb"

// Version is the observer protocol version.
const Version = "0.1"

// Client -> Server. First message on the observer WS connection, and
// can be re-sent to update settings.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
}

// Client -> Server. Control commands pause, resume, single-step,
// re-pace, or stop the running simulation.
type ControlMsg struct {
	Type    string `json:"type"` // "control"
	Command string `json:"command"`
	DelayMs int    `json:"delay_ms,omitempty"` // with command "delay"
}

// Control commands.
const (
	CmdPause  = "pause"
	CmdResume = "resume"
	CmdStep   = "step"
	CmdDelay  = "delay"
	CmdStop   = "stop"
)

// Server -> Client. Sent once on subscribe.
type HelloMsg struct {
	Type            string `json:"type"` // "hello"
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	GridSize        int    `json:"grid_size"`
	Seed            int64  `json:"seed"`
	Tick            int    `json:"tick"`
}

// Server -> Client. Sent every completed tick.
type TickMsg struct {
	Type            string `json:"type"` // "tick"
	ProtocolVersion string `json:"protocol_version"`
	Tick            int    `json:"tick"`

	InferenceMs int64 `json:"inference_ms"`
	Paused      bool  `json:"paused,omitempty"`

	Agents        []AgentState    `json:"agents"`
	Food          []FoodState     `json:"food"`
	Perturbations []perturb.Event `json:"perturbations,omitempty"`
}

// AgentState is the public view of one agent. Memory contents are
// deliberately absent: observers see behavior, not stores.
type AgentState struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Pos         [2]int  `json:"pos"`
	Energy      float64 `json:"energy"`
	Alive       bool    `json:"alive"`
	Age         int     `json:"age"`
	Action      string  `json:"action,omitempty"`
	ParseFailed bool    `json:"parse_failed,omitempty"`
	Perturbed   bool    `json:"perturbed,omitempty"`
}

type FoodState struct {
	ID     string `json:"id"`
	Pos    [2]int `json:"pos"`
	Energy int    `json:"energy"`
}

// Server -> Client. Sent when the run finishes or is stopped.
type DoneMsg struct {
	Type      string `json:"type"` // "done"
	Tick      int    `json:"tick"`
	Survivors int    `json:"survivors"`
	Reason    string `json:"reason"`
}
