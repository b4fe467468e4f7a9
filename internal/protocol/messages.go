package protocol

import "encoding/json"

// RunHeader describes a run. It is the first record of a round log and the payload of
// the observer bootstrap endpoint.
type RunHeader struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	StartedAt       string `json:"started_at"`

	Seed          int64  `json:"seed"`
	SwarmSize     int    `json:"swarm_size"`
	InstructionMs int64  `json:"instruction_ms"`
	SimMs         int64  `json:"sim_ms"`
	MaxRounds     uint64 `json:"max_rounds,omitempty"`
	ErrorPolicy   string `json:"error_policy"`

	ScenarioName   string `json:"scenario_name,omitempty"`
	ScenarioDigest string `json:"scenario_digest"`
	// Scenario is the canonical scenario document, so a run can be re-simulated from
	// its log alone.
	Scenario json.RawMessage `json:"scenario,omitempty"`
}

// RoundMsg is emitted after every reported round.
type RoundMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Round           uint64 `json:"round"`
	SimTimeMs       int64  `json:"sim_time_ms"`

	Agents []AgentState `json:"agents"`
	Errors []AgentFault `json:"errors,omitempty"`
	Done   bool         `json:"done"`
	Digest string       `json:"digest"`
}

type AgentState struct {
	ID           int        `json:"id"`
	Pos          [2]float64 `json:"pos"`
	Target       [2]float64 `json:"target"`
	Heading      float64    `json:"heading"`
	Speed        float64    `json:"speed"`
	Signals      []string   `json:"signals,omitempty"`
	Region       string     `json:"region,omitempty"`
	Current      string     `json:"current,omitempty"`
	Depth        int        `json:"depth"`
	ContinuingMs int64      `json:"continuing_ms,omitempty"`
	Terminated   bool       `json:"terminated"`
}

// AgentFault is an execution error raised by one agent during a round.
type AgentFault struct {
	AgentID int    `json:"agent_id"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// DoneMsg closes a run.
type DoneMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	RunID           string `json:"run_id"`
	Rounds          uint64 `json:"rounds"`
	SwarmDone       bool   `json:"swarm_done"`
	Reason          string `json:"reason"`
	Digest          string `json:"digest"`
}

// Client -> Server. First message on the observer WS connection.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// EveryRounds thins the stream to one ROUND message per N rounds (final round always sent).
	EveryRounds int `json:"every_rounds,omitempty"`
	// Agents restricts AgentState entries to these ids; empty means all.
	Agents []int `json:"agents,omitempty"`
}

// HTTP response for GET /observer/v1/bootstrap.
type BootstrapResponse struct {
	ProtocolVersion string       `json:"protocol_version"`
	Run             RunHeader    `json:"run"`
	Round           uint64       `json:"round"`
	Regions         []RegionInfo `json:"regions"`
}

type RegionInfo struct {
	Label string    `json:"label"`
	Shape string    `json:"shape"`
	Args  []float64 `json:"args"`
}
