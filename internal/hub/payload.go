package hub

import (
	"encoding/json"

	"github.com/roach88/tapsync/internal/engine"
	"github.com/roach88/tapsync/internal/routing"
)

// Outbound message types.
const (
	TypeState    = "state"
	TypeSettings = "settings"
	TypeError    = "error"
)

// Error messages sent to the originating session.
const (
	MsgInvalidJSON    = "Invalid JSON"
	MsgNotObject      = "Message must be a JSON object"
	MsgUnknownType    = "Unknown message type"
	MsgInvalidPayload = "Invalid payload"
	MsgUnavailable    = "Engine unavailable"
)

// StatePayload is the full tempo state as sent to sessions. BPM is the
// display value for the current rounding mode.
type StatePayload struct {
	Type          string  `json:"type"`
	BPM           float64 `json:"bpm"`
	Beat          int     `json:"beat"`
	Bar           int     `json:"bar"`
	Running       bool    `json:"running"`
	Metronome     bool    `json:"metronome"`
	RoundWholeBPM bool    `json:"round_whole_bpm"`
}

// SettingsPayload is the full routing table and display mode.
type SettingsPayload struct {
	Type          string                              `json:"type"`
	RoundWholeBPM bool                                `json:"round_whole_bpm"`
	Outputs       map[routing.Target]routing.Endpoint `json:"outputs"`
	Console       routing.ConsoleParams               `json:"ma3_osc"`
	Mapping       routing.MappingParams               `json:"heavym_osc"`
}

// ErrorPayload reports a rejected intent.
type ErrorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// NewStatePayload builds the state message for s.
func NewStatePayload(s engine.State) StatePayload {
	return StatePayload{
		Type:          TypeState,
		BPM:           s.DisplayBPM(),
		Beat:          s.Beat,
		Bar:           s.Bar,
		Running:       s.Running,
		Metronome:     s.Metronome,
		RoundWholeBPM: s.RoundWholeBPM,
	}
}

// NewSettingsPayload builds the settings message.
func NewSettingsPayload(s engine.State, t routing.Table) SettingsPayload {
	t = t.Clone()
	return SettingsPayload{
		Type:          TypeSettings,
		RoundWholeBPM: s.RoundWholeBPM,
		Outputs:       t.Endpoints,
		Console:       t.Console,
		Mapping:       t.Mapping,
	}
}

func encode(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		// Payloads are plain structs of JSON-safe values.
		panic("hub: encode payload: " + err.Error())
	}
	return data
}

func encodeError(message, detail string) []byte {
	return encode(ErrorPayload{Type: TypeError, Message: message, Detail: detail})
}
