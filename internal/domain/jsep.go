package domain

import "encoding/json"

// JSEP is a session description envelope (offer or answer). The signaling
// core carries it between the gateway and the local media engine without
// inspecting the SDP.
type JSEP struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

func (j JSEP) IsEmpty() bool { return j.SDP == "" }

// Candidate is a trickled ICE candidate, carried opaquely as the JSON object
// the media engine produced (or the gateway sent).
type Candidate = json.RawMessage
