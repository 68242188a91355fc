package sherpa

import "github.com/go-json-experiment/json/jsontext"

// callRequest is the body of a call: POST <baseURL><function>.
type callRequest struct {
	Params []any `json:"params"`
}

// callResponse is the body the server answers with. Exactly one of Result
// and Error is expected; an absent result is distinguished from null.
type callResponse struct {
	Result jsontext.Value `json:"result,omitzero"`
	Error  *callError     `json:"error,omitempty"`
}

type callError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MessageType represents the type of a message on the WebSocket push
// transport.
type MessageType string

const (
	TypePush   MessageType = "push"
	TypePing   MessageType = "ping"
	TypePong   MessageType = "pong"
	TypeConfig MessageType = "config"
)

// PushMessage represents a server-initiated event.
type PushMessage struct {
	Type  MessageType    `json:"type"`
	Event string         `json:"event"`
	Data  jsontext.Value `json:"data,omitzero"`
}

// PongMessage answers a server ping.
type PongMessage struct {
	Type MessageType `json:"type"`
}

// ConfigMessage represents server-pushed reconnect configuration.
type ConfigMessage struct {
	Type                 MessageType `json:"type"`
	ReconnectInterval    int         `json:"reconnectInterval,omitempty"`
	ReconnectMaxInterval int         `json:"reconnectMaxInterval,omitempty"`
}
