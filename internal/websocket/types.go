package websocket

// RPCRequest is a method call sent by a client
type RPCRequest struct {
	ID     string        `json:"id"`     // echoed back in the response
	Method string        `json:"method"` // e.g. "CreateCheckpoint"
	Params []interface{} `json:"params"` // positional arguments
}

// RPCResponse answers one RPCRequest
type RPCResponse struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
	Code   string      `json:"code,omitempty"` // machine readable error class
}

// WSEvent is pushed by the server without a request
type WSEvent struct {
	Type    string      `json:"type"` // e.g. "checkpoint:created"
	Payload interface{} `json:"payload"`
}

// Message kinds
const (
	KindRequest  = "rpc_request"
	KindResponse = "rpc_response"
	KindEvent    = "event"
)

// WSMessage wraps every frame on the socket
type WSMessage struct {
	Kind string `json:"kind"`

	Request  *RPCRequest  `json:"request,omitempty"`
	Response *RPCResponse `json:"response,omitempty"`
	Event    *WSEvent     `json:"event,omitempty"`
}
