package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

const Version = "2.0"

// Message is one line of the protocol. Requests carry ID and Method,
// notifications carry only Method, responses carry ID and Result or Error.
type Message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is a JSON-RPC error object.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewRequest builds a request with a numeric id.
func NewRequest(id int64, method string, params any) (Message, error) {
	m := Message{
		JSONRPC: Version,
		ID:      json.RawMessage(strconv.FormatInt(id, 10)),
		Method:  method,
	}
	if params != nil {
		b, err := json.Marshal(params)
		if err != nil {
			return Message{}, fmt.Errorf("marshaling %s params: %w", method, err)
		}
		m.Params = b
	}
	return m, nil
}

// NewNotification builds a message that expects no response.
func NewNotification(method string, params any) (Message, error) {
	m, err := NewRequest(0, method, params)
	if err != nil {
		return Message{}, err
	}
	m.ID = nil
	return m, nil
}

// IsNotification reports whether m is a notification.
func (m Message) IsNotification() bool {
	return m.Method != "" && len(m.ID) == 0
}

// IsRequest reports whether m is a peer-initiated request.
func (m Message) IsRequest() bool {
	return m.Method != "" && len(m.ID) > 0
}

// IsResponse reports whether m answers a request.
func (m Message) IsResponse() bool {
	return m.Method == "" && len(m.ID) > 0
}

// ErrEndOfStream is returned by Receive once the worker closed its output.
var ErrEndOfStream = errors.New("rpc: end of stream")

// ChannelError reports a transport failure. Once returned, the channel is
// broken and every later operation fails fast.
type ChannelError struct {
	Op  string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("rpc %s: %v", e.Op, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }

// ProtocolError reports a line that is not a valid message.
type ProtocolError struct {
	Line []byte
	Err  error
}

func (e *ProtocolError) Error() string {
	line := e.Line
	if len(line) > 120 {
		line = line[:120]
	}
	return fmt.Sprintf("rpc protocol: %v (line %q)", e.Err, line)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
