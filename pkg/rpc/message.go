// Package rpc defines the JSON message envelope and method dispatcher shared
// by the unix-socket, HTTP, and WebSocket transports.
package rpc

import (
	"encoding/json"
	"time"
)

// MessageType distinguishes the four envelope shapes on the wire.
type MessageType string

const (
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeNotification MessageType = "notification"
	MessageTypeError        MessageType = "error"
)

// Message is the base envelope for all RPC traffic. Requests and responses
// are correlated by ID; notifications carry no ID.
type Message struct {
	ID        string          `json:"id,omitempty"`
	Type      MessageType     `json:"type"`
	Method    string          `json:"method"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ErrorPayload is the error half of the {result}|{error} response union.
type ErrorPayload struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// NewRequest creates a request message.
func NewRequest(id, method string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      MessageTypeRequest,
		Method:    method,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewResponse creates a response message carrying a result payload.
func NewResponse(id, method string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      MessageTypeResponse,
		Method:    method,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewNotification creates a server push notification.
func NewNotification(method string, payload interface{}) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		Type:      MessageTypeNotification,
		Method:    method,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// NewError creates an error response message.
func NewError(id, method, code, message string, data map[string]interface{}) (*Message, error) {
	payload, err := json.Marshal(ErrorPayload{Code: code, Message: message, Data: data})
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        id,
		Type:      MessageTypeError,
		Method:    method,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}, nil
}

// ParsePayload parses the payload into the given struct.
func (m *Message) ParsePayload(v interface{}) error {
	if m.Payload == nil {
		return nil
	}
	return json.Unmarshal(m.Payload, v)
}
