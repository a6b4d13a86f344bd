// Package envelope defines the JSON message envelope used on the relay wire.
// Every message exchanged over a relay connection or the broadcast gateway is
// an Envelope: a type tag, an opaque payload, a server-assigned timestamp and
// an optional user id for targeted delivery.
//
// Known type tags carry typed payloads (see the payload structs below);
// anything else passes through untouched so producers can introduce new event
// types without a relay upgrade.
package envelope

import (
	"encoding/json"
	"time"

	"github.com/nairamint/nexus-core/errors"
)

// Known envelope type tags
const (
	// Server -> client lifecycle and control replies
	TypeConnectionEstablished   = "connection_established"
	TypeSubscriptionConfirmed   = "subscription_confirmed"
	TypeUnsubscriptionConfirmed = "unsubscription_confirmed"
	TypePong                    = "pong"

	// Client -> server control messages
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"

	// Broadcast event types produced by the validation pipeline
	TypeDocumentProcessed   = "document_processed"
	TypeComplianceValidated = "compliance_validated"
)

// Envelope wraps all relay messages with type discrimination.
// Immutable once constructed; Data is kept raw so unknown payloads
// round-trip losslessly.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
}

// ConnectionEstablished is the payload sent to a peer after a successful
// upgrade, carrying its assigned connection id.
type ConnectionEstablished struct {
	ConnectionID string `json:"connectionId"`
	Message      string `json:"message"`
}

// SubscribeRequest is the payload of subscribe/unsubscribe control messages.
// UserID optionally associates the connection with a user for targeted sends.
type SubscribeRequest struct {
	Types  []string `json:"types"`
	UserID string   `json:"userId,omitempty"`
}

// SubscriptionConfirmed acknowledges a subscribe control message
type SubscriptionConfirmed struct {
	SubscribedTo []string `json:"subscribedTo"`
}

// UnsubscriptionConfirmed acknowledges an unsubscribe control message
type UnsubscriptionConfirmed struct {
	UnsubscribedFrom []string `json:"unsubscribedFrom"`
}

// Pong is the reply payload for a ping control message
type Pong struct {
	Timestamp string `json:"timestamp"`
}

// Now returns the wire representation of the current time
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// New constructs an envelope with a server-assigned timestamp. The payload is
// marshaled immediately so the envelope is immutable from this point on. A
// nil payload produces an envelope with no data field.
func New(msgType string, payload any) (Envelope, error) {
	env := Envelope{
		Type:      msgType,
		Timestamp: Now(),
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, errors.WrapInvalid(err, "Envelope", "New", "marshal payload")
		}
		env.Data = data
	}

	return env, nil
}

// NewForUser constructs an envelope addressed to a specific user
func NewForUser(msgType, userID string, payload any) (Envelope, error) {
	env, err := New(msgType, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.UserID = userID
	return env, nil
}

// Parse decodes a raw wire message into an Envelope
func Parse(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, errors.WrapInvalid(err, "Envelope", "Parse", "unmarshal envelope")
	}
	if env.Type == "" {
		return Envelope{}, errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "Parse", "missing type field")
	}
	return env, nil
}

// Encode serializes the envelope for the wire
func (e Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Envelope", "Encode", "marshal envelope")
	}
	return data, nil
}

// DecodeSubscribe extracts a SubscribeRequest payload from a subscribe or
// unsubscribe envelope
func (e Envelope) DecodeSubscribe() (SubscribeRequest, error) {
	var req SubscribeRequest
	if len(e.Data) == 0 {
		return req, errors.WrapInvalid(errors.ErrInvalidData, "Envelope", "DecodeSubscribe", "missing data payload")
	}
	if err := json.Unmarshal(e.Data, &req); err != nil {
		return req, errors.WrapInvalid(err, "Envelope", "DecodeSubscribe", "unmarshal subscribe payload")
	}
	return req, nil
}
