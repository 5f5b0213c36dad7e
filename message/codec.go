package message

import (
	json "github.com/goccy/go-json"
)

// Envelope is the outermost wire frame every message travels in: a kind
// tag plus the kind-specific body, so a single Transport.Send/Recv byte
// stream can carry every message type of §6 without a schema registry.
type Envelope struct {
	Kind string
	Body json.RawMessage
}

// Encode wraps v (one of the *Msg structs) for transport.
func Encode(kind string, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Kind: kind, Body: body})
}

// DecodeEnvelope peels off the kind tag so the caller can dispatch
// before unmarshaling the body into the concrete type.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func Decode(body []byte, v interface{}) error {
	return json.Unmarshal(body, v)
}
