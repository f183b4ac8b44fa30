package relay

import (
	"encoding/json"
	"errors"
)

var (
	ErrInvalidMessage = errors.New("invalid relay message")
)

type Type string

const (
	TypeSubscribe      Type = "subscribe"
	TypeUnsubscribe    Type = "unsubscribe"
	TypeUnsubscribeAll Type = "unsubscribe_all"
	TypePublish        Type = "publish"

	// TypeHello asks every peer to announce the names it wants again.
	TypeHello Type = "hello"
)

// Message is the payload exchanged between processes on the shared channel.
type Message struct {
	Type      Type   `json:"type"`
	Origin    string `json:"origin"`
	Name      string `json:"name,omitempty"`
	Args      []any  `json:"args,omitempty"`
	Publisher string `json:"publisher,omitempty"`
}

func Encode(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(payload []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return Message{}, errors.Join(ErrInvalidMessage, err)
	}

	switch msg.Type {
	case TypeSubscribe, TypeUnsubscribe, TypePublish:
		if msg.Name == "" {
			return Message{}, ErrInvalidMessage
		}
	case TypeUnsubscribeAll, TypeHello:
	default:
		return Message{}, ErrInvalidMessage
	}

	if msg.Origin == "" {
		return Message{}, ErrInvalidMessage
	}

	return msg, nil
}
