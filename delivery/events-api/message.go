package eventsapi

import (
	"encoding/json"
	"errors"
)

const (
	MethodSubscribe   = "/subscribe"
	MethodUnsubscribe = "/unsubscribe"
	MethodPublish     = "/publish"

	jsonrpcVersion = "2.0"
)

var (
	ErrMalformed = errors.New("malformed message")
)

type rpcMessage struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type localeEnvelope struct {
	Locale  string          `json:"locale"`
	Message json.RawMessage `json:"message"`
}

func decodeMessage(payload []byte) (rpcMessage, error) {
	var msg rpcMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return rpcMessage{}, ErrMalformed
	}

	switch msg.Method {
	case MethodSubscribe, MethodUnsubscribe, MethodPublish:
	default:
		return rpcMessage{}, ErrMalformed
	}

	return msg, nil
}

// decodeNames reads params of the form [["orders", "users"]]. Entries that are not
// strings are skipped.
func decodeNames(params []json.RawMessage) ([]string, error) {
	if len(params) == 0 {
		return nil, ErrMalformed
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(params[0], &raw); err != nil {
		return nil, ErrMalformed
	}

	names := make([]string, 0, len(raw))
	for _, r := range raw {
		var name string
		if err := json.Unmarshal(r, &name); err != nil || name == "" {
			continue
		}
		names = append(names, name)
	}

	return names, nil
}

// decodePublish reads params of the form ["orders", [arg1, arg2]].
func decodePublish(params []json.RawMessage) (string, []any, error) {
	if len(params) == 0 {
		return "", nil, ErrMalformed
	}

	var name string
	if err := json.Unmarshal(params[0], &name); err != nil || name == "" {
		return "", nil, ErrMalformed
	}

	var args []any
	if len(params) > 1 {
		if err := json.Unmarshal(params[1], &args); err != nil {
			return "", nil, ErrMalformed
		}
	}

	return name, args, nil
}

// encodePublish builds the outbound push message, wrapped when a locale is set.
func encodePublish(name string, args []any, locale string) ([]byte, error) {
	params := make([]any, 0, len(args)+1)
	params = append(params, name)
	params = append(params, args...)

	payload, err := json.Marshal(struct {
		JSONRPC string `json:"jsonrpc"`
		Method  string `json:"method"`
		Params  []any  `json:"params"`
	}{
		JSONRPC: jsonrpcVersion,
		Method:  MethodPublish,
		Params:  params,
	})
	if err != nil {
		return nil, err
	}

	if locale == "" {
		return payload, nil
	}

	return json.Marshal(localeEnvelope{Locale: locale, Message: payload})
}
