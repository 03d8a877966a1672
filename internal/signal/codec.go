package signal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrUnknownKind = errors.New("unknown signal kind")
	ErrBadPayload  = errors.New("bad signal payload")
)

// Envelope is the frame carried by the transport. Non-call streams
// (typing, presence) share the same shape under other type prefixes.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// IsCall reports whether the envelope belongs to the call stream.
func (e Envelope) IsCall() bool { return strings.HasPrefix(e.Type, Prefix) }

func Encode(m Message) (Envelope, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return Envelope{Type: string(m.Kind()), Data: data}, nil
}

func Decode(env Envelope) (Message, error) {
	switch Kind(env.Type) {
	case KindInitiate:
		return decodeAs[Initiate](env)
	case KindIncoming:
		return decodeAs[Incoming](env)
	case KindAccept:
		return decodeAs[Accept](env)
	case KindReject:
		return decodeAs[Reject](env)
	case KindEnd:
		return decodeAs[End](env)
	case KindMemberJoined:
		return decodeAs[MemberJoined](env)
	case KindMemberLeft:
		return decodeAs[MemberLeft](env)
	case KindOffer:
		return decodeAs[Offer](env)
	case KindAnswer:
		return decodeAs[Answer](env)
	case KindCandidate:
		return decodeAs[Candidate](env)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

func decodeAs[T Message](env Envelope) (Message, error) {
	var m T
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %s has no data", ErrBadPayload, env.Type)
	}
	if err := json.Unmarshal(env.Data, &m); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBadPayload, env.Type, err)
	}
	if m.Chat() == 0 {
		return nil, fmt.Errorf("%w: %s without chatId", ErrBadPayload, env.Type)
	}
	return m, nil
}
