package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/pkgw/tectonopedia-ng/internal/domain"
)

// Version is the protocol version this build speaks.
const Version = "1.0.0"

// compatible is the range of peer versions we accept.
const compatible = "^1"

// Message types.
const (
	TypeJoin           = "join"
	TypePeer           = "peer"
	TypeRequest        = "request"
	TypeSync           = "sync"
	TypeDocUnavailable = "doc-unavailable"
	TypeError          = "error"
)

var (
	ErrMalformed    = errors.New("malformed frame")
	ErrIncompatible = errors.New("incompatible protocol version")
)

// Message is one frame of the sync protocol.
type Message struct {
	Type            string            `json:"type"`
	SenderID        domain.PeerID     `json:"senderId,omitempty"`
	ProtocolVersion string            `json:"protocolVersion,omitempty"`
	DocumentID      domain.DocumentID `json:"documentId,omitempty"`
	Data            []byte            `json:"data,omitempty"`
	Message         string            `json:"message,omitempty"`
}

// Join returns the handshake frame a client sends first.
func Join(sender domain.PeerID) *Message {
	return &Message{Type: TypeJoin, SenderID: sender, ProtocolVersion: Version}
}

// Peer returns the handshake reply.
func Peer(sender domain.PeerID) *Message {
	return &Message{Type: TypePeer, SenderID: sender, ProtocolVersion: Version}
}

// Sync returns a sync or request frame for id.
func Sync(typ string, id domain.DocumentID, data []byte) *Message {
	return &Message{Type: typ, DocumentID: id, Data: data}
}

// Unavailable tells the other side that id cannot be served.
func Unavailable(id domain.DocumentID) *Message {
	return &Message{Type: TypeDocUnavailable, DocumentID: id}
}

// Error returns an error frame.
func Error(format string, args ...any) *Message {
	return &Message{Type: TypeError, Message: fmt.Sprintf(format, args...)}
}

// Encode marshals m after checking it is well formed.
func Encode(m *Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses and validates one frame.
func Decode(b []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that the fields required by m.Type are present.
func (m *Message) Validate() error {
	switch m.Type {
	case TypeJoin, TypePeer:
		if m.SenderID == "" || m.ProtocolVersion == "" {
			return fmt.Errorf("%w: %s without sender or version", ErrMalformed, m.Type)
		}
	case TypeRequest, TypeSync:
		if m.DocumentID == "" || len(m.Data) == 0 {
			return fmt.Errorf("%w: %s without document or data", ErrMalformed, m.Type)
		}
	case TypeDocUnavailable:
		if m.DocumentID == "" {
			return fmt.Errorf("%w: %s without document", ErrMalformed, m.Type)
		}
	case TypeError:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
	return nil
}

// CheckVersion reports whether a peer speaking v can talk to us.
func CheckVersion(v string) error {
	pv, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrIncompatible, v, err)
	}
	c, err := semver.NewConstraint(compatible)
	if err != nil {
		return err
	}
	if !c.Check(pv) {
		return fmt.Errorf("%w: peer speaks %s, want %s", ErrIncompatible, v, compatible)
	}
	return nil
}
