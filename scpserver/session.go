// Package scpserver implements the server side of the Simple Chat Protocol:
// the per-connection session state machine, the name registry, and chat
// pairing.
package scpserver

import "github.com/xtaci/kcptun/scp"

// State is one of the six per-connection server protocol states.
type State int

const (
	Authenticating State = iota
	Idle
	AwaitingPeerForInit
	AwaitingChatResponse
	InChat
	RelayingDisconnect
)

func (s State) String() string {
	switch s {
	case Authenticating:
		return "AUTHENTICATING"
	case Idle:
		return "IDLE"
	case AwaitingPeerForInit:
		return "AWAITING_PEER_FOR_INIT"
	case AwaitingChatResponse:
		return "AWAITING_CHAT_RESPONSE"
	case InChat:
		return "IN_CHAT"
	case RelayingDisconnect:
		return "RELAYING_DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// Sender abstracts the primary stream a session sends PDUs on, so the FSM
// and registry can be tested without a real QUIC connection. Close tears
// down the underlying transport connection.
type Sender interface {
	Send(pdu scp.PDU) error
	Close() error
}

// Session is one authenticated client's server-side state. It is owned by a
// single Hub and must only be mutated while holding the Hub's lock.
type Session struct {
	Name   string
	State  State
	sender Sender

	// PendingOut is the peer name this session asked to chat with, set
	// while AWAITING_PEER_FOR_INIT.
	PendingOut string
	// PendingIn is the originator name whose CHAT_FWD_REQ is outstanding at
	// this session, set while AWAITING_CHAT_RESPONSE.
	PendingIn string
	// Peer is this session's active chat partner while IN_CHAT.
	Peer string
}

func (s *Session) send(pdu scp.PDU) error {
	return s.sender.Send(pdu)
}
