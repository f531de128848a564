// Package scpclient implements the UI-facing client state machine of the
// Simple Chat Protocol: it turns user commands and incoming PDUs into
// outgoing PDUs and UI events.
package scpclient

import (
	"fmt"
	"strings"

	"github.com/xtaci/kcptun/scp"
)

// State is one of the eight client protocol states.
type State int

const (
	Disconnected State = iota
	Connecting
	Idle
	InitiatingChat
	AwaitingPeerResponse
	PendingPeerAccept
	InChat
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Idle:
		return "IDLE"
	case InitiatingChat:
		return "INITIATING_CHAT"
	case AwaitingPeerResponse:
		return "AWAITING_PEER_RESPONSE"
	case PendingPeerAccept:
		return "PENDING_PEER_ACCEPT"
	case InChat:
		return "IN_CHAT"
	case Disconnecting:
		return "DISCONNECTING"
	default:
		return "UNKNOWN"
	}
}

// UI receives the client's user-facing events. A terminal front-end
// implements this with fmt.Println/Printf; tests implement it with a
// recording stub.
type UI interface {
	Info(format string, args ...any)
	Error(format string, args ...any)
	ChatInvite(from string)
	DisplayText(text string)
}

// Client is the per-connection client-side protocol state machine. It is
// not safe for concurrent use; a single transport read-loop goroutine
// should own it.
type Client struct {
	ui UI

	Username      string
	State         State
	CurrentTarget string
	PendingFrom   string

	// targetTentative is set once /accept has been sent and cleared once the
	// server's "Chat with X started." notification confirms the chat, or an
	// ERROR/DISCONNECT_NOTIF arrives first.
	targetTentative bool
}

// New creates a client FSM in the CONNECTING state, ready for
// HandshakeCompleted.
func New(username string, ui UI) *Client {
	return &Client{ui: ui, Username: username, State: Connecting}
}

// HandshakeCompleted is the transport event fired once the QUIC handshake
// finishes. It emits CONNECT_REQ and stays in CONNECTING.
func (c *Client) HandshakeCompleted() scp.PDU {
	return scp.ConnectReq{Name: c.Username}
}

// ConnectionTerminated is the transport event fired when the underlying
// connection closes for any reason. The caller is responsible for cancelling
// any pending input task.
func (c *Client) ConnectionTerminated() {
	c.State = Disconnected
	c.ui.Info("disconnected from server")
}

// Result reports the side effects of handling an incoming PDU beyond the
// state mutation already applied.
type Result struct {
	CloseConnection bool
}

// HandleIncoming dispatches a PDU arriving from the server per the state
// table. ERROR is handled before state dispatch because it is valid in
// "any" state.
func (c *Client) HandleIncoming(pdu scp.PDU) Result {
	if errPDU, ok := pdu.(scp.Error); ok {
		c.handleError(errPDU)
		return Result{}
	}

	switch m := pdu.(type) {
	case scp.ConnectResp:
		return c.handleConnectResp(m)
	case scp.ChatInitResp:
		c.handleChatInitResp(m)
	case scp.ChatFwdReq:
		c.handleChatFwdReq(m)
	case scp.Text:
		c.handleText(m)
	case scp.DisconnectNotif:
		c.handleDisconnectNotif(m)
	default:
		c.ui.Info("unexpected %s received in state %s", pdu.Type(), c.State)
	}
	return Result{}
}

func (c *Client) handleConnectResp(m scp.ConnectResp) Result {
	if c.State != Connecting {
		c.ui.Info("unexpected CONNECT_RESP received in state %s", c.State)
		return Result{}
	}
	if m.Status == scp.ConnectSuccess {
		c.State = Idle
		c.ui.Info("connected as %s", c.Username)
		return Result{}
	}
	c.State = Disconnected
	c.ui.Error("connection failed: status %d", m.Status)
	return Result{CloseConnection: true}
}

func (c *Client) handleChatInitResp(m scp.ChatInitResp) {
	if c.State != InitiatingChat {
		c.ui.Info("unexpected CHAT_INIT_RESP received in state %s", c.State)
		return
	}
	if m.Status == scp.ChatInitForwarded {
		c.State = AwaitingPeerResponse
		c.ui.Info("chat request for %s forwarded, waiting on peer", c.CurrentTarget)
		return
	}
	c.ui.Error("chat initiation with %s failed: status %d", c.CurrentTarget, m.Status)
	c.CurrentTarget = ""
	c.State = Idle
}

func (c *Client) handleChatFwdReq(m scp.ChatFwdReq) {
	if c.State != Idle {
		c.ui.Info("unexpected CHAT_FWD_REQ received in state %s", c.State)
		return
	}
	c.PendingFrom = m.OriginatorName
	c.State = PendingPeerAccept
	c.ui.ChatInvite(m.OriginatorName)
}

// chatStartedPrefix and chatStartedSuffix match the fragile, locale-sensitive prefix/suffix the
// server uses to announce a chat has started, rather than a dedicated PDU.
const (
	chatStartedPrefix = "Chat with "
	chatStartedSuffix = " started."
)

func (c *Client) handleText(m scp.Text) {
	if c.State == AwaitingPeerResponse && c.CurrentTarget != "" && isChatStarted(m.Text, c.CurrentTarget) {
		c.State = InChat
		c.ui.DisplayText(m.Text)
		c.ui.Info("now in chat with %s", c.CurrentTarget)
		return
	}

	if c.State == InChat {
		c.ui.DisplayText(m.Text)
		return
	}

	if c.State == Idle && c.targetTentative {
		if peer, ok := parseChatStartedPeer(m.Text); ok {
			c.CurrentTarget = peer
			c.targetTentative = false
			c.State = InChat
			c.ui.DisplayText(m.Text)
			c.ui.Info("now in chat with %s", c.CurrentTarget)
			return
		}
	}

	c.ui.Info("notification: %s", m.Text)
}

func isChatStarted(text, target string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "started") && strings.Contains(text, target)
}

// parseChatStartedPeer extracts X out of "Chat with X started." the way the
// server formats it, mirroring the original prototype's string parsing.
func parseChatStartedPeer(text string) (string, bool) {
	if !strings.HasPrefix(text, chatStartedPrefix) || !strings.HasSuffix(text, chatStartedSuffix) {
		return "", false
	}
	peer := strings.TrimSuffix(strings.TrimPrefix(text, chatStartedPrefix), chatStartedSuffix)
	if peer == "" {
		return "", false
	}
	return peer, true
}

func (c *Client) handleDisconnectNotif(m scp.DisconnectNotif) {
	if c.targetTentative {
		// Peer vanished before the server's chat-start confirmation arrived;
		// nothing else to report once the tentative target is cleared.
		c.clearTentativeTarget()
		return
	}
	if c.State != InChat {
		c.ui.Info("unexpected DISCONNECT_NOTIF received in state %s", c.State)
		return
	}
	c.ui.Info("%s has left the chat", m.PeerName)
	c.State = Idle
	c.CurrentTarget = ""
}

func (c *Client) handleError(m scp.Error) {
	c.ui.Error("server error %d: %s", m.Code, m.Message)
	if c.targetTentative {
		c.clearTentativeTarget()
	}
}

func (c *Client) clearTentativeTarget() {
	c.targetTentative = false
	c.CurrentTarget = ""
	c.State = Idle
}

// Chat implements the "/chat <name>" command. It returns the PDU to send and
// true on success; on a precondition failure it notifies the UI and returns
// false.
func (c *Client) Chat(name string) (scp.PDU, bool) {
	if c.State != Idle {
		c.ui.Error("cannot initiate chat in state %s", c.State)
		return nil, false
	}
	c.CurrentTarget = name
	c.State = InitiatingChat
	c.ui.Info("chat request sent to %s", name)
	return scp.ChatInitReq{PeerName: name}, true
}

// Accept implements the "/accept <name>" command.
func (c *Client) Accept(name string) (scp.PDU, bool) {
	if c.State != PendingPeerAccept || c.PendingFrom != name {
		c.ui.Error("no pending chat request from %s", name)
		return nil, false
	}
	c.PendingFrom = ""
	c.CurrentTarget = name
	c.targetTentative = true
	c.State = Idle
	c.ui.Info("accepted %s, waiting for server confirmation", name)
	return scp.ChatFwdResp{Status: scp.ChatFwdAccepted, OriginatorName: name}, true
}

// Reject implements the "/reject <name>" command.
func (c *Client) Reject(name string) (scp.PDU, bool) {
	if c.State != PendingPeerAccept || c.PendingFrom != name {
		c.ui.Error("no pending chat request from %s", name)
		return nil, false
	}
	c.PendingFrom = ""
	c.State = Idle
	c.ui.Info("rejected %s", name)
	return scp.ChatFwdResp{Status: scp.ChatFwdRejected, OriginatorName: name}, true
}

// SendText implements sending a plain chat line while IN_CHAT.
func (c *Client) SendText(msg string) (scp.PDU, bool) {
	if c.State != InChat {
		c.ui.Error("cannot send message in state %s", c.State)
		return nil, false
	}
	return scp.Text{Text: msg}, true
}

// EndChat implements "/endchat". SCP v1.0 has no dedicated end-chat PDU, so
// it behaves exactly like "/disconnect".
func (c *Client) EndChat() (scp.PDU, bool) {
	if c.State != InChat {
		c.ui.Error("not currently in a chat")
		return nil, false
	}
	return c.Disconnect()
}

// Disconnect implements "/disconnect" from any non-terminal state.
func (c *Client) Disconnect() (scp.PDU, bool) {
	if c.State == Disconnected || c.State == Disconnecting {
		c.ui.Error("not connected")
		return nil, false
	}
	c.State = Disconnecting
	c.ui.Info("disconnecting")
	return scp.DisconnectReq{}, true
}

// Prompt renders the interactive prompt prefix, matching the original
// prototype's "(STATE) username@target > " format.
func (c *Client) Prompt() string {
	target := ""
	if c.CurrentTarget != "" {
		target = "@" + c.CurrentTarget
	}
	return fmt.Sprintf("(%s) %s%s > ", c.State, c.Username, target)
}
