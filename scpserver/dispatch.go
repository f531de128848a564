package scpserver

import (
	"fmt"

	"github.com/xtaci/kcptun/scp"
)

// HandleConnectReq implements the AUTHENTICATING row of the state table. It
// must be the first message handled on a new connection; any other PDU
// received before it is the caller's responsibility to reject by closing
// the transport immediately, without calling into the Hub.
func (h *Hub) HandleConnectReq(name string, sender Sender) (sess *Session, closeConn bool) {
	sess, err := h.Connect(name, sender)
	if err != nil {
		status := scp.ConnectErrUserExists
		if err == ErrServerFull {
			status = scp.ConnectErrServerFull
		}
		sender.Send(scp.ConnectResp{Status: status})
		return nil, true
	}
	sess.send(scp.ConnectResp{Status: scp.ConnectSuccess})
	return sess, false
}

// HandleMessage dispatches a PDU arriving on an already-authenticated
// session per the state table. It returns true when the transport should
// be closed after this call (DISCONNECT_REQ cleanup).
func (h *Hub) HandleMessage(sess *Session, pdu scp.PDU) (closeConn bool) {
	if _, ok := pdu.(scp.DisconnectReq); ok {
		h.cleanup(sess)
		return true
	}

	switch m := pdu.(type) {
	case scp.ChatInitReq:
		h.handleChatInitReq(sess, m)
	case scp.ChatFwdResp:
		h.handleChatFwdResp(sess, m)
	case scp.Text:
		h.handleText(sess, m)
	default:
		sess.send(scp.Error{Code: scp.ErrUnexpectedType, Message: fmt.Sprintf("unexpected %s in state %s", pdu.Type(), sess.State)})
	}
	return false
}

func (h *Hub) handleChatInitReq(sess *Session, m scp.ChatInitReq) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sess.State != Idle {
		sess.send(scp.Error{Code: scp.ErrUnexpectedType, Message: fmt.Sprintf("unexpected CHAT_INIT_REQ in state %s", sess.State)})
		return
	}

	if m.PeerName == sess.Name {
		sess.send(scp.ChatInitResp{Status: scp.ChatInitErrSelfChat})
		return
	}

	peer, ok := h.sessions[m.PeerName]
	if !ok {
		sess.send(scp.ChatInitResp{Status: scp.ChatInitErrPeerNotFound})
		return
	}
	if peer.State != Idle {
		sess.send(scp.ChatInitResp{Status: scp.ChatInitErrPeerBusy})
		return
	}

	sess.PendingOut = peer.Name
	peer.PendingIn = sess.Name
	peer.State = AwaitingChatResponse
	sess.State = AwaitingPeerForInit

	sess.send(scp.ChatInitResp{Status: scp.ChatInitForwarded})
	peer.send(scp.ChatFwdReq{OriginatorName: sess.Name})
}

func (h *Hub) handleChatFwdResp(sess *Session, m scp.ChatFwdResp) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sess.State != AwaitingChatResponse {
		// Off-table input: leave the session's state untouched, a stray
		// CHAT_FWD_RESP from e.g. an IN_CHAT session must not disturb an
		// existing pairing.
		sess.send(scp.Error{Code: scp.ErrUnexpectedType, Message: fmt.Sprintf("unexpected CHAT_FWD_RESP in state %s", sess.State)})
		return
	}

	if m.OriginatorName != sess.PendingIn {
		// Genuine origin mismatch while awaiting a response: reset to IDLE,
		// the defensive recovery this session was actually waiting on.
		sess.send(scp.Error{Code: scp.ErrUnexpectedType, Message: "mismatched CHAT_FWD_RESP originator"})
		sess.State = Idle
		sess.PendingIn = ""
		return
	}

	originator, ok := h.sessions[m.OriginatorName]
	if !ok || originator.State != AwaitingPeerForInit || originator.PendingOut != sess.Name {
		sess.send(scp.Error{Code: scp.ErrInternal, Message: "originator no longer available"})
		sess.State = Idle
		sess.PendingIn = ""
		return
	}

	sess.PendingIn = ""
	originator.PendingOut = ""

	if m.Status == scp.ChatFwdAccepted {
		h.pair(sess.Name, originator.Name)
		sess.State = InChat
		originator.State = InChat
		sess.Peer = originator.Name
		originator.Peer = sess.Name

		originator.send(scp.Text{Text: fmt.Sprintf("Chat with %s started.", sess.Name)})
		sess.send(scp.Text{Text: fmt.Sprintf("Chat with %s started.", originator.Name)})
		return
	}

	sess.State = Idle
	originator.State = Idle
	originator.send(scp.ChatInitResp{Status: scp.ChatInitErrPeerRejected})
}

func (h *Hub) handleText(sess *Session, m scp.Text) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sess.State != InChat {
		sess.send(scp.Error{Code: scp.ErrUnexpectedType, Message: "cannot send TEXT, not in chat"})
		return
	}

	peer, ok := h.sessions[sess.Peer]
	if !ok || peer.State != InChat {
		sess.send(scp.Error{Code: scp.ErrInternal, Message: "chat partner unreachable"})
		return
	}

	peer.send(scp.Text{Text: fmt.Sprintf("%s: %s", sess.Name, m.Text)})
	h.messagesRelayed++
}

// cleanup removes sess from the registry, notifies and resets its chat
// partner if any, and drops the pair mapping. It is idempotent: calling it
// again after the session has already been removed is a no-op.
func (h *Hub) cleanup(sess *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, stillRegistered := h.sessions[sess.Name]; !stillRegistered {
		return
	}
	delete(h.sessions, sess.Name)

	if peerName, paired := h.unpair(sess.Name); paired {
		if peer, ok := h.sessions[peerName]; ok {
			peer.State = Idle
			peer.Peer = ""
			peer.send(scp.DisconnectNotif{PeerName: sess.Name})
		}
	}

	sess.State = RelayingDisconnect
	sess.Peer = ""
}
