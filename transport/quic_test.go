package transport

import (
	"io"
	"testing"

	"github.com/xtaci/kcptun/scp"
)

type recordingHandler struct {
	handshakes    int
	pdus          []scp.PDU
	terminated    []error
	authenticated bool
}

func (h *recordingHandler) HandshakeCompleted(conn *Conn)     { h.handshakes++ }
func (h *recordingHandler) HandlePDU(conn *Conn, pdu scp.PDU) { h.pdus = append(h.pdus, pdu) }
func (h *recordingHandler) Authenticated(conn *Conn) bool     { return h.authenticated }
func (h *recordingHandler) ConnectionTerminated(conn *Conn, err error) {
	h.terminated = append(h.terminated, err)
}

// pipeStream adapts an io.Reader/io.Writer pair so readPump can be tested
// without a real QUIC connection.
type pipeStream struct {
	io.Reader
	io.Writer
}

func TestReadPumpDispatchesWholePDUs(t *testing.T) {
	r, w := io.Pipe()
	conn := &Conn{stream: pipeStream{Reader: r, Writer: io.Discard}}
	handler := &recordingHandler{}

	go func() {
		wire, _ := scp.Encode(scp.ConnectReq{Name: "alice"})
		w.Write(wire)
		wire2, _ := scp.Encode(scp.Text{Text: "hi"})
		w.Write(wire2)
		w.Close()
	}()

	if err := readPump(conn, handler); err != nil {
		t.Fatalf("readPump: %v", err)
	}
	if len(handler.pdus) != 2 {
		t.Fatalf("expected 2 PDUs, got %d: %#v", len(handler.pdus), handler.pdus)
	}
	if handler.pdus[0].(scp.ConnectReq).Name != "alice" {
		t.Fatalf("unexpected first PDU: %#v", handler.pdus[0])
	}
	if handler.pdus[1].(scp.Text).Text != "hi" {
		t.Fatalf("unexpected second PDU: %#v", handler.pdus[1])
	}
}

func TestReadPumpRepliesToMalformedInput(t *testing.T) {
	r, w := io.Pipe()
	var sent []byte
	conn := &Conn{stream: pipeStream{Reader: r, Writer: writerFunc(func(p []byte) (int, error) {
		sent = append(sent, p...)
		return len(p), nil
	})}}
	handler := &recordingHandler{authenticated: true}

	go func() {
		wire, _ := scp.Encode(scp.ConnectReq{Name: "alice"})
		wire[1] = 0xFF // unknown message type
		w.Write(wire)
		w.Close()
	}()

	if err := readPump(conn, handler); err != nil {
		t.Fatalf("readPump: %v", err)
	}
	if len(handler.pdus) != 0 {
		t.Fatalf("expected no dispatched PDUs, got %#v", handler.pdus)
	}
	if len(sent) == 0 {
		t.Fatal("expected an ERROR PDU to be written back")
	}
	var d scp.Decoder
	d.Feed(sent)
	pdu, err := d.Next()
	if err != nil {
		t.Fatalf("decoding the reply: %v", err)
	}
	if pdu.(scp.Error).Code != scp.ErrMalformed {
		t.Fatalf("expected ErrMalformed, got %#v", pdu)
	}
}

func TestReadPumpClosesOnMalformedInputBeforeAuth(t *testing.T) {
	r, w := io.Pipe()
	conn := &Conn{stream: pipeStream{Reader: r, Writer: io.Discard}}
	handler := &recordingHandler{authenticated: false}

	go func() {
		wire, _ := scp.Encode(scp.ConnectReq{Name: "alice"})
		wire[1] = 0xFF // unknown message type
		w.Write(wire)
		w.Close()
	}()

	err := readPump(conn, handler)
	if err == nil {
		t.Fatal("expected readPump to return an error before auth")
	}
	if _, ok := err.(*scp.MalformedError); !ok {
		t.Fatalf("expected a *scp.MalformedError, got %#v", err)
	}
	if len(handler.pdus) != 0 {
		t.Fatalf("expected no dispatched PDUs, got %#v", handler.pdus)
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
