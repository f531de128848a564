// Package transport adapts the Simple Chat Protocol's client and server
// FSMs to a real QUIC/TLS 1.3 connection. It is a framed adapter that
// decodes whole PDUs with scp.Decoder and dispatches them to a Handler,
// rather than a blind bidirectional byte copy.
package transport

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/xtaci/kcptun/scp"
)

// ALPNProtocol is the application-layer protocol token SCP negotiates over
// TLS 1.3.
const ALPNProtocol = "scp-v1"

const (
	maxStreamReceiveWindow = 6 * 1024 * 1024
	maxIdleTimeout         = 60 * time.Second
	keepAlivePeriod        = 15 * time.Second
)

// Handler receives the lifecycle events and decoded PDUs of one connection.
// The client binary's clientApp and the server binary's serverHandler
// implement it, each wrapping its protocol state machine.
type Handler interface {
	// HandshakeCompleted fires once per connection, after the QUIC/TLS
	// handshake finishes and the primary stream is ready.
	HandshakeCompleted(conn *Conn)
	// HandlePDU fires once per whole PDU decoded off the primary stream.
	HandlePDU(conn *Conn, pdu scp.PDU)
	// Authenticated reports whether conn has already completed whatever
	// pre-auth handshake the handler requires (e.g. the server's successful
	// CONNECT_REQ). readPump consults it to decide whether malformed bytes
	// should close the transport outright instead of just drawing an ERROR
	// reply.
	Authenticated(conn *Conn) bool
	// ConnectionTerminated fires once per connection, however it ends.
	ConnectionTerminated(conn *Conn, err error)
}

// rawStream is the subset of quic.Stream that readPump and Send actually
// need; keeping it narrow lets tests exercise the pump with a plain
// io.Reader/io.Writer instead of a full QUIC stream.
type rawStream interface {
	io.Reader
	io.Writer
}

// Conn wraps a single QUIC connection and the one bidirectional stream SCP
// uses per connection: a single primary stream, opened by Dial (client) or
// accepted by the listener (server) before HandshakeCompleted fires, and
// reused for every later send.
type Conn struct {
	qconn  quic.Connection
	stream rawStream
}

// Send encodes and writes a PDU to the connection's primary stream.
func (c *Conn) Send(pdu scp.PDU) error {
	wire, err := scp.Encode(pdu)
	if err != nil {
		return errors.Wrap(err, "transport: encode")
	}
	_, err = c.stream.Write(wire)
	return errors.Wrap(err, "transport: write")
}

// Close tears down the underlying QUIC connection.
func (c *Conn) Close() error {
	return c.qconn.CloseWithError(0, "closed")
}

func tlsConfig(nextProtos []string) *tls.Config {
	return &tls.Config{
		NextProtos: nextProtos,
		MinVersion: tls.VersionTLS13,
	}
}

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxStreamReceiveWindow:     maxStreamReceiveWindow,
		MaxConnectionReceiveWindow: maxStreamReceiveWindow,
		MaxIdleTimeout:             maxIdleTimeout,
		KeepAlivePeriod:            keepAlivePeriod,
	}
}

// Dial opens a client connection to addr, completes the QUIC/TLS 1.3
// handshake, opens the primary stream, and runs the read pump until the
// connection closes. It blocks until the connection terminates.
func Dial(ctx context.Context, addr string, insecureSkipVerify bool, handler Handler) error {
	tc := tlsConfig([]string{ALPNProtocol})
	tc.InsecureSkipVerify = insecureSkipVerify

	qconn, err := quic.DialAddr(ctx, addr, tc, quicConfig())
	if err != nil {
		return errors.Wrap(err, "transport: dial")
	}

	stream, err := qconn.OpenStreamSync(ctx)
	if err != nil {
		qconn.CloseWithError(0, "no stream")
		return errors.Wrap(err, "transport: open stream")
	}

	conn := &Conn{qconn: qconn, stream: stream}
	handler.HandshakeCompleted(conn)
	runErr := readPump(conn, handler)
	handler.ConnectionTerminated(conn, runErr)
	return runErr
}

// Listener accepts incoming SCP connections over QUIC.
type Listener struct {
	ql *quic.Listener
}

// Listen binds addr and returns a Listener serving TLS 1.3 with the SCP
// ALPN token, using the given certificate for the handshake.
func Listen(addr string, cert tls.Certificate) (*Listener, error) {
	tc := tlsConfig([]string{ALPNProtocol})
	tc.Certificates = []tls.Certificate{cert}

	ql, err := quic.ListenAddr(addr, tc, quicConfig())
	if err != nil {
		return nil, errors.Wrap(err, "transport: listen")
	}
	return &Listener{ql: ql}, nil
}

// Addr reports the listener's bound address.
func (l *Listener) Addr() net.Addr {
	return l.ql.Addr()
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	return l.ql.Close()
}

// Serve accepts connections until ctx is canceled or the listener closes,
// spawning handler's lifecycle for each one on its own goroutine.
func (l *Listener) Serve(ctx context.Context, handler Handler) error {
	for {
		qconn, err := l.ql.Accept(ctx)
		if err != nil {
			return errors.Wrap(err, "transport: accept")
		}
		go l.serveOne(ctx, qconn, handler)
	}
}

func (l *Listener) serveOne(ctx context.Context, qconn quic.Connection, handler Handler) {
	stream, err := qconn.AcceptStream(ctx)
	if err != nil {
		qconn.CloseWithError(0, "no stream")
		return
	}

	conn := &Conn{qconn: qconn, stream: stream}
	handler.HandshakeCompleted(conn)
	runErr := readPump(conn, handler)
	conn.Close()
	handler.ConnectionTerminated(conn, runErr)
}

// readPump reads raw bytes off conn's primary stream, feeds them to an
// scp.Decoder, and dispatches every whole PDU that accumulates, looping
// until the stream errs or closes. SCP requires PDU-level dispatch, not
// bidirectional forwarding of opaque bytes.
func readPump(conn *Conn, handler Handler) error {
	var dec scp.Decoder
	buf := make([]byte, 4096)

	for {
		n, err := conn.stream.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			for {
				pdu, decErr := dec.Next()
				if decErr == scp.ErrNeedMore {
					break
				}
				if decErr != nil {
					if me, ok := decErr.(*scp.MalformedError); ok {
						conn.Send(scp.Error{Code: me.Code, Message: me.Msg})
						if !handler.Authenticated(conn) {
							return me
						}
						continue
					}
					return decErr
				}
				handler.HandlePDU(conn, pdu)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "transport: read")
		}
	}
}
