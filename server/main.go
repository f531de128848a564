// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/kcptun/scp"
	"github.com/xtaci/kcptun/scpserver"
	"github.com/xtaci/kcptun/std"
	"github.com/xtaci/kcptun/transport"
)

const defaultPort = 4433

// VERSION is injected by buildflags.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "scp-server"
	myApp.Usage = "Simple Chat Protocol server"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "host",
			Value: "0.0.0.0",
			Usage: "address to bind the QUIC listener to",
		},
		cli.IntFlag{
			Name:  "port",
			Value: defaultPort,
			Usage: "port to bind the QUIC listener to",
		},
		cli.StringFlag{
			Name:  "cert",
			Usage: "TLS certificate file (required)",
		},
		cli.StringFlag{
			Name:  "key",
			Usage: "TLS private key file (required)",
		},
		cli.IntFlag{
			Name:  "maxclients",
			Value: 10,
			Usage: "maximum number of concurrently registered usernames",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect registry/pairing stats to file, aware of timeformat in golang, like: ./stats-20060102.log",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collection period, in seconds",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "suppress per-connection log lines",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "",
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = run
	myApp.Run(os.Args)
}

func run(c *cli.Context) error {
	config := Config{}
	config.Host = c.String("host")
	config.Port = c.Int("port")
	config.CertFile = c.String("cert")
	config.KeyFile = c.String("key")
	config.MaxClients = c.Int("maxclients")
	config.Log = c.String("log")
	config.StatsLog = c.String("statslog")
	config.StatsPeriod = c.Int("statsperiod")
	config.Quiet = c.Bool("quiet")

	if c.String("c") != "" {
		checkError(parseJSONConfig(&config, c.String("c")))
	}

	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(err)
		defer f.Close()
		log.SetOutput(f)
	}

	if config.CertFile == "" || config.KeyFile == "" {
		color.Red("both --cert and --key are required")
		os.Exit(1)
	}

	log.Println("version:", VERSION)
	log.Println("host:", config.Host, "port:", config.Port)
	log.Println("maxclients:", config.MaxClients)
	log.Println("statslog:", config.StatsLog, "statsperiod:", config.StatsPeriod)

	cert, err := tls.LoadX509KeyPair(config.CertFile, config.KeyFile)
	checkError(err)

	hub := scpserver.NewHub(config.MaxClients)

	go std.StatsLogger(config.StatsLog, config.StatsPeriod, hub)
	go sigHandler(hub)

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := transport.Listen(addr, cert)
	checkError(err)
	log.Println("listening on:", listener.Addr())

	handler := &serverHandler{hub: hub, quiet: config.Quiet, sessions: make(map[*transport.Conn]*scpserver.Session)}
	return listener.Serve(context.Background(), handler)
}

// serverHandler bridges transport connection events to the scpserver Hub: it
// maps each live *transport.Conn to the scpserver.Session it authenticates
// into, lazily on the first CONNECT_REQ.
type serverHandler struct {
	hub   *scpserver.Hub
	quiet bool

	mu       sync.Mutex
	sessions map[*transport.Conn]*scpserver.Session
}

func (h *serverHandler) HandshakeCompleted(conn *transport.Conn) {
	if !h.quiet {
		log.Println("connection opened")
	}
}

// Authenticated reports whether conn has a registered session yet, i.e.
// whether it has completed CONNECT_REQ. Before that, malformed bytes close
// the transport immediately instead of leaving an unauthenticated
// connection open.
func (h *serverHandler) Authenticated(conn *transport.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.sessions[conn]
	return ok
}

func (h *serverHandler) HandlePDU(conn *transport.Conn, pdu scp.PDU) {
	h.mu.Lock()
	sess, ok := h.sessions[conn]
	h.mu.Unlock()

	if !ok {
		connectReq, isConnect := pdu.(scp.ConnectReq)
		if !isConnect {
			conn.Close()
			return
		}
		newSess, closeConn := h.hub.HandleConnectReq(connectReq.Name, conn)
		if closeConn {
			conn.Close()
			return
		}
		h.mu.Lock()
		h.sessions[conn] = newSess
		h.mu.Unlock()
		return
	}

	if h.hub.HandleMessage(sess, pdu) {
		conn.Close()
	}
}

func (h *serverHandler) ConnectionTerminated(conn *transport.Conn, err error) {
	h.mu.Lock()
	sess, ok := h.sessions[conn]
	delete(h.sessions, conn)
	h.mu.Unlock()

	if ok {
		// Route through the same dispatch path a DISCONNECT_REQ would take,
		// so cleanup stays idempotent and in one place.
		h.hub.HandleMessage(sess, scp.DisconnectReq{})
	}
	if !h.quiet {
		log.Println("connection closed:", err)
	}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}
