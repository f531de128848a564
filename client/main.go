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
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/xtaci/kcptun/scp"
	"github.com/xtaci/kcptun/scpclient"
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
	myApp.Name = "scp-client"
	myApp.Usage = "Simple Chat Protocol client"
	myApp.Version = VERSION
	myApp.ArgsUsage = "<username> <server_host> [<server_port>]"
	myApp.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "insecure",
			Usage: "skip server certificate verification (reference demo default)",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
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
	if c.NArg() >= 1 {
		config.Username = c.Args().Get(0)
	}
	if c.NArg() >= 2 {
		config.ServerHost = c.Args().Get(1)
	}
	config.ServerPort = defaultPort
	if c.NArg() >= 3 {
		port, err := strconv.Atoi(c.Args().Get(2))
		checkError(err)
		config.ServerPort = port
	}
	config.Insecure = c.Bool("insecure")
	config.Log = c.String("log")

	if c.String("c") != "" {
		checkError(parseJSONConfig(&config, c.String("c")))
	}

	if config.Username == "" || config.ServerHost == "" {
		color.Red("usage: %s <username> <server_host> [<server_port>]", os.Args[0])
		os.Exit(1)
	}

	if config.Log != "" {
		f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
		checkError(err)
		defer f.Close()
		log.SetOutput(f)
	}

	ui := &consoleUI{}
	client := scpclient.New(config.Username, ui)
	app := &clientApp{client: client, ready: make(chan *transport.Conn, 1)}

	addr := fmt.Sprintf("%s:%d", config.ServerHost, config.ServerPort)
	go sigHandler(client)

	done := make(chan error, 1)
	go func() {
		done <- transport.Dial(context.Background(), addr, config.Insecure, app)
	}()

	conn, ok := <-app.ready
	if !ok {
		err := <-done
		log.Printf("failed to connect: %v", err)
		os.Exit(1)
	}

	runInputLoop(app, conn)

	if err := <-done; err != nil {
		log.Printf("connection ended: %v", err)
	}
	return nil
}

// clientApp serializes access to the single scpclient.Client between the
// transport's read-pump goroutine and the stdin command loop.
type clientApp struct {
	mu     sync.Mutex
	client *scpclient.Client
	ready  chan *transport.Conn
	once   sync.Once
}

func (a *clientApp) HandshakeCompleted(conn *transport.Conn) {
	a.mu.Lock()
	pdu := a.client.HandshakeCompleted()
	a.mu.Unlock()
	conn.Send(pdu)
	a.ready <- conn
}

// Authenticated always reports true: the client-side pre-auth window (the
// CONNECT_REQ/CONNECT_RESP round trip) is the server's rule to enforce, not
// the client's, so malformed bytes from the server never force a close here.
func (a *clientApp) Authenticated(conn *transport.Conn) bool {
	return true
}

func (a *clientApp) HandlePDU(conn *transport.Conn, pdu scp.PDU) {
	a.mu.Lock()
	result := a.client.HandleIncoming(pdu)
	a.mu.Unlock()
	if result.CloseConnection {
		conn.Close()
	}
}

func (a *clientApp) ConnectionTerminated(conn *transport.Conn, err error) {
	a.mu.Lock()
	a.client.ConnectionTerminated()
	a.mu.Unlock()
	a.once.Do(func() { close(a.ready) })
}

// dispatch runs fn against the client under the app's lock and sends the
// resulting PDU, if any, on conn.
func (a *clientApp) dispatch(conn *transport.Conn, fn func(*scpclient.Client) (scp.PDU, bool)) {
	a.mu.Lock()
	pdu, ok := fn(a.client)
	a.mu.Unlock()
	if ok {
		conn.Send(pdu)
	}
}

// runInputLoop reads commands from stdin until EOF, supporting both an
// interactive TTY session and a non-interactive piped-stdin mode.
func runInputLoop(app *clientApp, conn *transport.Conn) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/chat":
			if len(fields) < 2 {
				fmt.Println("usage: /chat <name>")
				continue
			}
			app.dispatch(conn, func(c *scpclient.Client) (scp.PDU, bool) { return c.Chat(fields[1]) })
		case "/accept":
			if len(fields) < 2 {
				fmt.Println("usage: /accept <name>")
				continue
			}
			app.dispatch(conn, func(c *scpclient.Client) (scp.PDU, bool) { return c.Accept(fields[1]) })
		case "/reject":
			if len(fields) < 2 {
				fmt.Println("usage: /reject <name>")
				continue
			}
			app.dispatch(conn, func(c *scpclient.Client) (scp.PDU, bool) { return c.Reject(fields[1]) })
		case "/endchat":
			app.dispatch(conn, func(c *scpclient.Client) (scp.PDU, bool) { return c.EndChat() })
		case "/disconnect":
			app.dispatch(conn, func(c *scpclient.Client) (scp.PDU, bool) { return c.Disconnect() })
			return
		default:
			app.dispatch(conn, func(c *scpclient.Client) (scp.PDU, bool) { return c.SendText(line) })
		}
	}
	// EOF on stdin: disconnect cleanly rather than leaving the session open.
	app.dispatch(conn, func(c *scpclient.Client) (scp.PDU, bool) { return c.Disconnect() })
}

// consoleUI renders scpclient events to stdout (errors in red) for an
// interactive or piped terminal session.
type consoleUI struct{}

func (consoleUI) Info(format string, args ...any) {
	fmt.Printf("* "+format+"\n", args...)
}

func (consoleUI) Error(format string, args ...any) {
	color.Red("! "+format, args...)
}

func (consoleUI) ChatInvite(from string) {
	fmt.Printf("* %s wants to chat. Use /accept %s or /reject %s\n", from, from, from)
}

func (consoleUI) DisplayText(text string) {
	fmt.Println(text)
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(1)
	}
}
