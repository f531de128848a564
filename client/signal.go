// +build linux darwin freebsd

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtaci/kcptun/scpclient"
)

// sigHandler dumps the client FSM's current state to the log on SIGUSR1.
func sigHandler(client *scpclient.Client) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	signal.Ignore(syscall.SIGPIPE)

	for range ch {
		log.Printf("client state: %s target=%q pending_from=%q", client.State, client.CurrentTarget, client.PendingFrom)
	}
}
