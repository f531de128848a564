// +build linux darwin freebsd

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/xtaci/kcptun/scpserver"
)

// sigHandler dumps a snapshot of registry occupancy and active chat pairs to
// the log on SIGUSR1.
func sigHandler(hub *scpserver.Hub) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	signal.Ignore(syscall.SIGPIPE)

	for range ch {
		log.Printf("registry stats: %+v", hub.Stats())
	}
}
