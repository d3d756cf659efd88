//go:build !windows

package signals

import (
	"os"
	"os/signal"
	"syscall"
)

func init() {
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
}

func classify(sig os.Signal) phase {
	switch sig {
	case syscall.SIGHUP:
		return phaseReload
	case syscall.SIGINT, syscall.SIGTERM:
		return phaseInterrupt
	default:
		return phaseNone
	}
}
