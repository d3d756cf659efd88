package util

import (
	"io"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

type namedCloser struct {
	name string
	c    io.Closer
}

var (
	closeOnExit []namedCloser
	closeMutex  sync.Mutex
)

// RegisterCloser registers an io.Closer to be closed by CloseAll. Closers
// registered later are closed first, so a component is closed before the
// components it was built on.
func RegisterCloser(name string, c io.Closer) {
	closeMutex.Lock()
	defer closeMutex.Unlock()
	closeOnExit = append(closeOnExit, namedCloser{name: name, c: c})
	log.WithFields(logger.Fields{
		"at":    "util.RegisterCloser",
		"name":  name,
		"count": len(closeOnExit),
	}).Debug("registered closer")
}

// CloseAll closes every registered closer in reverse registration order,
// clears the list and returns the joined errors.
func CloseAll() error {
	closeMutex.Lock()
	closers := closeOnExit
	closeOnExit = nil
	closeMutex.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		nc := closers[i]
		if err := nc.c.Close(); err != nil {
			log.WithField("name", nc.name).WithError(err).Warn("error closing resource")
			errs = append(errs, oops.With("closer", nc.name).Wrap(err))
		}
	}
	log.WithField("count", len(closers)).Debug("all closers closed")
	return oops.Join(errs...)
}
