// Package util holds small process-level helpers shared by the command and
// the library packages.
package util

import "github.com/go-i2p/logger"

var log = logger.GetGoI2PLogger()
