package util

import (
	"os"
)

// UserHome returns the current user's home directory, falling back to $HOME,
// %USERPROFILE% and finally the working directory.
func UserHome() string {
	homeDir, err := os.UserHomeDir()
	if err == nil {
		return homeDir
	}
	for _, env := range []string{"HOME", "USERPROFILE"} {
		if home := os.Getenv(env); home != "" {
			log.WithError(err).Warnf("os.UserHomeDir failed, falling back to $%s", env)
			return home
		}
	}
	if wd, wdErr := os.Getwd(); wdErr == nil {
		log.WithError(err).Warn("no home directory; falling back to working directory")
		return wd
	}
	panic("go-reliable: unable to determine home directory; set $HOME")
}
