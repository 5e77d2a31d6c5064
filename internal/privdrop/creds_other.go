//go:build !linux

package privdrop

import (
	"errors"
	"os"
)

var errUnsupported = errors.New("setres[ug]id is not supported on this platform")

type osCredentials struct{}

// OS returns the Credentials of the running process. Only reads are
// supported off Linux; every change fails, so Drop always fails closed.
func OS() Credentials {
	return osCredentials{}
}

func (osCredentials) Getresuid() (ruid, euid, suid int) {
	return os.Getuid(), os.Geteuid(), os.Geteuid()
}

func (osCredentials) Getresgid() (rgid, egid, sgid int) {
	return os.Getgid(), os.Getegid(), os.Getegid()
}

func (osCredentials) Setgroups([]int) error { return errUnsupported }

func (osCredentials) Setresgid(int, int, int) error { return errUnsupported }

func (osCredentials) Setresuid(int, int, int) error { return errUnsupported }
