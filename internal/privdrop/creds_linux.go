//go:build linux

package privdrop

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// osCredentials changes ids through package syscall, which on Linux applies
// the change to every thread of the process.
type osCredentials struct{}

// OS returns the Credentials of the running process.
func OS() Credentials {
	return osCredentials{}
}

func (osCredentials) Getresuid() (ruid, euid, suid int) {
	return unix.Getresuid()
}

func (osCredentials) Getresgid() (rgid, egid, sgid int) {
	return unix.Getresgid()
}

func (osCredentials) Setgroups(gids []int) error {
	return syscall.Setgroups(gids)
}

func (osCredentials) Setresgid(rgid, egid, sgid int) error {
	return syscall.Setresgid(rgid, egid, sgid)
}

func (osCredentials) Setresuid(ruid, euid, suid int) error {
	return syscall.Setresuid(ruid, euid, suid)
}
