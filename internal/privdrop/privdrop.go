// Package privdrop irreversibly reduces process privilege to an unprivileged
// identity and proves the reduction cannot be undone.
//
// The sequence follows the classic setuid-program recipe: drop supplementary
// groups, then the group ids, then the user ids, then try to get the old ids
// back and require that attempt to fail.
package privdrop

import (
	"errors"
	"fmt"

	"github.com/infodancer/attomail/internal/identity"
)

var (
	// ErrCannotDropToSuperuser is returned when the target identity is root.
	ErrCannotDropToSuperuser = errors.New("cannot drop privileges to the superuser")
	// ErrGroupDropFailed is returned when the group ids could not be changed.
	ErrGroupDropFailed = errors.New("group privilege drop failed")
	// ErrUserDropFailed is returned when the user ids could not be changed.
	ErrUserDropFailed = errors.New("user privilege drop failed")
	// ErrPrivilegeReacquisitionDetected is returned when the process managed
	// to switch back to its original identity after a drop. The process must
	// abort: it still holds the privileges it claimed to have given up.
	ErrPrivilegeReacquisitionDetected = errors.New("privilege reacquisition detected")
	// ErrAlreadyDropped is returned by a second call to Drop.
	ErrAlreadyDropped = errors.New("privileges already dropped")
)

// Credentials is the kernel interface the dropper drives. The default
// implementation talks to the operating system; tests substitute a model.
type Credentials interface {
	Getresuid() (ruid, euid, suid int)
	Getresgid() (rgid, egid, sgid int)
	Setgroups(gids []int) error
	Setresgid(rgid, egid, sgid int) error
	Setresuid(ruid, euid, suid int) error
}

// ProbeOutcome is the result of trying to switch back to a dropped id.
// A successful switch is the failure case.
type ProbeOutcome int

const (
	// ProbeRefused means the kernel denied the switch; the drop holds.
	ProbeRefused ProbeOutcome = iota
	// ProbeRegained means the switch succeeded; privileges leaked.
	ProbeRegained
)

func (o ProbeOutcome) String() string {
	switch o {
	case ProbeRefused:
		return "refused"
	case ProbeRegained:
		return "regained"
	default:
		return fmt.Sprintf("ProbeOutcome(%d)", int(o))
	}
}

// ReacquisitionError describes which id the process managed to get back.
type ReacquisitionError struct {
	Kind string // "group" or "user"
	ID   int
}

func (e *ReacquisitionError) Error() string {
	return fmt.Sprintf("%s: setres%sid to original id %d succeeded unexpectedly",
		ErrPrivilegeReacquisitionDetected, e.Kind[:1], e.ID)
}

// Unwrap lets errors.Is match ErrPrivilegeReacquisitionDetected.
func (e *ReacquisitionError) Unwrap() error {
	return ErrPrivilegeReacquisitionDetected
}

// State tracks the one-way transition of this process from its starting
// identity to the delivery identity. A process owns exactly one State.
type State struct {
	creds Credentials

	originalUID int
	originalGID int
	target      identity.Identity
	dropped     bool
}

// New returns a State that drives creds. Pass nil to use the operating system.
func New(creds Credentials) *State {
	if creds == nil {
		creds = OS()
	}
	return &State{creds: creds}
}

// Dropped reports whether Drop has completed successfully.
func (s *State) Dropped() bool {
	return s.dropped
}

// Original returns the effective ids captured at the start of Drop.
func (s *State) Original() (uid, gid int) {
	return s.originalUID, s.originalGID
}

// Target returns the identity the process dropped to.
func (s *State) Target() identity.Identity {
	return s.target
}

// Drop permanently switches the process to target. Every failure is fatal
// to the caller: there is no partial drop that may be retried.
func (s *State) Drop(target identity.Identity) error {
	if s.dropped {
		return ErrAlreadyDropped
	}

	_, euid, _ := s.creds.Getresuid()
	_, egid, _ := s.creds.Getresgid()
	s.originalUID, s.originalGID = euid, egid

	if target.UID == identity.SuperuserID {
		return fmt.Errorf("%w: %s", ErrCannotDropToSuperuser, target.Name)
	}

	uid, gid := target.UID, target.GID

	if err := s.creds.Setgroups([]int{gid}); err != nil {
		return fmt.Errorf("%w: setgroups([%d]): %v", ErrGroupDropFailed, gid, err)
	}
	if err := s.creds.Setresgid(gid, gid, gid); err != nil {
		return fmt.Errorf("%w: setresgid(%d): %v", ErrGroupDropFailed, gid, err)
	}
	if err := s.creds.Setresuid(uid, uid, uid); err != nil {
		return fmt.Errorf("%w: setresuid(%d): %v", ErrUserDropFailed, uid, err)
	}

	if err := s.verifyIDs(uid, gid); err != nil {
		return err
	}

	if gid != s.originalGID {
		if probeGroup(s.creds, s.originalGID) == ProbeRegained {
			return &ReacquisitionError{Kind: "group", ID: s.originalGID}
		}
	}
	if uid != s.originalUID {
		if probeUser(s.creds, s.originalUID) == ProbeRegained {
			return &ReacquisitionError{Kind: "user", ID: s.originalUID}
		}
	}

	s.target = target
	s.dropped = true
	return nil
}

// verifyIDs reads back real, effective and saved ids and requires all of
// them to equal the target.
func (s *State) verifyIDs(uid, gid int) error {
	if r, e, sv := s.creds.Getresgid(); r != gid || e != gid || sv != gid {
		return fmt.Errorf("%w: gids are %d/%d/%d, want %d", ErrGroupDropFailed, r, e, sv, gid)
	}
	if r, e, sv := s.creds.Getresuid(); r != uid || e != uid || sv != uid {
		return fmt.Errorf("%w: uids are %d/%d/%d, want %d", ErrUserDropFailed, r, e, sv, uid)
	}
	return nil
}

func probeGroup(creds Credentials, gid int) ProbeOutcome {
	if err := creds.Setresgid(gid, gid, gid); err != nil {
		return ProbeRefused
	}
	return ProbeRegained
}

func probeUser(creds Credentials, uid int) ProbeOutcome {
	if err := creds.Setresuid(uid, uid, uid); err != nil {
		return ProbeRefused
	}
	return ProbeRegained
}
