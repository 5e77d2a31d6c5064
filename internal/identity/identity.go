// Package identity resolves system account names to numeric user and group ids.
package identity

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
)

// SuperuserID is the uid no delivery may ever run as.
const SuperuserID = 0

var (
	// ErrUnknownUser is returned when no system account has the given name.
	ErrUnknownUser = errors.New("unknown user")
	// ErrIdentityLookupFailed is returned when the account database itself errors.
	ErrIdentityLookupFailed = errors.New("identity lookup failed")
	// ErrForbiddenIdentity is returned when a name resolves to the superuser.
	ErrForbiddenIdentity = errors.New("identity is the superuser")
)

// Identity is a resolved system account. It is immutable once resolved.
type Identity struct {
	UID  int
	GID  int
	Name string
}

func (id Identity) String() string {
	return fmt.Sprintf("%s (uid=%d gid=%d)", id.Name, id.UID, id.GID)
}

// IsSuperuser reports whether the identity is root.
func (id Identity) IsSuperuser() bool {
	return id.UID == SuperuserID
}

// Resolver maps account names to identities.
type Resolver struct {
	// Lookup finds an account by name. Defaults to os/user.Lookup.
	Lookup func(name string) (*user.User, error)
	// LookupID finds an account by uid string. Defaults to os/user.LookupId.
	LookupID func(uid string) (*user.User, error)
}

// NewResolver returns a Resolver backed by the system account database.
func NewResolver() *Resolver {
	return &Resolver{
		Lookup:   user.Lookup,
		LookupID: user.LookupId,
	}
}

// Resolve returns the identity for name. It never returns the superuser:
// a name that resolves to uid 0 fails with ErrForbiddenIdentity.
func (r *Resolver) Resolve(name string) (Identity, error) {
	if name == "" {
		return Identity{}, fmt.Errorf("%w: empty user name", ErrUnknownUser)
	}

	u, err := r.Lookup(name)
	if err != nil {
		return Identity{}, classify(name, err)
	}

	id, err := fromUser(u)
	if err != nil {
		return Identity{}, err
	}
	if id.IsSuperuser() {
		return Identity{}, fmt.Errorf("%w: %q", ErrForbiddenIdentity, name)
	}
	return id, nil
}

// Current returns the identity of the invoking operator, taken from the
// real uid so a setuid binary reports who ran it rather than who owns it.
func (r *Resolver) Current() (Identity, error) {
	uid := strconv.Itoa(os.Getuid())
	u, err := r.LookupID(uid)
	if err != nil {
		var unknown user.UnknownUserIdError
		if errors.As(err, &unknown) {
			return Identity{}, fmt.Errorf("%w: uid %s", ErrUnknownUser, uid)
		}
		return Identity{}, fmt.Errorf("%w: uid %s: %v", ErrIdentityLookupFailed, uid, err)
	}
	return fromUser(u)
}

func classify(name string, err error) error {
	var unknown user.UnknownUserError
	if errors.As(err, &unknown) {
		return fmt.Errorf("%w: %q", ErrUnknownUser, name)
	}
	return fmt.Errorf("%w: %q: %v", ErrIdentityLookupFailed, name, err)
}

func fromUser(u *user.User) (Identity, error) {
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad uid %q for %s", ErrIdentityLookupFailed, u.Uid, u.Username)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: bad gid %q for %s", ErrIdentityLookupFailed, u.Gid, u.Username)
	}
	return Identity{UID: uid, GID: gid, Name: u.Username}, nil
}
