// Package mailbox validates Maildir locations and commits messages into them.
package mailbox

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const (
	// NewMarker is the required final component of a configured path.
	NewMarker = "new"
	// MailboxMarker is the required second-to-last component.
	MailboxMarker = "Maildir"
)

var (
	// ErrPathNotAbsolute is returned for relative mailbox paths.
	ErrPathNotAbsolute = errors.New("mailbox path is not absolute")
	// ErrMissingNewComponent is returned when the path does not end in "new".
	ErrMissingNewComponent = errors.New("mailbox path does not end in 'new'")
	// ErrMissingMailboxMarker is returned when "new" is not inside "Maildir".
	ErrMissingMailboxMarker = errors.New("mailbox path does not have 'Maildir' as the second-to-last component")
)

// Location is a validated Maildir. It is read-only once derived.
type Location struct {
	// Root is the Maildir directory itself, e.g. /home/alice/Maildir.
	Root string
	// New is the Maildir's new/ directory.
	New string
}

// Tmp returns the Maildir's tmp/ directory.
func (l Location) Tmp() string {
	return filepath.Join(l.Root, "tmp")
}

// Cur returns the Maildir's cur/ directory.
func (l Location) Cur() string {
	return filepath.Join(l.Root, "cur")
}

// ParseNewPath validates a configured ".../Maildir/new" path and returns
// the Maildir it belongs to. Checks run in order: absolute, ends in "new",
// "new" sits directly inside "Maildir".
//
// Empty and "." components are ignored; nothing else is normalized.
func ParseNewPath(path string) (Location, error) {
	if !filepath.IsAbs(path) {
		return Location{}, fmt.Errorf("%w: %q", ErrPathNotAbsolute, path)
	}

	parts := components(path)
	if len(parts) == 0 || parts[len(parts)-1] != NewMarker {
		return Location{}, fmt.Errorf("%w: %q", ErrMissingNewComponent, path)
	}
	if len(parts) < 2 || parts[len(parts)-2] != MailboxMarker {
		return Location{}, fmt.Errorf("%w: %q", ErrMissingMailboxMarker, path)
	}

	root := string(filepath.Separator) + filepath.Join(parts[:len(parts)-1]...)
	return Location{
		Root: root,
		New:  filepath.Join(root, NewMarker),
	}, nil
}

func components(path string) []string {
	var parts []string
	for _, p := range strings.Split(path, string(filepath.Separator)) {
		if p == "" || p == "." {
			continue
		}
		parts = append(parts, p)
	}
	return parts
}
