package deliver

import "io"

// Target is where a delivered message goes: a Maildir or a plain writer.
// The set of targets is closed.
type Target interface {
	name() string
}

// MaildirTarget commits the message into the configured Maildir.
type MaildirTarget struct {
	// CreateDirs creates a missing Maildir skeleton before privileges are
	// dropped.
	CreateDirs bool
	// Hostname overrides the host part of the message name. Empty uses the
	// system hostname.
	Hostname string
}

func (MaildirTarget) name() string { return "maildir" }

// SinkTarget writes the delivered form of the message to W and stores
// nothing.
type SinkTarget struct {
	W io.Writer
}

func (SinkTarget) name() string { return "sink" }
