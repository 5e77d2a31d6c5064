// Package maildeliver hands messages accepted elsewhere, such as by an SMTP
// server's delivery chain, to the attomail binary. ExecAgent satisfies
// msgstore.DeliveryAgent, so it slots in wherever a store would.
package maildeliver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/infodancer/msgstore"
)

// NullSender is passed as the envelope sender for messages with an empty
// reverse path (bounces).
const NullSender = "MAILER-DAEMON"

// exitTempFail is EX_TEMPFAIL from sysexits(3).
const exitTempFail = 75

// ErrRecipientCount is returned for envelopes that do not name exactly one
// recipient. attomail delivers to a single Maildir and does no fan-out.
var ErrRecipientCount = errors.New("envelope must have exactly one recipient")

// ExecConfig configures an ExecAgent.
type ExecConfig struct {
	// Cmd is the absolute path to the attomail binary.
	Cmd string
	// Timeout bounds each invocation. Zero means only ctx applies.
	Timeout time.Duration
}

// ExecAgent implements msgstore.DeliveryAgent by running attomail once per
// message. attomail reads its own configuration and drops to the Maildir
// owner, so the caller needs no access to the Maildir.
type ExecAgent struct {
	cfg ExecConfig
}

var _ msgstore.DeliveryAgent = (*ExecAgent)(nil)

// NewExecAgent creates a new ExecAgent with the given config.
func NewExecAgent(cfg ExecConfig) *ExecAgent {
	return &ExecAgent{cfg: cfg}
}

// Args returns the command line used to deliver envelope, program name
// excluded.
func Args(envelope msgstore.Envelope) ([]string, error) {
	if len(envelope.Recipients) != 1 {
		return nil, fmt.Errorf("%w: got %d", ErrRecipientCount, len(envelope.Recipients))
	}
	from := envelope.From
	if from == "" {
		from = NullSender
	}
	// "--" keeps a recipient starting with '-' from being read as a flag.
	return []string{"-f", from, "--", envelope.Recipients[0]}, nil
}

// Deliver pipes message to attomail. Returns an error if attomail exits
// non-zero; IsTemporary reports whether a retry may succeed.
func (a *ExecAgent) Deliver(ctx context.Context, envelope msgstore.Envelope, message io.Reader) error {
	args, err := Args(envelope)
	if err != nil {
		return fmt.Errorf("attomail: %w", err)
	}

	if a.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.cfg.Cmd, args...)
	cmd.Stdin = message
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("attomail: %w: %s", err, output)
	}
	return nil
}

// IsTemporary reports whether err is an attomail exit with EX_TEMPFAIL.
func IsTemporary(err error) bool {
	var exitErr *exec.ExitError
	return errors.As(err, &exitErr) && exitErr.ExitCode() == exitTempFail
}
