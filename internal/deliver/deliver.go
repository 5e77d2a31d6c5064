// Package deliver runs a single local delivery: it settles the envelope,
// checks the mailbox path, gives up privileges and writes the message.
package deliver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/infodancer/msgstore"

	"github.com/infodancer/attomail/internal/header"
	"github.com/infodancer/attomail/internal/identity"
	"github.com/infodancer/attomail/internal/logging"
	"github.com/infodancer/attomail/internal/mailbox"
	"github.com/infodancer/attomail/internal/metrics"
	"github.com/infodancer/attomail/internal/privdrop"
)

// Resolver turns account names into identities.
type Resolver interface {
	Resolve(name string) (identity.Identity, error)
	Current() (identity.Identity, error)
}

// Dropper permanently switches the process to another identity.
type Dropper interface {
	Drop(target identity.Identity) error
}

// Request describes one message to deliver.
type Request struct {
	// Owner is the configured account that owns the Maildir.
	Owner string
	// Mailbox is the configured path of the Maildir's new/ directory.
	Mailbox string
	// Sender overrides the envelope sender. Empty means the invoking operator.
	Sender string
	// Recipient overrides the envelope recipient. Empty means Owner.
	Recipient string
	// Now is the single timestamp used for every header and the message name.
	Now time.Time
	// Input is the raw message.
	Input io.Reader
	// Target receives the delivered message.
	Target Target
}

// Result describes a completed delivery.
type Result struct {
	Sender    string
	Recipient string
	Owner     identity.Identity
	// Key is the unique message name in new/; empty for a SinkTarget.
	Key string
	// Size is the number of bytes written, synthesized headers included.
	Size int64
}

// Deliverer runs deliveries.
type Deliverer struct {
	Resolver Resolver
	// Dropper is nil when the process keeps its identity.
	Dropper Dropper
	Metrics metrics.Collector

	// Chown and Geteuid are used to hand directories created while still
	// privileged over to the Maildir owner.
	Chown   func(path string, uid, gid int) error
	Geteuid func() int
}

// New returns a Deliverer using the system account database. A nil dropper
// disables the privilege drop.
func New(dropper Dropper, collector metrics.Collector) *Deliverer {
	if collector == nil {
		collector = &metrics.NoopCollector{}
	}
	return &Deliverer{
		Resolver: identity.NewResolver(),
		Dropper:  dropper,
		Metrics:  collector,
		Chown:    os.Lchown,
		Geteuid:  os.Geteuid,
	}
}

// Deliver runs req through every stage in order. Any failure is a
// *StageError and nothing after the failing stage runs.
func (d *Deliverer) Deliver(ctx context.Context, req Request) (Result, error) {
	res, err := d.deliver(ctx, req)

	targetName := "unknown"
	if req.Target != nil {
		targetName = req.Target.name()
	}
	if err != nil {
		if stage, ok := StageOf(err); ok {
			d.Metrics.StageFailed(string(stage))
		}
		d.Metrics.DeliveryCompleted(targetName, "failure")
		return res, err
	}
	d.Metrics.MessageSize(res.Size)
	d.Metrics.DeliveryCompleted(targetName, "success")
	return res, nil
}

func (d *Deliverer) deliver(ctx context.Context, req Request) (Result, error) {
	var res Result
	logger := logging.FromContext(ctx)

	if req.Target == nil {
		return res, fail(StageConfig, errors.New("no delivery target"))
	}
	if req.Input == nil {
		return res, fail(StageIO, errors.New("no input"))
	}

	owner, err := d.Resolver.Resolve(req.Owner)
	if err != nil {
		return res, fail(StageIdentity, fmt.Errorf("mailbox owner: %w", err))
	}
	res.Owner = owner

	sender, err := d.sender(req.Sender)
	if err != nil {
		return res, err
	}
	res.Sender = sender

	recipient := req.Recipient
	if recipient == "" {
		recipient = owner.Name
	}
	if !IsPlausible(recipient) {
		return res, fail(StageAddress, fmt.Errorf("%w: recipient %q", ErrImplausibleAddress, recipient))
	}
	res.Recipient = recipient

	logger = logging.WithDelivery(logger, sender, recipient)
	logger.Debug("envelope resolved", slog.String("owner", owner.String()))

	loc, err := mailbox.ParseNewPath(req.Mailbox)
	if err != nil {
		return res, fail(StagePath, err)
	}

	var store *mailbox.Maildir
	if t, ok := req.Target.(MaildirTarget); ok {
		store = mailbox.NewMaildir(loc)
		if t.Hostname != "" {
			store.Hostname = t.Hostname
		}
		now := req.Now
		store.Now = func() time.Time { return now }

		if t.CreateDirs {
			if err := d.createSkeleton(store, owner, logger); err != nil {
				return res, err
			}
		}
	}

	if err := d.drop(owner, logger); err != nil {
		return res, err
	}

	if err := ctx.Err(); err != nil {
		return res, fail(StageIO, err)
	}

	env := header.Envelope{Sender: sender, Recipient: recipient, Received: req.Now}

	switch t := req.Target.(type) {
	case MaildirTarget:
		n, err := commit(ctx, store, env, req.Input)
		if err != nil {
			return res, fail(StageIO, err)
		}
		key := store.LastKey()
		res.Key = key
		res.Size = n
		logger.Info("message delivered",
			slog.String("key", key),
			slog.String("maildir", loc.Root),
			slog.Int64("size", n))

	case SinkTarget:
		bw := bufio.NewWriter(t.W)
		n, err := header.Transform(req.Input, bw, env)
		if err == nil {
			err = bw.Flush()
		}
		if err != nil {
			return res, fail(StageIO, err)
		}
		res.Size = n
		logger.Debug("message written to output", slog.Int64("size", n))
	}

	return res, nil
}

// commit streams the delivered form of input into agent. The transform
// feeds a pipe from its own goroutine so the message is never held in
// memory. An agent error wins over the write error it causes upstream.
func commit(ctx context.Context, agent msgstore.DeliveryAgent, env header.Envelope, input io.Reader) (int64, error) {
	type transformed struct {
		n   int64
		err error
	}

	pr, pw := io.Pipe()
	done := make(chan transformed, 1)
	go func() {
		bw := bufio.NewWriter(pw)
		n, err := header.Transform(input, bw, env)
		if err == nil {
			err = bw.Flush()
		}
		_ = pw.CloseWithError(err)
		done <- transformed{n: n, err: err}
	}()

	err := agent.Deliver(ctx, msgstore.Envelope{
		From:         env.Sender,
		Recipients:   []string{env.Recipient},
		ReceivedTime: env.Received,
	}, pr)
	// Unblock the transform if the agent stopped reading early.
	_ = pr.Close()
	t := <-done

	if err != nil {
		return t.n, err
	}
	return t.n, t.err
}

// sender settles the envelope sender. An explicit override must itself be
// plausible; it is never silently replaced.
func (d *Deliverer) sender(override string) (string, error) {
	if override != "" {
		if !IsPlausible(override) {
			return "", fail(StageAddress, fmt.Errorf("%w: sender %q", ErrImplausibleAddress, override))
		}
		return override, nil
	}

	op, err := d.Resolver.Current()
	if err != nil {
		return "", fail(StageIdentity, fmt.Errorf("invoking user: %w", err))
	}
	if !IsPlausible(op.Name) {
		return "", fail(StageAddress, fmt.Errorf("%w: sender %q", ErrImplausibleAddress, op.Name))
	}
	return op.Name, nil
}

// createSkeleton runs before the drop, so anything it creates as root must
// be handed to the owner or the owner could not write to it afterwards.
func (d *Deliverer) createSkeleton(store *mailbox.Maildir, owner identity.Identity, logger *slog.Logger) error {
	created, err := store.Init()
	if err != nil {
		return fail(StageIO, err)
	}
	if len(created) == 0 {
		return nil
	}
	logger.Info("created maildir", slog.Any("dirs", created))

	if d.Geteuid == nil || d.Geteuid() != identity.SuperuserID || d.Chown == nil {
		return nil
	}
	for _, dir := range created {
		if err := d.Chown(dir, owner.UID, owner.GID); err != nil {
			return fail(StageIO, fmt.Errorf("handing %s to %s: %w", dir, owner.Name, err))
		}
	}
	return nil
}

func (d *Deliverer) drop(owner identity.Identity, logger *slog.Logger) error {
	if d.Dropper == nil {
		d.Metrics.PrivilegeDrop("skipped")
		logger.Debug("keeping current privileges")
		return nil
	}

	err := d.Dropper.Drop(owner)
	switch {
	case err == nil:
		d.Metrics.PrivilegeDrop("dropped")
		logger.Debug("privileges dropped", slog.String("identity", owner.String()))
		return nil
	case errors.Is(err, privdrop.ErrPrivilegeReacquisitionDetected):
		d.Metrics.PrivilegeDrop("reacquired")
		logger.Error("privilege drop did not hold",
			slog.Bool("security", true),
			slog.String("identity", owner.String()),
			slog.String("error", err.Error()))
	default:
		d.Metrics.PrivilegeDrop("failed")
	}
	return fail(StagePrivilege, err)
}
