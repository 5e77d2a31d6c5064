package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-maildir"
	"github.com/google/uuid"
	"github.com/infodancer/msgstore"
)

// ErrStore wraps every failure to commit a message.
var ErrStore = errors.New("maildir store failed")

// Maildir commits messages into a single Maildir. Concurrent deliveries from
// separate processes are safe: each message gets a unique name in tmp/ and
// only becomes visible in new/ once fully written.
type Maildir struct {
	loc Location

	// Hostname is embedded in message names. Defaults to os.Hostname.
	Hostname string
	// Now supplies the timestamp embedded in message names.
	Now func() time.Time

	lastKey string
}

var _ msgstore.DeliveryAgent = (*Maildir)(nil)

// NewMaildir returns a store for loc.
func NewMaildir(loc Location) *Maildir {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return &Maildir{
		loc:      loc,
		Hostname: host,
		Now:      time.Now,
	}
}

// Location returns the Maildir this store writes to.
func (m *Maildir) Location() Location {
	return m.loc
}

// Init creates the Maildir skeleton (the root plus tmp, new and cur) if any
// of it is missing, and returns the directories it created. The parent of the
// root must already exist. Init is idempotent.
func (m *Maildir) Init() ([]string, error) {
	dirs := []string{m.loc.Root, m.loc.Tmp(), m.loc.New, m.loc.Cur()}

	var missing []string
	for _, d := range dirs {
		if _, err := os.Lstat(d); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("%w: stat %s: %v", ErrStore, d, err)
			}
			missing = append(missing, d)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	if err := maildir.Dir(m.loc.Root).Init(); err != nil {
		return nil, fmt.Errorf("%w: creating maildir skeleton in %s: %v", ErrStore, m.loc.Root, err)
	}
	return missing, nil
}

// StoreFrom writes r under a fresh unique name in tmp/, syncs it, and links
// it into new/. It returns the message's unique name. On failure nothing is
// left in new/ and the tmp/ file is removed.
func (m *Maildir) StoreFrom(r io.Reader) (string, error) {
	d, err := m.Create()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(d, r); err != nil {
		_ = d.Abort()
		return "", fmt.Errorf("%w: writing %s: %v", ErrStore, d.tmpPath, err)
	}
	return d.Commit()
}

// Create starts a delivery: an exclusively created file in tmp/ that becomes
// visible in new/ only when Commit succeeds.
func (m *Maildir) Create() (*Delivery, error) {
	key := m.newKey()
	tmpPath := filepath.Join(m.loc.Tmp(), key)

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("%w: creating %s: %v", ErrStore, tmpPath, err)
	}
	return &Delivery{
		f:       f,
		key:     key,
		tmpPath: tmpPath,
		newPath: filepath.Join(m.loc.New, key),
		newDir:  m.loc.New,
	}, nil
}

// Delivery is one message being written into tmp/.
type Delivery struct {
	f       *os.File
	key     string
	tmpPath string
	newPath string
	newDir  string
	done    bool
}

// Key returns the unique name the message will have in new/.
func (d *Delivery) Key() string {
	return d.key
}

// Write appends to the pending message.
func (d *Delivery) Write(p []byte) (int, error) {
	if d.done {
		return 0, fmt.Errorf("%w: write after commit or abort", ErrStore)
	}
	return d.f.Write(p)
}

// Commit syncs the message and makes it visible in new/. On failure the
// tmp/ file is removed and nothing appears in new/.
func (d *Delivery) Commit() (string, error) {
	if d.done {
		return "", fmt.Errorf("%w: delivery already finished", ErrStore)
	}
	d.done = true

	if err := d.f.Sync(); err != nil {
		_ = d.f.Close()
		_ = os.Remove(d.tmpPath)
		return "", fmt.Errorf("%w: syncing %s: %v", ErrStore, d.tmpPath, err)
	}
	if err := d.f.Close(); err != nil {
		_ = os.Remove(d.tmpPath)
		return "", fmt.Errorf("%w: closing %s: %v", ErrStore, d.tmpPath, err)
	}
	if err := publish(d.tmpPath, d.newPath); err != nil {
		_ = os.Remove(d.tmpPath)
		return "", fmt.Errorf("%w: moving %s into new: %v", ErrStore, d.key, err)
	}

	syncDir(d.newDir)
	return d.key, nil
}

// Abort discards the pending message. It is a no-op after Commit.
func (d *Delivery) Abort() error {
	if d.done {
		return nil
	}
	d.done = true
	_ = d.f.Close()
	if err := os.Remove(d.tmpPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: removing %s: %v", ErrStore, d.tmpPath, err)
	}
	return nil
}

// Deliver implements msgstore.DeliveryAgent. The envelope is ignored: the
// Maildir belongs to exactly one recipient. LastKey reports the name the
// message was committed under.
func (m *Maildir) Deliver(ctx context.Context, _ msgstore.Envelope, message io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := m.StoreFrom(message)
	if err != nil {
		return err
	}
	m.lastKey = key
	return nil
}

// LastKey returns the unique name of the most recent message Deliver
// committed, or "" if none.
func (m *Maildir) LastKey() string {
	return m.lastKey
}

// publish makes tmpPath visible as newPath. A hard link never clobbers an
// existing message; rename is the fallback for filesystems without links.
func publish(tmpPath, newPath string) error {
	err := os.Link(tmpPath, newPath)
	switch {
	case err == nil:
		_ = os.Remove(tmpPath)
		return nil
	case errors.Is(err, fs.ErrExist):
		return err
	default:
		return os.Rename(tmpPath, newPath)
	}
}

func syncDir(path string) {
	d, err := os.Open(path)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}

// newKey builds a Maildir unique name: seconds, microseconds, pid and a
// random uuid, then the sanitized hostname.
func (m *Maildir) newKey() string {
	now := m.Now()
	random := strings.ReplaceAll(uuid.NewString(), "-", "")
	return fmt.Sprintf("%d.M%dP%dQ%s.%s",
		now.Unix(), now.Nanosecond()/1000, os.Getpid(), random, sanitizeHost(m.Hostname))
}

func sanitizeHost(host string) string {
	r := strings.NewReplacer("/", `\057`, ":", `\072`)
	return r.Replace(host)
}
