package mailbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/infodancer/msgstore"
)

func newTestMaildir(t *testing.T) *Maildir {
	t.Helper()
	loc, err := ParseNewPath(filepath.Join(t.TempDir(), "Maildir", "new"))
	if err != nil {
		t.Fatalf("ParseNewPath: %v", err)
	}
	m := NewMaildir(loc)
	m.Hostname = "mail.example.com"
	m.Now = func() time.Time { return time.Unix(1700000000, 123456000) }
	return m
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir(%s): %v", dir, err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestInitCreatesSkeleton(t *testing.T) {
	m := newTestMaildir(t)
	loc := m.Location()

	created, err := m.Init()
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	want := []string{loc.Root, loc.Tmp(), loc.New, loc.Cur()}
	if !reflect.DeepEqual(created, want) {
		t.Errorf("Init() created = %v, want %v", created, want)
	}
	for _, d := range want {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("stat %s: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}

	created, err = m.Init()
	if err != nil {
		t.Fatalf("second Init() error = %v", err)
	}
	if len(created) != 0 {
		t.Errorf("second Init() created = %v, want nothing", created)
	}
}

func TestInitPartialSkeleton(t *testing.T) {
	m := newTestMaildir(t)
	loc := m.Location()
	if err := os.MkdirAll(loc.New, 0o700); err != nil {
		t.Fatal(err)
	}

	created, err := m.Init()
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	want := []string{loc.Tmp(), loc.Cur()}
	if !reflect.DeepEqual(created, want) {
		t.Errorf("Init() created = %v, want %v", created, want)
	}
}

func TestStoreFrom(t *testing.T) {
	m := newTestMaildir(t)
	if _, err := m.Init(); err != nil {
		t.Fatal(err)
	}

	msg := []byte("Received: for bob\nFrom: a@x\n\nhello\n")
	key, err := m.StoreFrom(bytes.NewReader(msg))
	if err != nil {
		t.Fatalf("StoreFrom() error = %v", err)
	}

	if !strings.HasPrefix(key, "1700000000.M123456P") {
		t.Errorf("key %q does not start with timestamp", key)
	}
	if !strings.HasSuffix(key, ".mail.example.com") {
		t.Errorf("key %q does not end with hostname", key)
	}

	got, err := os.ReadFile(filepath.Join(m.Location().New, key))
	if err != nil {
		t.Fatalf("reading delivered message: %v", err)
	}
	if string(got) != string(msg) {
		t.Errorf("delivered = %q, want %q", got, msg)
	}

	if left := listDir(t, m.Location().Tmp()); len(left) != 0 {
		t.Errorf("tmp/ not empty after delivery: %v", left)
	}
}

func TestStoreUniqueNames(t *testing.T) {
	m := newTestMaildir(t)
	if _, err := m.Init(); err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]bool)
	for i := 0; i < 10; i++ {
		key, err := m.StoreFrom(strings.NewReader("x\n"))
		if err != nil {
			t.Fatalf("StoreFrom() error = %v", err)
		}
		if seen[key] {
			t.Fatalf("duplicate key %q", key)
		}
		seen[key] = true
	}
	if n := len(listDir(t, m.Location().New)); n != 10 {
		t.Errorf("new/ has %d messages, want 10", n)
	}
}

func TestStoreWithoutSkeleton(t *testing.T) {
	m := newTestMaildir(t)

	_, err := m.StoreFrom(strings.NewReader("x\n"))
	if !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if _, statErr := os.Stat(m.Location().New); !os.IsNotExist(statErr) {
		t.Error("failed store must not create new/")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("boom") }

func TestStoreFromReadFailureLeavesNothing(t *testing.T) {
	m := newTestMaildir(t)
	if _, err := m.Init(); err != nil {
		t.Fatal(err)
	}

	if _, err := m.StoreFrom(failingReader{}); !errors.Is(err, ErrStore) {
		t.Fatalf("expected ErrStore, got %v", err)
	}
	if left := listDir(t, m.Location().Tmp()); len(left) != 0 {
		t.Errorf("tmp/ not cleaned up: %v", left)
	}
	if got := listDir(t, m.Location().New); len(got) != 0 {
		t.Errorf("new/ should be empty: %v", got)
	}
}

func TestDeliver(t *testing.T) {
	m := newTestMaildir(t)
	if _, err := m.Init(); err != nil {
		t.Fatal(err)
	}

	var agent msgstore.DeliveryAgent = m
	env := msgstore.Envelope{From: "a@x", Recipients: []string{"bob"}}
	if err := agent.Deliver(context.Background(), env, strings.NewReader("hi\n")); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}
	got := listDir(t, m.Location().New)
	if len(got) != 1 {
		t.Fatalf("new/ has %d messages, want 1", len(got))
	}
	if m.LastKey() != got[0] {
		t.Errorf("LastKey() = %q, want %q", m.LastKey(), got[0])
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := agent.Deliver(ctx, env, strings.NewReader("hi\n")); !errors.Is(err, context.Canceled) {
		t.Errorf("Deliver() with canceled context = %v, want context.Canceled", err)
	}
}

func TestSanitizeHost(t *testing.T) {
	if got := sanitizeHost("a/b:c"); got != `a\057b\072c` {
		t.Errorf("sanitizeHost() = %q", got)
	}
}

func TestDeliveryAbort(t *testing.T) {
	m := newTestMaildir(t)
	if _, err := m.Init(); err != nil {
		t.Fatal(err)
	}

	d, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := d.Write([]byte("partial")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := listDir(t, m.Location().Tmp()); len(got) != 1 || got[0] != d.Key() {
		t.Fatalf("tmp/ = %v, want [%s]", got, d.Key())
	}

	if err := d.Abort(); err != nil {
		t.Fatalf("Abort() error = %v", err)
	}
	if got := listDir(t, m.Location().Tmp()); len(got) != 0 {
		t.Errorf("tmp/ not empty after abort: %v", got)
	}
	if got := listDir(t, m.Location().New); len(got) != 0 {
		t.Errorf("new/ not empty after abort: %v", got)
	}
	if _, err := d.Write([]byte("more")); !errors.Is(err, ErrStore) {
		t.Errorf("Write() after Abort = %v, want ErrStore", err)
	}
	if _, err := d.Commit(); !errors.Is(err, ErrStore) {
		t.Errorf("Commit() after Abort = %v, want ErrStore", err)
	}
}

func TestDeliveryNotVisibleBeforeCommit(t *testing.T) {
	m := newTestMaildir(t)
	if _, err := m.Init(); err != nil {
		t.Fatal(err)
	}

	d, err := m.Create()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := d.Write([]byte("hello\n")); err != nil {
		t.Fatal(err)
	}
	if got := listDir(t, m.Location().New); len(got) != 0 {
		t.Fatalf("message visible in new/ before commit: %v", got)
	}

	key, err := d.Commit()
	if err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if got := listDir(t, m.Location().New); len(got) != 1 || got[0] != key {
		t.Errorf("new/ = %v, want [%s]", got, key)
	}
	if err := d.Abort(); err != nil {
		t.Errorf("Abort() after Commit = %v, want nil", err)
	}
}
