package transcript

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T, root, id string) *Store {
	t.Helper()

	s, err := NewStore(Options{
		SessionID: id,
		Dir:       root,
		Program:   "/bin/sh",
		Argv:      []string{"sh", "-c", "echo hi"},
		Mode:      "vfork",
	})
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	return s
}

func TestStoreAppendReadAndList(t *testing.T) {
	root := t.TempDir()
	s := newTestStore(t, root, "s-1")

	if err := s.SetPid(4242); err != nil {
		t.Fatalf("SetPid() error = %v", err)
	}

	if err := s.Append(StreamStdout, []byte("\x1b[32mok\x1b[0m\r\n")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	if _, err := s.Writer(StreamStderr).Write([]byte("warn\n")); err != nil {
		t.Fatalf("Writer().Write() error = %v", err)
	}

	if err := s.Append(StreamStdout, nil); err != nil {
		t.Fatalf("empty Append() error = %v", err)
	}

	s.SetExitCode(3)

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := os.Stat(filepath.Join(root, "s-1", eventsLiveFileName)); !os.IsNotExist(err) {
		t.Errorf("live log survived a clean close: %v", err)
	}

	evs, err := ReadEvents(root, "s-1")
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}

	if len(evs) != 2 {
		t.Fatalf("ReadEvents len = %d, want 2", len(evs))
	}

	if evs[0].Seq != 1 || evs[0].Stream != StreamStdout || evs[0].Text != "ok\n" {
		t.Errorf("event 0 = %+v", evs[0])
	}

	raw, err := evs[0].Raw()
	if err != nil || string(raw) != "\x1b[32mok\x1b[0m\r\n" {
		t.Errorf("Raw() = %q, %v", raw, err)
	}

	if evs[1].Stream != StreamStderr || evs[1].Text != "warn\n" {
		t.Errorf("event 1 = %+v", evs[1])
	}

	list, err := ListSessions(root)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}

	if len(list) != 1 {
		t.Fatalf("ListSessions() = %#v", list)
	}

	got := list[0]
	if got.SessionID != "s-1" || got.Pid != 4242 || got.Mode != "vfork" || got.Open() {
		t.Errorf("session = %+v", got)
	}

	if got.ExitCode == nil || *got.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", got.ExitCode)
	}
}

func TestReadEventsFromUnclosedSession(t *testing.T) {
	root := t.TempDir()
	s := newTestStore(t, root, "crashed")

	if err := s.Append(StreamPTY, []byte("partial output\n")); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	// No Close: the compressed log is incomplete, the live log is not.
	evs, err := ReadEvents(root, "crashed")
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}

	if len(evs) != 1 || evs[0].Text != "partial output\n" {
		t.Fatalf("events = %+v", evs)
	}

	session, err := ReadSession(root, "crashed")
	if err != nil {
		t.Fatalf("ReadSession() error = %v", err)
	}

	if !session.Open() {
		t.Error("unclosed session reported as closed")
	}

	_ = s.Close()
}

func TestConcurrentAppendsKeepSequence(t *testing.T) {
	root := t.TempDir()
	s := newTestStore(t, root, "concurrent")

	var wg sync.WaitGroup

	for _, stream := range []string{StreamStdout, StreamStderr} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for range 50 {
				_ = s.Append(stream, []byte("x"))
			}
		}()
	}

	wg.Wait()

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	evs, err := ReadEvents(root, "concurrent")
	if err != nil {
		t.Fatalf("ReadEvents() error = %v", err)
	}

	if len(evs) != 100 {
		t.Fatalf("len = %d, want 100", len(evs))
	}

	for i, ev := range evs {
		if ev.Seq != uint64(i+1) {
			t.Fatalf("event %d has seq %d", i, ev.Seq)
		}
	}
}

func TestAppendAfterClose(t *testing.T) {
	s := newTestStore(t, t.TempDir(), "closed")
	_ = s.Close()

	if err := s.Append(StreamStdout, []byte("late")); err == nil {
		t.Fatal("Append() after Close succeeded")
	}

	if err := s.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestInvalidSessionIDs(t *testing.T) {
	for _, id := range []string{"", "..", "a/b", `a\b`, "../escape"} {
		if _, err := NewStore(Options{SessionID: id, Dir: t.TempDir()}); err == nil {
			t.Errorf("NewStore(%q) succeeded", id)
		}

		if _, err := ReadEvents(t.TempDir(), id); err == nil {
			t.Errorf("ReadEvents(%q) succeeded", id)
		}
	}
}

func TestPruneOlderThan(t *testing.T) {
	root := t.TempDir()

	for _, id := range []string{"old", "new"} {
		s := newTestStore(t, root, id)
		if err := s.Close(); err != nil {
			t.Fatalf("Close(%s) error = %v", id, err)
		}
	}

	removed, err := PruneOlderThan(root, time.Now().Add(-time.Hour))
	if err != nil || removed != 0 {
		t.Fatalf("PruneOlderThan(past) = %d, %v; want 0", removed, err)
	}

	removed, err = PruneOlderThan(root, time.Now().Add(time.Hour))
	if err != nil || removed != 2 {
		t.Fatalf("PruneOlderThan(future) = %d, %v; want 2", removed, err)
	}

	if list, _ := ListSessions(root); len(list) != 0 {
		t.Errorf("sessions left after prune: %v", list)
	}
}

func TestListSessionsMissingRoot(t *testing.T) {
	list, err := ListSessions(filepath.Join(t.TempDir(), "absent"))
	if err != nil || list != nil {
		t.Fatalf("ListSessions() = %v, %v; want nil, nil", list, err)
	}
}

func TestStripANSI(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello", want: "hello"},
		{name: "sgr color", in: "\x1b[1;31mred\x1b[0m text", want: "red text"},
		{name: "cursor movement", in: "a\x1b[2Kb\x1b[10;20Hc", want: "abc"},
		{name: "osc title with bel", in: "\x1b]0;my title\adone", want: "done"},
		{name: "osc title with st", in: "\x1b]2;t\x1b\\done", want: "done"},
		{name: "two-byte escape", in: "\x1b(Bascii", want: "ascii"},
		{name: "truncated csi", in: "tail\x1b[3", want: "tail"},
		{name: "lone escape", in: "x\x1b", want: "x"},
		{name: "private mode", in: "\x1b[?25lhidden cursor\x1b[?25h", want: "hidden cursor"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripANSI(tt.in); got != tt.want {
				t.Errorf("StripANSI(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}

	if strings.Contains(StripANSI("\x1b[31m"), "[") {
		t.Error("bare sequence left residue")
	}
}
