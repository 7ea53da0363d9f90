// Package transcript records the output of launched programs. Each session
// is a directory holding meta.json and a gzip-compressed JSONL event log;
// a plain live log is kept while the session is open so a crashed
// recording can still be read.
package transcript

import (
	"bufio"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	eventsFileName     = "events.jsonl.gz"
	eventsLiveFileName = "events.live.jsonl"
	metaFileName       = "meta.json"
)

// Stream names for Append.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
	StreamPTY    = "pty"
)

// Event is a single chunk of recorded output.
type Event struct {
	SessionID string    `json:"sessionId"`
	Seq       uint64    `json:"seq"`
	TS        time.Time `json:"ts"`
	Stream    string    `json:"stream"`
	RawBase64 string    `json:"rawBase64"`
	// Text is the chunk with terminal escape sequences removed.
	Text string `json:"text,omitempty"`
}

// Raw returns the chunk exactly as the program wrote it.
func (e *Event) Raw() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.RawBase64)
}

// Meta describes one recorded launch.
type Meta struct {
	SessionID string     `json:"sessionId"`
	Program   string     `json:"program"`
	Argv      []string   `json:"argv"`
	Mode      string     `json:"mode"`
	Pid       int        `json:"pid,omitempty"`
	StartedAt time.Time  `json:"startedAt"`
	ClosedAt  *time.Time `json:"closedAt,omitempty"`
	ExitCode  *int       `json:"exitCode,omitempty"`
}

// Options selects where a session is stored and what it describes.
type Options struct {
	SessionID string
	// Dir is the sessions root; the session gets its own subdirectory.
	Dir     string
	Program string
	Argv    []string
	Mode    string
}

// Store writes one session. It is safe for concurrent Append calls from the
// stdout and stderr copiers.
type Store struct {
	mu sync.Mutex

	dir  string
	meta Meta
	seq  uint64

	file     *os.File
	gz       *gzip.Writer
	bw       *bufio.Writer
	liveFile *os.File
	liveBW   *bufio.Writer

	closed bool
}

// NewStore creates the session directory and writes its initial metadata.
func NewStore(opts Options) (*Store, error) {
	if err := validateSessionID(opts.SessionID); err != nil {
		return nil, err
	}

	if opts.Dir == "" {
		return nil, errors.New("sessions directory is required")
	}

	sessionDir := filepath.Join(opts.Dir, opts.SessionID)
	if err := os.MkdirAll(sessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(sessionDir, eventsFileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open session events: %w", err)
	}

	liveFile, err := os.OpenFile(filepath.Join(sessionDir, eventsLiveFileName), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open live session events: %w", err)
	}

	gz := gzip.NewWriter(f)

	s := &Store{
		dir: sessionDir,
		meta: Meta{
			SessionID: opts.SessionID,
			Program:   opts.Program,
			Argv:      append([]string(nil), opts.Argv...),
			Mode:      opts.Mode,
			StartedAt: time.Now().UTC(),
		},
		file:     f,
		gz:       gz,
		bw:       bufio.NewWriterSize(gz, 64*1024),
		liveFile: liveFile,
		liveBW:   bufio.NewWriterSize(liveFile, 16*1024),
	}

	if err := s.writeMetaLocked(); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

// SessionID returns the store's session id.
func (s *Store) SessionID() string {
	return s.meta.SessionID
}

// Dir returns the session directory.
func (s *Store) Dir() string {
	return s.dir
}

// SetPid records the launched process id.
func (s *Store) SetPid(pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta.Pid = pid

	return s.writeMetaLocked()
}

// SetExitCode records how the program ended. It is written on Close.
func (s *Store) SetExitCode(code int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta.ExitCode = &code
}

// Append writes one event.
func (s *Store) Append(stream string, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("transcript store is closed")
	}

	s.seq++

	line, err := json.Marshal(&Event{
		SessionID: s.meta.SessionID,
		Seq:       s.seq,
		TS:        time.Now().UTC(),
		Stream:    stream,
		RawBase64: base64.StdEncoding.EncodeToString(chunk),
		Text:      strings.ReplaceAll(StripANSI(string(chunk)), "\r\n", "\n"),
	})
	if err != nil {
		return fmt.Errorf("marshal session event: %w", err)
	}

	line = append(line, '\n')

	if _, err := s.bw.Write(line); err != nil {
		return fmt.Errorf("encode session event: %w", err)
	}

	if _, err := s.liveBW.Write(line); err != nil {
		return fmt.Errorf("encode live session event: %w", err)
	}

	if err := s.liveBW.Flush(); err != nil {
		return fmt.Errorf("flush live session event: %w", err)
	}

	return nil
}

// Writer returns an io.Writer that appends to stream. Recording errors are
// reported to the caller so a tee stops instead of silently dropping output.
func (s *Store) Writer(stream string) io.Writer {
	return streamWriter{store: s, stream: stream}
}

type streamWriter struct {
	store  *Store
	stream string
}

func (w streamWriter) Write(p []byte) (int, error) {
	if err := w.store.Append(w.stream, p); err != nil {
		return 0, err
	}

	return len(p), nil
}

// Close finalizes the metadata, flushes the compressed log, and drops the
// live log it duplicates.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	now := time.Now().UTC()
	s.meta.ClosedAt = &now

	var errs []error

	if err := s.writeMetaLocked(); err != nil {
		errs = append(errs, err)
	}

	for _, step := range []func() error{s.bw.Flush, s.gz.Close, s.file.Close, s.liveBW.Flush, s.liveFile.Close} {
		if err := step(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) == 0 {
		if err := os.Remove(filepath.Join(s.dir, eventsLiveFileName)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func (s *Store) writeMetaLocked() error {
	data, err := json.Marshal(&s.meta)
	if err != nil {
		return fmt.Errorf("marshal session meta: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, metaFileName), data, 0o600); err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}

	return nil
}

func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}

	if sessionID != filepath.Base(sessionID) || strings.Contains(sessionID, "..") || strings.ContainsAny(sessionID, `/\`) {
		return fmt.Errorf("invalid session id %q", sessionID)
	}

	return nil
}
