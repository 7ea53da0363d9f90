package transcript

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Session describes one stored recording.
type Session struct {
	Meta
	Path string `json:"path"`
}

// Open reports whether the recording never finished cleanly.
func (s *Session) Open() bool {
	return s.ClosedAt == nil
}

// ListSessions returns recorded sessions, newest first. A missing root is
// an empty list.
func ListSessions(rootDir string) ([]Session, error) {
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, fmt.Errorf("list sessions: %w", err)
	}

	sessions := make([]Session, 0, len(entries))

	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}

		dir := filepath.Join(rootDir, ent.Name())

		meta, err := readMeta(dir)
		if err != nil {
			continue
		}

		sessions = append(sessions, Session{Meta: *meta, Path: dir})
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})

	return sessions, nil
}

// ReadSession returns the metadata of one session.
func ReadSession(rootDir, sessionID string) (*Session, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	dir := filepath.Join(rootDir, sessionID)

	meta, err := readMeta(dir)
	if err != nil {
		return nil, err
	}

	return &Session{Meta: *meta, Path: dir}, nil
}

func readMeta(dir string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFileName))
	if err != nil {
		return nil, fmt.Errorf("read session meta: %w", err)
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse session meta: %w", err)
	}

	return &meta, nil
}

// ReadEvents reads every event of a session in order. A session whose
// recorder never closed is read from its live log, since the compressed
// log is only complete after Close.
func ReadEvents(rootDir, sessionID string) ([]Event, error) {
	if err := validateSessionID(sessionID); err != nil {
		return nil, err
	}

	dir := filepath.Join(rootDir, sessionID)

	live, err := os.Open(filepath.Join(dir, eventsLiveFileName))
	if err == nil {
		defer live.Close()
		return scanEvents(live)
	}

	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("open live session events: %w", err)
	}

	file, err := os.Open(filepath.Join(dir, eventsFileName))
	if err != nil {
		return nil, fmt.Errorf("open session events: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer gz.Close()

	return scanEvents(gz)
}

func scanEvents(r io.Reader) ([]Event, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	var events []Event

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			// A crashed recorder can leave a partial last line.
			continue
		}

		events = append(events, ev)
	}

	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("scan session events: %w", err)
	}

	return events, nil
}

// PruneOlderThan removes sessions that ended (or, if never closed, began)
// before cutoff and returns how many were removed.
func PruneOlderThan(rootDir string, cutoff time.Time) (int, error) {
	sessions, err := ListSessions(rootDir)
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, session := range sessions {
		reference := session.StartedAt
		if session.ClosedAt != nil {
			reference = *session.ClosedAt
		}

		if !reference.Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(session.Path); err != nil {
			return removed, fmt.Errorf("prune session %q: %w", session.SessionID, err)
		}

		removed++
	}

	return removed, nil
}
