// Package checkpoint implements the durable append-only artifact store.
//
// Layout: <root>/<category>/<session_id>/<sequence>_<stage>.json, one
// self-describing JSON document per artifact. Documents are readable
// without the producing process; listing a session is a directory scan.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/insightlabs/marketscope/pkg/models"
)

var (
	// ErrStorage marks any I/O failure inside the store. Checkpointing is
	// an invariant: callers treat it as fatal for the session.
	ErrStorage = errors.New("checkpoint storage failure")

	// ErrArtifactNotFound is returned when no artifact exists for a stage.
	ErrArtifactNotFound = errors.New("artifact not found")
)

// artifactFile matches "<sequence>_<stage>.json".
var artifactFile = regexp.MustCompile(`^(\d{4})_(.+)\.json$`)

// unsafeStageChars are replaced when a stage name becomes a file name.
var unsafeStageChars = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Store is the filesystem-backed checkpoint store. Appends for one session
// are serialized; different sessions write in parallel.
type Store struct {
	root string

	mu       sync.Mutex
	sessions map[string]*sessionLog
}

// sessionLog tracks the next sequence number for one session.
type sessionLog struct {
	mu      sync.Mutex
	nextSeq int
}

// NewStore opens (creating if needed) a store rooted at root.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating root %s: %v", ErrStorage, root, err)
	}
	return &Store{
		root:     root,
		sessions: make(map[string]*sessionLog),
	}, nil
}

// Root returns the store's root directory.
func (s *Store) Root() string { return s.root }

// Append durably writes one artifact and returns only after it is visible
// to subsequent reads. The write never silently drops data: any failure
// surfaces as ErrStorage.
func (s *Store) Append(sessionID, stage, category string, status models.ArtifactStatus, payload map[string]any) error {
	if sessionID == "" || stage == "" {
		return fmt.Errorf("%w: session id and stage are required", ErrStorage)
	}
	if category == "" {
		category = models.CategoryAnalysis
	}

	log := s.sessionLog(sessionID)
	log.mu.Lock()
	defer log.mu.Unlock()

	if log.nextSeq == 0 {
		seq, err := s.scanMaxSequence(sessionID)
		if err != nil {
			return err
		}
		log.nextSeq = seq + 1
	}

	artifact := models.Artifact{
		Stage:     stage,
		Category:  category,
		SessionID: sessionID,
		Sequence:  log.nextSeq,
		Timestamp: time.Now().UTC(),
		Status:    status,
		Payload:   payload,
	}

	dir := filepath.Join(s.root, category, sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrStorage, dir, err)
	}

	name := fmt.Sprintf("%04d_%s.json", artifact.Sequence, sanitizeStage(stage))
	if err := writeFileAtomic(filepath.Join(dir, name), artifact); err != nil {
		return err
	}

	log.nextSeq++
	return nil
}

// ListArtifacts returns every artifact of a session across all categories,
// ordered by sequence number.
func (s *Store) ListArtifacts(sessionID string) ([]models.Artifact, error) {
	artifacts, err := s.readSessionArtifacts(sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Sequence < artifacts[j].Sequence
	})
	return artifacts, nil
}

// LoadArtifact returns the most recent payload written for a stage.
// The append-only log is queried, latest write wins.
func (s *Store) LoadArtifact(sessionID, stage string) (map[string]any, error) {
	artifacts, err := s.readSessionArtifacts(sessionID)
	if err != nil {
		return nil, err
	}

	var best *models.Artifact
	for i := range artifacts {
		if artifacts[i].Stage != stage {
			continue
		}
		if best == nil || artifacts[i].Sequence > best.Sequence {
			best = &artifacts[i]
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: session %s stage %s", ErrArtifactNotFound, sessionID, stage)
	}
	return best.Payload, nil
}

// ListSessions returns a summary for every session that has at least one
// artifact, sorted by session id (ids sort by creation time).
func (s *Store) ListSessions() ([]models.SessionSummary, error) {
	byID := make(map[string]*models.SessionSummary)

	categories, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading root: %v", ErrStorage, err)
	}

	for _, cat := range categories {
		if !cat.IsDir() {
			continue
		}
		sessions, err := os.ReadDir(filepath.Join(s.root, cat.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: reading category %s: %v", ErrStorage, cat.Name(), err)
		}
		for _, sess := range sessions {
			if !sess.IsDir() {
				continue
			}
			files, err := os.ReadDir(filepath.Join(s.root, cat.Name(), sess.Name()))
			if err != nil || len(files) == 0 {
				continue
			}
			summary := byID[sess.Name()]
			if summary == nil {
				summary = &models.SessionSummary{SessionID: sess.Name()}
				byID[sess.Name()] = summary
			}
			summary.Categories = append(summary.Categories, cat.Name())
			for _, f := range files {
				info, err := f.Info()
				if err != nil {
					continue
				}
				summary.ArtifactCount++
				mod := info.ModTime().UTC()
				if summary.FirstArtifact.IsZero() || mod.Before(summary.FirstArtifact) {
					summary.FirstArtifact = mod
				}
				if mod.After(summary.LastArtifact) {
					summary.LastArtifact = mod
				}
			}
		}
	}

	out := make([]models.SessionSummary, 0, len(byID))
	for _, summary := range byID {
		sort.Strings(summary.Categories)
		out = append(out, *summary)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

// Delete recursively removes every artifact of a session.
func (s *Store) Delete(sessionID string) error {
	if sessionID == "" || strings.ContainsAny(sessionID, "/\\") {
		return fmt.Errorf("%w: invalid session id %q", ErrStorage, sessionID)
	}

	categories, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("%w: reading root: %v", ErrStorage, err)
	}
	for _, cat := range categories {
		if !cat.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, cat.Name(), sessionID)
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("%w: removing %s: %v", ErrStorage, dir, err)
		}
	}

	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// DeleteOlderThan removes every session whose newest artifact is older than
// the given age. Returns the number of sessions removed.
func (s *Store) DeleteOlderThan(age time.Duration) (int, error) {
	summaries, err := s.ListSessions()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-age)
	removed := 0
	for _, summary := range summaries {
		if summary.LastArtifact.After(cutoff) {
			continue
		}
		if err := s.Delete(summary.SessionID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (s *Store) sessionLog(sessionID string) *sessionLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.sessions[sessionID]
	if log == nil {
		log = &sessionLog{}
		s.sessions[sessionID] = log
	}
	return log
}

// scanMaxSequence finds the highest sequence already on disk so a reopened
// store continues the per-session counter instead of restarting it.
func (s *Store) scanMaxSequence(sessionID string) (int, error) {
	maxSeq := 0
	categories, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("%w: reading root: %v", ErrStorage, err)
	}
	for _, cat := range categories {
		if !cat.IsDir() {
			continue
		}
		files, err := os.ReadDir(filepath.Join(s.root, cat.Name(), sessionID))
		if err != nil {
			continue
		}
		for _, f := range files {
			m := artifactFile.FindStringSubmatch(f.Name())
			if m == nil {
				continue
			}
			if seq, err := strconv.Atoi(m[1]); err == nil && seq > maxSeq {
				maxSeq = seq
			}
		}
	}
	return maxSeq, nil
}

func (s *Store) readSessionArtifacts(sessionID string) ([]models.Artifact, error) {
	var artifacts []models.Artifact

	categories, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: reading root: %v", ErrStorage, err)
	}
	for _, cat := range categories {
		if !cat.IsDir() {
			continue
		}
		dir := filepath.Join(s.root, cat.Name(), sessionID)
		files, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, f := range files {
			if !artifactFile.MatchString(f.Name()) {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("%w: reading %s: %v", ErrStorage, f.Name(), err)
			}
			var artifact models.Artifact
			if err := json.Unmarshal(data, &artifact); err != nil {
				return nil, fmt.Errorf("%w: parsing %s: %v", ErrStorage, f.Name(), err)
			}
			artifacts = append(artifacts, artifact)
		}
	}
	return artifacts, nil
}

// writeFileAtomic writes data via a temp file and rename so a crash never
// leaves a half-written artifact behind.
func writeFileAtomic(path string, artifact models.Artifact) error {
	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encoding artifact: %v", ErrStorage, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: creating temp file: %v", ErrStorage, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: writing artifact: %v", ErrStorage, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: syncing artifact: %v", ErrStorage, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: closing artifact: %v", ErrStorage, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: publishing artifact: %v", ErrStorage, err)
	}
	return nil
}

func sanitizeStage(stage string) string {
	return unsafeStageChars.ReplaceAllString(stage, "_")
}
