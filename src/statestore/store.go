package statestore

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	logger "github.com/sirupsen/logrus"

	"papertrader/src/model"
)

// Store persists SessionState crash-safely: temp file + fsync + verify +
// backup + atomic rename. A failed save always leaves the previous main
// file untouched.
type Store struct {
	path       string
	workingTTL time.Duration
	now        func() time.Time
}

// New creates a store writing to path. workingTTL bounds how old a
// persisted working order may be before Load discards it.
func New(path string, workingTTL time.Duration) *Store {
	return &Store{path: path, workingTTL: workingTTL, now: time.Now}
}

// Path returns the main state file path.
func (s *Store) Path() string { return s.path }

func (s *Store) bakPath() string { return s.path + ".bak" }
func (s *Store) tmpPath() string { return s.path + ".tmp" }

// Save serializes the state to disk. The sequence is: validate, write to a
// temp file, fsync, re-read and verify the temp file parses, back up the
// previous main file (only if that file itself still parses), then
// atomically rename temp over main. Every failure is logged and returned;
// none of them can corrupt the existing main file.
func (s *Store) Save(state *model.SessionState) error {
	if err := state.Validate(); err != nil {
		logger.WithError(err).Error("refusing to persist corrupted session state")
		return fmt.Errorf("state validation failed: %w", err)
	}

	state.SavedAt = s.now()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		logger.WithError(err).Error("failed to marshal session state")
		return err
	}

	tmp := s.tmpPath()
	if err := s.writeSynced(tmp, data); err != nil {
		logger.WithError(err).WithField("path", tmp).Error("failed to write temp state file")
		return err
	}

	// Verify the bytes on disk round-trip before they replace anything.
	if _, err := readState(tmp); err != nil {
		logger.WithError(err).WithField("path", tmp).Error("temp state file failed verification")
		_ = os.Remove(tmp)
		return err
	}

	if prev, err := os.ReadFile(s.path); err == nil {
		if parseState(prev) == nil {
			logger.WithField("path", s.path).Debug("previous state file is corrupt, skipping backup")
		} else if err := s.writeSynced(s.bakPath(), prev); err != nil {
			logger.WithError(err).Warn("failed to write state backup, continuing")
		}
	}

	if err := os.Rename(tmp, s.path); err != nil {
		logger.WithError(err).Error("failed to replace state file")
		_ = os.Remove(tmp)
		return err
	}

	logger.WithFields(map[string]interface{}{
		"path":   s.path,
		"equity": state.Equity.String(),
	}).Debug("session state persisted")

	return nil
}

// Load returns a usable SessionState no matter what is on disk. Order of
// preference: main file, then backup (the main file is re-saved from it),
// then the provided default. A corrupt main file is renamed with a
// timestamped .corrupt suffix, never silently lost.
func (s *Store) Load(defaultState func() *model.SessionState) *model.SessionState {
	state, err := readState(s.path)
	if err == nil {
		return s.pruneWorking(state)
	}

	if !os.IsNotExist(err) {
		corruptPath := fmt.Sprintf("%s.corrupt.%d", s.path, s.now().Unix())
		if renameErr := os.Rename(s.path, corruptPath); renameErr == nil {
			logger.WithFields(map[string]interface{}{
				"path":  s.path,
				"moved": corruptPath,
			}).WithError(err).Warn("state file corrupt, preserved for inspection")
		} else {
			logger.WithError(renameErr).Warn("failed to preserve corrupt state file")
		}
	}

	state, bakErr := readState(s.bakPath())
	if bakErr == nil {
		logger.WithField("path", s.bakPath()).Warn("recovered session state from backup")
		state = s.pruneWorking(state)
		// Restore the main file immediately so the next crash has it.
		if saveErr := s.Save(state); saveErr != nil {
			logger.WithError(saveErr).Warn("failed to restore main state file from backup")
		}
		return state
	}

	logger.WithFields(map[string]interface{}{
		"path": s.path,
	}).Info("no recoverable session state, starting fresh")

	return defaultState()
}

// pruneWorking drops persisted working orders older than the TTL.
func (s *Store) pruneWorking(state *model.SessionState) *model.SessionState {
	if s.workingTTL <= 0 || len(state.WorkingOrders) == 0 {
		return state
	}

	cutoff := s.now().Add(-s.workingTTL)
	kept := state.WorkingOrders[:0]
	for _, wo := range state.WorkingOrders {
		if wo.EnqueuedAt.After(cutoff) {
			kept = append(kept, wo)
		}
	}

	if dropped := len(state.WorkingOrders) - len(kept); dropped > 0 {
		logger.WithFields(map[string]interface{}{
			"dropped": dropped,
			"ttl":     s.workingTTL.String(),
		}).Warn("discarded stale working orders on load")
	}
	state.WorkingOrders = kept

	return state
}

func (s *Store) writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func readState(path string) (*model.SessionState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	state := parseState(data)
	if state == nil {
		return nil, fmt.Errorf("state file %s does not parse", path)
	}
	return state, nil
}

// parseState returns nil unless the bytes decode into a valid state.
func parseState(data []byte) *model.SessionState {
	var state model.SessionState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil
	}
	if err := state.Validate(); err != nil {
		return nil
	}
	return &state
}
