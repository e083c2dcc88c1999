// Package checkpoint persists run progress so a multi-hour analysis
// can be interrupted and resumed without redoing completed users. Both
// artifacts are plain JSON files and strictly best-effort: absence or
// corruption degrades to starting fresh, never to a hard failure.
package checkpoint

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/oss-eval/contribrank/internal/models"
)

// Store reads and writes the completion checkpoint and the full-result
// cache file.
type Store struct {
	progressPath string
	resultsPath  string
	logger       *logrus.Logger
}

// NewStore creates a Store over the given file paths.
func NewStore(progressPath, resultsPath string, logger *logrus.Logger) *Store {
	return &Store{
		progressPath: progressPath,
		resultsPath:  resultsPath,
		logger:       logger,
	}
}

// Load reads the completion checkpoint. A missing or corrupt file
// yields an empty progress with a warning; Load never fails the caller.
func (s *Store) Load() *models.Progress {
	data, err := os.ReadFile(s.progressPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithError(err).Warn("Couldn't load progress file")
		}
		return &models.Progress{}
	}

	var progress models.Progress
	if err := json.Unmarshal(data, &progress); err != nil {
		s.logger.WithError(err).Warn("Couldn't parse progress file, starting fresh")
		return &models.Progress{}
	}

	if len(progress.CompletedUsers) > 0 {
		s.logger.WithFields(logrus.Fields{
			"completed":    len(progress.CompletedUsers),
			"last_updated": progress.LastUpdated.Format(time.RFC3339),
		}).Info("Loaded progress from previous run")
	}
	return &progress
}

// Save overwrites the completion checkpoint. Failures are returned for
// the caller to log; a mid-run write failure degrades progress
// tracking but must not abort the run.
func (s *Store) Save(progress *models.Progress) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.progressPath, data, 0o644); err != nil {
		return err
	}
	s.logger.WithField("completed", len(progress.CompletedUsers)).Debug("Progress saved")
	return nil
}

// CheckWritable verifies the checkpoint file can be created or opened
// for writing. The orchestrating caller treats a failure here, before
// any work has been done, as fatal.
func (s *Store) CheckWritable() error {
	f, err := os.OpenFile(s.progressPath, os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

// SaveResults overwrites the full-result cache file with every record
// produced or carried over by the current run.
func (s *Store) SaveResults(records []*models.UserRecord) error {
	data, err := json.Marshal(records)
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.resultsPath, data, 0o644); err != nil {
		return err
	}
	s.logger.WithField("records", len(records)).Info("Saved analysis results")
	return nil
}

// LoadCachedRecords returns the records from the full-result file whose
// usernames are present in the completed set. Read failures degrade to
// an empty result with a warning.
func (s *Store) LoadCachedRecords(completed map[string]struct{}) []*models.UserRecord {
	data, err := os.ReadFile(s.resultsPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.WithError(err).Warn("Couldn't load cached results")
		}
		return nil
	}

	var records []*models.UserRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.logger.WithError(err).Warn("Couldn't parse cached results")
		return nil
	}

	var matched []*models.UserRecord
	for _, record := range records {
		if _, ok := completed[record.Username]; ok {
			matched = append(matched, record)
		}
	}
	return matched
}
