// Package journal records the bulk jobs sfbulk has created so that a run
// interrupted while waiting can be resumed with 'sfbulk job wait'.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/open-cli-collective/sfbulk/api/bulk"
	"github.com/open-cli-collective/sfbulk/internal/config"
)

// ErrUnknownJob is returned when a job id is not in the journal.
var ErrUnknownJob = errors.New("job not in journal")

// Entry is one journaled job.
type Entry struct {
	ID        uuid.UUID      `json:"id"`
	JobID     string         `json:"job_id"`
	Operation bulk.Operation `json:"operation"`
	Object    string         `json:"object"`
	CreatedAt time.Time      `json:"created_at"`
	Done      bool           `json:"done,omitempty"`
}

// Journal is a JSON file of entries. Every call reads and rewrites the file.
type Journal struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// Open returns a journal stored at path. The file is created on first write.
func Open(path string) *Journal {
	return &Journal{path: path, now: time.Now}
}

// Default opens the journal in the sfbulk config directory.
func Default() (*Journal, error) {
	path, err := config.Path(config.JournalFile)
	if err != nil {
		return nil, err
	}
	return Open(path), nil
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.path
}

// Append records a newly created job.
func (j *Journal) Append(jobID string, op bulk.Operation, object string) (Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.load()
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		ID:        uuid.New(),
		JobID:     jobID,
		Operation: op,
		Object:    object,
		CreatedAt: j.now().UTC(),
	}
	if err := j.store(append(entries, e)); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// MarkDone flags jobID as collected. Jobs that were never journaled are
// ignored.
func (j *Journal) MarkDone(jobID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.load()
	if err != nil {
		return err
	}
	changed := false
	for i := range entries {
		if entries[i].JobID == jobID && !entries[i].Done {
			entries[i].Done = true
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return j.store(entries)
}

// Pending returns the entries not yet marked done, oldest first.
func (j *Journal) Pending() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.load()
	if err != nil {
		return nil, err
	}
	pending := slices.DeleteFunc(entries, func(e Entry) bool { return e.Done })
	slices.SortStableFunc(pending, func(a, b Entry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return pending, nil
}

// Forget removes every entry for jobID.
func (j *Journal) Forget(jobID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.load()
	if err != nil {
		return err
	}
	kept := slices.DeleteFunc(slices.Clone(entries), func(e Entry) bool { return e.JobID == jobID })
	if len(kept) == len(entries) {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
	}
	return j.store(kept)
}

// Observer returns a hook for bulk.API.OnJobCreated that journals every job
// before its batches are sent.
func (j *Journal) Observer() bulk.JobCreatedFunc {
	return func(ctx context.Context, job *bulk.Job) error {
		_, err := j.Append(job.ID(), job.Operation(), job.Object())
		return err
	}
}

func (j *Journal) load() ([]Entry, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse journal %s: %w", config.ShortenPath(j.path), err)
	}
	return entries, nil
}

// store replaces the journal file atomically.
func (j *Journal) store(entries []Entry) error {
	if entries == nil {
		entries = []Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, config.DirPerm); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".jobs-*.json")
	if err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := tmp.Chmod(config.FilePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	return os.Rename(tmp.Name(), j.path)
}
