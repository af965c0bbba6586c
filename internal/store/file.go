package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vladislavfirsov/content-pipeline/contracts"
)

// FileBackend stores one directory per job under:
//
//	<baseDir>/jobs/<job-id>/job.json
//	<baseDir>/jobs/<job-id>/task_<task-id>/
//
// Writes are atomic and durable (temp file + fsync + rename + dir sync).
// Task artifact directories are created on first use and removed with the
// job.
type FileBackend struct {
	baseDir string
	locks   *keyedMutex
}

// NewFileBackend creates a file backend rooted at baseDir.
func NewFileBackend(baseDir string) (*FileBackend, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("file store: base dir is required: %w", contracts.ErrInvalidInput)
	}
	if err := os.MkdirAll(filepath.Join(baseDir, "jobs"), 0o755); err != nil {
		return nil, fmt.Errorf("file store: %w: %w", contracts.ErrStorage, err)
	}
	return &FileBackend{baseDir: baseDir, locks: newKeyedMutex()}, nil
}

// NewFile creates a file-backed JobStore.
func NewFile(baseDir string, opts ...Option) (contracts.JobStore, error) {
	b, err := NewFileBackend(baseDir)
	if err != nil {
		return nil, err
	}
	return New(b, opts...), nil
}

func (f *FileBackend) jobsDir() string {
	return filepath.Join(f.baseDir, "jobs")
}

// JobDir returns the directory holding a job's record and artifacts.
func (f *FileBackend) JobDir(id contracts.JobID) string {
	return filepath.Join(f.jobsDir(), string(id))
}

func (f *FileBackend) jobPath(id contracts.JobID) string {
	return filepath.Join(f.JobDir(id), "job.json")
}

// validID rejects ids that would escape the jobs directory.
func validID(id contracts.JobID) bool {
	s := string(id)
	return s != "" && s != "." && s != ".." && filepath.Base(s) == s && !strings.ContainsAny(s, `/\`)
}

// TaskDir creates the artifact directory of task inside the job directory.
func (f *FileBackend) TaskDir(_ context.Context, id contracts.JobID, task contracts.TaskID) (string, error) {
	if !validID(id) {
		return "", notFound(id)
	}
	if !validID(contracts.JobID(task)) {
		return "", fmt.Errorf("artifact dir for task %q: %w", task, contracts.ErrInvalidInput)
	}
	unlock := f.locks.Lock(id)
	defer unlock()

	if _, err := os.Stat(f.jobPath(id)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", notFound(id)
		}
		return "", storageErr("artifact dir", id, err)
	}
	dir := filepath.Join(f.JobDir(id), "task_"+string(task))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", storageErr("artifact dir", id, err)
	}
	return dir, nil
}

func (f *FileBackend) Insert(_ context.Context, rec Record) error {
	if !validID(rec.ID) {
		return fmt.Errorf("insert job %q: %w", rec.ID, contracts.ErrInvalidInput)
	}
	unlock := f.locks.Lock(rec.ID)
	defer unlock()

	if err := ensureDirDurable(f.JobDir(rec.ID), 0o755); err != nil {
		return storageErr("insert", rec.ID, err)
	}
	if err := writeFileAtomicDurable(f.jobPath(rec.ID), rec.Data, 0o644); err != nil {
		return storageErr("insert", rec.ID, err)
	}
	return nil
}

func (f *FileBackend) Update(ctx context.Context, id contracts.JobID, fn func(Record) (Record, error)) error {
	if !validID(id) {
		return notFound(id)
	}
	unlock := f.locks.Lock(id)
	defer unlock()

	rec, err := f.read(id)
	if err != nil {
		return err
	}
	next, err := fn(rec)
	if err != nil {
		return err
	}
	if err := writeFileAtomicDurable(f.jobPath(id), next.Data, 0o644); err != nil {
		return storageErr("update", id, err)
	}
	return nil
}

func (f *FileBackend) Load(_ context.Context, id contracts.JobID) (Record, error) {
	if !validID(id) {
		return Record{}, notFound(id)
	}
	return f.read(id)
}

// read loads a record without locking. Atomic rename guarantees a reader
// never observes a partially written file.
func (f *FileBackend) read(id contracts.JobID) (Record, error) {
	data, err := os.ReadFile(f.jobPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Record{}, notFound(id)
		}
		return Record{}, storageErr("read", id, err)
	}
	return Record{ID: id, Data: data}, nil
}

// Scan loads every job directory. Directories without a job.json (a
// concurrent delete, a half-created job) are skipped.
func (f *FileBackend) Scan(_ context.Context) ([]Record, error) {
	entries, err := os.ReadDir(f.jobsDir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan jobs: %w: %w", contracts.ErrStorage, err)
	}
	out := make([]Record, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		rec, err := f.read(contracts.JobID(e.Name()))
		if errors.Is(err, contracts.ErrJobNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// Remove deletes the job directory including artifacts.
func (f *FileBackend) Remove(_ context.Context, id contracts.JobID) error {
	if !validID(id) {
		return nil
	}
	unlock := f.locks.Lock(id)
	defer unlock()

	if err := os.RemoveAll(f.JobDir(id)); err != nil {
		return storageErr("delete", id, err)
	}
	return nil
}

func (f *FileBackend) Close() error {
	return nil
}

func ensureDirDurable(dir string, perm os.FileMode) error {
	if err := os.MkdirAll(dir, perm); err != nil {
		return err
	}
	if err := fsyncDir(dir); err != nil {
		return err
	}
	parent := filepath.Dir(dir)
	if parent != dir {
		return fsyncDir(parent)
	}
	return nil
}

func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
