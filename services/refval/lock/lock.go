// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lock provides an exclusive, cross-process advisory lock on a
// working copy.
//
// The lock file lives outside the working copy so it never shows up in
// builds, diffs or snapshots. It is locked with flock(2) on Unix and
// LockFileEx on Windows; the operating system drops the lock when the
// holder exits, so a crashed validator never leaves a working copy locked.
package lock

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Info is written into the lock file for visibility.
type Info struct {
	Root     string    `json:"root"`
	PID      int       `json:"pid"`
	Owner    string    `json:"owner,omitempty"`
	LockedAt time.Time `json:"locked_at"`
}

// fileLocker abstracts the platform lock calls. Lock never blocks and
// returns ErrLocked when the file is held elsewhere.
type fileLocker interface {
	Lock(f *os.File) error
	Unlock(f *os.File) error
}

// DefaultDir returns the default lock directory under the user cache.
func DefaultDir() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "refval", "locks")
	}
	return filepath.Join(os.TempDir(), "refval-locks")
}

// WorkingCopyLock is a held lock on one working copy root.
//
// Thread Safety: Release is safe to call from multiple goroutines.
type WorkingCopyLock struct {
	mu     sync.Mutex
	root   string
	path   string
	file   *os.File
	locker fileLocker
	logger *slog.Logger
}

// Acquire locks root for exclusive use.
//
// Description:
//
//	Opens (or creates) the lock file for root in dir and takes a
//	non-blocking exclusive lock. The holder's pid and owner string are
//	recorded in the file.
//
// Inputs:
//
//	dir - Lock directory, created if missing. Empty uses DefaultDir.
//	root - Working copy root
//	owner - Free-form holder description, such as a run id
//	logger - Logger, nil for slog.Default
//
// Outputs:
//
//	*WorkingCopyLock - The held lock
//	error - *LockError wrapping ErrLocked when another holder exists
func Acquire(dir, root, owner string, logger *slog.Logger) (*WorkingCopyLock, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if dir == "" {
		dir = DefaultDir()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving path %s: %w", root, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating lock directory %s: %w", dir, err)
	}

	path := lockPath(dir, absRoot)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file %s: %w", path, err)
	}

	locker := newPlatformLocker()
	if err := locker.Lock(f); err != nil {
		holder, _ := readInfo(f)
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, &LockError{Root: absRoot, Holder: holder, Err: ErrLocked}
		}
		return nil, fmt.Errorf("acquiring lock on %s: %w", absRoot, err)
	}

	info := Info{Root: absRoot, PID: os.Getpid(), Owner: owner, LockedAt: time.Now().UTC()}
	if err := writeInfo(f, info); err != nil {
		_ = locker.Unlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("writing lock info: %w", err)
	}

	logger.Debug("Acquired working copy lock",
		slog.String("root", absRoot),
		slog.String("lock_file", path),
		slog.String("owner", owner),
	)
	return &WorkingCopyLock{root: absRoot, path: path, file: f, locker: locker, logger: logger}, nil
}

// Root returns the locked working copy root.
func (l *WorkingCopyLock) Root() string {
	return l.root
}

// Release drops the lock. The lock file is kept: removing it would let a
// concurrent opener lock an unlinked inode while a third process creates
// a fresh file.
func (l *WorkingCopyLock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrNotHeld
	}
	f := l.file
	l.file = nil

	_ = f.Truncate(0)
	unlockErr := l.locker.Unlock(f)
	closeErr := f.Close()
	l.logger.Debug("Released working copy lock", slog.String("root", l.root))
	if unlockErr != nil {
		return fmt.Errorf("releasing lock on %s: %w", l.root, unlockErr)
	}
	return closeErr
}

// Holder reads the lock info for root without locking.
//
// Outputs:
//
//	*Info - The recorded holder, nil when the file is missing or empty
func Holder(dir, root string) (*Info, error) {
	if dir == "" {
		dir = DefaultDir()
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(lockPath(dir, absRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()
	return readInfo(f)
}

func lockPath(dir, absRoot string) string {
	hash := sha256.Sum256([]byte(absRoot))
	return filepath.Join(dir, hex.EncodeToString(hash[:])[:16]+".lock")
}

func writeInfo(f *os.File, info Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		return err
	}
	return f.Sync()
}

func readInfo(f *os.File) (*Info, error) {
	data, err := io.ReadAll(io.NewSectionReader(f, 0, 1<<20))
	if err != nil || len(data) == 0 {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}
