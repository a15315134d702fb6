package state

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const (
	renameMaxAttempts = 5
	renameBaseDelay   = 10 * time.Millisecond
	renameMaxDelay    = 500 * time.Millisecond
)

// AtomicWriteFile writes data to a sibling temp file
// (.<target>.tmp.<16 hex>), fsyncs it, and renames it over the target. The
// rename is retried with exponential backoff on EACCES/EPERM. On any failure
// the temp file is removed and the target is untouched.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	suffix := make([]byte, 8)
	rand.Read(suffix)
	tmpPath := filepath.Join(dir, "."+base+".tmp."+hex.EncodeToString(suffix))

	fail := func(err error) error {
		os.Remove(tmpPath)
		return &AtomicWriteError{Path: path, TempPath: tmpPath, Err: err}
	}

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return fail(err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fail(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fail(err)
	}
	if err := f.Close(); err != nil {
		return fail(err)
	}

	delay := renameBaseDelay
	for attempt := 1; ; attempt++ {
		err = os.Rename(tmpPath, path)
		if err == nil {
			return nil
		}
		if attempt >= renameMaxAttempts || !retryableRename(err) {
			return fail(err)
		}
		time.Sleep(delay)
		delay *= 2
		if delay > renameMaxDelay {
			delay = renameMaxDelay
		}
	}
}

// retryableRename reports whether a rename failure is the transient
// permission class (antivirus or concurrent-reader holds on some platforms).
func retryableRename(err error) bool {
	return errors.Is(err, syscall.EACCES) || errors.Is(err, syscall.EPERM)
}
