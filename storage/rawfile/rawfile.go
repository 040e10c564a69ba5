// Package rawfile owns the append-only on-disk block-file stream (spec §3
// "On-disk raw block file", §6 "the raw on-disk block files"), grounded on
// `original_source/src/SyncImpl.cpp`'s saveTransactions/
// saveBlockToFileBinary: blocks are appended back-to-back under
// `PathToFolder`, and the driver stamps the resulting (FilePath, FileOffset)
// onto the block header and every transaction before handing the block off
// to the C7/C8/C9 queues (spec §4.4 "Ordering": "The raw-block file offset
// is assigned by the driver before handing off to workers, so all workers
// see the same filePos").
package rawfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

const fileExt = ".dat"

// Writer is the single owner of the raw block-file stream; only the driver
// holds one (spec §4.4 "owned by the driver; writers append").
type Writer struct {
	mu          sync.Mutex
	dir         string
	maxFileSize uint64

	relPath string
	offset  uint64
	file    *os.File
}

// Open resumes the raw-file stream under dir. If resumeRelPath is empty the
// writer starts a fresh sequence file at offset 0; otherwise it reopens
// that file and continues appending at resumeOffset (the driver supplies
// this from the last durably-committed block's FilePath/end-offset).
func Open(dir string, maxFileSize uint64, resumeRelPath string, resumeOffset uint64) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("rawfile: create folder %s: %w", dir, err)
	}

	w := &Writer{dir: dir, maxFileSize: maxFileSize}
	if resumeRelPath == "" {
		resumeRelPath, resumeOffset = nextSeqName(dir), 0
	}
	if err := w.openAt(resumeRelPath, resumeOffset); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) openAt(relPath string, offset uint64) error {
	f, err := os.OpenFile(filepath.Join(w.dir, relPath), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("rawfile: open %s: %w", relPath, err)
	}
	if err := f.Truncate(int64(offset)); err != nil {
		f.Close()
		return fmt.Errorf("rawfile: truncate %s to %d: %w", relPath, offset, err)
	}
	if _, err := f.Seek(int64(offset), 0); err != nil {
		f.Close()
		return fmt.Errorf("rawfile: seek %s to %d: %w", relPath, offset, err)
	}
	w.file = f
	w.relPath = relPath
	w.offset = offset
	return nil
}

// Append writes dump to the current file, rotating to a fresh sequence file
// first if dump would cross maxFileSize (spec §3 "The driver may rotate to
// a new file"). It returns the file dump landed in and the byte offset it
// starts at, so the caller can stamp the block header's FilePath/FileOffset
// and add the same base offset onto every transaction's relative
// FileOffset (spec §3 "file-relative path and absolute byte offset").
func (w *Writer) Append(dump []byte) (relPath string, baseOffset uint64, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.maxFileSize > 0 && w.offset > 0 && w.offset+uint64(len(dump)) > w.maxFileSize {
		if err := w.rotate(); err != nil {
			return "", 0, err
		}
	}

	n, err := w.file.Write(dump)
	if err != nil {
		return "", 0, fmt.Errorf("rawfile: write %s: %w", w.relPath, err)
	}
	baseOffset = w.offset
	w.offset += uint64(n)
	return w.relPath, baseOffset, nil
}

func (w *Writer) rotate() error {
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("rawfile: close %s: %w", w.relPath, err)
	}
	return w.openAt(nextSeqName(w.dir), 0)
}

// Truncate drops the tail of relPath past offset and deletes every
// later-sequenced file, the §3 rewind rule ("Rewinds ... truncate the tail
// file"). The caller is responsible for also discarding the derived store.
func (w *Writer) Truncate(relPath string, offset uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		if err := w.file.Close(); err != nil {
			return fmt.Errorf("rawfile: close %s: %w", w.relPath, err)
		}
	}

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("rawfile: list %s: %w", w.dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		if e.Name() > relPath {
			if err := os.Remove(filepath.Join(w.dir, e.Name())); err != nil {
				return fmt.Errorf("rawfile: remove %s: %w", e.Name(), err)
			}
		}
	}

	return w.openAt(relPath, offset)
}

// Close releases the current file handle.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	return w.file.Close()
}

func nextSeqName(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return seqName(1)
	}
	var max uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		n, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), fileExt), 10, 64)
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return seqName(max + 1)
}

func seqName(n uint64) string {
	return fmt.Sprintf("%08d%s", n, fileExt)
}
