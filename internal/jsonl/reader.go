// Package jsonl reads line-oriented JSON transcript files through a read-only
// memory mapping. A Handle is a snapshot: bytes appended to the file after
// Open are not visible until the file is opened again.
package jsonl

import (
	"bytes"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Line is one physical line of a transcript file. Numbers are 1-based and
// stable across re-reads; Content excludes the trailing newline and is a copy,
// valid after the Handle is closed.
type Line struct {
	Number     int
	ByteOffset int64
	Content    []byte
}

// Handle is a read-only snapshot of a JSONL file.
type Handle struct {
	path string
	data mmap.MMap
	file *os.File
}

// Open maps path read-only. Empty files map to an empty snapshot.
func Open(path string) (*Handle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	h := &Handle{path: path, file: f}
	if info.Size() == 0 {
		return h, nil
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	h.data = m
	return h, nil
}

// Close unmaps the snapshot. Lines returned earlier remain valid.
func (h *Handle) Close() error {
	var err error
	if h.data != nil {
		err = h.data.Unmap()
		h.data = nil
	}
	if h.file != nil {
		if cerr := h.file.Close(); err == nil {
			err = cerr
		}
		h.file = nil
	}
	return err
}

// Path returns the file path the handle was opened from.
func (h *Handle) Path() string { return h.path }

// CountLines reports the number of lines in the snapshot. A trailing line
// without a newline terminator counts.
func (h *Handle) CountLines() int {
	if len(h.data) == 0 {
		return 0
	}
	n := bytes.Count(h.data, []byte{'\n'})
	if h.data[len(h.data)-1] != '\n' {
		n++
	}
	return n
}

// ReadPage returns up to limit lines starting at the 1-based startLine,
// inclusive. A start past the end of the snapshot yields an empty slice.
// Blank lines are returned like any other so that re-reading a range never
// renumbers lines.
func (h *Handle) ReadPage(startLine, limit int) []Line {
	if startLine < 1 || limit <= 0 || len(h.data) == 0 {
		return nil
	}
	var (
		lines  []Line
		number = 1
		offset = 0
	)
	for offset < len(h.data) && len(lines) < limit {
		end := bytes.IndexByte(h.data[offset:], '\n')
		var next int
		if end < 0 {
			end = len(h.data)
			next = end
		} else {
			end += offset
			next = end + 1
		}
		if number >= startLine {
			content := make([]byte, end-offset)
			copy(content, h.data[offset:end])
			lines = append(lines, Line{
				Number:     number,
				ByteOffset: int64(offset),
				Content:    content,
			})
		}
		number++
		offset = next
	}
	return lines
}

// ReadReverse returns the last k lines of the snapshot in forward order. The
// result agrees byte-for-byte with the tail of ReadPage over the whole file.
func (h *Handle) ReadReverse(k int) []Line {
	if k <= 0 {
		return nil
	}
	total := h.CountLines()
	if total == 0 {
		return nil
	}
	start := total - k + 1
	if start < 1 {
		start = 1
	}
	return h.ReadPage(start, k)
}

// CountLines opens path, counts its lines, and closes it.
func CountLines(path string) (int, error) {
	h, err := Open(path)
	if err != nil {
		return 0, err
	}
	defer h.Close()
	return h.CountLines(), nil
}

// ReadPage opens path, reads one page, and closes it.
func ReadPage(path string, startLine, limit int) ([]Line, error) {
	h, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.ReadPage(startLine, limit), nil
}

// ReadReverse opens path, reads the last k lines, and closes it.
func ReadReverse(path string, k int) ([]Line, error) {
	h, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer h.Close()
	return h.ReadReverse(k), nil
}
