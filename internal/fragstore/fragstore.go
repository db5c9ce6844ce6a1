// Package fragstore is the append-only byte store behind a shard. Encoded
// fragments are appended to numbered files inside one directory and addressed
// by placement records; bytes are never overwritten.
//
// File layout:
//
//	<dir>/<partition>-<file id>.frag
//
// The highest file id of the store's partition is the active file. When
// appending would push it past MaxFileSize a new file is started.
//
// A Store has exactly one writer and is not safe for concurrent use.
package fragstore

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/dreamware/graphshard/internal/placement"
)

const (
	// DataFileExtension is the suffix of every fragment file.
	DataFileExtension = ".frag"

	// DefaultMaxFileSize is the rotation threshold used when Options leaves it zero.
	DefaultMaxFileSize = 1 << 30

	// DefaultBufferSize is the write buffer size used when Options leaves it zero.
	DefaultBufferSize = 256 << 10
)

var (
	// ErrTruncated is returned when a read comes back shorter than the record.
	ErrTruncated = errors.New("fragstore: truncated read")

	// ErrOutOfRange is returned for records outside the written area or of
	// another partition.
	ErrOutOfRange = errors.New("fragstore: range out of bounds")

	// ErrUnknownFile is returned when a record names a file that does not exist.
	ErrUnknownFile = errors.New("fragstore: unknown file")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("fragstore: closed")
)

// Options configures a Store.
type Options struct {
	// Partition is stamped into every record this store produces.
	Partition uint64

	// MaxFileSize is the size at which the active file is rotated.
	MaxFileSize uint64

	// BufferSize is the size of the write buffer in front of the active file.
	BufferSize int

	// NoSync skips fsync in Flush. Buffered bytes are still written out.
	NoSync bool
}

// Stats counts the work a Store has done since it was opened.
type Stats struct {
	Appends      uint64 `json:"appends"`
	BytesWritten uint64 `json:"bytes_written"`
	Reads        uint64 `json:"reads"`
	Flushes      uint64 `json:"flushes"`
	Rotations    uint64 `json:"rotations"`
	ActiveFile   uint64 `json:"active_file"`
	ActiveSize   uint64 `json:"active_size"`
}

// readFile is a read handle and the size the file had when it was opened or
// sealed.
type readFile struct {
	*os.File
	size uint64
}

// Store allocates byte ranges in the files of one partition.
type Store struct {
	readers map[uint64]*readFile
	active  *os.File
	w       *bufio.Writer
	dir     string
	opts    Options
	stats   Stats

	fileID  uint64 // id of the active file
	offset  uint64 // next free byte in the active file
	flushed uint64 // bytes of the active file already handed to the OS
	dirty   bool   // appended since the last Flush
	closed  bool
}

// Open opens the store in dir, creating the directory and the first file if
// needed. Appends continue at the end of the newest existing file.
func Open(dir string, opts Options) (*Store, error) {
	if opts.MaxFileSize == 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = DefaultBufferSize
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("fragstore: create %s: %w", dir, err)
	}

	ids, err := listFiles(dir, opts.Partition)
	if err != nil {
		return nil, err
	}

	s := &Store{
		readers: make(map[uint64]*readFile),
		dir:     dir,
		opts:    opts,
	}
	if len(ids) > 0 {
		s.fileID = ids[len(ids)-1]
	}
	if err := s.openActive(); err != nil {
		return nil, err
	}
	return s, nil
}

// FileName returns the name of a fragment file.
func FileName(partition, fileID uint64) string {
	return fmt.Sprintf("%04d-%08d%s", partition, fileID, DataFileExtension)
}

// parseFileName is the inverse of FileName.
func parseFileName(name string) (partition, fileID uint64, ok bool) {
	base, found := strings.CutSuffix(name, DataFileExtension)
	if !found {
		return 0, 0, false
	}
	p, f, found := strings.Cut(base, "-")
	if !found {
		return 0, 0, false
	}
	partition, err := strconv.ParseUint(p, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	fileID, err = strconv.ParseUint(f, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	return partition, fileID, true
}

func listFiles(dir string, partition uint64) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("fragstore: scan %s: %w", dir, err)
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		p, id, ok := parseFileName(e.Name())
		if ok && p == partition {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *Store) path(fileID uint64) string {
	return filepath.Join(s.dir, FileName(s.opts.Partition, fileID))
}

func (s *Store) openActive() error {
	f, err := os.OpenFile(s.path(s.fileID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("fragstore: open active file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("fragstore: stat active file: %w", err)
	}
	s.active = f
	s.w = bufio.NewWriterSize(f, s.opts.BufferSize)
	s.offset = uint64(info.Size())
	s.flushed = s.offset
	s.stats.ActiveFile = s.fileID
	s.stats.ActiveSize = s.offset
	return nil
}

// Append writes b at the next free offset and returns its placement. The
// bytes are buffered; they are durable only after Flush.
func (s *Store) Append(b []byte) (placement.Record, error) {
	if s.closed {
		return placement.Record{}, ErrClosed
	}

	n := uint64(len(b))
	if s.offset > 0 && s.offset+n > s.opts.MaxFileSize {
		if err := s.rotate(); err != nil {
			return placement.Record{}, err
		}
	}

	if _, err := s.w.Write(b); err != nil {
		return placement.Record{}, fmt.Errorf("fragstore: write file %d: %w", s.fileID, err)
	}

	rec := placement.Record{
		Partition: s.opts.Partition,
		Offset:    s.offset,
		Length:    n,
		FileID:    s.fileID,
	}
	s.offset += n
	s.dirty = true
	s.stats.Appends++
	s.stats.BytesWritten += n
	s.stats.ActiveSize = s.offset
	return rec, nil
}

// rotate seals the active file and starts the next one.
func (s *Store) rotate() error {
	if err := s.sync(); err != nil {
		return err
	}
	if err := s.active.Close(); err != nil {
		return fmt.Errorf("fragstore: close file %d: %w", s.fileID, err)
	}
	if r, ok := s.readers[s.fileID]; ok {
		r.size = s.offset
	}
	s.fileID++
	s.stats.Rotations++
	return s.openActive()
}

// Read returns the bytes addressed by rec.
func (s *Store) Read(rec placement.Record) ([]byte, error) {
	if s.closed {
		return nil, ErrClosed
	}
	if rec.Partition != s.opts.Partition {
		return nil, fmt.Errorf("%w: partition %d, store holds %d", ErrOutOfRange, rec.Partition, s.opts.Partition)
	}
	if rec.FileID > s.fileID {
		return nil, fmt.Errorf("%w: %d", ErrUnknownFile, rec.FileID)
	}
	if rec.End() < rec.Offset {
		return nil, fmt.Errorf("%w: %s overflows", ErrOutOfRange, rec)
	}
	if rec.FileID == s.fileID {
		if rec.End() > s.offset {
			return nil, fmt.Errorf("%w: %s ends past %d", ErrOutOfRange, rec, s.offset)
		}
		// The range may still sit in the write buffer.
		if rec.End() > s.flushed {
			if err := s.w.Flush(); err != nil {
				return nil, fmt.Errorf("fragstore: flush file %d: %w", s.fileID, err)
			}
			s.flushed = s.offset
		}
	}
	if rec.Length == 0 {
		return []byte{}, nil
	}

	f, err := s.reader(rec.FileID)
	if err != nil {
		return nil, err
	}
	// Sealed files never grow, so their size bounds every record in them.
	if rec.FileID < s.fileID && rec.End() > f.size {
		return nil, fmt.Errorf("%w: %w: %s ends past %d", ErrOutOfRange, ErrTruncated, rec, f.size)
	}

	buf := make([]byte, rec.Length)
	n, err := f.ReadAt(buf, int64(rec.Offset))
	if errors.Is(err, io.EOF) || (err == nil && uint64(n) < rec.Length) {
		return nil, fmt.Errorf("%w: %s got %d bytes", ErrTruncated, rec, n)
	}
	if err != nil {
		return nil, fmt.Errorf("fragstore: read %s: %w", rec, err)
	}
	s.stats.Reads++
	return buf, nil
}

func (s *Store) reader(fileID uint64) (*readFile, error) {
	if r, ok := s.readers[fileID]; ok {
		return r, nil
	}
	f, err := os.Open(s.path(fileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d: %w", ErrUnknownFile, fileID, err)
	}
	if err != nil {
		return nil, fmt.Errorf("fragstore: open file %d: %w", fileID, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("fragstore: stat file %d: %w", fileID, err)
	}
	r := &readFile{File: f, size: uint64(info.Size())}
	s.readers[fileID] = r
	return r, nil
}

// Flush writes out buffered bytes and fsyncs the active file. A Flush with
// nothing appended since the previous one does no I/O.
func (s *Store) Flush() error {
	if s.closed {
		return ErrClosed
	}
	if !s.dirty {
		return nil
	}
	if err := s.sync(); err != nil {
		return err
	}
	s.stats.Flushes++
	return nil
}

func (s *Store) sync() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("fragstore: flush file %d: %w", s.fileID, err)
	}
	s.flushed = s.offset
	if !s.opts.NoSync {
		if err := s.active.Sync(); err != nil {
			return fmt.Errorf("fragstore: sync file %d: %w", s.fileID, err)
		}
	}
	s.dirty = false
	return nil
}

// Files returns the ids of all files of this partition in ascending order.
func (s *Store) Files() ([]uint64, error) {
	return listFiles(s.dir, s.opts.Partition)
}

// Dir returns the directory holding the files.
func (s *Store) Dir() string {
	return s.dir
}

// Stats returns a snapshot of the counters.
func (s *Store) Stats() Stats {
	return s.stats
}

// Close flushes pending bytes and releases every file handle. It is safe to
// call more than once.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	if s.dirty {
		if err := s.sync(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := s.active.Close(); err != nil {
		errs = append(errs, fmt.Errorf("fragstore: close file %d: %w", s.fileID, err))
	}
	for id, f := range s.readers {
		if err := f.Close(); err != nil {
			errs = append(errs, fmt.Errorf("fragstore: close reader %d: %w", id, err))
		}
	}
	s.readers = nil
	return errors.Join(errs...)
}
