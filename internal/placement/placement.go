// Package placement defines the physical address of a stored fragment.
package placement

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Size is the length of a Record's binary form: four big-endian uint64s.
const Size = 32

// ErrBadRecord is returned when decoding a record of the wrong length.
var ErrBadRecord = errors.New("placement: bad record")

// Record locates a byte range inside a shard's fragment files.
type Record struct {
	Partition uint64 `json:"partition"`
	Offset    uint64 `json:"offset"`
	Length    uint64 `json:"length"`
	FileID    uint64 `json:"file_id"`
}

// End returns the first byte after the range.
func (r Record) End() uint64 {
	return r.Offset + r.Length
}

// SameFile reports whether both records address the same (partition, file) pair.
func (r Record) SameFile(other Record) bool {
	return r.Partition == other.Partition && r.FileID == other.FileID
}

// Overlaps reports whether r and other share at least one byte of the same file.
func (r Record) Overlaps(other Record) bool {
	if !r.SameFile(other) || r.Length == 0 || other.Length == 0 {
		return false
	}
	return r.Offset < other.End() && other.Offset < r.End()
}

func (r Record) String() string {
	return fmt.Sprintf("p%d/f%d@%d+%d", r.Partition, r.FileID, r.Offset, r.Length)
}

// AppendBinary appends the 32-byte encoding of r to b.
func (r Record) AppendBinary(b []byte) []byte {
	b = binary.BigEndian.AppendUint64(b, r.Partition)
	b = binary.BigEndian.AppendUint64(b, r.Offset)
	b = binary.BigEndian.AppendUint64(b, r.Length)
	return binary.BigEndian.AppendUint64(b, r.FileID)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (r Record) MarshalBinary() ([]byte, error) {
	return r.AppendBinary(make([]byte, 0, Size)), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != Size {
		return fmt.Errorf("%w: %d bytes", ErrBadRecord, len(b))
	}
	r.Partition = binary.BigEndian.Uint64(b[0:8])
	r.Offset = binary.BigEndian.Uint64(b[8:16])
	r.Length = binary.BigEndian.Uint64(b[16:24])
	r.FileID = binary.BigEndian.Uint64(b[24:32])
	return nil
}
