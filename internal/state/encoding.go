package state

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"PredictionLedger/internal/keys"
)

// DiscriminatorSize is the fixed width of the record-type prefix that
// opens every serialized account image.
const DiscriminatorSize = 8

// Discriminator derives the 8-byte record-type prefix for a record name.
func Discriminator(recordName string) [DiscriminatorSize]byte {
	sum := sha256.Sum256([]byte("account:" + recordName))
	var d [DiscriminatorSize]byte
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// --- little-endian append helpers ---

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendI64(buf []byte, v int64) []byte {
	return appendU64(buf, uint64(v))
}

func appendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendString(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	return append(buf, s...)
}

// recordReader decodes little-endian account images with a sticky error.
type recordReader struct {
	data []byte
	pos  int
	err  error
}

// newRecordReader checks the discriminator and positions the reader
// after it.
func newRecordReader(data []byte, recordName string) *recordReader {
	r := &recordReader{data: data}
	if len(data) < DiscriminatorSize {
		r.err = fmt.Errorf("%s: %d bytes is shorter than the discriminator", recordName, len(data))
		return r
	}
	want := Discriminator(recordName)
	var got [DiscriminatorSize]byte
	copy(got[:], data[:DiscriminatorSize])
	if got != want {
		r.err = fmt.Errorf("%s: discriminator mismatch (got %x)", recordName, got)
		return r
	}
	r.pos = DiscriminatorSize
	return r
}

func (r *recordReader) finish(recordName string) error {
	if r.err != nil {
		return r.err
	}
	if r.pos != len(r.data) {
		return fmt.Errorf("%s: %d trailing bytes", recordName, len(r.data)-r.pos)
	}
	return nil
}

func (r *recordReader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos+n > len(r.data) {
		r.err = fmt.Errorf("truncated record at offset %d (need %d bytes)", r.pos, n)
		return nil
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *recordReader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *recordReader) boolean() bool {
	return r.byte() != 0
}

func (r *recordReader) u16() uint16 {
	b := r.take(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (r *recordReader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (r *recordReader) u64() uint64 {
	b := r.take(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (r *recordReader) i64() int64 {
	return int64(r.u64())
}

func (r *recordReader) address() keys.Address {
	var addr keys.Address
	b := r.take(32)
	if b != nil {
		copy(addr[:], b)
	}
	return addr
}

func (r *recordReader) str(maxLen int) string {
	n := int(r.u32())
	if r.err != nil {
		return ""
	}
	if n > maxLen {
		r.err = fmt.Errorf("string length %d exceeds cap %d", n, maxLen)
		return ""
	}
	b := r.take(n)
	if b == nil {
		return ""
	}
	return string(b)
}
