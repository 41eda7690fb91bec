package s3

import (
	"context"
	"io"
)

// defaultBlockSize is the minimum span fetched per ranged read. Archive
// readers issue many small reads near each other.
const defaultBlockSize = 256 << 10

// ReaderAt reads an object of known size through ranged GETs. It keeps the
// last fetched block, so it is not safe for concurrent use.
type ReaderAt struct {
	ctx       context.Context
	c         Client
	bucket    string
	key       string
	size      int64
	blockSize int64

	blockOff int64
	block    []byte
	err      error
}

// NewReaderAt returns a ReaderAt over bucket/key. size must be the object's
// length, as reported by Head or a listing.
func NewReaderAt(ctx context.Context, c Client, bucket, key string, size int64) *ReaderAt {
	return &ReaderAt{ctx: ctx, c: c, bucket: bucket, key: key, size: size, blockSize: defaultBlockSize}
}

// Size returns the object length.
func (r *ReaderAt) Size() int64 { return r.size }

// Err returns the first storage error seen by ReadAt. Callers use it to tell
// an unreadable object from a malformed one.
func (r *ReaderAt) Err() error { return r.err }

// ReadAt implements io.ReaderAt.
func (r *ReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > r.size {
		want = r.size - off
	}

	if off < r.blockOff || off+want > r.blockOff+int64(len(r.block)) {
		length := max(want, r.blockSize)
		if off+length > r.size {
			length = r.size - off
		}
		data, err := r.c.GetRange(r.ctx, r.bucket, r.key, off, length)
		if err != nil {
			if r.err == nil {
				r.err = err
			}
			return 0, err
		}
		r.blockOff, r.block = off, data
	}

	n := copy(p, r.block[off-r.blockOff:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}
