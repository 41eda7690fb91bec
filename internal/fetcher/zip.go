package fetcher

import (
	"archive/zip"
	"bytes"
	"errors"
	"io"
	"path"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dspace-submission-composer/internal/transform"
)

// ErrZIPEntryNotFound is returned when the requested file is not in the archive.
var ErrZIPEntryNotFound = errors.New("zip: entry not found")

// maxZIPEntrySize caps how much of a single entry is read into memory.
const maxZIPEntrySize = 64 << 20

// ReadZIPFile returns the contents of the named file inside an in-memory ZIP
// archive. name matches either the full entry path or its base name, so
// "data.json" finds "course/data.json" too; an exact match wins.
func ReadZIPFile(data []byte, name string) ([]byte, error) {
	return ReadZIPFileAt(bytes.NewReader(data), int64(len(data)), name)
}

// ReadZIPFileAt is ReadZIPFile over an archive of size bytes read through
// ra. Only the central directory and the named entry are read.
func ReadZIPFileAt(ra io.ReaderAt, size int64, name string) ([]byte, error) {
	r, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, eris.Wrap(err, "zip: open archive")
	}

	var found *zip.File
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.Name == name {
			found = f
			break
		}
		if found == nil && path.Base(f.Name) == name {
			found = f
		}
	}
	if found == nil {
		return nil, eris.Wrapf(ErrZIPEntryNotFound, "zip: %q", name)
	}

	rc, err := found.Open()
	if err != nil {
		return nil, eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := io.ReadAll(io.LimitReader(rc, maxZIPEntrySize+1))
	if err != nil {
		return nil, eris.Wrap(err, "zip: read entry")
	}
	if len(out) > maxZIPEntrySize {
		return nil, eris.Errorf("zip: entry %q exceeds %d bytes", found.Name, maxZIPEntrySize)
	}
	return out, nil
}

// ReadZIPRecord decodes the named JSON file inside a ZIP archive as a record.
func ReadZIPRecord(data []byte, name string) (transform.Record, error) {
	return ReadZIPRecordAt(bytes.NewReader(data), int64(len(data)), name)
}

// ReadZIPRecordAt is ReadZIPRecord over an io.ReaderAt.
func ReadZIPRecordAt(ra io.ReaderAt, size int64, name string) (transform.Record, error) {
	raw, err := ReadZIPFileAt(ra, size, name)
	if err != nil {
		return nil, err
	}
	rec, err := DecodeJSONObject[transform.Record](bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	return *rec, nil
}
