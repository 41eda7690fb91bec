package fetcher

import (
	"archive/zip"
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestZIP(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestReadZIPFile(t *testing.T) {
	data := createTestZIP(t, map[string]string{
		"course/data.json": `{"course_title":"Nested"}`,
		"data.json":        `{"course_title":"Root"}`,
		"course/file.pdf":  "%PDF",
	})

	got, err := ReadZIPFile(data, "data.json")
	require.NoError(t, err)
	assert.Equal(t, `{"course_title":"Root"}`, string(got))

	got, err = ReadZIPFile(data, "file.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(got))
}

func TestReadZIPFile_BaseNameMatch(t *testing.T) {
	data := createTestZIP(t, map[string]string{
		"18.01-fall-2006/data.json": `{"course_title":"Calculus"}`,
	})

	rec, err := ReadZIPRecord(data, "data.json")
	require.NoError(t, err)
	assert.Equal(t, "Calculus", rec.String("course_title"))
}

func TestReadZIPFile_NotFound(t *testing.T) {
	data := createTestZIP(t, map[string]string{"other.txt": "x"})

	_, err := ReadZIPFile(data, "data.json")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrZIPEntryNotFound))
}

func TestReadZIPFile_InvalidArchive(t *testing.T) {
	_, err := ReadZIPFile([]byte("not a zip"), "data.json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip: open archive")
}

func TestReadZIPRecord_InvalidJSON(t *testing.T) {
	data := createTestZIP(t, map[string]string{"data.json": "{"})

	_, err := ReadZIPRecord(data, "data.json")
	assert.Error(t, err)
}

func TestReadZIPRecordAt(t *testing.T) {
	data := createTestZIP(t, map[string]string{
		"8.01/data.json": `{"course_title":"Physics I"}`,
	})

	rec, err := ReadZIPRecordAt(bytes.NewReader(data), int64(len(data)), "data.json")
	require.NoError(t, err)
	assert.Equal(t, "Physics I", rec["course_title"])

	_, err = ReadZIPRecordAt(bytes.NewReader(data[:len(data)/2]), int64(len(data)/2), "data.json")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrZIPEntryNotFound))
}
