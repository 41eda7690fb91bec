package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sells-group/dspace-submission-composer/internal/transform"
)

// CSVOptions configures CSV parsing.
type CSVOptions struct {
	Delimiter  rune          // default ','
	HasHeader  bool          // if true, first row is sent on HeaderCh
	HeaderCh   chan []string // receives the header row when HasHeader is set
	Comment    rune          // comment character, 0 to disable
	LazyQuotes bool
	TrimSpace  bool
	// Charset names the input encoding ("windows-1252", "latin1", ...).
	// Empty means UTF-8.
	Charset string
}

// decodeCharset wraps r with a decoder for the named charset.
func decodeCharset(r io.Reader, charset string) (io.Reader, error) {
	if charset == "" || strings.EqualFold(charset, "utf-8") || strings.EqualFold(charset, "utf8") {
		return r, nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: unknown charset %q", charset)
	}
	return enc.NewDecoder().Reader(r), nil
}

// StreamCSV reads CSV from r and sends each row to the returned channel.
// Both channels are closed when processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		src, err := decodeCharset(r, opts.Charset)
		if err != nil {
			errCh <- err
			return
		}

		reader := csv.NewReader(src)
		reader.ReuseRecord = false
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = opts.LazyQuotes

		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}

		first := true
		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}

			if opts.TrimSpace {
				for i := range record {
					record[i] = strings.TrimSpace(record[i])
				}
			}
			if first {
				// strip a UTF-8 byte order mark left by spreadsheet exports
				if len(record) > 0 {
					record[0] = strings.TrimPrefix(record[0], "\ufeff")
				}
				first = false
				if opts.HasHeader {
					if opts.HeaderCh != nil {
						opts.HeaderCh <- record
					}
					continue
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// RecordOptions configures ReadRecords.
type RecordOptions struct {
	// IdentifierColumns are renamed to item_identifier. Default:
	// ["item_identifier"].
	IdentifierColumns []string
	Charset           string
}

// ReadRecords reads a metadata CSV with a header row into records. Headers are
// lower-cased, identifier columns are renamed to item_identifier, rows where
// every value is empty are dropped and empty cells are left out of the record.
func ReadRecords(ctx context.Context, r io.Reader, opts RecordOptions) ([]transform.Record, error) {
	idCols := opts.IdentifierColumns
	if len(idCols) == 0 {
		idCols = []string{"item_identifier"}
	}

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(ctx, r, CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		Charset:   opts.Charset,
	})

	var (
		header  []string
		records []transform.Record
	)
	for row := range rowCh {
		if header == nil {
			header = normalizeHeader(<-headerCh, idCols)
		}
		rec := make(transform.Record, len(row))
		for i, cell := range row {
			if i >= len(header) || header[i] == "" {
				continue
			}
			if strings.TrimSpace(cell) == "" {
				continue
			}
			rec[header[i]] = cell
		}
		if len(rec) == 0 {
			continue
		}
		records = append(records, rec)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return records, nil
}

func normalizeHeader(header, idCols []string) []string {
	isID := make(map[string]bool, len(idCols))
	for _, c := range idCols {
		isID[strings.ToLower(c)] = true
	}

	out := make([]string, len(header))
	var renamed []string
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(h))
		if isID[name] {
			renamed = append(renamed, name)
			name = "item_identifier"
		}
		out[i] = name
	}
	if len(renamed) > 1 {
		zap.L().Warn("csv: several columns renamed to item_identifier",
			zap.Strings("columns", renamed),
		)
	}
	return out
}
