package fetcher

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
)

// DecodeJSONLines decodes one JSON value per line, sending each to a channel.
// Blank lines are skipped. Both channels are closed when processing completes.
func DecodeJSONLines[T any](ctx context.Context, r io.Reader) (<-chan T, <-chan error) {
	outCh := make(chan T, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(outCh)
		defer close(errCh)

		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)

		line := 0
		for scanner.Scan() {
			line++
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "jsonl: context cancelled")
				return
			}

			b := bytes.TrimSpace(scanner.Bytes())
			if len(b) == 0 {
				continue
			}

			var item T
			if err := json.Unmarshal(b, &item); err != nil {
				errCh <- eris.Wrapf(err, "jsonl: decode line %d", line)
				return
			}

			select {
			case outCh <- item:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "jsonl: context cancelled")
				return
			}
		}
		if err := scanner.Err(); err != nil {
			errCh <- eris.Wrap(err, "jsonl: read")
		}
	}()

	return outCh, errCh
}

// ReadJSONLines collects every value of a JSON Lines stream.
func ReadJSONLines[T any](ctx context.Context, r io.Reader) ([]T, error) {
	outCh, errCh := DecodeJSONLines[T](ctx, r)
	var items []T
	for item := range outCh {
		items = append(items, item)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return items, nil
}

// EncodeJSONLines writes items as JSON Lines.
func EncodeJSONLines[T any](w io.Writer, items []T) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for i, item := range items {
		if err := enc.Encode(item); err != nil {
			return eris.Wrapf(err, "jsonl: encode item %d", i)
		}
	}
	return nil
}

// DecodeJSONObject decodes a single JSON object from a reader.
func DecodeJSONObject[T any](r io.Reader) (*T, error) {
	var obj T
	if err := json.NewDecoder(r).Decode(&obj); err != nil {
		return nil, eris.Wrap(err, "json: decode object")
	}
	return &obj, nil
}
