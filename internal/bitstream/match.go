// Package bitstream matches object storage keys to item identifiers.
package bitstream

import (
	"context"
	"path"
	"sort"
	"strings"
)

// Identifier derives an item identifier from an object key: the last path
// segment without its extension, cut at the first underscore. Both
// "batch/123_01.pdf" and "batch/123_02.pdf" yield "123".
func Identifier(key string) string {
	name := path.Base(key)
	if ext := path.Ext(name); ext != "" && ext != name {
		name = strings.TrimSuffix(name, ext)
	}
	if i := strings.Index(name, "_"); i >= 0 {
		name = name[:i]
	}
	return name
}

// Result is the outcome of matching bitstream keys against item identifiers.
type Result struct {
	// Reconciled maps each matched item identifier to its keys.
	Reconciled map[string][]string
	// BitstreamsWithoutMetadata holds keys with no matching identifier.
	BitstreamsWithoutMetadata []string
	// MetadataWithoutBitstreams holds identifiers with no matching key.
	MetadataWithoutBitstreams []string
}

// IdentifierFunc derives an item identifier from an object key.
type IdentifierFunc func(key string) string

// Index accumulates keys by derived identifier in a single pass.
type Index struct {
	identify     IdentifierFunc
	byIdentifier map[string][]string
}

// NewIndex returns an empty Index keyed by Identifier.
func NewIndex() *Index {
	return NewIndexFunc(Identifier)
}

// NewIndexFunc returns an empty Index keyed by fn.
func NewIndexFunc(fn IdentifierFunc) *Index {
	return &Index{identify: fn, byIdentifier: make(map[string][]string)}
}

// Add records one key.
func (x *Index) Add(key string) {
	id := x.identify(key)
	x.byIdentifier[id] = append(x.byIdentifier[id], key)
}

// Keys returns the keys recorded for an identifier.
func (x *Index) Keys(identifier string) []string {
	return x.byIdentifier[identifier]
}

// Len returns the number of distinct identifiers seen.
func (x *Index) Len() int {
	return len(x.byIdentifier)
}

// Match joins the index against item identifiers. Output slices are sorted.
func (x *Index) Match(identifiers []string) *Result {
	res := &Result{Reconciled: make(map[string][]string)}

	wanted := make(map[string]bool, len(identifiers))
	for _, id := range identifiers {
		wanted[id] = true
		keys, ok := x.byIdentifier[id]
		if !ok {
			res.MetadataWithoutBitstreams = append(res.MetadataWithoutBitstreams, id)
			continue
		}
		sorted := append([]string(nil), keys...)
		sort.Strings(sorted)
		res.Reconciled[id] = sorted
	}

	for id, keys := range x.byIdentifier {
		if !wanted[id] {
			res.BitstreamsWithoutMetadata = append(res.BitstreamsWithoutMetadata, keys...)
		}
	}

	sort.Strings(res.BitstreamsWithoutMetadata)
	sort.Strings(res.MetadataWithoutBitstreams)
	return res
}

// Drain adds every key from a listing until both channels close. It returns
// the first error from errc or ctx.
func (x *Index) Drain(ctx context.Context, keys <-chan string, errc <-chan error) error {
	for keys != nil || errc != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case key, ok := <-keys:
			if !ok {
				keys = nil
				continue
			}
			x.Add(key)
		case err, ok := <-errc:
			if !ok {
				errc = nil
				continue
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Match drains keys into a new index and joins it against identifiers.
func Match(ctx context.Context, keys <-chan string, errc <-chan error, identifiers []string) (*Result, *Index, error) {
	idx := NewIndex()
	if err := idx.Drain(ctx, keys, errc); err != nil {
		return nil, nil, err
	}
	return idx.Match(identifiers), idx, nil
}
