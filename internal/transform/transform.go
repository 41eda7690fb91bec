// Package transform maps source records onto qualified Dublin Core metadata
// and serializes the result as a DSpace 6 metadata document.
package transform

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Deriver computes a field value. It is sealed: only Fn0 and Fn1 implement it.
type Deriver interface {
	derive(rec Record) any
}

// Fn0 derives a static value that does not depend on the source record.
type Fn0 func() any

func (f Fn0) derive(Record) any { return f() }

// Fn1 derives a value from the whole source record.
type Fn1 func(rec Record) any

func (f Fn1) derive(rec Record) any { return f(rec) }

// Field declares one target field.
type Field struct {
	Name      string  // qualified name, e.g. "dc.contributor.author"
	Source    string  // source key; defaults to Name
	Delimiter string  // splits a single string into several values
	Language  string  // shared language tag for every value
	Derive    Deriver // nil means a direct copy from Source
}

func (f Field) source() string {
	if f.Source != "" {
		return f.Source
	}
	return f.Name
}

// Value is the normalized content of one target field.
type Value struct {
	Values   []string
	Language string
}

// Metadata is the output of a Transformer keyed by qualified field name.
type Metadata map[string]Value

// Transformer maps source records for one source system. Required fields
// must produce at least one value; absent optional fields are omitted.
type Transformer struct {
	Required []Field
	Optional []Field
}

// BaseRequired are the fields every DSpace item must carry.
var BaseRequired = []Field{
	{Name: "dc.title"},
	{Name: "dc.date.issued"},
}

// New returns a Transformer with the base required fields and the given
// optional fields.
func New(optional ...Field) *Transformer {
	return &Transformer{
		Required: append([]Field(nil), BaseRequired...),
		Optional: optional,
	}
}

// Fields returns the declared names, required first.
func (t *Transformer) Fields() []string {
	names := make([]string, 0, len(t.Required)+len(t.Optional))
	for _, f := range t.Required {
		names = append(names, f.Name)
	}
	for _, f := range t.Optional {
		names = append(names, f.Name)
	}
	return names
}

// Transform applies every declared field to rec.
func (t *Transformer) Transform(rec Record) (Metadata, error) {
	out := make(Metadata, len(t.Required)+len(t.Optional))
	for _, f := range t.Required {
		v := f.apply(rec)
		if len(v.Values) == 0 {
			return nil, &MissingRequiredFieldError{Field: f.Name, Source: f.source()}
		}
		out[f.Name] = v
	}
	for _, f := range t.Optional {
		if v := f.apply(rec); len(v.Values) > 0 {
			out[f.Name] = v
		}
	}
	return out, nil
}

func (f Field) apply(rec Record) Value {
	var raw any
	if f.Derive != nil {
		raw = f.Derive.derive(rec)
	} else {
		raw = rec[f.source()]
	}
	return Value{Values: values(raw, f.Delimiter), Language: f.Language}
}

// values flattens raw into normalized, non-empty strings.
func values(raw any, delim string) []string {
	var parts []string
	switch v := raw.(type) {
	case nil:
		return nil
	case string:
		if delim != "" {
			parts = strings.Split(v, delim)
		} else {
			parts = []string{v}
		}
	case []string:
		parts = v
	case []any:
		for _, e := range v {
			parts = append(parts, values(e, "")...)
		}
	default:
		parts = []string{fmt.Sprint(v)}
	}

	var out []string
	for _, p := range parts {
		if s := normalize(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalize(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// Document renders m as a DSpace 6 metadata document with entries sorted by
// key. Values within a key keep their order.
func (m Metadata) Document() *Document {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := &Document{Metadata: []Entry{}}
	for _, k := range keys {
		v := m[k]
		var lang *string
		if v.Language != "" {
			l := v.Language
			lang = &l
		}
		for _, s := range v.Values {
			doc.Metadata = append(doc.Metadata, Entry{Key: k, Value: s, Language: lang})
		}
	}
	return doc
}
