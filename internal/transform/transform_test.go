package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransformDelimitedMapping(t *testing.T) {
	tr := Mapping{
		"dc.title":        {SourceFieldName: "title", Required: true},
		"dc.date.issued":  {SourceFieldName: "date", Required: true},
		"dc.contributor":  {SourceFieldName: "contributor", Delimiter: "|"},
		"item_identifier": {SourceFieldName: "id", Required: true},
	}.Transformer()

	md, err := tr.Transform(Record{"title": "T", "date": "2024", "contributor": "A|B"})
	require.NoError(t, err)

	assert.Equal(t, Metadata{
		"dc.title":       {Values: []string{"T"}},
		"dc.date.issued": {Values: []string{"2024"}},
		"dc.contributor": {Values: []string{"A", "B"}},
	}, md)
}

func TestTransformDeclaredFieldsOnly(t *testing.T) {
	tr := SCCS()
	rec := Record{"extra": "ignored"}
	for _, name := range tr.Fields() {
		rec[name] = "value for " + name
	}

	md, err := tr.Transform(rec)
	require.NoError(t, err)

	got := make([]string, 0, len(md))
	for k := range md {
		got = append(got, k)
	}
	assert.ElementsMatch(t, tr.Fields(), got)
}

func TestTransformMissingRequired(t *testing.T) {
	tests := []struct {
		name  string
		rec   Record
		field string
	}{
		{"absent", Record{"dc.date.issued": "2024"}, "dc.title"},
		{"empty string", Record{"dc.title": "  ", "dc.date.issued": "2024"}, "dc.title"},
		{"nil", Record{"dc.title": "T", "dc.date.issued": nil}, "dc.date.issued"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New().Transform(tt.rec)
			var missing *MissingRequiredFieldError
			require.ErrorAs(t, err, &missing)
			assert.Equal(t, tt.field, missing.Field)
		})
	}
}

func TestTransformOmitsAbsentOptional(t *testing.T) {
	tr := New(Field{Name: "dc.description"}, Field{Name: "dc.subject", Delimiter: ";"})

	md, err := tr.Transform(Record{"dc.title": "T", "dc.date.issued": "2024", "dc.subject": " ; "})
	require.NoError(t, err)

	assert.NotContains(t, md, "dc.description")
	assert.NotContains(t, md, "dc.subject")
}

func TestTransformDerivations(t *testing.T) {
	calls := 0
	tr := &Transformer{
		Required: []Field{
			{Name: "dc.title", Derive: Fn1(func(rec Record) any { calls++; return rec.String("a") + " " + rec.String("b") })},
			{Name: "dc.date.issued", Derive: Fn0(func() any { return 2024 })},
		},
		Optional: []Field{
			{Name: "dc.language.iso", Language: "en", Derive: Fn0(func() any { return []string{"en_US"} })},
		},
	}

	md, err := tr.Transform(Record{"a": "Hello", "b": "World"})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"Hello World"}, md["dc.title"].Values)
	assert.Equal(t, []string{"2024"}, md["dc.date.issued"].Values)
	assert.Equal(t, Value{Values: []string{"en_US"}, Language: "en"}, md["dc.language.iso"])
}

func TestTransformNormalizesValues(t *testing.T) {
	md, err := New().Transform(Record{"dc.title": "  Cafe\u0301 ", "dc.date.issued": "2024"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Caf\u00e9"}, md["dc.title"].Values)
}

func TestDocument(t *testing.T) {
	md := Metadata{
		"dc.title":              {Values: []string{"T"}, Language: "en_US"},
		"dc.contributor.author": {Values: []string{"B", "A"}},
	}

	data, err := json.Marshal(md.Document())
	require.NoError(t, err)

	assert.JSONEq(t, `{"metadata":[
		{"key":"dc.contributor.author","value":"B","language":null},
		{"key":"dc.contributor.author","value":"A","language":null},
		{"key":"dc.title","value":"T","language":"en_US"}
	]}`, string(data))
}

func TestValidate(t *testing.T) {
	lang := "en"
	tests := []struct {
		name    string
		doc     *Document
		wantErr bool
	}{
		{"valid", &Document{Metadata: []Entry{{Key: "dc.title", Value: "T", Language: &lang}}}, false},
		{"nil", nil, true},
		{"empty", &Document{}, true},
		{"missing key", &Document{Metadata: []Entry{{Key: "dc.title", Value: "T"}, {Value: "x"}}}, true},
		{"missing value", &Document{Metadata: []Entry{{Key: "dc.title"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.doc)
			if tt.wantErr {
				var invalid *InvalidMetadataError
				assert.ErrorAs(t, err, &invalid)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMissingRequiredFieldErrorMessage(t *testing.T) {
	assert.Equal(t, "item metadata missing required field: 'dc.title'",
		(&MissingRequiredFieldError{Field: "dc.title", Source: "dc.title"}).Error())
	assert.Equal(t, "item metadata missing required field: 'dc.title' (source 'title')",
		(&MissingRequiredFieldError{Field: "dc.title", Source: "title"}).Error())
}

func TestArchivesSpaceAuthors(t *testing.T) {
	md, err := ArchivesSpace().Transform(Record{
		"dc.title":       "Letter",
		"dc.date.issued": "1901",
		"author":         "Smith, J.|Jones, K.",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"Smith, J.", "Jones, K."}, md["dc.contributor.author"].Values)
}
