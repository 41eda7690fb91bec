package transform

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const crossrefWork = `{
	"title": ["An Article", "Part Two"],
	"issued": {"date-parts": [[2019, 2, 8]]},
	"author": [
		{"given": "Marsha", "family": "Mellow"},
		{"family": "Anonymous"}
	],
	"original-title": [],
	"short-title": ["Article"],
	"subtitle": ["A Study"],
	"publisher": "Wiley",
	"ISSN": ["1234-5678", "8765-4321"],
	"container-title": ["Journal of Things"],
	"volume": "12",
	"issue": "3",
	"language": "en"
}`

func TestWiley(t *testing.T) {
	var rec Record
	require.NoError(t, json.Unmarshal([]byte(crossrefWork), &rec))

	md, err := Wiley().Transform(rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"An Article. Part Two"}, md["dc.title"].Values)
	assert.Equal(t, []string{"2019-02-08"}, md["dc.date.issued"].Values)
	assert.Equal(t, []string{"Mellow, Marsha"}, md["dc.contributor.author"].Values)
	assert.Equal(t, []string{"Article", "A Study"}, md["dc.title.alternative"].Values)
	assert.Equal(t, []string{"1234-5678", "8765-4321"}, md["dc.identifier.issn"].Values)
	assert.Equal(t, []string{"Journal of Things"}, md["dc.relation.journal"].Values)
	assert.Equal(t, []string{"12"}, md["mit.journal.volume"].Values)
	assert.Equal(t, []string{"3"}, md["mit.journal.issue"].Values)
	assert.NotContains(t, md, "dc.relation.isversionof")
}

func TestCrossrefIssued(t *testing.T) {
	tests := []struct {
		name   string
		issued any
		want   any
	}{
		{"full date", map[string]any{"date-parts": []any{[]any{2019.0, 2.0, 8.0}}}, "2019-02-08"},
		{"no day", map[string]any{"date-parts": []any{[]any{2019.0, 11.0}}}, "2019-11"},
		{"json number", map[string]any{"date-parts": []any{[]any{json.Number("2020"), json.Number("1"), json.Number("5")}}}, "2020-01-05"},
		{"year only", map[string]any{"date-parts": []any{[]any{2019.0}}}, nil},
		{"missing", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, crossrefIssued(Record{"issued": tt.issued}))
		})
	}
}
