package transform

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// MappingField maps one target field onto a source column.
type MappingField struct {
	SourceFieldName string `yaml:"source_field_name"`
	Language        string `yaml:"language"`
	Delimiter       string `yaml:"delimiter"`
	Required        bool   `yaml:"required"`
}

// Mapping is a field mapping file keyed by qualified target name. JSON
// mapping files parse as well, since JSON is valid YAML.
type Mapping map[string]MappingField

// LoadMapping reads a mapping file from path.
func LoadMapping(path string) (Mapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "transform: read mapping %s", path)
	}
	return ParseMapping(data)
}

// ParseMapping decodes a mapping document.
func ParseMapping(data []byte) (Mapping, error) {
	var m Mapping
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, eris.Wrap(err, "transform: parse mapping")
	}
	if len(m) == 0 {
		return nil, eris.New("transform: mapping has no fields")
	}
	for name, f := range m {
		if f.SourceFieldName == "" {
			return nil, eris.Errorf("transform: mapping field %s has no source_field_name", name)
		}
	}
	return m, nil
}

// Transformer builds a Transformer from the mapping. The item_identifier
// entry names the identifier column and is not a metadata field.
func (m Mapping) Transformer() *Transformer {
	names := make([]string, 0, len(m))
	for name := range m {
		if name != "item_identifier" {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	t := &Transformer{}
	for _, name := range names {
		mf := m[name]
		f := Field{Name: name, Source: mf.SourceFieldName, Delimiter: mf.Delimiter, Language: mf.Language}
		if mf.Required {
			t.Required = append(t.Required, f)
		} else {
			t.Optional = append(t.Optional, f)
		}
	}
	return t
}

// SimpleCSV is the default transformer for CSV batches without a mapping
// file. Columns are named after their target fields.
func SimpleCSV() *Transformer {
	return New(
		Field{Name: "dc.contributor.author", Delimiter: "|"},
		Field{Name: "dc.description"},
		Field{Name: "dc.description.abstract"},
		Field{Name: "dc.identifier.uri"},
		Field{Name: "dc.publisher"},
		Field{Name: "dc.rights"},
		Field{Name: "dc.rights.uri"},
		Field{Name: "dc.subject", Delimiter: "|"},
		Field{Name: "dc.type"},
	)
}
