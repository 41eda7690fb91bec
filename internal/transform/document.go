package transform

// Document is a DSpace 6 item metadata document.
type Document struct {
	Metadata []Entry `json:"metadata"`
}

// Entry is one key/value pair. Language is null when unset.
type Entry struct {
	Key      string  `json:"key"`
	Value    string  `json:"value"`
	Language *string `json:"language"`
}

// Validate reports whether doc is non-empty and every entry carries both a
// key and a value.
func Validate(doc *Document) error {
	if doc == nil || len(doc.Metadata) == 0 {
		return &InvalidMetadataError{Reason: "no metadata entries"}
	}
	for i, e := range doc.Metadata {
		if e.Key == "" || e.Value == "" {
			return &InvalidMetadataError{Reason: "entry missing key or value", Index: i}
		}
	}
	return nil
}
