package transform

// SCCS returns the transformer for Scholarly Communications and Collections
// Strategy CSV batches. Columns are named after their target fields.
func SCCS() *Transformer {
	return New(
		Field{Name: "dc.publisher"},
		Field{Name: "dc.identifier.mitlicense"},
		Field{Name: "dc.eprint.version"},
		Field{Name: "dc.type"},
		Field{Name: "dc.type.uri"},
		Field{Name: "dc.source"},
		Field{Name: "dc.contributor.author", Delimiter: "|"},
		Field{Name: "dc.contributor.department"},
		Field{Name: "dc.relation.isversionof"},
		Field{Name: "dc.relation.journal"},
		Field{Name: "dc.identifier.issn"},
		Field{Name: "dc.date.submitted"},
		Field{Name: "dc.rights"},
		Field{Name: "dc.rights.uri"},
		Field{Name: "dc.description"},
		Field{Name: "dc.description.sponsorship"},
	)
}

// ArchivesSpace returns the transformer for digitized ArchivesSpace objects.
func ArchivesSpace() *Transformer {
	return New(
		Field{Name: "dc.contributor.author", Source: "author", Delimiter: "|"},
		Field{Name: "dc.description"},
		Field{Name: "dc.rights"},
		Field{Name: "dc.rights.uri"},
	)
}
