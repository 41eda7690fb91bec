package dss

import (
	"github.com/xeipuuv/gojsonschema"
)

const attributesSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "DSS Result Message - MessageAttributes",
	"type": "object",
	"properties": {
		"PackageID": {"$ref": "#/definitions/stringAttribute"},
		"SubmissionSource": {"$ref": "#/definitions/stringAttribute"}
	},
	"required": ["PackageID", "SubmissionSource"],
	"definitions": {
		"stringAttribute": {
			"type": "object",
			"properties": {
				"DataType": {"type": "string", "const": "String"},
				"StringValue": {"type": "string"}
			},
			"required": ["DataType", "StringValue"]
		}
	}
}`

const bodySchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"title": "DSS Result Message - Body",
	"type": "object",
	"properties": {
		"ResultType": {"type": "string"},
		"ItemHandle": {"type": ["string", "null"]},
		"lastModified": {"type": "string"},
		"Bitstreams": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"BitstreamName": {"type": "string"},
					"BitstreamUUID": {"type": "string"},
					"BitstreamChecksum": {
						"type": "object",
						"properties": {
							"value": {"type": "string"},
							"checkSumAlgorithm": {"type": "string"}
						}
					}
				}
			}
		},
		"ErrorTimestamp": {"type": "string"},
		"ErrorInfo": {"type": "string"},
		"DSpaceResponse": {"type": "string"},
		"ExceptionTraceback": {"type": "array", "items": {"type": "string"}}
	},
	"if": {"properties": {"ResultType": {"const": "success"}}},
	"then": {"required": ["lastModified", "Bitstreams"]},
	"else": {"required": ["ErrorTimestamp", "ErrorInfo", "DSpaceResponse", "ExceptionTraceback"]}
}`

var (
	attributesValidator = mustSchema(attributesSchema)
	bodyValidator       = mustSchema(bodySchema)
)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic("dss: invalid embedded schema: " + err.Error())
	}
	return schema
}

// validate returns the schema violations of doc, or nil.
func validate(schema *gojsonschema.Schema, doc any) ([]string, error) {
	res, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, err
	}
	if res.Valid() {
		return nil, nil
	}
	out := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		field := e.Field()
		if field == "" {
			field = "(root)"
		}
		out = append(out, field+": "+e.Description())
	}
	return out, nil
}
