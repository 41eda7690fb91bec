package dss

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dspace-submission-composer/internal/submission"
	"github.com/sells-group/dspace-submission-composer/pkg/sqs"
)

func resultMessage(body string) sqs.Message {
	return sqs.Message{
		ID:            "m-1",
		ReceiptHandle: "rh-1",
		Body:          body,
		Attributes: map[string]sqs.Attribute{
			"PackageID":        sqs.StringAttribute("item-1"),
			"SubmissionSource": sqs.StringAttribute("sccs"),
		},
	}
}

const successBody = `{
	"ResultType": "success",
	"ItemHandle": "1721.1/131022",
	"lastModified": "Thu Sep 09 17:56:39 UTC 2021",
	"Bitstreams": [{"BitstreamName": "a.pdf", "BitstreamUUID": "u", "BitstreamChecksum": {"value": "x", "checkSumAlgorithm": "MD5"}}]
}`

const errorBody = `{
	"ResultType": "error",
	"ErrorTimestamp": "2021-09-09",
	"ErrorInfo": "Bitstream not found",
	"DSpaceResponse": "N/A",
	"ExceptionTraceback": ["line 1", "line 2"]
}`

func TestParseResultSuccess(t *testing.T) {
	rm, err := ParseResult(resultMessage(successBody))
	require.NoError(t, err)

	assert.Equal(t, "item-1", rm.ItemIdentifier)
	assert.Equal(t, "sccs", rm.SubmissionSource)
	assert.Equal(t, "success", rm.ResultType)
	assert.Equal(t, "1721.1/131022", rm.ItemHandle)
	assert.Equal(t, "m-1", rm.MessageID)
	assert.Equal(t, "rh-1", rm.ReceiptHandle)
	assert.Contains(t, rm.Raw, `"PackageID"`)

	res := rm.Result()
	assert.Equal(t, submission.ResultSuccess, res.Type)
	assert.Equal(t, "1721.1/131022", res.Handle)
}

func TestParseResultError(t *testing.T) {
	rm, err := ParseResult(resultMessage(errorBody))
	require.NoError(t, err)

	assert.Equal(t, "error", rm.ResultType)
	assert.Equal(t, "Bitstream not found", rm.ErrorInfo)
	assert.Equal(t, []string{"line 1", "line 2"}, rm.ExceptionTraceback)
	assert.Empty(t, rm.ItemHandle)
	assert.Equal(t, submission.ResultError, rm.Result().Type)
}

func TestParseResultInvalid(t *testing.T) {
	tests := []struct {
		name string
		msg  sqs.Message
	}{
		{"bad json", resultMessage(`{"ResultType":`)},
		{"success missing Bitstreams", resultMessage(`{"ResultType":"success","ItemHandle":"h","lastModified":"x"}`)},
		{"error missing ErrorInfo", resultMessage(`{"ResultType":"error","ErrorTimestamp":"t","DSpaceResponse":"r","ExceptionTraceback":[]}`)},
		{"wrong type", resultMessage(`{"ResultType":"success","lastModified":1,"Bitstreams":[]}`)},
		{"missing attributes", sqs.Message{ID: "m-2", Body: successBody}},
		{"wrong data type", func() sqs.Message {
			m := resultMessage(successBody)
			m.Attributes["PackageID"] = sqs.Attribute{DataType: "Number", StringValue: "1"}
			return m
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResult(tt.msg)
			var pe *ParseError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, tt.msg.ID, pe.MessageID)
		})
	}
}

func TestParseResultUnknownType(t *testing.T) {
	// anything other than success must carry the error fields
	rm, err := ParseResult(resultMessage(`{"ResultType":"pending","ErrorTimestamp":"t","ErrorInfo":"i","DSpaceResponse":"r","ExceptionTraceback":[]}`))
	require.NoError(t, err)
	assert.Equal(t, submission.ResultType("pending"), rm.Result().Type)
}

func TestParseResultMissingType(t *testing.T) {
	// without ResultType the body is held to the success requirements
	rm, err := ParseResult(resultMessage(`{"ItemHandle":"1721.1/1","lastModified":"Thu Sep 09 17:56:39 UTC 2021","Bitstreams":[]}`))
	require.NoError(t, err)
	assert.Empty(t, rm.ResultType)
	assert.Equal(t, submission.ResultType(""), rm.Result().Type)

	_, err = ParseResult(resultMessage(`{"ItemHandle":"1721.1/1"}`))
	var pe *ParseError
	require.ErrorAs(t, err, &pe)
}

func TestNewSubmissionMessage(t *testing.T) {
	msg, err := NewSubmissionMessage(SubmissionParams{
		PackageID:        "item-1",
		SubmissionSource: "sccs",
		OutputQueue:      "dss-output-dsc-dev",
		SubmissionSystem: "DSpace@MIT",
		CollectionHandle: "1721.1/1",
		MetadataLocation: "s3://bucket/sccs/b1/dspace_metadata/item-1_metadata.json",
		BitstreamURIs:    []string{"s3://bucket/sccs/b1/item-1.pdf", "s3://bucket/sccs/b1/item-1_2.pdf"},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]sqs.Attribute{
		"PackageID":        {DataType: "String", StringValue: "item-1"},
		"SubmissionSource": {DataType: "String", StringValue: "sccs"},
		"OutputQueue":      {DataType: "String", StringValue: "dss-output-dsc-dev"},
	}, msg.Attributes)

	assert.JSONEq(t, `{
		"SubmissionSystem": "DSpace@MIT",
		"CollectionHandle": "1721.1/1",
		"MetadataLocation": "s3://bucket/sccs/b1/dspace_metadata/item-1_metadata.json",
		"Files": [
			{"BitstreamName": "item-1.pdf", "FileLocation": "s3://bucket/sccs/b1/item-1.pdf", "BitstreamDescription": null},
			{"BitstreamName": "item-1_2.pdf", "FileLocation": "s3://bucket/sccs/b1/item-1_2.pdf", "BitstreamDescription": null}
		]
	}`, msg.Body)

	var stored map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(msg.JSON()), &stored))
	assert.Contains(t, stored, "MessageAttributes")
	assert.JSONEq(t, msg.Body, string(stored["MessageBody"]))
}

func TestNewSubmissionMessageRequiresPackageID(t *testing.T) {
	_, err := NewSubmissionMessage(SubmissionParams{})
	assert.Error(t, err)
}
