// Package dss builds submission messages for the DSpace Submission Service
// and parses the result messages it sends back.
package dss

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/dspace-submission-composer/internal/submission"
	"github.com/sells-group/dspace-submission-composer/pkg/sqs"
)

// DefaultErrorInfo stands in for a missing ErrorInfo.
const DefaultErrorInfo = "Unknown error"

// ResultMessage is a validated DSS result message.
type ResultMessage struct {
	ItemIdentifier     string
	SubmissionSource   string
	ResultType         string
	ItemHandle         string
	LastModified       string
	ErrorInfo          string
	ErrorTimestamp     string
	DSpaceResponse     string
	ExceptionTraceback []string
	MessageID          string
	ReceiptHandle      string
	Raw                string
}

// ParseError is returned for a result message that is not valid JSON or
// fails schema validation. The message should stay on the queue.
type ParseError struct {
	MessageID  string
	Reason     string
	Violations []string
	Err        error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("dss: invalid result message %s: %s", e.MessageID, e.Reason)
	if len(e.Violations) > 0 {
		msg += ": " + strings.Join(e.Violations, "; ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }

type resultBody struct {
	ResultType         string   `json:"ResultType"`
	ItemHandle         *string  `json:"ItemHandle"`
	LastModified       string   `json:"lastModified"`
	ErrorTimestamp     string   `json:"ErrorTimestamp"`
	ErrorInfo          *string  `json:"ErrorInfo"`
	DSpaceResponse     string   `json:"DSpaceResponse"`
	ExceptionTraceback []string `json:"ExceptionTraceback"`
}

// ParseResult validates the attributes and body of msg against the result
// message schemas and decodes them.
func ParseResult(msg sqs.Message) (*ResultMessage, error) {
	attrs := msg.Attributes
	if attrs == nil {
		attrs = map[string]sqs.Attribute{}
	}
	violations, err := validate(attributesValidator, attrs)
	if err != nil {
		return nil, &ParseError{MessageID: msg.ID, Reason: "attributes could not be validated", Err: err}
	}
	if len(violations) > 0 {
		return nil, &ParseError{MessageID: msg.ID, Reason: "attributes failed schema validation", Violations: violations}
	}

	var doc any
	dec := json.NewDecoder(bytes.NewReader([]byte(msg.Body)))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, &ParseError{MessageID: msg.ID, Reason: "body is not valid JSON", Err: err}
	}
	violations, err = validate(bodyValidator, doc)
	if err != nil {
		return nil, &ParseError{MessageID: msg.ID, Reason: "body could not be validated", Err: err}
	}
	if len(violations) > 0 {
		return nil, &ParseError{MessageID: msg.ID, Reason: "body failed schema validation", Violations: violations}
	}

	var body resultBody
	if err := json.Unmarshal([]byte(msg.Body), &body); err != nil {
		return nil, &ParseError{MessageID: msg.ID, Reason: "body could not be decoded", Err: err}
	}

	rm := &ResultMessage{
		ItemIdentifier:     attrs["PackageID"].StringValue,
		SubmissionSource:   attrs["SubmissionSource"].StringValue,
		ResultType:         body.ResultType,
		LastModified:       body.LastModified,
		ErrorInfo:          DefaultErrorInfo,
		ErrorTimestamp:     body.ErrorTimestamp,
		DSpaceResponse:     body.DSpaceResponse,
		ExceptionTraceback: body.ExceptionTraceback,
		MessageID:          msg.ID,
		ReceiptHandle:      msg.ReceiptHandle,
		Raw:                raw(msg),
	}
	if body.ItemHandle != nil {
		rm.ItemHandle = *body.ItemHandle
	}
	if body.ErrorInfo != nil {
		rm.ErrorInfo = *body.ErrorInfo
	}
	return rm, nil
}

// raw renders the attributes and body as received.
func raw(msg sqs.Message) string {
	data, err := json.Marshal(struct {
		MessageID  string                   `json:"MessageId"`
		Attributes map[string]sqs.Attribute `json:"MessageAttributes"`
		Body       string                   `json:"Body"`
	}{msg.ID, msg.Attributes, msg.Body})
	if err != nil {
		return msg.Body
	}
	return string(data)
}

// Result converts the message for Item.ApplyResult.
func (m *ResultMessage) Result() submission.Result {
	return submission.Result{
		Type:      submission.ResultType(m.ResultType),
		Handle:    m.ItemHandle,
		ErrorInfo: m.ErrorInfo,
		Raw:       m.Raw,
	}
}
