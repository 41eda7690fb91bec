package dss

import (
	"encoding/json"
	"path"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dspace-submission-composer/pkg/sqs"
)

// SubmissionParams describes one item submission.
type SubmissionParams struct {
	PackageID        string // item identifier
	SubmissionSource string // workflow name
	OutputQueue      string
	SubmissionSystem string
	CollectionHandle string
	MetadataLocation string
	BitstreamURIs    []string
}

// File is one bitstream of a submission.
type File struct {
	BitstreamName        string  `json:"BitstreamName"`
	FileLocation         string  `json:"FileLocation"`
	BitstreamDescription *string `json:"BitstreamDescription"`
}

// SubmissionBody is the JSON body of a submission message.
type SubmissionBody struct {
	SubmissionSystem string `json:"SubmissionSystem"`
	CollectionHandle string `json:"CollectionHandle"`
	MetadataLocation string `json:"MetadataLocation"`
	Files            []File `json:"Files"`
}

// SubmissionMessage is ready to send to the DSS input queue.
type SubmissionMessage struct {
	Attributes map[string]sqs.Attribute
	Body       string
}

// NewSubmissionMessage builds the attributes and body for p. Bitstream names
// are the last path segment of each URI.
func NewSubmissionMessage(p SubmissionParams) (*SubmissionMessage, error) {
	if p.PackageID == "" {
		return nil, eris.New("dss: submission has no package id")
	}
	body := SubmissionBody{
		SubmissionSystem: p.SubmissionSystem,
		CollectionHandle: p.CollectionHandle,
		MetadataLocation: p.MetadataLocation,
		Files:            make([]File, 0, len(p.BitstreamURIs)),
	}
	for _, uri := range p.BitstreamURIs {
		body.Files = append(body.Files, File{BitstreamName: path.Base(uri), FileLocation: uri})
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, eris.Wrapf(err, "dss: marshal submission %s", p.PackageID)
	}
	return &SubmissionMessage{
		Attributes: map[string]sqs.Attribute{
			"PackageID":        sqs.StringAttribute(p.PackageID),
			"SubmissionSource": sqs.StringAttribute(p.SubmissionSource),
			"OutputQueue":      sqs.StringAttribute(p.OutputQueue),
		},
		Body: string(data),
	}, nil
}

// JSON renders the message as stored in last_submission_message.
func (m *SubmissionMessage) JSON() string {
	data, err := json.Marshal(struct {
		MessageAttributes map[string]sqs.Attribute `json:"MessageAttributes"`
		MessageBody       json.RawMessage          `json:"MessageBody"`
	}{m.Attributes, json.RawMessage(m.Body)})
	if err != nil {
		return m.Body
	}
	return string(data)
}
