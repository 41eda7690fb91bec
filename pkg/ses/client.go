// Package ses sends plain-text emails with file attachments through SES v2.
package ses

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/rotisserie/eris"
)

// API is the subset of the SES v2 client used here.
type API interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// Attachment is a file attached to an email.
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Email is one outgoing message.
type Email struct {
	From        string
	To          []string
	Subject     string
	Body        string
	Attachments []Attachment
}

// Client sends emails.
type Client interface {
	Send(ctx context.Context, e Email) (string, error)
}

type client struct {
	api API
}

// New creates a Client over api.
func New(api API) Client {
	return &client{api: api}
}

func (c *client) Send(ctx context.Context, e Email) (string, error) {
	if len(e.To) == 0 {
		return "", eris.New("ses: no recipients")
	}
	raw, err := e.MIME()
	if err != nil {
		return "", err
	}

	out, err := c.api.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(e.From),
		Destination:      &types.Destination{ToAddresses: e.To},
		Content:          &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
	})
	if err != nil {
		return "", eris.Wrapf(err, "ses: send %q", e.Subject)
	}
	return aws.ToString(out.MessageId), nil
}

// MIME renders e as a multipart/mixed message.
func (e Email) MIME() ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fmt.Fprintf(&buf, "From: %s\r\n", e.From)
	fmt.Fprintf(&buf, "To: %s\r\n", strings.Join(e.To, ", "))
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", e.Subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", w.Boundary())

	body, err := w.CreatePart(textproto.MIMEHeader{
		"Content-Type":              {"text/plain; charset=utf-8"},
		"Content-Transfer-Encoding": {"quoted-printable"},
	})
	if err != nil {
		return nil, eris.Wrap(err, "ses: create body part")
	}
	if err := writeQuotedPrintable(body, e.Body); err != nil {
		return nil, err
	}

	for _, a := range e.Attachments {
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		part, err := w.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {ct},
			"Content-Disposition":       {mime.FormatMediaType("attachment", map[string]string{"filename": a.Filename})},
			"Content-Transfer-Encoding": {"base64"},
		})
		if err != nil {
			return nil, eris.Wrapf(err, "ses: create attachment %s", a.Filename)
		}
		if err := writeBase64(part, a.Data); err != nil {
			return nil, eris.Wrapf(err, "ses: encode attachment %s", a.Filename)
		}
	}

	if err := w.Close(); err != nil {
		return nil, eris.Wrap(err, "ses: close message")
	}
	return buf.Bytes(), nil
}
