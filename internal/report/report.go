// Package report renders stage results as email reports and sends them.
package report

import (
	"bytes"
	"context"
	"sort"
	"strings"
	"text/template"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dspace-submission-composer/internal/config"
	"github.com/sells-group/dspace-submission-composer/internal/submission"
	"github.com/sells-group/dspace-submission-composer/internal/workflow"
	"github.com/sells-group/dspace-submission-composer/pkg/ses"
)

const dateLayout = "2006-01-02 15:04:05"

// Report is a rendered stage report.
type Report struct {
	Subject     string
	Body        string
	Attachments []ses.Attachment
}

type header struct {
	Workflow   string
	BatchID    string
	ReportDate string
}

func newHeader(b *workflow.Batch, now time.Time) header {
	return header{Workflow: b.Workflow, BatchID: b.ID, ReportDate: now.UTC().Format(dateLayout)}
}

var templates = template.Must(template.New("report").Parse(`
{{define "header"}}Workflow: {{.Workflow}}
Batch: {{.BatchID}}
Report date: {{.ReportDate}}
{{end}}

{{define "reconcile"}}{{template "header" .Header}}
Reconcile {{if .Failed}}FAILED{{else}}succeeded{{end}}.

Reconciled items: {{.Reconciled}}
Bitstreams without metadata: {{.BitstreamsWithoutMetadata}}
Metadata without bitstreams: {{.MetadataWithoutBitstreams}}
{{end}}

{{define "create"}}{{template "header" .Header}}
{{if .Errors}}Batch creation FAILED for {{len .Errors}} item(s). No item submissions were recorded.
{{range .Errors}}
- {{.ItemIdentifier}}: {{.Error}}{{end}}
{{else}}Item submissions recorded: {{.Items}}
{{range $status, $n := .ByStatus}}
- {{$status}}: {{$n}}{{end}}
{{end}}{{end}}

{{define "submit"}}{{template "header" .Header}}
Total items: {{.Summary.Total}}
Submitted: {{.Summary.Submitted}}
Skipped: {{.Summary.Skipped}}
Errors: {{.Summary.Errors}}
{{end}}

{{define "finalize"}}{{template "header" .Header}}
Result messages received: {{.Summary.ReceivedMessages}}
Ingested: {{.Summary.IngestSuccess}}
Failed: {{.Summary.IngestFailed}}
Unknown: {{.Summary.IngestUnknown}}
{{if .Retired}}
Items that reached the retry threshold:{{range .Retired}}
- {{.}}{{end}}
{{end}}{{end}}
`))

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", eris.Wrapf(err, "report: render %s", name)
	}
	return strings.TrimLeft(buf.String(), "\n"), nil
}

func attachCSV(atts []ses.Attachment, name string, rows any) ([]ses.Attachment, error) {
	data, err := csvutil.Marshal(rows)
	if err != nil {
		return nil, eris.Wrapf(err, "report: encode %s", name)
	}
	return append(atts, ses.Attachment{Filename: name, ContentType: "text/csv", Data: data}), nil
}

type reconciledRow struct {
	ItemIdentifier string `csv:"item_identifier"`
	Bitstreams     string `csv:"bitstreams"`
}

type bitstreamRow struct {
	Bitstream string `csv:"bitstream"`
}

type identifierRow struct {
	ItemIdentifier string `csv:"item_identifier"`
}

// Reconcile builds the reconcile report.
func Reconcile(b *workflow.Batch, res *workflow.ReconcileResult, now time.Time) (*Report, error) {
	m := res.Match
	body, err := render("reconcile", struct {
		Header                    header
		Failed                    bool
		Reconciled                int
		BitstreamsWithoutMetadata int
		MetadataWithoutBitstreams int
	}{newHeader(b, now), res.Failed(), len(m.Reconciled), len(m.BitstreamsWithoutMetadata), len(m.MetadataWithoutBitstreams)})
	if err != nil {
		return nil, err
	}

	r := &Report{Subject: subject("DSC Reconcile Results", b), Body: body}
	if len(m.Reconciled) > 0 {
		rows := make([]reconciledRow, 0, len(m.Reconciled))
		for _, id := range sortedKeys(m.Reconciled) {
			rows = append(rows, reconciledRow{ItemIdentifier: id, Bitstreams: strings.Join(m.Reconciled[id], ";")})
		}
		if r.Attachments, err = attachCSV(r.Attachments, "reconciled_items.csv", rows); err != nil {
			return nil, err
		}
	}
	if len(m.BitstreamsWithoutMetadata) > 0 {
		rows := make([]bitstreamRow, 0, len(m.BitstreamsWithoutMetadata))
		for _, k := range m.BitstreamsWithoutMetadata {
			rows = append(rows, bitstreamRow{Bitstream: k})
		}
		if r.Attachments, err = attachCSV(r.Attachments, "bitstreams_without_metadata.csv", rows); err != nil {
			return nil, err
		}
	}
	if len(m.MetadataWithoutBitstreams) > 0 {
		rows := make([]identifierRow, 0, len(m.MetadataWithoutBitstreams))
		for _, id := range m.MetadataWithoutBitstreams {
			rows = append(rows, identifierRow{ItemIdentifier: id})
		}
		if r.Attachments, err = attachCSV(r.Attachments, "metadata_without_bitstreams.csv", rows); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type itemRow struct {
	BatchID                string `csv:"batch_id"`
	ItemIdentifier         string `csv:"item_identifier"`
	SourceSystemIdentifier string `csv:"source_system_identifier"`
	Status                 string `csv:"status"`
	StatusDetails          string `csv:"status_details"`
	DSpaceHandle           string `csv:"dspace_handle"`
	IngestDate             string `csv:"ingest_date"`
}

// CreateBatch builds the create-batch report. failed is set when the batch
// was rejected; items are the batch records otherwise.
func CreateBatch(b *workflow.Batch, items []*submission.Item, failed *workflow.BatchCreationFailedError, now time.Time) (*Report, error) {
	data := struct {
		Header   header
		Errors   []workflow.ItemError
		Items    int
		ByStatus map[submission.Status]int
	}{Header: newHeader(b, now), Items: len(items), ByStatus: make(map[submission.Status]int)}
	if failed != nil {
		data.Errors = failed.Errors
	}
	for _, it := range items {
		data.ByStatus[it.Status]++
	}

	body, err := render("create", data)
	if err != nil {
		return nil, err
	}
	r := &Report{Subject: subject("DSC Create Batch Results", b), Body: body}

	if failed != nil {
		r.Attachments, err = attachCSV(r.Attachments, "errors.csv", failed.Errors)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	if len(items) > 0 {
		rows := make([]itemRow, 0, len(items))
		for _, it := range items {
			rows = append(rows, itemRow{
				BatchID:                it.BatchID,
				ItemIdentifier:         it.ItemIdentifier,
				SourceSystemIdentifier: it.SourceSystemIdentifier,
				Status:                 string(it.Status),
				StatusDetails:          it.StatusDetails,
				DSpaceHandle:           it.DSpaceHandle,
				IngestDate:             formatTime(it.IngestDate),
			})
		}
		if r.Attachments, err = attachCSV(r.Attachments, "create_batch_results.csv", rows); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Submit builds the submit report.
func Submit(b *workflow.Batch, res *workflow.SubmitResult, now time.Time) (*Report, error) {
	body, err := render("submit", struct {
		Header  header
		Summary workflow.SubmitSummary
	}{newHeader(b, now), res.Summary})
	if err != nil {
		return nil, err
	}

	r := &Report{Subject: subject("DSC Submission Results", b), Body: body}
	if len(res.Items) > 0 {
		if r.Attachments, err = attachCSV(r.Attachments, "submitted_items.csv", res.Items); err != nil {
			return nil, err
		}
	}
	if len(res.Errors) > 0 {
		if r.Attachments, err = attachCSV(r.Attachments, "errors.csv", res.Errors); err != nil {
			return nil, err
		}
	}
	return r, nil
}

type resultRow struct {
	ItemIdentifier    string `csv:"item_identifier"`
	Status            string `csv:"status"`
	StatusDetails     string `csv:"status_details"`
	DSpaceHandle      string `csv:"dspace_handle"`
	LastResultMessage string `csv:"last_result_message"`
}

// Finalize builds the finalize report. Only items touched on this run are
// listed in the attachment.
func Finalize(b *workflow.Batch, res *workflow.FinalizeResult, now time.Time) (*Report, error) {
	var (
		rows    []resultRow
		retired []string
	)
	for _, it := range res.Items {
		if it.LastRunDate == nil || !it.LastRunDate.Equal(b.RunDate) || it.LastResultMessage == "" {
			continue
		}
		if it.Status == submission.StatusMaxRetriesReached {
			retired = append(retired, it.ItemIdentifier)
		}
		rows = append(rows, resultRow{
			ItemIdentifier:    it.ItemIdentifier,
			Status:            string(it.Status),
			StatusDetails:     it.StatusDetails,
			DSpaceHandle:      it.DSpaceHandle,
			LastResultMessage: it.LastResultMessage,
		})
	}

	body, err := render("finalize", struct {
		Header  header
		Summary workflow.FinalizeSummary
		Retired []string
	}{newHeader(b, now), res.Summary, retired})
	if err != nil {
		return nil, err
	}

	r := &Report{Subject: subject("DSpace Submission Results", b), Body: body}
	if len(rows) > 0 {
		if r.Attachments, err = attachCSV(r.Attachments, "dss_submission_results.csv", rows); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func subject(prefix string, b *workflow.Batch) string {
	return prefix + " - " + b.Workflow + ", batch='" + b.ID + "'"
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(dateLayout)
}

// Sender emails reports.
type Sender struct {
	client  ses.Client
	from    string
	enabled bool
}

// NewSender creates a Sender from the email config.
func NewSender(client ses.Client, cfg config.EmailConfig) *Sender {
	return &Sender{client: client, from: cfg.Source, enabled: cfg.Enabled}
}

// Send emails r to recipients. It is a no-op without recipients or when email
// is disabled.
func (s *Sender) Send(ctx context.Context, r *Report, recipients []string) error {
	log := config.Logger("report")
	to := splitRecipients(recipients)
	if len(to) == 0 || !s.enabled {
		log.Debug("report not emailed", zap.String("subject", r.Subject), zap.Bool("enabled", s.enabled))
		return nil
	}

	id, err := s.client.Send(ctx, ses.Email{
		From:        s.from,
		To:          to,
		Subject:     r.Subject,
		Body:        r.Body,
		Attachments: r.Attachments,
	})
	if err != nil {
		return eris.Wrapf(err, "report: send %q", r.Subject)
	}
	log.Info("report sent", zap.String("subject", r.Subject), zap.Strings("to", to), zap.String("message_id", id))
	return nil
}

// splitRecipients accepts repeated flags as well as comma-separated lists.
func splitRecipients(in []string) []string {
	var out []string
	for _, s := range in {
		for _, addr := range strings.Split(s, ",") {
			if addr = strings.TrimSpace(addr); addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}
