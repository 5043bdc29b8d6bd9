package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"github.com/mcdl70/pitch-perfect/internal/errs"
	"github.com/mcdl70/pitch-perfect/internal/interview"
)

// table is the single relational table backing interview records.
const table = "interviews"

// Config holds the Supabase connection settings.
type Config struct {
	URL     string
	AnonKey string
}

// Store builds per-identity gateways. Row-level security does the isolation:
// every gateway carries the caller's JWT, and the table's policies restrict
// reads and writes to the owning identity.
type Store struct {
	cfg Config
}

// New constructs the gateway factory.
func New(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// ForToken returns a gateway acting as the identity in the given access
// token.
func (s *Store) ForToken(accessToken string) (*Gateway, error) {
	if s.cfg.URL == "" || s.cfg.AnonKey == "" {
		return nil, errs.New(errs.Unauthorized, "storage.client", "supabase url or anon key missing")
	}
	headers := map[string]string{}
	if accessToken != "" {
		headers["Authorization"] = "Bearer " + accessToken
	}
	client, err := supabase.NewClient(s.cfg.URL, s.cfg.AnonKey, &supabase.ClientOptions{Headers: headers})
	if err != nil {
		return nil, errs.Wrap(errs.ServiceUnavailable, "storage.client", err)
	}
	return &Gateway{client: client}, nil
}

// Gateway persists interview records for one authenticated identity.
type Gateway struct {
	client *supabase.Client
}

// row is the wire shape of the interviews table.
type row struct {
	ID           string                     `json:"id,omitempty"`
	Owner        string                     `json:"owner,omitempty"`
	CreatedAt    *time.Time                 `json:"created_at,omitempty"`
	JobDetails   interview.JobDetails       `json:"job_details"`
	Transcript   interview.TranscriptRecord `json:"transcript"`
	ReportData   *interview.Report          `json:"report_data"`
	OverallScore *float64                   `json:"overall_score"`
}

func (r row) record() interview.InterviewRecord {
	rec := interview.InterviewRecord{
		ID:           r.ID,
		Owner:        r.Owner,
		JobDetails:   r.JobDetails,
		Transcript:   r.Transcript,
		ReportData:   r.ReportData,
		OverallScore: r.OverallScore,
	}
	if r.CreatedAt != nil {
		rec.CreatedAt = *r.CreatedAt
	}
	return rec
}

// SaveConfiguration inserts a record with null report fields: a saved
// configuration awaiting an interview. Returns the generated id.
func (g *Gateway) SaveConfiguration(ctx context.Context, rec interview.InterviewRecord) (string, error) {
	const op = "storage.save_configuration"
	_ = ctx
	insert := row{
		Owner:      rec.Owner,
		JobDetails: rec.JobDetails,
		Transcript: rec.Transcript,
	}
	data, _, err := g.client.From(table).Insert(insert, false, "", "representation", "").Execute()
	if err != nil {
		return "", errs.Wrap(errs.ServiceUnavailable, op, err)
	}
	var rows []row
	if err := json.Unmarshal(data, &rows); err != nil || len(rows) == 0 {
		return "", errs.New(errs.IncompleteResult, op, "insert returned no row")
	}
	return rows[0].ID, nil
}

// AttachReport attaches the finished transcript and report to an existing
// record, turning a saved configuration into a completed interview. A nil
// report with a degraded transcript is the partial-failure path; the two
// are never both omitted.
func (g *Gateway) AttachReport(ctx context.Context, id string, transcript interview.TranscriptRecord, report *interview.Report, score *float64) error {
	const op = "storage.attach_report"
	_ = ctx
	if id == "" {
		return errs.New(errs.BadInput, op, "record id missing")
	}
	if report == nil && !transcript.Degraded {
		return errs.New(errs.BadInput, op, "nil report requires the degraded flag")
	}
	update := map[string]any{
		"transcript":    transcript,
		"report_data":   report,
		"overall_score": score,
	}
	_, _, err := g.client.From(table).Update(update, "minimal", "").Eq("id", id).Execute()
	if err != nil {
		return errs.Wrap(errs.ServiceUnavailable, op, err)
	}
	return nil
}

// Get fetches one record. Rows the caller does not own are invisible under
// the table's policies, so a foreign id reads as not found.
func (g *Gateway) Get(ctx context.Context, id string) (interview.InterviewRecord, error) {
	const op = "storage.get"
	_ = ctx
	data, _, err := g.client.From(table).Select("*", "", false).Eq("id", id).Single().Execute()
	if err != nil {
		return interview.InterviewRecord{}, errs.Wrap(errs.ServiceUnavailable, op, fmt.Errorf("record %s: %w", id, err))
	}
	var r row
	if err := json.Unmarshal(data, &r); err != nil {
		return interview.InterviewRecord{}, errs.Wrap(errs.IncompleteResult, op, err)
	}
	return r.record(), nil
}

// ListByOwner returns the caller's records, newest first.
func (g *Gateway) ListByOwner(ctx context.Context) ([]interview.InterviewRecord, error) {
	const op = "storage.list"
	_ = ctx
	data, _, err := g.client.From(table).Select("*", "", false).Order("created_at", &postgrest.OrderOpts{Ascending: false}).Execute()
	if err != nil {
		return nil, errs.Wrap(errs.ServiceUnavailable, op, err)
	}
	var rows []row
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, errs.Wrap(errs.IncompleteResult, op, err)
	}
	out := make([]interview.InterviewRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}
