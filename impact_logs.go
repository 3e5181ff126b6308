package impactlog

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/impactlog/impactlog/internal/transport"
)

// Category classifies the infrastructure an impact log is about.
type Category string

const (
	CategoryRoad        Category = "Road"
	CategoryWater       Category = "Water"
	CategorySanitation  Category = "Sanitation"
	CategoryElectricity Category = "Electricity"
	CategoryOther       Category = "Other"
)

// Categories lists the categories in the order the report form offers them.
var Categories = []Category{CategoryRoad, CategoryWater, CategorySanitation, CategoryElectricity, CategoryOther}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// ParseCategory matches raw case-insensitively against the known categories.
func ParseCategory(raw string) (Category, error) {
	for _, known := range Categories {
		if strings.EqualFold(strings.TrimSpace(raw), string(known)) {
			return known, nil
		}
	}
	return "", invalid("category", fmt.Sprintf("%q is not one of %s", raw, joinNames(Categories)))
}

// Status is the triage state of an impact log. New logs start as
// StatusSolving.
type Status string

const (
	StatusSolving Status = "Solving"
	StatusSolved  Status = "Solved"
	StatusFake    Status = "Fake"
)

// Statuses lists every status an administrator can assign.
var Statuses = []Status{StatusSolving, StatusSolved, StatusFake}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusSolving || s == StatusSolved || s == StatusFake
}

// ParseStatus matches raw case-insensitively against the known statuses.
func ParseStatus(raw string) (Status, error) {
	for _, known := range Statuses {
		if strings.EqualFold(strings.TrimSpace(raw), string(known)) {
			return known, nil
		}
	}
	return "", invalid("status", fmt.Sprintf("%q is not one of %s", raw, joinNames(Statuses)))
}

func joinNames[T ~string](values []T) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

// impactDateLayout is the calendar date format the backend stores.
const impactDateLayout = "2006-01-02"

// ReporterRef names the reporter of a log. Only the admin listing fills it.
type ReporterRef struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// ImpactLog is one report as returned by the backend.
type ImpactLog struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Name        string       `json:"name"`
	Locality    string       `json:"locality"`
	Latitude    float64      `json:"gps_latitude"`
	Longitude   float64      `json:"gps_longitude"`
	ImpactDate  string       `json:"impact_date"`
	Category    Category     `json:"category"`
	Description string       `json:"description"`
	Status      Status       `json:"status"`
	CreatedAt   string       `json:"created_at"`
	Reporter    *ReporterRef `json:"profile,omitempty"`
}

// Created parses CreatedAt. The backend sends ISO 8601 with or without a
// zone offset; a value without one is read as UTC.
func (l ImpactLog) Created() (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, l.CreatedAt); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// NewImpactLog is the body of a new report.
type NewImpactLog struct {
	Name        string   `json:"name"`
	Locality    string   `json:"locality"`
	Latitude    float64  `json:"gps_latitude"`
	Longitude   float64  `json:"gps_longitude"`
	ImpactDate  string   `json:"impact_date"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
}

// Validate checks the report before it is sent.
func (n NewImpactLog) Validate() error {
	if strings.TrimSpace(n.Name) == "" {
		return invalid("name", "is required")
	}
	if strings.TrimSpace(n.Locality) == "" {
		return invalid("locality", "is required")
	}
	if math.IsNaN(n.Latitude) || n.Latitude < -90 || n.Latitude > 90 {
		return invalid("gps_latitude", "must be between -90 and 90")
	}
	if math.IsNaN(n.Longitude) || n.Longitude < -180 || n.Longitude > 180 {
		return invalid("gps_longitude", "must be between -180 and 180")
	}
	if _, err := time.Parse(impactDateLayout, n.ImpactDate); err != nil {
		return invalid("impact_date", "must be a date in YYYY-MM-DD form")
	}
	if !n.Category.Valid() {
		return invalid("category", fmt.Sprintf("must be one of %s", joinNames(Categories)))
	}
	if strings.TrimSpace(n.Description) == "" {
		return invalid("description", "is required")
	}
	return nil
}

// Stats is the public aggregate over all reports.
type Stats struct {
	TotalReports int `json:"total_reports"`
	Solved       int `json:"solved"`
	// ResolutionRate is the solved share in percent, rounded to one decimal.
	ResolutionRate float64          `json:"resolution_rate"`
	Categories     map[Category]int `json:"categories"`
}

type statusUpdate struct {
	Status Status `json:"status"`
}

const (
	pathLogs         = "/impact-logs"
	pathMyLogs       = "/impact-logs/my-logs"
	pathAllLogs      = "/impact-logs/all"
	pathPublicLogs   = "/public/impact-logs"
	pathPublicStats  = "/public/stats"
	pathStatusFormat = "/impact-logs/%s/status"
)

// ImpactLogs is the impact-log API. It shares the controller's transport,
// so a 401 on any call runs the session invalidation policy. Errors are
// classified into the package's sentinel errors.
type ImpactLogs struct {
	controller *Controller
}

// Create submits a report as the signed-in user.
func (l *ImpactLogs) Create(ctx context.Context, report NewImpactLog) (*ImpactLog, error) {
	report.Name = strings.TrimSpace(report.Name)
	report.Locality = strings.TrimSpace(report.Locality)
	report.Description = strings.TrimSpace(report.Description)
	if err := report.Validate(); err != nil {
		l.controller.metricInc(MetricValidationRejected)
		return nil, err
	}
	var out ImpactLog
	if err := l.do(ctx, transport.Request{Method: http.MethodPost, Path: pathLogs, Body: report}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mine lists the signed-in user's reports, newest first.
func (l *ImpactLogs) Mine(ctx context.Context) ([]ImpactLog, error) {
	return l.list(ctx, pathMyLogs)
}

// All lists every report with its reporter. Admin only; other roles get
// ErrForbidden.
func (l *ImpactLogs) All(ctx context.Context) ([]ImpactLog, error) {
	return l.list(ctx, pathAllLogs)
}

// UpdateStatus sets the status of report id. Admin only.
func (l *ImpactLogs) UpdateStatus(ctx context.Context, id string, status Status) (*ImpactLog, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, invalid("id", "is required")
	}
	if !status.Valid() {
		return nil, invalid("status", fmt.Sprintf("must be one of %s", joinNames(Statuses)))
	}
	var out ImpactLog
	req := transport.Request{
		Method: http.MethodPatch,
		Path:   fmt.Sprintf(pathStatusFormat, url.PathEscape(id)),
		Body:   statusUpdate{Status: status},
	}
	if err := l.do(ctx, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PublicFeed returns the newest reports, at most 100. No session is needed.
func (l *ImpactLogs) PublicFeed(ctx context.Context) ([]ImpactLog, error) {
	return l.list(ctx, pathPublicLogs)
}

// PublicStats returns the aggregate counters shown on the public dashboards.
func (l *ImpactLogs) PublicStats(ctx context.Context) (*Stats, error) {
	var out Stats
	if err := l.do(ctx, transport.Request{Method: http.MethodGet, Path: pathPublicStats}, &out); err != nil {
		return nil, err
	}
	if out.Categories == nil {
		out.Categories = map[Category]int{}
	}
	return &out, nil
}

func (l *ImpactLogs) list(ctx context.Context, path string) ([]ImpactLog, error) {
	var out []ImpactLog
	if err := l.do(ctx, transport.Request{Method: http.MethodGet, Path: path}, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []ImpactLog{}
	}
	return out, nil
}

func (l *ImpactLogs) do(ctx context.Context, req transport.Request, out any) error {
	if l == nil || !l.controller.ready() {
		return ErrControllerNotReady
	}
	if err := l.controller.client.Do(ctx, req, out); err != nil {
		return classify(callDomain, err)
	}
	return nil
}
