package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/adrianmcphee/planbase"
	"github.com/adrianmcphee/planbase/model"
	"github.com/adrianmcphee/planbase/repo"
)

// Exporter dumps every collection in one consistent read.
type Exporter struct {
	repos *repo.Repositories
}

func NewExporter(repos *repo.Repositories) *Exporter {
	return &Exporter{repos: repos}
}

// Dataset reads every collection inside one transaction so the dump never
// mixes states from before and after a concurrent write.
func (ex *Exporter) Dataset(ctx context.Context) (*Dataset, error) {
	d := &Dataset{}
	err := ex.repos.Store.WithTransaction(ctx, func(ctx context.Context, tx *planbase.Tx) error {
		var err error
		if d.BusinessLines, err = ex.repos.BusinessLines.GetAll(ctx); err != nil {
			return err
		}
		if d.Roles, err = ex.repos.Roles.GetAll(ctx); err != nil {
			return err
		}
		if d.Teams, err = ex.repos.Teams.GetAll(ctx); err != nil {
			return err
		}
		if d.Members, err = ex.repos.Members.GetAll(ctx); err != nil {
			return err
		}
		if d.Projects, err = ex.repos.Projects.GetAll(ctx); err != nil {
			return err
		}
		if d.Tasks, err = ex.repos.Tasks.GetAll(ctx); err != nil {
			return err
		}
		if d.Resources, err = ex.repos.Resources.GetAll(ctx); err != nil {
			return err
		}
		if d.ResourceBookings, err = ex.repos.Bookings.GetAll(ctx); err != nil {
			return err
		}
		d.PerformanceMetrics, err = ex.repos.Metrics.GetAll(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// Export encodes the whole store in format. On failure the result carries
// the error text as well.
func (ex *Exporter) Export(ctx context.Context, format Format) (ExportResult, error) {
	start := time.Now()
	defer func() {
		ex.repos.Store.Metrics().Timing(planbase.MetricExportDuration, time.Since(start), "format", string(format))
	}()

	fail := func(err error) (ExportResult, error) {
		ex.repos.Store.Logger().Error("export failed", "format", string(format), "error", err)
		return ExportResult{Success: false, Error: err.Error()}, err
	}

	d, err := ex.Dataset(ctx)
	if err != nil {
		return fail(err)
	}
	data, err := Encode(d, format)
	if err != nil {
		return fail(err)
	}

	counts := d.Counts()
	total := 0
	for _, n := range counts {
		total += n
	}
	ex.repos.Store.Logger().Info("export finished", "format", string(format), "records", total)

	return ExportResult{
		Success:  true,
		Data:     string(data),
		Filename: format.Filename(ex.repos.Store.Now()),
		MimeType: format.MimeType(),
	}, nil
}

// Encode renders d in format.
func Encode(d *Dataset, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(d, "", "  ")
	case FormatYAML:
		return yaml.Marshal(d)
	case FormatCSV:
		return encodeCSV(d)
	case FormatSQL:
		s, err := exportSQL(d)
		return []byte(s), err
	}
	return nil, fmt.Errorf("%w: unsupported export format %q", planbase.ErrInvalidData, format)
}

// encodeCSV writes every CSV-capable collection in import order.
// Performance metrics have no CSV form.
func encodeCSV(d *Dataset) ([]byte, error) {
	var buf bytes.Buffer
	w, err := newCSVWriter(&buf)
	if err != nil {
		return nil, err
	}
	for _, kind := range importOrder {
		if _, ok := csvColumns[kind.csvType]; !ok {
			continue
		}
		for _, e := range d.entities(kind.collection) {
			if err := w.write(kind.csvType, e); err != nil {
				return nil, err
			}
		}
	}
	if err := w.flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// entities returns the records of one collection as a generic slice.
func (d *Dataset) entities(collection string) []interface{} {
	var out []interface{}
	add := func(n int, at func(int) interface{}) {
		for i := 0; i < n; i++ {
			out = append(out, at(i))
		}
	}
	switch collection {
	case model.BusinessLines:
		add(len(d.BusinessLines), func(i int) interface{} { return d.BusinessLines[i] })
	case model.Roles:
		add(len(d.Roles), func(i int) interface{} { return d.Roles[i] })
	case model.Teams:
		add(len(d.Teams), func(i int) interface{} { return d.Teams[i] })
	case model.Members:
		add(len(d.Members), func(i int) interface{} { return d.Members[i] })
	case model.Projects:
		add(len(d.Projects), func(i int) interface{} { return d.Projects[i] })
	case model.Tasks:
		add(len(d.Tasks), func(i int) interface{} { return d.Tasks[i] })
	case model.Resources:
		add(len(d.Resources), func(i int) interface{} { return d.Resources[i] })
	case model.ResourceBookings:
		add(len(d.ResourceBookings), func(i int) interface{} { return d.ResourceBookings[i] })
	case model.PerformanceMetrics:
		add(len(d.PerformanceMetrics), func(i int) interface{} { return d.PerformanceMetrics[i] })
	}
	return out
}

// Template returns an example payload in format with one linked record of
// each entity type. Importing it into an empty store succeeds.
func Template(format Format) ([]byte, error) {
	if format == FormatSQL {
		return nil, fmt.Errorf("%w: no import template for %q", planbase.ErrInvalidData, format)
	}
	return Encode(templateDataset(), format)
}

func templateDataset() *Dataset {
	start := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 29, 17, 0, 0, 0, time.UTC)
	points, estimate := 5.0, 3.0
	capacity := 8
	base := func(id string) model.Base { return model.Base{ID: id, CreatedAt: start, UpdatedAt: start} }

	return &Dataset{
		BusinessLines: []*model.BusinessLine{{
			Base: base("bl-1"), Name: "Consumer", Description: "Consumer products",
		}},
		Roles: []*model.Role{{
			Base: base("role-1"), Name: "Developer", Permissions: []string{"tasks:write"},
		}},
		Teams: []*model.Team{{
			Base: base("team-1"), Name: "Platform", MemberIDs: []string{"member-1"},
			ProjectIDs: []string{"project-1"}, BusinessLineID: "bl-1",
		}},
		Members: []*model.Member{{
			Base: base("member-1"), Name: "Jane Doe", Role: "Developer",
			Email: "jane@example.com", TeamID: "team-1", IsActive: true,
		}},
		Projects: []*model.Project{{
			Base: base("project-1"), Name: "Website relaunch", StartDate: start, EndDate: end,
			Status: model.ProjectActive, TaskIDs: []string{"task-1"}, TeamIDs: []string{"team-1"},
			BusinessLineID: "bl-1",
		}},
		Tasks: []*model.Task{{
			Base: base("task-1"), Title: "Design landing page", MemberID: "member-1",
			ProjectID: "project-1", TeamID: "team-1",
			StartDate: start, EndDate: start.AddDate(0, 0, 4).Add(8 * time.Hour),
			Status: model.TaskPending, Priority: model.PriorityHigh,
			StoryPoints: &points, EstimatedPersonDays: &estimate, Tags: []string{"design"},
		}},
		Resources: []*model.Resource{{
			Base: base("resource-1"), Name: "Room A", Type: model.ResourceMeetingRoom,
			Location: "2nd floor", Capacity: &capacity, IsAvailable: true,
		}},
		ResourceBookings: []*model.ResourceBooking{{
			Base: base("booking-1"), ResourceID: "resource-1", MemberID: "member-1",
			Title: "Kickoff", StartDate: start.Add(time.Hour), EndDate: start.Add(2 * time.Hour),
			Attendees: []string{"member-1"}, Status: model.BookingConfirmed,
		}},
		PerformanceMetrics: []*model.PerformanceMetric{{
			Base: base("metric-1"), TargetID: "member-1", TargetType: model.TargetMember,
			Date: start.Truncate(24 * time.Hour), Period: model.PeriodWeek,
		}},
	}
}
