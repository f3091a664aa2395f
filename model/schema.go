package model

import (
	"context"

	"github.com/adrianmcphee/planbase"
)

// Collection names.
const (
	Members            = "members"
	Teams              = "teams"
	Projects           = "projects"
	Tasks              = "tasks"
	Resources          = "resources"
	ResourceBookings   = "resourceBookings"
	PerformanceMetrics = "performanceMetrics"
	BusinessLines      = "businessLines"
	Roles              = "roles"
)

// SchemaVersion is the version the migrations below reach.
const SchemaVersion = 5

var (
	memberIndexes = []planbase.IndexSpec{
		planbase.Index("name"), planbase.Index("teamId"), planbase.Index("role"),
		planbase.Index("isActive"), planbase.Index("email"),
	}
	teamIndexes    = []planbase.IndexSpec{planbase.Index("name"), planbase.Index("businessLineId")}
	projectIndexes = []planbase.IndexSpec{
		planbase.Index("name"), planbase.Index("status"), planbase.Index("businessLineId"),
	}
	taskIndexes = []planbase.IndexSpec{
		planbase.Index("memberId"), planbase.Index("projectId"), planbase.Index("teamId"),
		planbase.Index("status"), planbase.Index("priority"), planbase.Index("startDate"),
	}
	resourceIndexes = []planbase.IndexSpec{
		planbase.Index("type"), planbase.Index("isAvailable"), planbase.Index("name"),
	}
	bookingIndexes = []planbase.IndexSpec{
		planbase.Index("resourceId"), planbase.Index("memberId"),
		planbase.Index("status"), planbase.Index("startDate"),
	}
	businessLineIndexes = []planbase.IndexSpec{planbase.Index("name")}
	roleIndexes         = []planbase.IndexSpec{planbase.Index("name")}
	metricIndexes       = []planbase.IndexSpec{
		planbase.Index("targetId"), planbase.Index("period"), planbase.Index("date"),
	}

	memberCompound  = []planbase.IndexSpec{planbase.Index("teamId", "role")}
	taskCompound    = []planbase.IndexSpec{
		planbase.Index("projectId", "status"),
		planbase.Index("memberId", "status"),
		planbase.Index("teamId", "status"),
	}
	bookingCompound = []planbase.IndexSpec{planbase.Index("resourceId", "status")}
	metricCompound  = []planbase.IndexSpec{
		planbase.Index("targetId", "date", "period"),
		planbase.Index("targetType", "period"),
	}
)

// Query shapes. Repositories only filter through these.
var (
	MemberByTeam     = planbase.Shape(Members, "teamId")
	MemberByTeamRole = planbase.Shape(Members, "teamId", "role")
	MemberByActive   = planbase.Shape(Members, "isActive")
	MemberByEmail    = planbase.Shape(Members, "email")

	TeamByBusinessLine = planbase.Shape(Teams, "businessLineId")

	ProjectByStatus       = planbase.Shape(Projects, "status")
	ProjectByBusinessLine = planbase.Shape(Projects, "businessLineId")

	TaskByProject       = planbase.Shape(Tasks, "projectId")
	TaskByMember        = planbase.Shape(Tasks, "memberId")
	TaskByTeam          = planbase.Shape(Tasks, "teamId")
	TaskByStatus        = planbase.Shape(Tasks, "status")
	TaskByProjectStatus = planbase.Shape(Tasks, "projectId", "status")
	TaskByMemberStatus  = planbase.Shape(Tasks, "memberId", "status")
	TaskByTeamStatus    = planbase.Shape(Tasks, "teamId", "status")

	ResourceByType      = planbase.Shape(Resources, "type")
	ResourceByAvailable = planbase.Shape(Resources, "isAvailable")

	BookingByResource       = planbase.Shape(ResourceBookings, "resourceId")
	BookingByMember         = planbase.Shape(ResourceBookings, "memberId")
	BookingByResourceStatus = planbase.Shape(ResourceBookings, "resourceId", "status")

	MetricByTarget       = planbase.Shape(PerformanceMetrics, "targetId")
	MetricByKey          = planbase.Shape(PerformanceMetrics, "targetId", "date", "period")
	MetricByTargetPeriod = planbase.Shape(PerformanceMetrics, "targetId", "period")
	MetricByTypePeriod   = planbase.Shape(PerformanceMetrics, "targetType", "period")
)

// Schema declares every collection and index at SchemaVersion.
func Schema() *planbase.Schema {
	return planbase.NewSchema(SchemaVersion).
		Collection(Members, append(memberIndexes, memberCompound...)...).
		Collection(Teams, teamIndexes...).
		Collection(Projects, projectIndexes...).
		Collection(Tasks, append(taskIndexes, taskCompound...)...).
		Collection(Resources, resourceIndexes...).
		Collection(ResourceBookings, append(bookingIndexes, bookingCompound...)...).
		Collection(BusinessLines, businessLineIndexes...).
		Collection(Roles, roleIndexes...).
		Collection(PerformanceMetrics, append(metricIndexes, metricCompound...)...)
}

// Migrations returns the ordered steps that build Schema from an empty store.
func Migrations() []planbase.MigrationStep {
	return []planbase.MigrationStep{
		planbase.Step(1, "initial-collections").
			CreateCollections(Members, Teams, Projects, Tasks).
			CreateIndexes(Members, memberIndexes...).
			CreateIndexes(Teams, teamIndexes...).
			CreateIndexes(Projects, projectIndexes...).
			CreateIndexes(Tasks, taskIndexes...).
			Build(),

		planbase.Step(2, "resources-and-bookings").
			CreateCollections(Resources, ResourceBookings).
			CreateIndexes(Resources, resourceIndexes...).
			CreateIndexes(ResourceBookings, bookingIndexes...).
			Build(),

		planbase.Step(3, "reference-and-analytics").
			CreateCollections(BusinessLines, Roles, PerformanceMetrics).
			CreateIndexes(BusinessLines, businessLineIndexes...).
			CreateIndexes(Roles, roleIndexes...).
			CreateIndexes(PerformanceMetrics, metricIndexes...).
			Build(),

		planbase.Step(4, "compound-indexes").
			CreateIndexes(Members, memberCompound...).
			CreateIndexes(Tasks, taskCompound...).
			CreateIndexes(ResourceBookings, bookingCompound...).
			CreateIndexes(PerformanceMetrics, metricCompound...).
			Build(),

		planbase.Step(5, "backfill-defaults").
			TransformDocuments(Tasks, backfillCompletedAt).
			AddField(Members, "isActive", true).
			WithRollback(func(ctx context.Context, mc *planbase.MigrationContext) error {
				// backfilled values are valid at version 4 too
				return nil
			}).
			Build(),
	}
}

// backfillCompletedAt stamps completed tasks written before UpdateStatus
// maintained completedAt with their last update time.
func backfillCompletedAt(doc map[string]interface{}) (map[string]interface{}, error) {
	if doc["status"] != TaskCompleted {
		return nil, nil
	}
	if v, ok := doc["completedAt"]; ok && v != nil {
		return nil, nil
	}
	doc["completedAt"] = doc["updatedAt"]
	return doc, nil
}
