package repository

import (
	"context"
	"errors"
	"time"

	"havosec-api/internal/models"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrAlreadyExists = errors.New("record already exists")
)

// EventFilter narrows a query over security events. Zero fields match everything.
type EventFilter struct {
	EventType models.EventType
	Severity  models.Severity
	Statuses  []models.EventStatus
	// CreatedFrom is inclusive, CreatedBefore exclusive.
	CreatedFrom   *time.Time
	CreatedBefore *time.Time
	// HasSourceIP drops events without a source ip.
	HasSourceIP bool
}

// Since is shorthand for a filter on createdAt >= from.
func Since(from time.Time) EventFilter {
	return EventFilter{CreatedFrom: &from}
}

// Between is shorthand for createdAt in [from, before).
func Between(from, before time.Time) EventFilter {
	return EventFilter{CreatedFrom: &from, CreatedBefore: &before}
}

// Matches evaluates the filter in memory.
func (f EventFilter) Matches(e *models.SecurityEvent) bool {
	if f.EventType != "" && e.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && e.Severity != f.Severity {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.CreatedFrom != nil && e.CreatedAt.Before(*f.CreatedFrom) {
		return false
	}
	if f.CreatedBefore != nil && !e.CreatedAt.Before(*f.CreatedBefore) {
		return false
	}
	if f.HasSourceIP && e.Source.IP == "" {
		return false
	}
	return true
}

type GroupKey string

const (
	GroupByEventType GroupKey = "eventType"
	GroupBySeverity  GroupKey = "severity"
	GroupBySourceIP  GroupKey = "sourceIp"
	GroupByHour      GroupKey = "hour"
	GroupByDay       GroupKey = "day"
)

func (k GroupKey) IsTimeBucket() bool {
	return k == GroupByHour || k == GroupByDay
}

// GroupCount is one group-by row. Key is set for field groupings, Bucket for
// time groupings.
type GroupCount struct {
	Key    string
	Bucket *models.TimeBucket
	Count  int64
}

type FindOptions struct {
	Skip  int64
	Limit int64
}

// EventReader is the read side the aggregator needs. FindEvents returns
// events newest first. GroupCount makes no ordering promise.
type EventReader interface {
	CountEvents(ctx context.Context, filter EventFilter) (int64, error)
	FindEvents(ctx context.Context, filter EventFilter, opts FindOptions) ([]*models.SecurityEvent, error)
	GroupCount(ctx context.Context, filter EventFilter, key GroupKey) ([]GroupCount, error)
}

// EventWriter holds the mutations allowed on an event after ingestion.
type EventWriter interface {
	InsertEvents(ctx context.Context, events []*models.SecurityEvent) error
	GetEvent(ctx context.Context, id string) (*models.SecurityEvent, error)
	UpdateStatus(ctx context.Context, id string, status models.EventStatus, updatedAt time.Time) (*models.SecurityEvent, error)
	AppendMitigation(ctx context.Context, id string, action models.MitigationAction, updatedAt time.Time) (*models.SecurityEvent, error)
	Assign(ctx context.Context, id, assignee string, updatedAt time.Time) (*models.SecurityEvent, error)
}

type EventStore interface {
	EventReader
	EventWriter
}

// EventSink receives copies of events after they are written to the primary store.
type EventSink interface {
	Name() string
	UpsertEvents(ctx context.Context, events []*models.SecurityEvent) error
}

type ClientUserRepository interface {
	CreateClientUser(ctx context.Context, user *models.ClientUser) error
	GetClientUserByEmail(ctx context.Context, email string) (*models.ClientUser, error)
	GetClientUserByID(ctx context.Context, id string) (*models.ClientUser, error)
	TouchClientLogin(ctx context.Context, id string, at time.Time) error
}

type AdminUserRepository interface {
	CreateAdminUser(ctx context.Context, user *models.AdminUser) error
	GetAdminUserByEmail(ctx context.Context, email string) (*models.AdminUser, error)
	GetAdminUserByID(ctx context.Context, id string) (*models.AdminUser, error)
	TouchAdminLogin(ctx context.Context, id string, at time.Time) error
}

type UserRepository interface {
	ClientUserRepository
	AdminUserRepository
}
