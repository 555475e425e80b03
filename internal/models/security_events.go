package models

import (
	"time"
)

type EventType string

const (
	EventTypeAttackBlocked     EventType = "attack_blocked"
	EventTypeIntrusionAttempt  EventType = "intrusion_attempt"
	EventTypeMalwareDetected   EventType = "malware_detected"
	EventTypePhishingBlocked   EventType = "phishing_blocked"
	EventTypeDDoSMitigated     EventType = "ddos_mitigated"
	EventTypeVulnerabilityScan EventType = "vulnerability_scan"
	EventTypeSystemAlert       EventType = "system_alert"
)

// EventTypes lists every accepted event type.
var EventTypes = []EventType{
	EventTypeAttackBlocked,
	EventTypeIntrusionAttempt,
	EventTypeMalwareDetected,
	EventTypePhishingBlocked,
	EventTypeDDoSMitigated,
	EventTypeVulnerabilityScan,
	EventTypeSystemAlert,
}

func (t EventType) Valid() bool {
	for _, v := range EventTypes {
		if t == v {
			return true
		}
	}
	return false
}

type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var Severities = []Severity{SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

func (s Severity) Valid() bool {
	for _, v := range Severities {
		if s == v {
			return true
		}
	}
	return false
}

type EventStatus string

const (
	StatusDetected      EventStatus = "detected"
	StatusBlocked       EventStatus = "blocked"
	StatusInvestigating EventStatus = "investigating"
	StatusResolved      EventStatus = "resolved"
	StatusFalsePositive EventStatus = "false_positive"
)

var EventStatuses = []EventStatus{
	StatusDetected,
	StatusBlocked,
	StatusInvestigating,
	StatusResolved,
	StatusFalsePositive,
}

func (s EventStatus) Valid() bool {
	for _, v := range EventStatuses {
		if s == v {
			return true
		}
	}
	return false
}

// EventSource describes where an event originated. All fields are optional.
type EventSource struct {
	IP        string `json:"ip,omitempty" bson:"ip,omitempty"`
	Country   string `json:"country,omitempty" bson:"country,omitempty"`
	UserAgent string `json:"userAgent,omitempty" bson:"userAgent,omitempty"`
	Referrer  string `json:"referrer,omitempty" bson:"referrer,omitempty"`
}

type EventTarget struct {
	Endpoint string `json:"endpoint,omitempty" bson:"endpoint,omitempty"`
	Service  string `json:"service,omitempty" bson:"service,omitempty"`
	Port     int    `json:"port,omitempty" bson:"port,omitempty"`
}

type MitigationAction struct {
	Action      string    `json:"action" bson:"action"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	PerformedBy string    `json:"performedBy" bson:"performedBy"`
}

// SecurityEvent is one detected or handled security occurrence.
// CreatedAt never changes after ingestion.
type SecurityEvent struct {
	ID                string             `json:"id" bson:"id"`
	EventType         EventType          `json:"eventType" bson:"eventType"`
	Severity          Severity           `json:"severity" bson:"severity"`
	Source            EventSource        `json:"source" bson:"source"`
	Target            EventTarget        `json:"target" bson:"target"`
	Description       string             `json:"description" bson:"description"`
	Details           Details            `json:"details" bson:"details"`
	Status            EventStatus        `json:"status" bson:"status"`
	AssignedTo        string             `json:"assignedTo,omitempty" bson:"assignedTo,omitempty"`
	Tags              []string           `json:"tags" bson:"tags"`
	MitigationActions []MitigationAction `json:"mitigationActions" bson:"mitigationActions"`
	CreatedAt         time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt         time.Time          `json:"updatedAt" bson:"updatedAt"`
}

// Clone returns a deep copy so stores can hand out events without sharing slices.
func (e *SecurityEvent) Clone() *SecurityEvent {
	if e == nil {
		return nil
	}
	cp := *e
	if e.Tags != nil {
		cp.Tags = append([]string(nil), e.Tags...)
	}
	if e.MitigationActions != nil {
		cp.MitigationActions = append([]MitigationAction(nil), e.MitigationActions...)
	}
	if e.Details != nil {
		cp.Details = make(Details, len(e.Details))
		for k, v := range e.Details {
			cp.Details[k] = v
		}
	}
	return &cp
}

// TimeBucket labels one hour or calendar day (UTC). Hour is nil for daily buckets.
type TimeBucket struct {
	Year  int  `json:"year" bson:"year"`
	Month int  `json:"month" bson:"month"`
	Day   int  `json:"day" bson:"day"`
	Hour  *int `json:"hour,omitempty" bson:"hour,omitempty"`
}

// Before orders buckets chronologically by (year, month, day, hour).
func (b TimeBucket) Before(o TimeBucket) bool {
	if b.Year != o.Year {
		return b.Year < o.Year
	}
	if b.Month != o.Month {
		return b.Month < o.Month
	}
	if b.Day != o.Day {
		return b.Day < o.Day
	}
	return b.hour() < o.hour()
}

func (b TimeBucket) hour() int {
	if b.Hour == nil {
		return -1
	}
	return *b.Hour
}

// Start returns the first instant covered by the bucket.
func (b TimeBucket) Start() time.Time {
	return time.Date(b.Year, time.Month(b.Month), b.Day, max(b.hour(), 0), 0, 0, 0, time.UTC)
}

// HourBucket returns the hourly bucket containing t.
func HourBucket(t time.Time) TimeBucket {
	t = t.UTC()
	h := t.Hour()
	return TimeBucket{Year: t.Year(), Month: int(t.Month()), Day: t.Day(), Hour: &h}
}

// DayBucket returns the calendar-day bucket containing t.
func DayBucket(t time.Time) TimeBucket {
	t = t.UTC()
	return TimeBucket{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}
}
