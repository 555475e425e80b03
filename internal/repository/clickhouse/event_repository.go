package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"havosec-api/internal/models"
	"havosec-api/internal/repository"
)

// Conn is the subset of client.ClickHouseClient the repository uses.
type Conn interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	QueryRows(ctx context.Context, query string, args ...interface{}) (driver.Rows, error)
	BatchInsert(ctx context.Context, query string, rows [][]interface{}) error
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const eventColumns = `id, event_type, severity, status,
	source_ip, source_country, source_user_agent, source_referrer,
	target_endpoint, target_service, target_port,
	description, details, assigned_to, tags, mitigation_actions,
	created_at, updated_at`

// EventRepository mirrors security events into a ReplacingMergeTree table and
// answers the aggregator's read queries with SQL. Reads use FINAL so the
// latest version of each event wins.
type EventRepository struct {
	conn  Conn
	table string
}

func NewEventRepository(conn Conn, table string) (*EventRepository, error) {
	if !identifierPattern.MatchString(table) {
		return nil, fmt.Errorf("invalid clickhouse table name %q", table)
	}
	return &EventRepository{conn: conn, table: table}, nil
}

var (
	_ repository.EventReader = (*EventRepository)(nil)
	_ repository.EventSink   = (*EventRepository)(nil)
)

func (r *EventRepository) Name() string { return "clickhouse" }

func (r *EventRepository) EnsureSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id String,
	event_type LowCardinality(String),
	severity LowCardinality(String),
	status LowCardinality(String),
	source_ip String,
	source_country LowCardinality(String),
	source_user_agent String,
	source_referrer String,
	target_endpoint String,
	target_service LowCardinality(String),
	target_port UInt16,
	description String,
	details String,
	assigned_to String,
	tags Array(String),
	mitigation_actions String,
	created_at DateTime64(3, 'UTC'),
	updated_at DateTime64(3, 'UTC')
) ENGINE = ReplacingMergeTree(updated_at)
PARTITION BY toYYYYMM(created_at)
ORDER BY (created_at, id)`, r.table)

	if err := r.conn.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create clickhouse table %s: %w", r.table, err)
	}
	return nil
}

// UpsertEvents writes a new version of each event.
func (r *EventRepository) UpsertEvents(ctx context.Context, events []*models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([][]interface{}, 0, len(events))
	for _, e := range events {
		row, err := toRow(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s)", r.table, eventColumns)
	if err := r.conn.BatchInsert(ctx, query, rows); err != nil {
		return fmt.Errorf("failed to insert events into clickhouse: %w", err)
	}
	return nil
}

func toRow(e *models.SecurityEvent) ([]interface{}, error) {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return nil, fmt.Errorf("failed to encode details for %s: %w", e.ID, err)
	}
	actions := e.MitigationActions
	if actions == nil {
		actions = []models.MitigationAction{}
	}
	mitigations, err := json.Marshal(actions)
	if err != nil {
		return nil, fmt.Errorf("failed to encode mitigation actions for %s: %w", e.ID, err)
	}
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	return []interface{}{
		e.ID,
		string(e.EventType),
		string(e.Severity),
		string(e.Status),
		e.Source.IP,
		e.Source.Country,
		e.Source.UserAgent,
		e.Source.Referrer,
		e.Target.Endpoint,
		e.Target.Service,
		uint16(e.Target.Port),
		e.Description,
		string(details),
		e.AssignedTo,
		tags,
		string(mitigations),
		e.CreatedAt.UTC(),
		e.UpdatedAt.UTC(),
	}, nil
}

func (r *EventRepository) CountEvents(ctx context.Context, filter repository.EventFilter) (int64, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf("SELECT count() FROM %s FINAL%s", r.table, where)

	rows, err := r.conn.QueryRows(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	var n uint64
	if rows.Next() {
		if err := rows.Scan(&n); err != nil {
			return 0, fmt.Errorf("failed to scan event count: %w", err)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return int64(n), nil
}

func (r *EventRepository) FindEvents(ctx context.Context, filter repository.EventFilter, opts repository.FindOptions) ([]*models.SecurityEvent, error) {
	where, args := buildWhere(filter)
	query := fmt.Sprintf("SELECT %s FROM %s FINAL%s ORDER BY created_at DESC, id DESC", eventColumns, r.table, where)
	if opts.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, opts.Limit, opts.Skip)
	} else if opts.Skip > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Skip)
	}

	rows, err := r.conn.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	return events, nil
}

func scanEvent(rows driver.Rows) (*models.SecurityEvent, error) {
	var (
		e                           models.SecurityEvent
		eventType, severity, status string
		port                        uint16
		details, mitigations        string
	)
	err := rows.Scan(
		&e.ID, &eventType, &severity, &status,
		&e.Source.IP, &e.Source.Country, &e.Source.UserAgent, &e.Source.Referrer,
		&e.Target.Endpoint, &e.Target.Service, &port,
		&e.Description, &details, &e.AssignedTo, &e.Tags, &mitigations,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan event: %w", err)
	}
	e.EventType = models.EventType(eventType)
	e.Severity = models.Severity(severity)
	e.Status = models.EventStatus(status)
	e.Target.Port = int(port)

	if details != "" {
		if err := json.Unmarshal([]byte(details), &e.Details); err != nil {
			return nil, fmt.Errorf("failed to decode details for %s: %w", e.ID, err)
		}
	}
	if mitigations != "" {
		if err := json.Unmarshal([]byte(mitigations), &e.MitigationActions); err != nil {
			return nil, fmt.Errorf("failed to decode mitigation actions for %s: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (r *EventRepository) GroupCount(ctx context.Context, filter repository.EventFilter, key repository.GroupKey) ([]repository.GroupCount, error) {
	query, args, err := r.groupQuery(filter, key)
	if err != nil {
		return nil, err
	}

	rows, err := r.conn.QueryRows(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events by %s: %w", key, err)
	}
	defer rows.Close()

	out := make([]repository.GroupCount, 0)
	for rows.Next() {
		var count uint64
		gc := repository.GroupCount{}
		switch key {
		case repository.GroupByHour:
			var y, m, d, h int32
			if err := rows.Scan(&y, &m, &d, &h, &count); err != nil {
				return nil, fmt.Errorf("failed to scan hourly bucket: %w", err)
			}
			hour := int(h)
			gc.Bucket = &models.TimeBucket{Year: int(y), Month: int(m), Day: int(d), Hour: &hour}
		case repository.GroupByDay:
			var y, m, d int32
			if err := rows.Scan(&y, &m, &d, &count); err != nil {
				return nil, fmt.Errorf("failed to scan daily bucket: %w", err)
			}
			gc.Bucket = &models.TimeBucket{Year: int(y), Month: int(m), Day: int(d)}
		default:
			if err := rows.Scan(&gc.Key, &count); err != nil {
				return nil, fmt.Errorf("failed to scan %s group: %w", key, err)
			}
		}
		gc.Count = int64(count)
		out = append(out, gc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s groups: %w", key, err)
	}
	return out, nil
}

func (r *EventRepository) groupQuery(filter repository.EventFilter, key repository.GroupKey) (string, []interface{}, error) {
	var query string
	switch key {
	case repository.GroupByEventType, repository.GroupBySeverity, repository.GroupBySourceIP:
		column := map[repository.GroupKey]string{
			repository.GroupByEventType: "event_type",
			repository.GroupBySeverity:  "severity",
			repository.GroupBySourceIP:  "source_ip",
		}[key]
		if key == repository.GroupBySourceIP {
			filter.HasSourceIP = true
		}
		where, args := buildWhere(filter)
		query = fmt.Sprintf("SELECT %s AS k, count() AS c FROM %s FINAL%s GROUP BY k ORDER BY c DESC, k ASC", column, r.table, where)
		return query, args, nil
	case repository.GroupByHour:
		where, args := buildWhere(filter)
		query = fmt.Sprintf(`SELECT toInt32(toYear(created_at)) AS y, toInt32(toMonth(created_at)) AS m,
	toInt32(toDayOfMonth(created_at)) AS d, toInt32(toHour(created_at)) AS h, count() AS c
FROM %s FINAL%s GROUP BY y, m, d, h ORDER BY y, m, d, h`, r.table, where)
		return query, args, nil
	case repository.GroupByDay:
		where, args := buildWhere(filter)
		query = fmt.Sprintf(`SELECT toInt32(toYear(created_at)) AS y, toInt32(toMonth(created_at)) AS m,
	toInt32(toDayOfMonth(created_at)) AS d, count() AS c
FROM %s FINAL%s GROUP BY y, m, d ORDER BY y, m, d`, r.table, where)
		return query, args, nil
	default:
		return "", nil, fmt.Errorf("unsupported group key %q", key)
	}
}

// buildWhere renders the filter as a WHERE clause with positional binds.
func buildWhere(f repository.EventFilter) (string, []interface{}) {
	var (
		clauses []string
		args    []interface{}
	)
	if f.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, string(f.EventType))
	}
	if f.Severity != "" {
		clauses = append(clauses, "severity = ?")
		args = append(args, string(f.Severity))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		clauses = append(clauses, "has(?, status)")
		args = append(args, statuses)
	}
	if f.CreatedFrom != nil {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.CreatedFrom.UTC().Truncate(time.Millisecond))
	}
	if f.CreatedBefore != nil {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.CreatedBefore.UTC().Truncate(time.Millisecond))
	}
	if f.HasSourceIP {
		clauses = append(clauses, "source_ip != ''")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
