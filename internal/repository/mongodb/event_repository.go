package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"havosec-api/internal/models"
	"havosec-api/internal/repository"
)

// EventRepository is the primary security event store.
type EventRepository struct {
	coll *mongo.Collection
}

func NewEventRepository(coll *mongo.Collection) *EventRepository {
	return &EventRepository{coll: coll}
}

var _ repository.EventStore = (*EventRepository)(nil)

// EnsureIndexes creates the query indexes used by the dashboard.
func (r *EventRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "eventType", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "severity", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "source.ip", Value: 1}}},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create event indexes: %w", err)
	}
	return nil
}

func (r *EventRepository) InsertEvents(ctx context.Context, events []*models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}
	docs := make([]interface{}, len(events))
	for i, e := range events {
		docs[i] = normalize(e)
	}
	if _, err := r.coll.InsertMany(ctx, docs); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %v", repository.ErrAlreadyExists, err)
		}
		return fmt.Errorf("failed to insert events: %w", err)
	}
	return nil
}

// normalize replaces nil slices so $push works on stored documents.
func normalize(e *models.SecurityEvent) *models.SecurityEvent {
	cp := e.Clone()
	if cp.Tags == nil {
		cp.Tags = []string{}
	}
	if cp.MitigationActions == nil {
		cp.MitigationActions = []models.MitigationAction{}
	}
	if cp.Details == nil {
		cp.Details = models.Details{}
	}
	return cp
}

func (r *EventRepository) GetEvent(ctx context.Context, id string) (*models.SecurityEvent, error) {
	var event models.SecurityEvent
	err := r.coll.FindOne(ctx, bson.M{"id": id}).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: event %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return &event, nil
}

func (r *EventRepository) UpdateStatus(ctx context.Context, id string, status models.EventStatus, updatedAt time.Time) (*models.SecurityEvent, error) {
	return r.findAndUpdate(ctx, id, bson.M{
		"$set": bson.M{"status": status, "updatedAt": updatedAt},
	})
}

func (r *EventRepository) AppendMitigation(ctx context.Context, id string, action models.MitigationAction, updatedAt time.Time) (*models.SecurityEvent, error) {
	return r.findAndUpdate(ctx, id, bson.M{
		"$push": bson.M{"mitigationActions": action},
		"$set":  bson.M{"updatedAt": updatedAt},
	})
}

func (r *EventRepository) Assign(ctx context.Context, id, assignee string, updatedAt time.Time) (*models.SecurityEvent, error) {
	return r.findAndUpdate(ctx, id, bson.M{
		"$set": bson.M{"assignedTo": assignee, "updatedAt": updatedAt},
	})
}

func (r *EventRepository) findAndUpdate(ctx context.Context, id string, update bson.M) (*models.SecurityEvent, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var event models.SecurityEvent
	err := r.coll.FindOneAndUpdate(ctx, bson.M{"id": id}, update, opts).Decode(&event)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: event %s", repository.ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to update event: %w", err)
	}
	return &event, nil
}

func (r *EventRepository) CountEvents(ctx context.Context, filter repository.EventFilter) (int64, error) {
	n, err := r.coll.CountDocuments(ctx, buildFilter(filter))
	if err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

func (r *EventRepository) FindEvents(ctx context.Context, filter repository.EventFilter, opts repository.FindOptions) ([]*models.SecurityEvent, error) {
	findOpts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(opts.Skip)
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}

	cursor, err := r.coll.Find(ctx, buildFilter(filter), findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to find events: %w", err)
	}
	defer cursor.Close(ctx)

	events := make([]*models.SecurityEvent, 0)
	if err := cursor.All(ctx, &events); err != nil {
		return nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return events, nil
}

func (r *EventRepository) GroupCount(ctx context.Context, filter repository.EventFilter, key repository.GroupKey) ([]repository.GroupCount, error) {
	pipeline, err := groupPipeline(filter, key)
	if err != nil {
		return nil, err
	}

	cursor, err := r.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events by %s: %w", key, err)
	}
	defer cursor.Close(ctx)

	var rows []bson.Raw
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode %s groups: %w", key, err)
	}

	out := make([]repository.GroupCount, 0, len(rows))
	for _, row := range rows {
		gc, err := decodeGroup(row, key)
		if err != nil {
			return nil, err
		}
		out = append(out, gc)
	}
	return out, nil
}

func decodeGroup(row bson.Raw, key repository.GroupKey) (repository.GroupCount, error) {
	count, ok := row.Lookup("count").AsInt64OK()
	if !ok {
		return repository.GroupCount{}, fmt.Errorf("group row has non-numeric count")
	}
	gc := repository.GroupCount{Count: count}

	id := row.Lookup("_id")
	if key.IsTimeBucket() {
		var bucket models.TimeBucket
		if err := id.Unmarshal(&bucket); err != nil {
			return repository.GroupCount{}, fmt.Errorf("failed to decode time bucket: %w", err)
		}
		gc.Bucket = &bucket
		return gc, nil
	}

	label, ok := id.StringValueOK()
	if !ok {
		return repository.GroupCount{}, fmt.Errorf("group key %s is not a string", key)
	}
	gc.Key = label
	return gc, nil
}

// buildFilter translates an EventFilter into a query document.
func buildFilter(f repository.EventFilter) bson.D {
	q := bson.D{}
	if f.EventType != "" {
		q = append(q, bson.E{Key: "eventType", Value: f.EventType})
	}
	if f.Severity != "" {
		q = append(q, bson.E{Key: "severity", Value: f.Severity})
	}
	if len(f.Statuses) == 1 {
		q = append(q, bson.E{Key: "status", Value: f.Statuses[0]})
	} else if len(f.Statuses) > 1 {
		q = append(q, bson.E{Key: "status", Value: bson.M{"$in": f.Statuses}})
	}
	if f.CreatedFrom != nil || f.CreatedBefore != nil {
		rng := bson.D{}
		if f.CreatedFrom != nil {
			rng = append(rng, bson.E{Key: "$gte", Value: *f.CreatedFrom})
		}
		if f.CreatedBefore != nil {
			rng = append(rng, bson.E{Key: "$lt", Value: *f.CreatedBefore})
		}
		q = append(q, bson.E{Key: "createdAt", Value: rng})
	}
	if f.HasSourceIP {
		q = append(q, bson.E{Key: "source.ip", Value: bson.M{"$exists": true, "$nin": bson.A{nil, ""}}})
	}
	return q
}

func groupPipeline(f repository.EventFilter, key repository.GroupKey) (mongo.Pipeline, error) {
	var id interface{}
	sort := bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}

	switch key {
	case repository.GroupByEventType:
		id = "$eventType"
	case repository.GroupBySeverity:
		id = "$severity"
	case repository.GroupBySourceIP:
		id = "$source.ip"
		f.HasSourceIP = true
	case repository.GroupByHour:
		id = bson.D{
			{Key: "year", Value: bson.M{"$year": "$createdAt"}},
			{Key: "month", Value: bson.M{"$month": "$createdAt"}},
			{Key: "day", Value: bson.M{"$dayOfMonth": "$createdAt"}},
			{Key: "hour", Value: bson.M{"$hour": "$createdAt"}},
		}
		sort = bson.D{{Key: "_id.year", Value: 1}, {Key: "_id.month", Value: 1}, {Key: "_id.day", Value: 1}, {Key: "_id.hour", Value: 1}}
	case repository.GroupByDay:
		id = bson.D{
			{Key: "year", Value: bson.M{"$year": "$createdAt"}},
			{Key: "month", Value: bson.M{"$month": "$createdAt"}},
			{Key: "day", Value: bson.M{"$dayOfMonth": "$createdAt"}},
		}
		sort = bson.D{{Key: "_id.year", Value: 1}, {Key: "_id.month", Value: 1}, {Key: "_id.day", Value: 1}}
	default:
		return nil, fmt.Errorf("unsupported group key %q", key)
	}

	return mongo.Pipeline{
		{{Key: "$match", Value: buildFilter(f)}},
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: id}, {Key: "count", Value: bson.M{"$sum": 1}}}}},
		{{Key: "$sort", Value: sort}},
	}, nil
}
