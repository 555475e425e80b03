package search

import (
	"context"
	"fmt"
	"strings"

	"havosec-api/internal/client"
	"havosec-api/internal/models"
	"havosec-api/internal/repository"
)

// DefaultIndex holds the searchable copy of security events.
const DefaultIndex = "security-events"

var indexBody = map[string]interface{}{
	"settings": map[string]interface{}{
		"number_of_shards":   1,
		"number_of_replicas": 0,
	},
	"mappings": map[string]interface{}{
		"dynamic": "strict",
		"properties": map[string]interface{}{
			"id":          map[string]interface{}{"type": "keyword"},
			"eventType":   map[string]interface{}{"type": "keyword"},
			"severity":    map[string]interface{}{"type": "keyword"},
			"status":      map[string]interface{}{"type": "keyword"},
			"assignedTo":  map[string]interface{}{"type": "keyword"},
			"description": map[string]interface{}{"type": "text"},
			"tags": map[string]interface{}{
				"type":   "text",
				"fields": map[string]interface{}{"raw": map[string]interface{}{"type": "keyword"}},
			},
			"source": map[string]interface{}{
				"properties": map[string]interface{}{
					"ip":        map[string]interface{}{"type": "keyword"},
					"country":   map[string]interface{}{"type": "keyword"},
					"userAgent": map[string]interface{}{"type": "text"},
					"referrer":  map[string]interface{}{"type": "keyword"},
				},
			},
			"target": map[string]interface{}{
				"properties": map[string]interface{}{
					"endpoint": map[string]interface{}{"type": "keyword"},
					"service":  map[string]interface{}{"type": "keyword"},
					"port":     map[string]interface{}{"type": "integer"},
				},
			},
			// arbitrary shapes; stored, not indexed
			"details":           map[string]interface{}{"type": "object", "enabled": false},
			"mitigationActions": map[string]interface{}{"type": "object", "enabled": false},
			"createdAt":         map[string]interface{}{"type": "date"},
			"updatedAt":         map[string]interface{}{"type": "date"},
		},
	},
}

// EventIndex mirrors events into Elasticsearch and answers full-text queries.
type EventIndex struct {
	es    *client.ESClient
	index string
}

func NewEventIndex(es *client.ESClient, index string) *EventIndex {
	if index == "" {
		index = DefaultIndex
	}
	return &EventIndex{es: es, index: index}
}

var _ repository.EventSink = (*EventIndex)(nil)

func (x *EventIndex) Name() string { return "elasticsearch" }

func (x *EventIndex) EnsureIndex(ctx context.Context) error {
	return x.es.EnsureIndex(ctx, x.index, indexBody)
}

// UpsertEvents indexes each event under its id, replacing older versions.
func (x *EventIndex) UpsertEvents(ctx context.Context, events []*models.SecurityEvent) error {
	var failed []string
	var lastErr error
	for _, e := range events {
		res, err := x.es.IndexDocument(ctx, x.index, e.ID, e)
		if err == nil {
			err = x.es.ParseResponse(res, nil)
		}
		if err != nil {
			failed = append(failed, e.ID)
			lastErr = err
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to index %d of %d events (%s): %w",
			len(failed), len(events), strings.Join(failed, ","), lastErr)
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Source models.SecurityEvent `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// SearchEvents runs a relevance-ranked match over description, tags,
// event type and source ip. Ties go to the newest event.
func (x *EventIndex) SearchEvents(ctx context.Context, query string, limit int) ([]*models.SecurityEvent, int64, error) {
	body := map[string]interface{}{
		"size": limit,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":   query,
				"fields":  []string{"description^2", "tags", "eventType", "source.ip"},
				"lenient": true,
			},
		},
		"sort": []interface{}{
			"_score",
			map[string]interface{}{"createdAt": map[string]interface{}{"order": "desc"}},
		},
	}

	res, err := x.es.Search(ctx, x.index, body)
	if err != nil {
		return nil, 0, err
	}
	var parsed searchResponse
	if err := x.es.ParseResponse(res, &parsed); err != nil {
		return nil, 0, err
	}

	events := make([]*models.SecurityEvent, 0, len(parsed.Hits.Hits))
	for i := range parsed.Hits.Hits {
		e := parsed.Hits.Hits[i].Source
		events = append(events, &e)
	}
	return events, parsed.Hits.Total.Value, nil
}
