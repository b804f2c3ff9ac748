package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/typesense/typesense-go/v4/typesense"
	"github.com/typesense/typesense-go/v4/typesense/api"
	"github.com/typesense/typesense-go/v4/typesense/api/pointer"
)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

type typesenseIndex struct {
	client     *typesense.Client
	collection string
}

// NewTypesense builds the search index adapter over a Typesense server.
func NewTypesense(cfg Config) (Index, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, errors.New("typesense url and api key are required")
	}
	if cfg.Collection == "" {
		cfg.Collection = "action_items"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := typesense.NewClient(
		typesense.WithServer(cfg.URL),
		typesense.WithAPIKey(cfg.APIKey),
		typesense.WithConnectionTimeout(cfg.Timeout),
	)
	return &typesenseIndex{client: client, collection: cfg.Collection}, nil
}

func (t *typesenseIndex) EnsureCollection(ctx context.Context) error {
	_, err := t.client.Collection(t.collection).Retrieve(ctx)
	if err == nil {
		return nil
	}

	schema := &api.CollectionSchema{
		Name: t.collection,
		Fields: []api.Field{
			{Name: "status", Type: "string", Facet: pointer.True()},
			{Name: "resolution", Type: "string", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "text", Type: "string", Optional: pointer.True()},
			{Name: "channel_id", Type: "string", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "repository", Type: "string", Facet: pointer.True(), Optional: pointer.True()},
			{Name: "assignee_id", Type: "int64", Optional: pointer.True()},
			{Name: "participants", Type: "string[]", Optional: pointer.True()},
			{Name: "total_replies", Type: "int32"},
			{Name: "created_at", Type: "int64"},
			{Name: "updated_at", Type: "int64"},
			{Name: "times_assigned", Type: "int64"},
			{Name: "times_resolved", Type: "int64"},
			{Name: "times_snoozed", Type: "int64"},
		},
		DefaultSortingField: pointer.String("updated_at"),
	}
	if _, err := t.client.Collections().Create(ctx, schema); err != nil {
		return fmt.Errorf("creating search collection: %w", err)
	}
	return nil
}

// UpsertDocument pushes the full snapshot. Counter increments are applied on
// top of the stored document's values so they stay monotonic across upserts.
func (t *typesenseIndex) UpsertDocument(ctx context.Context, doc Document, counters *Counters) error {
	if counters != nil {
		if existing, err := t.fetch(ctx, doc.ID); err == nil {
			doc.TimesAssigned = existing.TimesAssigned
			doc.TimesResolved = existing.TimesResolved
			doc.TimesSnoozed = existing.TimesSnoozed
		}
		doc.TimesAssigned += counters.Assigned
		doc.TimesResolved += counters.Resolved
		doc.TimesSnoozed += counters.Snoozed
	}

	if _, err := t.client.Collection(t.collection).Documents().Upsert(ctx, doc, &api.DocumentIndexParameters{}); err != nil {
		return fmt.Errorf("upserting search document %s: %w", doc.ID, err)
	}
	return nil
}

func (t *typesenseIndex) DeleteDocument(ctx context.Context, id string) error {
	if _, err := t.client.Collection(t.collection).Document(id).Delete(ctx); err != nil {
		return fmt.Errorf("deleting search document %s: %w", id, err)
	}
	return nil
}

func (t *typesenseIndex) fetch(ctx context.Context, id string) (Document, error) {
	raw, err := t.client.Collection(t.collection).Document(id).Retrieve(ctx)
	if err != nil {
		return Document{}, err
	}

	var doc Document
	if v, ok := raw["times_assigned"].(float64); ok {
		doc.TimesAssigned = int64(v)
	}
	if v, ok := raw["times_resolved"].(float64); ok {
		doc.TimesResolved = int64(v)
	}
	if v, ok := raw["times_snoozed"].(float64); ok {
		doc.TimesSnoozed = int64(v)
	}
	return doc, nil
}
