// Package datastore gives tasks a schemaless scratch store for passing
// structured documents between steps and between task instances. It is a thin
// veneer over a MongoDB database; documents and filters travel as JSON text
// through the task layer.
package datastore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/pretty"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cloudsidekick/cato/pkg/config"
	"github.com/cloudsidekick/cato/pkg/logger"
)

// Store is one engine's handle to the document database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens the document store named in cfg.
func Connect(ctx context.Context, cfg *config.DatastoreConfig) (*Store, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("no datastore configured")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connecting to datastore: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("datastore not reachable: %w", err)
	}
	return &Store{client: client, db: client.Database(cfg.Database)}, nil
}

// Close disconnects; failures are logged, the run is already over.
func (s *Store) Close(ctx context.Context) {
	if err := s.client.Disconnect(ctx); err != nil {
		logger.FromContext(ctx).Warn("disconnecting datastore", "error", err)
	}
}

func parseDoc(kind, text string) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(text), true, &doc); err != nil {
		return nil, fmt.Errorf("%s is not a valid json document: %w", kind, err)
	}
	return doc, nil
}

// Insert stores one document and returns its generated id.
func (s *Store) Insert(ctx context.Context, collection, docJSON string) (string, error) {
	doc, err := parseDoc("document", docJSON)
	if err != nil {
		return "", err
	}
	res, err := s.db.Collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return "", fmt.Errorf("inserting into [%s]: %w", collection, err)
	}
	return fmt.Sprintf("%v", res.InsertedID), nil
}

// Query returns every matching document as one pretty-printed JSON array, in
// the shape the substitution engine's keypath lookups expect.
func (s *Store) Query(ctx context.Context, collection, filterJSON string) (string, error) {
	filter, err := parseDoc("filter", filterJSON)
	if err != nil {
		return "", err
	}
	cur, err := s.db.Collection(collection).Find(ctx, filter)
	if err != nil {
		return "", fmt.Errorf("querying [%s]: %w", collection, err)
	}
	defer cur.Close(ctx)

	var parts []string
	for cur.Next(ctx) {
		out, err := bson.MarshalExtJSON(cur.Current, false, false)
		if err != nil {
			return "", fmt.Errorf("encoding document from [%s]: %w", collection, err)
		}
		parts = append(parts, string(out))
	}
	if err := cur.Err(); err != nil {
		return "", fmt.Errorf("iterating [%s]: %w", collection, err)
	}
	arr := "[" + strings.Join(parts, ",") + "]"
	return strings.TrimSpace(string(pretty.Pretty([]byte(arr)))), nil
}

// Update applies updateJSON to every document matching the filter and returns
// the modified count. A plain document with no $-operators is wrapped in
// $set, so task authors can write the fields they want changed.
func (s *Store) Update(ctx context.Context, collection, filterJSON, updateJSON string) (int64, error) {
	filter, err := parseDoc("filter", filterJSON)
	if err != nil {
		return 0, err
	}
	update, err := parseDoc("update", updateJSON)
	if err != nil {
		return 0, err
	}
	if !hasOperators(update) {
		update = bson.D{{Key: "$set", Value: update}}
	}
	res, err := s.db.Collection(collection).UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, fmt.Errorf("updating [%s]: %w", collection, err)
	}
	return res.ModifiedCount, nil
}

func hasOperators(doc bson.D) bool {
	for _, e := range doc {
		if strings.HasPrefix(e.Key, "$") {
			return true
		}
	}
	return false
}

// Delete removes every document matching the filter and returns the count.
func (s *Store) Delete(ctx context.Context, collection, filterJSON string) (int64, error) {
	filter, err := parseDoc("filter", filterJSON)
	if err != nil {
		return 0, err
	}
	res, err := s.db.Collection(collection).DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("deleting from [%s]: %w", collection, err)
	}
	return res.DeletedCount, nil
}
