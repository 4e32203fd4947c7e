// Package mongo provides a MongoDB-backed implementation of storage.DocStore.
//
// All collections share one MongoDB collection of documents keyed by
// "<collection>/<id>". Batches run in multi-document transactions, which
// require a replica set (a single-node one is enough).
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/mmynk/tallyledger/internal/storage"
)

const colDocuments = "documents"

// compile-time interface check
var _ storage.DocStore = (*Store)(nil)

type documentModel struct {
	Key        string `bson:"_id"`
	Collection string `bson:"c"`
	ID         string `bson:"i"`
	Version    int64  `bson:"v"`
	Data       bson.M `bson:"data"`
}

// Store implements storage.DocStore using MongoDB.
type Store struct {
	client *mongo.Client
	col    *mongo.Collection
}

// New connects to uri, selects database and creates indexes.
func New(ctx context.Context, uri, database string) (*Store, error) {
	if uri == "" {
		return nil, fmt.Errorf("mongo URI is empty")
	}
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("tallyledger/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("tallyledger/mongo: ping: %w", err)
	}
	s := &Store{client: client, col: client.Database(database).Collection(colDocuments)}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

// Migrate creates the indexes used by ledger queries.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "c", Value: 1}, {Key: "i", Value: 1}}},
		{Keys: bson.D{{Key: "c", Value: 1}, {Key: "data.owner_id", Value: 1}, {Key: "data.name", Value: 1}}},
		{Keys: bson.D{{Key: "c", Value: 1}, {Key: "data.selected_date", Value: -1}, {Key: "i", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("tallyledger/mongo: migrate indexes: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return s.client.Ping(ctx, nil) }

func (s *Store) Close() error { return s.client.Disconnect(context.Background()) }

func (s *Store) Get(ctx context.Context, collection, id string) (*storage.Document, error) {
	m, err := s.find(ctx, collection, id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, storage.ErrNotFound
	}
	return fromModel(m), nil
}

func (s *Store) Add(ctx context.Context, collection string, fields storage.Fields) (string, error) {
	return storage.AddWith(ctx, s.Batch(), collection, fields)
}

func (s *Store) Update(ctx context.Context, collection, id string, fields storage.Fields) error {
	return storage.UpdateWith(ctx, s.Batch(), collection, id, fields)
}

func (s *Store) Query(ctx context.Context, collection string, q storage.Query) ([]*storage.Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	conds := bson.A{bson.M{"c": collection}}
	for _, f := range q.Filters {
		conds = append(conds, bson.M{"data." + f.Field: bson.M{mongoOp(f.Op): f.Value}})
	}

	key := "i"
	if q.OrderBy != "" {
		key = "data." + q.OrderBy
		conds = append(conds, bson.M{key: bson.M{"$type": "string"}})
	}

	if q.StartAfter != "" {
		cursor, err := s.find(ctx, collection, q.StartAfter)
		if err != nil {
			return nil, err
		}
		if cursor == nil {
			return nil, fmt.Errorf("start after %q: %w", q.StartAfter, storage.ErrNotFound)
		}
		cmp := "$gt"
		if q.Descending {
			cmp = "$lt"
		}
		if q.OrderBy == "" {
			conds = append(conds, bson.M{"i": bson.M{cmp: cursor.ID}})
		} else {
			value, _ := cursor.Data[q.OrderBy].(string)
			conds = append(conds, bson.M{"$or": bson.A{
				bson.M{key: bson.M{cmp: value}},
				bson.M{key: value, "i": bson.M{cmp: cursor.ID}},
			}})
		}
	}

	dir := 1
	if q.Descending {
		dir = -1
	}
	sort := bson.D{{Key: key, Value: dir}}
	if key != "i" {
		sort = append(sort, bson.E{Key: "i", Value: dir})
	}
	opts := options.Find().SetSort(sort)
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}

	cur, err := s.col.Find(ctx, bson.M{"$and": conds}, opts)
	if err != nil {
		return nil, fmt.Errorf("tallyledger/mongo: query: %w", err)
	}
	var models []documentModel
	if err := cur.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("tallyledger/mongo: decode query: %w", err)
	}

	docs := make([]*storage.Document, len(models))
	for i := range models {
		docs[i] = fromModel(&models[i])
	}
	return docs, nil
}

func (s *Store) Batch() storage.Batch { return &batch{store: s} }

type batch struct {
	storage.Mutations
	store *Store
}

// Commit applies the writes inside a transaction. Version preconditions are
// also part of each write's filter.
func (b *batch) Commit(ctx context.Context) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if len(b.List()) == 0 {
		return nil
	}

	sess, err := b.store.client.StartSession()
	if err != nil {
		return fmt.Errorf("tallyledger/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (any, error) {
		for _, m := range b.List() {
			if err := b.apply(ctx, m); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (b *batch) apply(ctx context.Context, m storage.Mutation) error {
	s := b.store
	current, err := s.find(ctx, m.Collection, m.ID)
	if err != nil {
		return err
	}
	key := docKey(m.Collection, m.ID)

	switch m.Kind {
	case storage.MutationCreate:
		if current != nil {
			return fmt.Errorf("create %s: %w", key, storage.ErrConflict)
		}
		data, err := storage.Normalize(m.Fields)
		if err != nil {
			return err
		}
		_, err = s.col.InsertOne(ctx, documentModel{
			Key: key, Collection: m.Collection, ID: m.ID, Version: 1, Data: bson.M(data),
		})
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("create %s: %w", key, storage.ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("tallyledger/mongo: insert: %w", err)
		}

	case storage.MutationUpdate:
		if current == nil {
			return fmt.Errorf("update %s: %w", key, storage.ErrNotFound)
		}
		if !m.Pre.Holds(current.Version) {
			return fmt.Errorf("update %s: %w", key, storage.ErrConflict)
		}
		patch, err := storage.Normalize(m.Fields)
		if err != nil {
			return err
		}
		set := bson.M{}
		for k, v := range patch {
			set["data."+k] = v
		}
		update := bson.M{"$inc": bson.M{"v": 1}}
		if len(set) > 0 {
			update["$set"] = set
		}
		res, err := s.col.UpdateOne(ctx, bson.M{"_id": key, "v": current.Version}, update)
		if err != nil {
			return fmt.Errorf("tallyledger/mongo: update: %w", err)
		}
		if res.MatchedCount != 1 {
			return fmt.Errorf("update %s: %w", key, storage.ErrConflict)
		}

	case storage.MutationDelete:
		if current == nil {
			if m.Pre.Version != 0 {
				return fmt.Errorf("delete %s: %w", key, storage.ErrConflict)
			}
			return nil
		}
		if !m.Pre.Holds(current.Version) {
			return fmt.Errorf("delete %s: %w", key, storage.ErrConflict)
		}
		res, err := s.col.DeleteOne(ctx, bson.M{"_id": key, "v": current.Version})
		if err != nil {
			return fmt.Errorf("tallyledger/mongo: delete: %w", err)
		}
		if res.DeletedCount != 1 {
			return fmt.Errorf("delete %s: %w", key, storage.ErrConflict)
		}
	}
	return nil
}

// find returns nil without error when the document does not exist.
func (s *Store) find(ctx context.Context, collection, id string) (*documentModel, error) {
	var m documentModel
	err := s.col.FindOne(ctx, bson.M{"_id": docKey(collection, id)}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("tallyledger/mongo: get: %w", err)
	}
	return &m, nil
}

func docKey(collection, id string) string { return collection + "/" + id }

func fromModel(m *documentModel) *storage.Document {
	fields := storage.Fields{}
	for k, v := range m.Data {
		fields[k] = normalize(v)
	}
	return &storage.Document{ID: m.ID, Version: m.Version, Fields: fields}
}

// normalize converts decoded BSON values into the JSON-compatible types
// promised by storage.Fields.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case map[string]any:
		return normalize(bson.M(t))
	case bson.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	case []any:
		return normalize(bson.A(t))
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}

func mongoOp(op storage.Op) string {
	switch op {
	case storage.OpLess:
		return "$lt"
	case storage.OpLessEqual:
		return "$lte"
	case storage.OpGreater:
		return "$gt"
	case storage.OpGreaterEqual:
		return "$gte"
	default:
		return "$eq"
	}
}
