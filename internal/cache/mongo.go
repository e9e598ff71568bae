package cache

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Mongo defaults.
const (
	DefaultMongoDatabase   = "biosample_enricher"
	DefaultMongoCollection = "http_cache"
)

// MongoBackend is a durable backend on a MongoDB collection. A TTL index on
// expires_at lets the server sweep expired entries in the background.
type MongoBackend struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongo connects to uri and prepares the cache collection.
func NewMongo(ctx context.Context, uri, database, collection string) (*MongoBackend, error) {
	if database == "" {
		database = DefaultMongoDatabase
	}
	if collection == "" {
		collection = DefaultMongoCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, eris.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background()) //nolint:errcheck
		return nil, eris.Wrap(err, "mongo: ping")
	}
	return NewMongoWithCollection(client.Database(database).Collection(collection)), nil
}

// NewMongoWithCollection wraps an existing collection; the backend owns its
// client from then on.
func NewMongoWithCollection(coll *mongo.Collection) *MongoBackend {
	return &MongoBackend{client: coll.Database().Client(), coll: coll}
}

// Migrate ensures the TTL and created_at indexes exist.
func (m *MongoBackend) Migrate(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
		{
			Keys: bson.D{{Key: "created_at", Value: 1}},
		},
	})
	return eris.Wrap(err, "mongo: create indexes")
}

// Name implements Backend.
func (m *MongoBackend) Name() string { return "mongo" }

// Get implements Backend.
func (m *MongoBackend) Get(ctx context.Context, key string) (*Entry, error) {
	var e Entry
	err := m.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "mongo: get entry")
	}
	return &e, nil
}

// Put implements Backend.
func (m *MongoBackend) Put(ctx context.Context, e *Entry) error {
	_, err := m.coll.ReplaceOne(ctx, bson.M{"_id": e.Key}, e, options.Replace().SetUpsert(true))
	return eris.Wrap(err, "mongo: put entry")
}

// Touch implements Backend.
func (m *MongoBackend) Touch(ctx context.Context, key string, at time.Time) error {
	_, err := m.coll.UpdateOne(ctx, bson.M{"_id": key}, bson.M{
		"$inc": bson.M{"hit_count": 1},
		"$set": bson.M{"last_accessed": at},
	})
	return eris.Wrap(err, "mongo: touch entry")
}

// Delete implements Backend.
func (m *MongoBackend) Delete(ctx context.Context, key string) error {
	_, err := m.coll.DeleteOne(ctx, bson.M{"_id": key})
	return eris.Wrap(err, "mongo: delete entry")
}

// Clear implements Backend.
func (m *MongoBackend) Clear(ctx context.Context, f Filter) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, mongoFilter(f))
	if err != nil {
		return 0, eris.Wrap(err, "mongo: clear")
	}
	return res.DeletedCount, nil
}

// Stats implements Backend.
func (m *MongoBackend) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	var err error
	if st.Entries, err = m.coll.CountDocuments(ctx, bson.M{}); err != nil {
		return Stats{}, eris.Wrap(err, "mongo: count entries")
	}
	if st.Expired, err = m.coll.CountDocuments(ctx, bson.M{"expires_at": bson.M{"$lt": time.Now().UTC()}}); err != nil {
		return Stats{}, eris.Wrap(err, "mongo: count expired")
	}

	cur, err := m.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "hits", Value: bson.D{{Key: "$sum", Value: "$hit_count"}}},
		}}},
	})
	if err != nil {
		return Stats{}, eris.Wrap(err, "mongo: aggregate hits")
	}
	defer cur.Close(ctx) //nolint:errcheck

	var rows []struct {
		Hits int64 `bson:"hits"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return Stats{}, eris.Wrap(err, "mongo: decode hits")
	}
	if len(rows) > 0 {
		st.TotalHits = rows[0].Hits
	}
	return st, nil
}

// Ping implements Backend.
func (m *MongoBackend) Ping(ctx context.Context) error {
	return eris.Wrap(m.client.Ping(ctx, nil), "mongo: ping")
}

// Close implements Backend.
func (m *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}

func mongoFilter(f Filter) bson.M {
	q := bson.M{}
	if !f.CreatedBefore.IsZero() {
		q["created_at"] = bson.M{"$lt": f.CreatedBefore.UTC()}
	}
	if !f.ExpiredAsOf.IsZero() {
		q["expires_at"] = bson.M{"$lte": f.ExpiredAsOf.UTC()}
	}
	if f.URLPrefix != "" {
		q["url"] = bson.M{"$regex": "^" + regexp.QuoteMeta(f.URLPrefix)}
	}
	return q
}
