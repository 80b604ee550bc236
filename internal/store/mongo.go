package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/1ureka/mirror/internal/record"
)

// Mongo stores records in the "sessions" collection and feeds subscribers
// from a change stream (requires a replica set). Updates are
// revision-conditioned replaces retried on conflict.
type Mongo struct {
	client *mongo.Client
	coll   *mongo.Collection
}

var _ Store = (*Mongo)(nil)

// NewMongo uses database dbName on client.
func NewMongo(client *mongo.Client, dbName string) *Mongo {
	return &Mongo{
		client: client,
		coll:   client.Database(dbName).Collection("sessions"),
	}
}

// EnsureIndexes creates the unique index on code.
func (s *Mongo) EnsureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	return err
}

func (s *Mongo) Insert(ctx context.Context, rec *record.Record) (*record.Record, error) {
	cur, err := s.Get(ctx, rec.Code)
	switch {
	case err == nil && cur.Open():
		return nil, fmt.Errorf("%w: code %s", ErrExists, rec.Code)
	case err == nil:
		// Reuse of a closed code: drop the old document, unless someone
		// touched it in the meantime.
		if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": cur.ID, "revision": cur.Revision}); err != nil {
			return nil, err
		}
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	if _, err := s.coll.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: code %s", ErrExists, rec.Code)
		}
		return nil, err
	}
	return rec.Clone(), nil
}

func (s *Mongo) Get(ctx context.Context, code string) (*record.Record, error) {
	var rec record.Record
	err := s.coll.FindOne(ctx, bson.M{"code": code}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("%w: code %s", ErrNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Mongo) Update(ctx context.Context, code string, m record.Mutation) (*record.Record, error) {
	for i := 0; i < maxCASRetries; i++ {
		rec, err := s.Get(ctx, code)
		if err != nil {
			return nil, err
		}
		prev := rec.Revision

		changed, err := m.Apply(rec, now())
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", code, err)
		}
		if !changed {
			return rec, nil
		}

		res, err := s.coll.ReplaceOne(ctx, bson.M{"_id": rec.ID, "revision": prev}, rec)
		if err != nil {
			return nil, err
		}
		if res.MatchedCount == 1 {
			return rec, nil
		}
	}
	return nil, fmt.Errorf("update %s: too much contention", code)
}

// watchPipeline matches replace/update events for one code.
func watchPipeline(code string) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$match", Value: bson.D{
			{Key: "operationType", Value: bson.D{{Key: "$in", Value: bson.A{"update", "replace"}}}},
			{Key: "fullDocument.code", Value: code},
		}}},
	}
}

func (s *Mongo) Subscribe(ctx context.Context, code string) (Subscription, error) {
	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	cs, err := s.coll.Watch(ctx, watchPipeline(code), opts)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", code, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &mongoSub{
		cs:     cs,
		ch:     make(chan *record.Record, 16),
		cancel: cancel,
	}
	go sub.loop(subCtx)
	return sub, nil
}

// Close disconnects the client.
func (s *Mongo) Close() error {
	return s.client.Disconnect(context.Background())
}

type mongoSub struct {
	cs     *mongo.ChangeStream
	ch     chan *record.Record
	cancel context.CancelFunc
	once   sync.Once
}

type changeEvent struct {
	FullDocument *record.Record `bson:"fullDocument"`
}

func (s *mongoSub) loop(ctx context.Context) {
	defer close(s.ch)
	defer s.cs.Close(context.Background())

	for s.cs.Next(ctx) {
		var ev changeEvent
		if err := s.cs.Decode(&ev); err != nil || ev.FullDocument == nil {
			continue
		}
		select {
		case s.ch <- ev.FullDocument:
		case <-ctx.Done():
			return
		}
	}
}

func (s *mongoSub) Updates() <-chan *record.Record { return s.ch }

func (s *mongoSub) Close() error {
	s.once.Do(s.cancel)
	return nil
}
