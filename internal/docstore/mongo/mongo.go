// Package mongo stores documents in MongoDB. Every path-addressed collection
// maps to the MongoDB collection named after its last segment; documents keep
// their full path as _id and their parent collection path in _parent.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/xid"
)

const (
	fieldID        = "_id"
	fieldParent    = "_parent"
	fieldVersion   = "_v"
	fieldUpdatedAt = "_updatedAt"
)

type Store struct {
	client       *mongo.Client
	db           *mongo.Database
	log          zerolog.Logger
	pollInterval time.Duration
	now          func() time.Time

	mu      sync.Mutex
	lastVer int64
}

type Option func(*Store)

func WithLogger(log zerolog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithPollInterval sets the fallback refresh cadence used when change streams
// are unavailable (standalone servers).
func WithPollInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.pollInterval = d
		}
	}
}

func New(ctx context.Context, uri string, database string, opts ...Option) (*Store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("docstore/mongo: connect: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("docstore/mongo: ping: %w", err)
	}

	s := &Store{
		client:       client,
		db:           client.Database(database),
		log:          zerolog.Nop(),
		pollInterval: time.Second,
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) coll(collection string) *mongo.Collection {
	name := collection
	if idx := strings.LastIndex(collection, "/"); idx >= 0 {
		name = collection[idx+1:]
	}
	return s.db.Collection(name)
}

// nextVersion returns a strictly increasing version stamp for this process.
func (s *Store) nextVersion() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.now().UnixNano()
	if v <= s.lastVer {
		v = s.lastVer + 1
	}
	s.lastVer = v
	return v
}

func (s *Store) Get(ctx context.Context, ref docstore.Ref) (*docstore.Document, error) {
	var raw bson.M
	err := s.coll(ref.Collection).FindOne(ctx, bson.M{fieldID: ref.Path()}).Decode(&raw)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}
	doc := decode(ref, raw)
	return &doc, nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	filter := bson.M{fieldParent: collection}
	for _, f := range filters {
		filter[f.Field] = encodeValue(f.Value)
	}

	cursor, err := s.coll(collection).Find(ctx, filter, options.Find().SetSort(bson.D{{Key: fieldID, Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	docs := make([]docstore.Document, 0, 8)
	for cursor.Next(ctx) {
		var raw bson.M
		if err := cursor.Decode(&raw); err != nil {
			return nil, err
		}
		path, _ := raw[fieldID].(string)
		ref, ok := docstore.ParseRef(path)
		if !ok {
			continue
		}
		docs = append(docs, decode(ref, raw))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Store) NewRef(collection string) docstore.Ref {
	return docstore.Doc(collection, xid.New(""))
}

func (s *Store) Set(ctx context.Context, ref docstore.Ref, data map[string]any) error {
	return s.apply(ctx, docstore.Op{Kind: docstore.OpSet, Ref: ref, Data: data})
}

func (s *Store) Update(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	return s.apply(ctx, docstore.Op{Kind: docstore.OpUpdate, Ref: ref, Data: fields, Options: docstore.WriteOptions{MustExist: true}})
}

// RunTransaction executes fn inside a MongoDB multi-document transaction. The
// driver retries the callback on transient transaction errors.
func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("docstore/mongo: start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		batch := &docstore.Batch{}
		if err := fn(sc, batch); err != nil {
			return nil, err
		}
		for _, op := range batch.Ops {
			if err := s.apply(sc, op); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func (s *Store) apply(ctx context.Context, op docstore.Op) error {
	if op.Ref.IsZero() {
		return fmt.Errorf("%s: empty document reference", op.Kind)
	}
	coll := s.coll(op.Ref.Collection)
	path := op.Ref.Path()
	filter := bson.M{fieldID: path}
	if op.Options.MatchVersion != 0 {
		filter[fieldVersion] = op.Options.MatchVersion
	}
	meta := bson.M{
		fieldParent:    op.Ref.Collection,
		fieldVersion:   s.nextVersion(),
		fieldUpdatedAt: s.now(),
	}

	switch op.Kind {
	case docstore.OpCreate:
		doc := encodeDocument(op.Data)
		doc[fieldID] = path
		for k, v := range meta {
			doc[k] = v
		}
		if _, err := coll.InsertOne(ctx, doc); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				return fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, path)
			}
			return err
		}
	case docstore.OpSet:
		doc := encodeDocument(op.Data)
		for k, v := range meta {
			doc[k] = v
		}
		if _, err := coll.ReplaceOne(ctx, bson.M{fieldID: path}, doc, options.Replace().SetUpsert(true)); err != nil {
			return err
		}
	case docstore.OpUpdate:
		set, push := encodeUpdate(op.Data)
		for k, v := range meta {
			set[k] = v
		}
		update := bson.M{"$set": set}
		if len(push) > 0 {
			update["$push"] = push
		}
		res, err := coll.UpdateOne(ctx, filter, update)
		if err != nil {
			return err
		}
		if res.MatchedCount == 0 {
			return fmt.Errorf("%w: update %s: missing or changed", docstore.ErrConflict, path)
		}
	case docstore.OpDelete:
		res, err := coll.DeleteOne(ctx, filter)
		if err != nil {
			return err
		}
		if op.Options.MustExist && res.DeletedCount == 0 {
			return fmt.Errorf("%w: delete %s: missing or changed", docstore.ErrConflict, path)
		}
	default:
		return fmt.Errorf("unsupported op %d", op.Kind)
	}
	return nil
}

func (s *Store) ListenCollection(ctx context.Context, collection string, fn docstore.CollectionHandler) (docstore.Listener, error) {
	refresh := func(ctx context.Context) {
		docs, err := s.Query(ctx, collection)
		fn(docs, err)
	}
	pipeline := mongo.Pipeline{}
	return s.listen(ctx, collection, pipeline, refresh)
}

func (s *Store) ListenDocument(ctx context.Context, ref docstore.Ref, fn docstore.DocumentHandler) (docstore.Listener, error) {
	refresh := func(ctx context.Context) {
		doc, err := s.Get(ctx, ref)
		if errors.Is(err, docstore.ErrNotFound) {
			fn(nil, nil)
			return
		}
		fn(doc, err)
	}
	pipeline := mongo.Pipeline{{{Key: "$match", Value: bson.M{"documentKey._id": ref.Path()}}}}
	return s.listen(ctx, ref.Collection, pipeline, refresh)
}

func (s *Store) listen(ctx context.Context, collection string, pipeline mongo.Pipeline, deliver func(context.Context)) (docstore.Listener, error) {
	ctx, cancel := context.WithCancel(ctx)
	l := &listener{cancel: cancel}
	refresh := func(ctx context.Context) {
		if ctx.Err() == nil {
			deliver(ctx)
		}
	}

	stream, err := s.coll(collection).Watch(ctx, pipeline)
	if err != nil {
		s.log.Warn().Err(err).Str("collection", collection).Msg("change stream unavailable, polling")
		go s.poll(ctx, refresh)
		return l, nil
	}

	go func() {
		defer stream.Close(context.Background())
		refresh(ctx)
		for stream.Next(ctx) {
			refresh(ctx)
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Str("collection", collection).Msg("change stream ended, polling")
			s.poll(ctx, refresh)
		}
	}()
	return l, nil
}

func (s *Store) poll(ctx context.Context, refresh func(context.Context)) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh(ctx)
		}
	}
}

type listener struct {
	cancel context.CancelFunc
}

func (l *listener) Stop() {
	l.cancel()
}

func decode(ref docstore.Ref, raw bson.M) docstore.Document {
	doc := docstore.Document{Ref: ref, Data: make(map[string]any, len(raw))}
	for k, v := range raw {
		switch k {
		case fieldID, fieldParent:
		case fieldVersion:
			doc.Version, _ = docstore.Int(v)
		case fieldUpdatedAt:
			doc.UpdatedAt, _ = normalize(v).(time.Time)
		default:
			doc.Data[k] = normalize(v)
		}
	}
	return doc
}

// normalize converts driver container types into plain maps and slices.
func normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = normalize(inner)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalize(t[i])
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Decimal128:
		return t.String()
	default:
		return v
	}
}

func encodeDocument(data map[string]any) bson.M {
	out := bson.M{}
	for k, v := range docstore.Clone(data) {
		out[k] = v
	}
	return out
}

func encodeUpdate(fields map[string]any) (bson.M, bson.M) {
	set := bson.M{}
	push := bson.M{}
	for k, v := range fields {
		if app, ok := v.(docstore.AppendValue); ok {
			values := docstore.Clone(map[string]any{"v": app.Values})["v"]
			push[k] = bson.M{"$each": values}
			continue
		}
		set[k] = encodeValue(v)
	}
	return set, push
}

func encodeValue(v any) any {
	return docstore.Clone(map[string]any{"v": v})["v"]
}
