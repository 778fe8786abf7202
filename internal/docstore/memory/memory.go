package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/xid"
)

var errContention = errors.New("simulated contention")

type record struct {
	collection string
	data       map[string]any
	version    int64
	updatedAt  time.Time
}

// CommitHook observes the writes of an attempt before they are applied.
// Returning an error aborts the attempt with nothing applied. It runs under the
// store lock and must not call back into the store.
type CommitHook func(ops []docstore.Op) error

type Store struct {
	mu          sync.RWMutex
	docs        map[string]*record
	listeners   map[*listener]struct{}
	closed      bool
	maxAttempts int
	contention  int
	hook        CommitHook
	now         func() time.Time
}

type Option func(*Store)

func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:        make(map[string]*record),
		listeners:   make(map[*listener]struct{}),
		maxAttempts: 5,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InjectContention makes the next n commit attempts fail as if another writer
// won the race, forcing RunTransaction to retry.
func (s *Store) InjectContention(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contention = n
}

func (s *Store) SetCommitHook(hook CommitHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = hook
}

// Len returns the number of documents directly inside collection.
func (s *Store) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rec := range s.docs {
		if rec.collection == collection {
			n++
		}
	}
	return n
}

func (s *Store) Get(_ context.Context, ref docstore.Ref) (*docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	rec, ok := s.docs[ref.Path()]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	doc := toDocument(ref, rec)
	return &doc, nil
}

func (s *Store) Query(_ context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, docstore.ErrClosed
	}
	return s.queryLocked(collection, filters), nil
}

func (s *Store) queryLocked(collection string, filters []docstore.Filter) []docstore.Document {
	docs := make([]docstore.Document, 0, 8)
	for path, rec := range s.docs {
		if rec.collection != collection || !docstore.Matches(rec.data, filters) {
			continue
		}
		ref, _ := docstore.ParseRef(path)
		docs = append(docs, toDocument(ref, rec))
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Ref.ID < docs[j].Ref.ID })
	return docs
}

func (s *Store) NewRef(collection string) docstore.Ref {
	return docstore.Doc(collection, xid.New(""))
}

func (s *Store) Set(ctx context.Context, ref docstore.Ref, data map[string]any) error {
	return s.commit(ctx, []docstore.Op{{Kind: docstore.OpSet, Ref: ref, Data: data}}, false)
}

func (s *Store) Update(ctx context.Context, ref docstore.Ref, fields map[string]any) error {
	return s.commit(ctx, []docstore.Op{{
		Kind:    docstore.OpUpdate,
		Ref:     ref,
		Data:    fields,
		Options: docstore.WriteOptions{MustExist: true},
	}}, false)
}

func (s *Store) RunTransaction(ctx context.Context, fn func(ctx context.Context, tx docstore.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch := &docstore.Batch{}
		if err := fn(ctx, batch); err != nil {
			return err
		}
		err := s.commit(ctx, batch.Ops, true)
		if err == nil {
			return nil
		}
		if !errors.Is(err, errContention) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: gave up after %d attempts: %v", docstore.ErrConflict, s.maxAttempts, lastErr)
}

func (s *Store) commit(_ context.Context, ops []docstore.Op, transactional bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return docstore.ErrClosed
	}
	if transactional && s.contention > 0 {
		s.contention--
		s.mu.Unlock()
		return errContention
	}
	if transactional && s.hook != nil {
		if err := s.hook(ops); err != nil {
			s.mu.Unlock()
			return err
		}
	}

	staged, err := s.stageLocked(ops)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	touched := make(map[string]struct{}, len(staged))
	for path, rec := range staged {
		if rec == nil {
			delete(s.docs, path)
		} else {
			s.docs[path] = rec
		}
		touched[path] = struct{}{}
	}
	targets := s.listenersForLocked(touched)
	s.mu.Unlock()

	for _, l := range targets {
		l.notify()
	}
	return nil
}

// stageLocked validates every op against current state and returns the new
// records keyed by path, nil meaning deleted. Nothing is applied on error.
func (s *Store) stageLocked(ops []docstore.Op) (map[string]*record, error) {
	staged := make(map[string]*record, len(ops))
	lookup := func(path string) (*record, bool) {
		if rec, ok := staged[path]; ok {
			return rec, rec != nil
		}
		rec, ok := s.docs[path]
		return rec, ok
	}
	now := s.now()

	for _, op := range ops {
		if op.Ref.IsZero() {
			return nil, fmt.Errorf("%s: empty document reference", op.Kind)
		}
		path := op.Ref.Path()
		current, exists := lookup(path)

		if op.Options.MustExist && !exists {
			return nil, fmt.Errorf("%w: %s %s: %v", docstore.ErrConflict, op.Kind, path, docstore.ErrNotFound)
		}
		if op.Options.MatchVersion != 0 && (!exists || current.version != op.Options.MatchVersion) {
			return nil, fmt.Errorf("%w: %s %s: version changed", docstore.ErrConflict, op.Kind, path)
		}

		var version int64 = 1
		if exists {
			version = current.version + 1
		}

		switch op.Kind {
		case docstore.OpCreate:
			if exists {
				return nil, fmt.Errorf("%w: %s", docstore.ErrAlreadyExists, path)
			}
			staged[path] = &record{collection: op.Ref.Collection, data: docstore.Merge(nil, op.Data), version: version, updatedAt: now}
		case docstore.OpSet:
			staged[path] = &record{collection: op.Ref.Collection, data: docstore.Merge(nil, op.Data), version: version, updatedAt: now}
		case docstore.OpUpdate:
			data := docstore.Clone(current.data)
			staged[path] = &record{collection: op.Ref.Collection, data: docstore.Merge(data, op.Data), version: version, updatedAt: now}
		case docstore.OpDelete:
			staged[path] = nil
		default:
			return nil, fmt.Errorf("unsupported op %d", op.Kind)
		}
	}
	return staged, nil
}

func (s *Store) ListenCollection(ctx context.Context, collection string, fn docstore.CollectionHandler) (docstore.Listener, error) {
	l := &listener{
		collection: collection,
		signal:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	l.emit = func() {
		s.mu.RLock()
		docs := s.queryLocked(collection, nil)
		s.mu.RUnlock()
		fn(docs, nil)
	}
	return s.register(ctx, l)
}

func (s *Store) ListenDocument(ctx context.Context, ref docstore.Ref, fn docstore.DocumentHandler) (docstore.Listener, error) {
	path := ref.Path()
	l := &listener{
		path:   path,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	l.emit = func() {
		s.mu.RLock()
		rec, ok := s.docs[path]
		var doc *docstore.Document
		if ok {
			d := toDocument(ref, rec)
			doc = &d
		}
		s.mu.RUnlock()
		fn(doc, nil)
	}
	return s.register(ctx, l)
}

func (s *Store) register(ctx context.Context, l *listener) (docstore.Listener, error) {
	l.unregister = func() {
		s.mu.Lock()
		delete(s.listeners, l)
		s.mu.Unlock()
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, docstore.ErrClosed
	}
	s.listeners[l] = struct{}{}
	s.mu.Unlock()

	l.notify()
	go l.run(ctx)
	return l, nil
}

func (s *Store) listenersForLocked(touched map[string]struct{}) []*listener {
	out := make([]*listener, 0, len(s.listeners))
	for l := range s.listeners {
		if l.path != "" {
			if _, ok := touched[l.path]; ok {
				out = append(out, l)
			}
			continue
		}
		for path := range touched {
			idx := strings.LastIndex(path, "/")
			if idx > 0 && path[:idx] == l.collection {
				out = append(out, l)
				break
			}
		}
	}
	return out
}

func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := make([]*listener, 0, len(s.listeners))
	for l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l.Stop()
	}
	return nil
}

type listener struct {
	collection string
	path       string
	signal     chan struct{}
	done       chan struct{}
	once       sync.Once
	emit       func()
	unregister func()
}

func (l *listener) notify() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *listener) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		case <-l.signal:
			select {
			case <-l.done:
				return
			default:
			}
			l.emit()
		}
	}
}

func (l *listener) Stop() {
	l.once.Do(func() {
		close(l.done)
		if l.unregister != nil {
			l.unregister()
		}
	})
}

func toDocument(ref docstore.Ref, rec *record) docstore.Document {
	return docstore.Document{
		Ref:       ref,
		Data:      docstore.Clone(rec.data),
		Version:   rec.version,
		UpdatedAt: rec.updatedAt,
	}
}
