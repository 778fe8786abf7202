// Package docstore defines the transactional document store the POS core runs
// against: path-addressed documents, equality queries, blind-write atomic
// transactions and live listeners.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrConflict      = errors.New("transaction conflict")
	ErrAlreadyExists = errors.New("document already exists")
	ErrClosed        = errors.New("store closed")
)

// Ref addresses one document. Collection may be a nested path such as
// "PhoneBrands/b1/Models/m1/Phones".
type Ref struct {
	Collection string
	ID         string
}

func Doc(collection string, id string) Ref {
	return Ref{Collection: collection, ID: id}
}

func (r Ref) Path() string {
	return r.Collection + "/" + r.ID
}

func (r Ref) IsZero() bool {
	return r.Collection == "" || r.ID == ""
}

// Child returns the path of a sub-collection under this document.
func (r Ref) Child(collection string) string {
	return r.Path() + "/" + collection
}

func (r Ref) String() string {
	return r.Path()
}

// ParseRef splits a stored reference path on its last separator. A path with
// an odd number of segments addresses a collection and is rejected.
func ParseRef(path string) (Ref, bool) {
	path = strings.Trim(strings.TrimSpace(path), "/")
	if path == "" {
		return Ref{}, false
	}
	segments := strings.Split(path, "/")
	if len(segments)%2 != 0 {
		return Ref{}, false
	}
	for _, segment := range segments {
		if segment == "" {
			return Ref{}, false
		}
	}
	idx := strings.LastIndex(path, "/")
	return Ref{Collection: path[:idx], ID: path[idx+1:]}, true
}

type Document struct {
	Ref       Ref
	Data      map[string]any
	Version   int64
	UpdatedAt time.Time
}

// Filter is a single equality predicate.
type Filter struct {
	Field string
	Value any
}

func Where(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

// Matches reports whether data satisfies every filter.
func Matches(data map[string]any, filters []Filter) bool {
	for _, filter := range filters {
		got, ok := data[filter.Field]
		if !ok || !Equal(got, filter.Value) {
			return false
		}
	}
	return true
}

// AppendValue is a field transform applied at commit time: the values are
// appended to the list already stored in the field.
type AppendValue struct {
	Values []any
}

func ArrayAppend(values ...any) AppendValue {
	return AppendValue{Values: values}
}

// WriteOption carries preconditions for a transactional write.
type WriteOption func(*WriteOptions)

type WriteOptions struct {
	MustExist    bool
	MatchVersion int64
}

func MustExist() WriteOption {
	return func(o *WriteOptions) { o.MustExist = true }
}

// MatchVersion aborts the transaction if the document version differs from v
// at commit time. It implies MustExist.
func MatchVersion(v int64) WriteOption {
	return func(o *WriteOptions) {
		o.MustExist = true
		o.MatchVersion = v
	}
}

func ApplyOptions(opts []WriteOption) WriteOptions {
	var out WriteOptions
	for _, opt := range opts {
		opt(&out)
	}
	return out
}

type OpKind int

const (
	OpCreate OpKind = iota + 1
	OpSet
	OpUpdate
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpCreate:
		return "create"
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Op is one buffered write inside a transaction.
type Op struct {
	Kind    OpKind
	Ref     Ref
	Data    map[string]any
	Options WriteOptions
}

// Tx only accepts writes. Reads inside the atomic scope are not supported.
type Tx interface {
	Create(ref Ref, data map[string]any)
	Set(ref Ref, data map[string]any)
	Update(ref Ref, fields map[string]any, opts ...WriteOption)
	Delete(ref Ref, opts ...WriteOption)
}

// Batch is a Tx that buffers operations in order. Backends use it to collect
// the writes of one attempt before applying them atomically.
type Batch struct {
	Ops []Op
}

func (b *Batch) Create(ref Ref, data map[string]any) {
	b.Ops = append(b.Ops, Op{Kind: OpCreate, Ref: ref, Data: data})
}

func (b *Batch) Set(ref Ref, data map[string]any) {
	b.Ops = append(b.Ops, Op{Kind: OpSet, Ref: ref, Data: data})
}

func (b *Batch) Update(ref Ref, fields map[string]any, opts ...WriteOption) {
	o := ApplyOptions(opts)
	o.MustExist = true
	b.Ops = append(b.Ops, Op{Kind: OpUpdate, Ref: ref, Data: fields, Options: o})
}

func (b *Batch) Delete(ref Ref, opts ...WriteOption) {
	b.Ops = append(b.Ops, Op{Kind: OpDelete, Ref: ref, Options: ApplyOptions(opts)})
}

// Listener is a live subscription. Stop is idempotent.
type Listener interface {
	Stop()
}

type CollectionHandler func(docs []Document, err error)

// DocumentHandler receives nil doc when the document does not exist.
type DocumentHandler func(doc *Document, err error)

type Store interface {
	Get(ctx context.Context, ref Ref) (*Document, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	NewRef(collection string) Ref
	Set(ctx context.Context, ref Ref, data map[string]any) error
	Update(ctx context.Context, ref Ref, fields map[string]any) error
	// RunTransaction may call fn more than once; a failed attempt applies nothing.
	RunTransaction(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	ListenCollection(ctx context.Context, collection string, fn CollectionHandler) (Listener, error)
	ListenDocument(ctx context.Context, ref Ref, fn DocumentHandler) (Listener, error)
	Close() error
}

// QueryOne returns the first match or ErrNotFound.
func QueryOne(ctx context.Context, s Store, collection string, filters ...Filter) (*Document, error) {
	docs, err := s.Query(ctx, collection, filters...)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	doc := docs[0]
	return &doc, nil
}
