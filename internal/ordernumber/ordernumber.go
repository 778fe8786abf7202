// Package ordernumber derives the next sequential order number from the live
// OrderNumbers collection and models the form field it feeds.
package ordernumber

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"phonepos/backend/internal/docstore"
)

const (
	Collection = "OrderNumbers"
	// Loading is shown until the first snapshot arrives.
	Loading = "Loading..."
)

var ErrInvalid = errors.New("order number is not a positive integer")

// Next returns one past the highest non-custom orderNumber in docs. Documents
// flagged isCustom or without a usable number do not contribute.
func Next(docs []docstore.Document) int64 {
	var highest int64
	found := false
	for _, doc := range docs {
		if docstore.Bool(doc.Data["isCustom"]) {
			continue
		}
		n, ok := docstore.Int(doc.Data["orderNumber"])
		if !ok {
			continue
		}
		if !found || n > highest {
			highest = n
			found = true
		}
	}
	if !found {
		return 1
	}
	return highest + 1
}

func Format(prefix string, n int64) string {
	return prefix + strconv.FormatInt(n, 10)
}

// Parse reads a displayed order number back into its integer.
func Parse(prefix string, display string) (int64, error) {
	raw := strings.TrimSpace(display)
	raw = strings.TrimPrefix(raw, prefix)
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%w: %q", ErrInvalid, display)
	}
	return n, nil
}

// Allocator follows the OrderNumbers collection and publishes the display
// value of the next number. Listener errors and empty snapshots fall back to
// the first number instead of failing.
type Allocator struct {
	store  docstore.Store
	prefix string
	log    zerolog.Logger
}

func NewAllocator(store docstore.Store, prefix string, log zerolog.Logger) *Allocator {
	return &Allocator{store: store, prefix: prefix, log: log}
}

func (a *Allocator) Prefix() string {
	return a.prefix
}

// Listen calls publish with every newly derived display value until the
// returned listener is stopped.
func (a *Allocator) Listen(ctx context.Context, publish func(display string)) (docstore.Listener, error) {
	return a.store.ListenCollection(ctx, Collection, func(docs []docstore.Document, err error) {
		if err != nil {
			a.log.Warn().Err(err).Msg("order number listener failed, using first number")
			publish(Format(a.prefix, 1))
			return
		}
		if len(docs) == 0 {
			publish(Format(a.prefix, 1))
			return
		}
		publish(Format(a.prefix, Next(docs)))
	})
}
