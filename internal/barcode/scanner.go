package barcode

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"phonepos/backend/internal/docstore"
)

// ScannerRef is the document the hardware bridge writes pending scans into.
var ScannerRef = docstore.Doc("Data", "scanner")

type Scanner struct {
	store docstore.Store
	log   zerolog.Logger
}

func NewScanner(store docstore.Store, log zerolog.Logger) *Scanner {
	return &Scanner{store: store, log: log}
}

// Listen calls onCode for every pending barcode. The pending field is
// cleared by a separate immediate write that onCode never waits on.
func (s *Scanner) Listen(ctx context.Context, onCode func(code string)) (docstore.Listener, error) {
	return s.store.ListenDocument(ctx, ScannerRef, func(doc *docstore.Document, err error) {
		if err != nil {
			s.log.Warn().Err(err).Msg("scanner listener failed")
			return
		}
		if doc == nil {
			return
		}
		code, _ := docstore.String(doc.Data["barcode"])
		code = strings.TrimSpace(code)
		if code == "" {
			return
		}
		go s.clear(context.WithoutCancel(ctx))
		onCode(code)
	})
}

func (s *Scanner) clear(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.store.Update(ctx, ScannerRef, map[string]any{"barcode": ""}); err != nil {
		s.log.Warn().Err(err).Msg("clear scanner barcode")
	}
}
