// Package session is the sale screen's state owner. A single goroutine holds
// the form; user actions and async results (listeners, scans, settlement)
// are all applied on it.
//
// An embedding screen builds one with New, wiring settlement.Service as the
// Settler, barcode.Resolver and barcode.Scanner for scans, and an
// ordernumber.Allocator for the order number feed, then calls Open.
package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	"phonepos/backend/internal/barcode"
	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/domain"
	"phonepos/backend/internal/ordernumber"
	"phonepos/backend/internal/payment"
	"phonepos/backend/internal/pricing"
	"phonepos/backend/internal/settlement"
)

var (
	ErrSettlementInFlight = errors.New("session: settlement already in progress")
	ErrClosed             = errors.New("session: closed")
	ErrNoSuchItem         = errors.New("session: no such line item")
)

type Settler interface {
	Settle(ctx context.Context, req settlement.Request) (*settlement.Result, error)
}

type Resolver interface {
	Scan(ctx context.Context, code string, cart []domain.ProductItem) (domain.ProductItem, error)
}

type OrderFeed interface {
	Listen(ctx context.Context, publish func(display string)) (docstore.Listener, error)
}

type ScanFeed interface {
	Listen(ctx context.Context, onCode func(code string)) (docstore.Listener, error)
}

type Deps struct {
	Settler  Settler
	Resolver Resolver
	Orders   OrderFeed
	Scans    ScanFeed
	Log      zerolog.Logger
}

type ScanEvent struct {
	Code    string
	Outcome barcode.Outcome
	Error   string
}

type State struct {
	Products    []domain.ProductItem
	Services    []domain.ServiceItem
	Customer    string
	GST         string
	PST         string
	Adjustment  string
	Direction   domain.AdjustmentDirection
	Payment     domain.PaymentSplit
	Middleman   settlement.MiddlemanInput
	OrderNumber ordernumber.Field
	Settling    bool
	LastScan    *ScanEvent
	LastSale    string
	LastError   string
}

func (st *State) request() settlement.Request {
	return settlement.Request{
		Products:      append([]domain.ProductItem(nil), st.Products...),
		Services:      append([]domain.ServiceItem(nil), st.Services...),
		Customer:      st.Customer,
		GST:           st.GST,
		PST:           st.PST,
		Adjustment:    st.Adjustment,
		Direction:     st.Direction,
		Payment:       st.Payment,
		Middleman:     st.Middleman,
		OrderNumber:   st.OrderNumber.Value(),
		OrderIsCustom: st.OrderNumber.IsCustom(),
	}
}

func (st *State) clone() State {
	out := *st
	out.Products = make([]domain.ProductItem, len(st.Products))
	for i, p := range st.Products {
		p.IMEIs = append([]string(nil), p.IMEIs...)
		out.Products[i] = p
	}
	out.Services = append([]domain.ServiceItem(nil), st.Services...)
	if st.LastScan != nil {
		scan := *st.LastScan
		out.LastScan = &scan
	}
	return out
}

// Snapshot is a copy of the form plus everything derived from it.
type Snapshot struct {
	State
	Totals    pricing.Totals
	Main      payment.Result
	Middleman payment.Result
}

type Session struct {
	deps Deps
	log  zerolog.Logger

	cmds      chan func(*State)
	done      chan struct{}
	closeOnce sync.Once

	mu        sync.Mutex
	listeners []docstore.Listener
}

func New(deps Deps) *Session {
	s := &Session{
		deps: deps,
		log:  deps.Log,
		cmds: make(chan func(*State)),
		done: make(chan struct{}),
	}
	state := State{
		Direction:   domain.AdjustmentDiscount,
		OrderNumber: ordernumber.NewField(),
	}
	go s.loop(state)
	return s
}

func (s *Session) loop(state State) {
	for {
		select {
		case <-s.done:
			return
		case cmd := <-s.cmds:
			cmd(&state)
		}
	}
}

// do runs fn on the state goroutine and waits for it.
func (s *Session) do(fn func(*State)) error {
	ack := make(chan struct{})
	select {
	case s.cmds <- func(st *State) { fn(st); close(ack) }:
	case <-s.done:
		return ErrClosed
	}
	select {
	case <-ack:
		return nil
	case <-s.done:
		return ErrClosed
	}
}

// Open starts the order-number and scanner feeds.
func (s *Session) Open(ctx context.Context) error {
	if s.deps.Orders != nil {
		l, err := s.deps.Orders.Listen(ctx, func(display string) {
			_ = s.do(func(st *State) { st.OrderNumber = st.OrderNumber.ApplyAuto(display) })
		})
		if err != nil {
			return fmt.Errorf("listen order numbers: %w", err)
		}
		s.track(l)
	}
	if s.deps.Scans != nil && s.deps.Resolver != nil {
		l, err := s.deps.Scans.Listen(ctx, func(code string) {
			go s.scan(ctx, code)
		})
		if err != nil {
			return fmt.Errorf("listen scanner: %w", err)
		}
		s.track(l)
	}
	return nil
}

func (s *Session) track(l docstore.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Scan resolves code and adds the item unless the cart already has it.
func (s *Session) Scan(ctx context.Context, code string) (barcode.Outcome, error) {
	return s.scan(ctx, code)
}

func (s *Session) scan(ctx context.Context, code string) (barcode.Outcome, error) {
	var cart []domain.ProductItem
	if err := s.do(func(st *State) { cart = st.clone().Products }); err != nil {
		return barcode.OutcomeFailed, err
	}

	item, err := s.deps.Resolver.Scan(ctx, code, cart)
	outcome := barcode.OutcomeOf(err)
	doErr := s.do(func(st *State) {
		// The cart may have changed while the lookup ran.
		if err == nil && domain.CartContainsIMEI(st.Products, item.IMEIs[0]) {
			err = fmt.Errorf("%w: %s", barcode.ErrDuplicate, item.IMEIs[0])
			outcome = barcode.OutcomeDuplicate
		}
		event := &ScanEvent{Code: code, Outcome: outcome}
		if err != nil {
			event.Error = err.Error()
		} else {
			st.Products = append(st.Products, item)
		}
		st.LastScan = event
	})
	if doErr != nil {
		return barcode.OutcomeFailed, doErr
	}
	if err != nil {
		s.log.Info().Err(err).Str("code", code).Str("outcome", string(outcome)).Msg("scan not added")
	}
	return outcome, err
}

// Confirm settles the current form. Only one settlement runs at a time. On
// success the settled line items and the payment inputs are cleared; on
// failure the form is left as it was.
func (s *Session) Confirm(ctx context.Context) (*settlement.Result, error) {
	var req settlement.Request
	busy := false
	if err := s.do(func(st *State) {
		if st.Settling {
			busy = true
			return
		}
		st.Settling = true
		st.LastError = ""
		clampAdjustment(st)
		req = st.request()
	}); err != nil {
		return nil, err
	}
	if busy {
		return nil, ErrSettlementInFlight
	}

	res, err := s.deps.Settler.Settle(ctx, req)

	doErr := s.do(func(st *State) {
		st.Settling = false
		if err != nil {
			st.LastError = err.Error()
			return
		}
		// Items added while the settlement ran stay in the cart.
		st.Products = withoutSettledProducts(st.Products, req.Products)
		st.Services = withoutSettledServices(st.Services, req.Services)
		st.Adjustment = ""
		st.Payment = domain.PaymentSplit{}
		st.Middleman = settlement.MiddlemanInput{}
		st.OrderNumber = st.OrderNumber.ResetAuto()
		st.LastSale = res.Sale.ID
	})
	if err != nil {
		return nil, err
	}
	if doErr != nil {
		return res, doErr
	}
	return res, nil
}

func (s *Session) Snapshot() (Snapshot, error) {
	var snap Snapshot
	err := s.do(func(st *State) {
		snap.State = st.clone()
	})
	if err != nil {
		return Snapshot{}, err
	}
	req := snap.request()
	snap.Totals = req.Totals()
	snap.Main = req.MainPayment()
	snap.Middleman = req.MiddlemanPayment()
	return snap, nil
}

// Close stops the feeds and the state goroutine. It is safe to call twice.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		listeners := s.listeners
		s.listeners = nil
		s.mu.Unlock()
		for _, l := range listeners {
			l.Stop()
		}
		close(s.done)
	})
}

func withoutSettledProducts(cart []domain.ProductItem, settled []domain.ProductItem) []domain.ProductItem {
	remaining := make([]domain.ProductItem, 0, len(cart))
	used := make([]bool, len(settled))
	for _, item := range cart {
		matched := false
		for i, done := range settled {
			if !used[i] && sameProduct(item, done) {
				used[i] = true
				matched = true
				break
			}
		}
		if !matched {
			remaining = append(remaining, item)
		}
	}
	return remaining
}

func withoutSettledServices(services []domain.ServiceItem, settled []domain.ServiceItem) []domain.ServiceItem {
	remaining := make([]domain.ServiceItem, 0, len(services))
	used := make([]bool, len(settled))
	for _, item := range services {
		matched := false
		for i, done := range settled {
			if !used[i] && item.Name == done.Name && item.Price.Equal(done.Price) {
				used[i] = true
				matched = true
				break
			}
		}
		if !matched {
			remaining = append(remaining, item)
		}
	}
	return remaining
}

func sameProduct(a, b domain.ProductItem) bool {
	return a.Brand == b.Brand &&
		a.Model == b.Model &&
		slices.Equal(a.IMEIs, b.IMEIs) &&
		a.Price.Equal(b.Price)
}
