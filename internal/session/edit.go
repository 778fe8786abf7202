package session

import (
	"phonepos/backend/internal/domain"
	"phonepos/backend/internal/pricing"
	"phonepos/backend/internal/settlement"
)

func (s *Session) AddProduct(item domain.ProductItem) error {
	item.IMEIs = append([]string(nil), item.IMEIs...)
	return s.do(func(st *State) { st.Products = append(st.Products, item) })
}

// ReplaceProduct swaps the item at index i for an edited copy.
func (s *Session) ReplaceProduct(i int, item domain.ProductItem) error {
	item.IMEIs = append([]string(nil), item.IMEIs...)
	var err error
	doErr := s.do(func(st *State) {
		if i < 0 || i >= len(st.Products) {
			err = ErrNoSuchItem
			return
		}
		st.Products[i] = item
		clampAdjustment(st)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) RemoveProduct(i int) error {
	var err error
	doErr := s.do(func(st *State) {
		if i < 0 || i >= len(st.Products) {
			err = ErrNoSuchItem
			return
		}
		st.Products = append(st.Products[:i:i], st.Products[i+1:]...)
		clampAdjustment(st)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) AddService(item domain.ServiceItem) error {
	return s.do(func(st *State) { st.Services = append(st.Services, item) })
}

func (s *Session) ReplaceService(i int, item domain.ServiceItem) error {
	var err error
	doErr := s.do(func(st *State) {
		if i < 0 || i >= len(st.Services) {
			err = ErrNoSuchItem
			return
		}
		st.Services[i] = item
		clampAdjustment(st)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) RemoveService(i int) error {
	var err error
	doErr := s.do(func(st *State) {
		if i < 0 || i >= len(st.Services) {
			err = ErrNoSuchItem
			return
		}
		st.Services = append(st.Services[:i:i], st.Services[i+1:]...)
		clampAdjustment(st)
	})
	if doErr != nil {
		return doErr
	}
	return err
}

func (s *Session) SetCustomer(name string) error {
	return s.do(func(st *State) { st.Customer = name })
}

func (s *Session) SetTaxes(gst string, pst string) error {
	return s.do(func(st *State) {
		st.GST = gst
		st.PST = pst
		clampAdjustment(st)
	})
}

// SetAdjustment stores the entered adjustment, capped so a discount cannot
// take the grand total below zero.
func (s *Session) SetAdjustment(raw string, direction domain.AdjustmentDirection) error {
	return s.do(func(st *State) {
		st.Direction = direction
		st.Adjustment = raw
		clampAdjustment(st)
	})
}

// clampAdjustment re-applies the cap against the current cart. It runs after
// every edit that can lower the pre-adjustment total.
func clampAdjustment(st *State) {
	if st.Adjustment == "" {
		return
	}
	req := st.request()
	req.Adjustment = ""
	entered := pricing.ParseAmount(st.Adjustment)
	clamped := pricing.ClampAdjustment(entered, req.Totals())
	if !clamped.Equal(entered) {
		st.Adjustment = clamped.String()
	}
}

func (s *Session) SetPayment(split domain.PaymentSplit) error {
	return s.do(func(st *State) { st.Payment = split })
}

func (s *Session) SetMiddleman(input settlement.MiddlemanInput) error {
	return s.do(func(st *State) { st.Middleman = input })
}

func (s *Session) EditOrderNumber(value string) error {
	return s.do(func(st *State) { st.OrderNumber = st.OrderNumber.Edit(value) })
}

func (s *Session) ResetOrderNumber() error {
	return s.do(func(st *State) { st.OrderNumber = st.OrderNumber.ResetAuto() })
}
