package settlement

import (
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"phonepos/backend/internal/domain"
	"phonepos/backend/internal/payment"
	"phonepos/backend/internal/pricing"
)

// Request is the confirmed form state.
type Request struct {
	Products      []domain.ProductItem
	Services      []domain.ServiceItem
	Customer      string
	CustomerRole  domain.Role
	GST           string
	PST           string
	Adjustment    string
	Direction     domain.AdjustmentDirection
	Payment       domain.PaymentSplit
	Middleman     MiddlemanInput
	OrderNumber   string
	OrderIsCustom bool
	// TransactionDate defaults to the settlement time when zero.
	TransactionDate time.Time
}

type MiddlemanInput struct {
	Enabled bool
	Name    string
	Amount  string
	Unit    domain.MiddlemanUnit
	Split   domain.PaymentSplit
}

func (r Request) role() domain.Role {
	if r.CustomerRole == "" {
		return domain.RoleCustomer
	}
	return r.CustomerRole
}

// Totals evaluates the pricing inputs with permissive parsing.
func (r Request) Totals() pricing.Totals {
	return pricing.Compute(pricing.Input{
		Products:   r.Products,
		Services:   r.Services,
		GSTPercent: pricing.ParseAmount(r.GST),
		PSTPercent: pricing.ParseAmount(r.PST),
		Adjustment: pricing.ParseAmount(r.Adjustment),
		Direction:  r.Direction,
	})
}

// MainPayment validates the main split against the grand total.
func (r Request) MainPayment() payment.Result {
	return payment.Validate(r.Totals().GrandTotal, r.Payment)
}

// MiddlemanPayment validates the side payment against the entered middleman
// amount. It is zero-valued when the middleman is disabled.
func (r Request) MiddlemanPayment() payment.Result {
	if !r.Middleman.Enabled {
		return payment.Result{}
	}
	return payment.Validate(pricing.ParseAmount(r.Middleman.Amount), r.Middleman.Split)
}

type requiredForm struct {
	Customer string `label:"customer" validate:"required"`
	GST      string `label:"GST" validate:"required"`
	PST      string `label:"PST" validate:"required"`
}

type middlemanForm struct {
	Name   string `label:"middleman" validate:"required"`
	Amount string `label:"middleman amount" validate:"required"`
	Unit   string `label:"middleman unit" validate:"required,oneof=give receive"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		if label := field.Tag.Get("label"); label != "" {
			return label
		}
		return field.Name
	})
	return v
}

// missingFields collects every failing field at once.
func missingFields(req Request) []string {
	missing := collect(requiredForm{
		Customer: strings.TrimSpace(req.Customer),
		GST:      strings.TrimSpace(req.GST),
		PST:      strings.TrimSpace(req.PST),
	})
	if req.Middleman.Enabled {
		missing = append(missing, collect(middlemanForm{
			Name:   strings.TrimSpace(req.Middleman.Name),
			Amount: strings.TrimSpace(req.Middleman.Amount),
			Unit:   string(req.Middleman.Unit),
		})...)
	}
	return missing
}

// duplicateIMEIs names every serial identifier carried by more than one
// product once multi-identifier items are expanded.
func duplicateIMEIs(products []domain.ProductItem) []string {
	seen := make(map[string]int)
	var dups []string
	for _, item := range domain.ExpandByIMEI(products) {
		if len(item.IMEIs) == 0 {
			continue
		}
		imei := item.IMEIs[0]
		seen[imei]++
		if seen[imei] == 2 {
			dups = append(dups, "imei "+imei)
		}
	}
	return dups
}

func collect(form any) []string {
	err := validate.Struct(form)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		out = append(out, fieldErr.Field())
	}
	return out
}
