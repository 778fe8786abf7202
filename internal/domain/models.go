package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleSupplier  Role = "supplier"
	RoleMiddleman Role = "middleman"
)

// Collection returns the entity collection backing a role.
func (r Role) Collection() string {
	switch r {
	case RoleCustomer:
		return "Customers"
	case RoleSupplier:
		return "Suppliers"
	case RoleMiddleman:
		return "Middlemen"
	default:
		return ""
	}
}

func (r Role) Valid() bool {
	return r.Collection() != ""
}

// ProductItem is a phone line item in the cart.
type ProductItem struct {
	Brand           string              `json:"brand"`
	Model           string              `json:"model"`
	Capacity        string              `json:"capacity"`
	CapacityUnit    string              `json:"capacity_unit"`
	Color           string              `json:"color"`
	Carrier         string              `json:"carrier"`
	Status          string              `json:"status"`
	StorageLocation string              `json:"storage_location"`
	IMEIs           []string            `json:"imeis"`
	Price           decimal.Decimal     `json:"price"`
	Cost            decimal.NullDecimal `json:"cost"`
}

// HasIMEI reports whether imei is one of the item's serial identifiers.
func (p ProductItem) HasIMEI(imei string) bool {
	for _, candidate := range p.IMEIs {
		if candidate == imei {
			return true
		}
	}
	return false
}

type ServiceItem struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// ExpandByIMEI returns one line item per serial identifier. Each resulting item
// keeps the source price and cost unchanged. Items without identifiers are kept as-is.
func ExpandByIMEI(items []ProductItem) []ProductItem {
	out := make([]ProductItem, 0, len(items))
	for _, item := range items {
		if len(item.IMEIs) <= 1 {
			out = append(out, cloneProduct(item))
			continue
		}
		for _, imei := range item.IMEIs {
			single := cloneProduct(item)
			single.IMEIs = []string{imei}
			out = append(out, single)
		}
	}
	return out
}

func cloneProduct(item ProductItem) ProductItem {
	item.IMEIs = append([]string(nil), item.IMEIs...)
	return item
}

// CartContainsIMEI reports whether any cart item already carries imei.
func CartContainsIMEI(cart []ProductItem, imei string) bool {
	for _, item := range cart {
		if item.HasIMEI(imei) {
			return true
		}
	}
	return false
}

// Entity is a counterparty. An invalid Balance means the balance is unknown,
// which is not the same as zero.
type Entity struct {
	ID      string              `json:"id"`
	Name    string              `json:"name"`
	Role    Role                `json:"role"`
	Balance decimal.NullDecimal `json:"balance"`
}

type AdjustmentDirection string

const (
	AdjustmentDiscount  AdjustmentDirection = "discount"
	AdjustmentSurcharge AdjustmentDirection = "surcharge"
)

type MiddlemanUnit string

const (
	MiddlemanGive    MiddlemanUnit = "give"
	MiddlemanReceive MiddlemanUnit = "receive"
)

// PaymentSplit is the three-way cash/bank/card contribution.
type PaymentSplit struct {
	Cash decimal.Decimal `json:"cash"`
	Bank decimal.Decimal `json:"bank"`
	Card decimal.Decimal `json:"card"`
}

func (p PaymentSplit) Total() decimal.Decimal {
	return p.Cash.Add(p.Bank).Add(p.Card)
}

func (p PaymentSplit) IsZero() bool {
	return p.Cash.IsZero() && p.Bank.IsZero() && p.Card.IsZero()
}

type BalanceAccount string

const (
	AccountCash       BalanceAccount = "cash"
	AccountBank       BalanceAccount = "bank"
	AccountCreditCard BalanceAccount = "creditCard"
)

// BalanceAccounts lists the three singleton accounts in write order.
var BalanceAccounts = []BalanceAccount{AccountCash, AccountBank, AccountCreditCard}

type OrderAllocation struct {
	ID              string    `json:"id"`
	OrderNumber     int64     `json:"order_number"`
	IsCustom        bool      `json:"is_custom"`
	SalesReference  string    `json:"sales_reference"`
	CreatedAt       time.Time `json:"created_at"`
	TransactionDate time.Time `json:"transaction_date"`
}

type SalePayment struct {
	Cash            decimal.Decimal `json:"cash"`
	Bank            decimal.Decimal `json:"bank"`
	Card            decimal.Decimal `json:"card"`
	TotalPaid       decimal.Decimal `json:"total_paid"`
	RemainingCredit decimal.Decimal `json:"remaining_credit"`
}

type SaleMiddleman struct {
	Reference string          `json:"reference"`
	Name      string          `json:"name"`
	Unit      MiddlemanUnit   `json:"unit"`
	Amount    decimal.Decimal `json:"amount"`
	Payment   SalePayment     `json:"payment"`
}

type SaleCustomer struct {
	Reference string `json:"reference"`
	Name      string `json:"name"`
}

// SaleRecord is written once per successful settlement and never mutated.
type SaleRecord struct {
	ID                  string              `json:"id"`
	TransactionDate     time.Time           `json:"transaction_date"`
	OrderNumber         int64               `json:"order_number"`
	ProductSubtotal     decimal.Decimal     `json:"product_subtotal"`
	ServiceSubtotal     decimal.Decimal     `json:"service_subtotal"`
	Subtotal            decimal.Decimal     `json:"subtotal"`
	GSTPercent          decimal.Decimal     `json:"gst_percent"`
	PSTPercent          decimal.Decimal     `json:"pst_percent"`
	GSTAmount           decimal.Decimal     `json:"gst_amount"`
	PSTAmount           decimal.Decimal     `json:"pst_amount"`
	Adjustment          decimal.Decimal     `json:"adjustment"`
	AdjustmentDirection AdjustmentDirection `json:"adjustment_direction"`
	GrandTotal          decimal.Decimal     `json:"grand_total"`
	Products            []ProductItem       `json:"products"`
	Services            []ServiceItem       `json:"services"`
	Payment             SalePayment         `json:"payment"`
	Middleman           *SaleMiddleman      `json:"middleman,omitempty"`
	Customer            SaleCustomer        `json:"customer"`
	CreatedAt           time.Time           `json:"created_at"`
}

// HistoryEntry is appended to an entity's transaction history on settlement.
type HistoryEntry struct {
	SaleReference string    `json:"sale_reference"`
	Timestamp     time.Time `json:"timestamp"`
	Role          Role      `json:"role"`
}
