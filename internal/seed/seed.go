// Package seed writes store fixtures: balance accounts, counterparties and
// phone inventory with matching IMEI index entries.
package seed

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/domain"
)

type Phone struct {
	Brand           string
	Model           string
	IMEI            string
	Price           decimal.Decimal
	Cost            decimal.NullDecimal
	Status          string
	Capacity        int64
	CapacityUnit    string
	Color           string
	Carrier         string
	StorageLocation string
}

// Placed tells where a phone and its index entry were written.
type Placed struct {
	Phone docstore.Ref
	Index docstore.Ref
}

// Balances sets the three singleton accounts.
func Balances(ctx context.Context, store docstore.Store, cash, bank, card decimal.Decimal, at time.Time) error {
	amounts := map[domain.BalanceAccount]decimal.Decimal{
		domain.AccountCash:       cash,
		domain.AccountBank:       bank,
		domain.AccountCreditCard: card,
	}
	for _, account := range domain.BalanceAccounts {
		ref := docstore.Doc("Balances", string(account))
		if err := store.Set(ctx, ref, map[string]any{"amount": amounts[account], "updatedAt": at}); err != nil {
			return fmt.Errorf("seed balance %s: %w", account, err)
		}
	}
	return nil
}

// Entity writes a counterparty under its role collection. balanceField picks
// which of the accepted balance field names to use; empty leaves the balance
// absent.
func Entity(ctx context.Context, store docstore.Store, role domain.Role, name string, balanceField string, balance decimal.Decimal) (docstore.Ref, error) {
	if !role.Valid() {
		return docstore.Ref{}, fmt.Errorf("seed entity %q: invalid role %q", name, role)
	}
	ref := store.NewRef(role.Collection())
	data := map[string]any{
		"name":               name,
		"transactionHistory": []any{},
	}
	if balanceField != "" {
		data[balanceField] = balance
	}
	if err := store.Set(ctx, ref, data); err != nil {
		return docstore.Ref{}, fmt.Errorf("seed entity %q: %w", name, err)
	}
	return ref, nil
}

// AddPhone files a phone under PhoneBrands/{brand}/Models/{model}/Phones,
// creating the brand and model documents on first use.
func AddPhone(ctx context.Context, store docstore.Store, p Phone) (Placed, error) {
	brand, err := findOrCreate(ctx, store, "PhoneBrands", "brand", p.Brand)
	if err != nil {
		return Placed{}, err
	}
	model, err := findOrCreate(ctx, store, brand.Child("Models"), "model", p.Model)
	if err != nil {
		return Placed{}, err
	}

	phoneRef := store.NewRef(model.Child("Phones"))
	data := map[string]any{
		"imei":            p.IMEI,
		"price":           p.Price,
		"status":          p.Status,
		"capacity":        p.Capacity,
		"capacityUnit":    p.CapacityUnit,
		"storageLocation": p.StorageLocation,
	}
	if p.Cost.Valid {
		data["cost"] = p.Cost.Decimal
	}
	if p.Color != "" {
		color, err := findOrCreate(ctx, store, "Colors", "color", p.Color)
		if err != nil {
			return Placed{}, err
		}
		data["color"] = color.Path()
	}
	if p.Carrier != "" {
		carrier, err := findOrCreate(ctx, store, "Carriers", "carrier", p.Carrier)
		if err != nil {
			return Placed{}, err
		}
		data["carrier"] = carrier.Path()
	}
	if err := store.Set(ctx, phoneRef, data); err != nil {
		return Placed{}, fmt.Errorf("seed phone %s: %w", p.IMEI, err)
	}

	indexRef := store.NewRef("IMEI")
	if err := store.Set(ctx, indexRef, map[string]any{"imei": p.IMEI, "phoneReference": phoneRef.Path()}); err != nil {
		return Placed{}, fmt.Errorf("seed imei %s: %w", p.IMEI, err)
	}
	return Placed{Phone: phoneRef, Index: indexRef}, nil
}

func findOrCreate(ctx context.Context, store docstore.Store, collection string, field string, value string) (docstore.Ref, error) {
	doc, err := docstore.QueryOne(ctx, store, collection, docstore.Where(field, value))
	if err == nil {
		return doc.Ref, nil
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return docstore.Ref{}, fmt.Errorf("find %s %q: %w", collection, value, err)
	}
	ref := store.NewRef(collection)
	if err := store.Set(ctx, ref, map[string]any{field: value}); err != nil {
		return docstore.Ref{}, fmt.Errorf("create %s %q: %w", collection, value, err)
	}
	return ref, nil
}

// DemoPhones is the inventory Demo writes.
var DemoPhones = []Phone{
	{
		Brand: "Apple", Model: "iPhone 12", IMEI: "356938035643809",
		Price: decimal.NewFromInt(500), Cost: decimal.NewNullDecimal(decimal.NewFromInt(400)),
		Status: "Used", Capacity: 128, CapacityUnit: "GB",
		Color: "Black", Carrier: "Unlocked", StorageLocation: "Shelf A",
	},
	{
		Brand: "Samsung", Model: "Galaxy S21", IMEI: "359881234567890",
		Price: decimal.NewFromInt(420), Cost: decimal.NewNullDecimal(decimal.NewFromInt(310)),
		Status: "Refurbished", Capacity: 256, CapacityUnit: "GB",
		Color: "Phantom Gray", Carrier: "Rogers", StorageLocation: "Shelf B",
	},
}

// ErrAlreadySeeded is returned by Demo when the balance accounts exist.
var ErrAlreadySeeded = errors.New("store already seeded")

// Demo seeds a small working shop into an empty store.
func Demo(ctx context.Context, store docstore.Store, now time.Time) error {
	_, err := store.Get(ctx, docstore.Doc("Balances", string(domain.AccountCash)))
	if err == nil {
		return ErrAlreadySeeded
	}
	if !errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("check seeded: %w", err)
	}
	if err := Balances(ctx, store, decimal.NewFromInt(1000), decimal.NewFromInt(5000), decimal.Zero, now); err != nil {
		return err
	}
	if _, err := Entity(ctx, store, domain.RoleCustomer, "Walk-in Customer", "balance", decimal.Zero); err != nil {
		return err
	}
	if _, err := Entity(ctx, store, domain.RoleMiddleman, "Max Trade", "Balance", decimal.Zero); err != nil {
		return err
	}
	if _, err := Entity(ctx, store, domain.RoleSupplier, "Northwind Wholesale", "accountBalance", decimal.Zero); err != nil {
		return err
	}
	for _, p := range DemoPhones {
		if _, err := AddPhone(ctx, store, p); err != nil {
			return err
		}
	}
	if err := store.Set(ctx, docstore.Doc("Data", "scanner"), map[string]any{"barcode": ""}); err != nil {
		return fmt.Errorf("seed scanner: %w", err)
	}
	return nil
}
