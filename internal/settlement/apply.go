package settlement

import (
	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/domain"
)

// Apply issues the plan's writes in a fixed order: inventory deletes, sale,
// order allocation, counterparties, balance accounts. It only writes, so the
// store may run it again on a retried attempt.
func Apply(plan *Plan, tx docstore.Tx) {
	for _, phone := range plan.Phones {
		tx.Delete(phone.Ref, docstore.MatchVersion(phone.Version))
	}
	for _, entry := range plan.IMEIEntries {
		tx.Delete(entry.Ref, docstore.MatchVersion(entry.Version))
	}

	tx.Create(plan.Sale, saleDocument(plan.Record))
	tx.Create(plan.Order, map[string]any{
		"orderNumber":     plan.OrderNumber,
		"isCustom":        plan.IsCustom,
		"salesReference":  plan.Sale.Path(),
		"createdAt":       plan.Timestamp,
		"transactionDate": plan.Record.TransactionDate,
	})

	updateEntity(tx, plan, plan.Customer)
	if plan.Middleman != nil && plan.Middleman.Ref != plan.Customer.Ref {
		updateEntity(tx, plan, *plan.Middleman)
	}

	for _, balance := range plan.Balances {
		tx.Update(balance.Ref, map[string]any{
			"amount":    balance.NewAmount,
			"updatedAt": plan.Timestamp,
		}, docstore.MatchVersion(balance.Version))
	}
}

func updateEntity(tx docstore.Tx, plan *Plan, entity EntityTarget) {
	roles := append([]domain.Role{entity.Role}, entity.AlsoAs...)
	history := make([]any, 0, len(roles))
	for _, role := range roles {
		history = append(history, map[string]any{
			"saleReference": plan.Sale.Path(),
			"timestamp":     plan.Timestamp,
			"role":          string(role),
		})
	}
	tx.Update(entity.Ref, map[string]any{
		"transactionHistory": docstore.ArrayAppend(history...),
		entity.BalanceField:  entity.NewBalance,
	}, docstore.MatchVersion(entity.Version))
}
