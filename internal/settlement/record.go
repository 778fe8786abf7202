package settlement

import (
	"github.com/shopspring/decimal"

	"phonepos/backend/internal/docstore"
	"phonepos/backend/internal/domain"
)

func saleDocument(rec domain.SaleRecord) map[string]any {
	products := make([]any, 0, len(rec.Products))
	for _, p := range rec.Products {
		imeis := make([]any, 0, len(p.IMEIs))
		for _, imei := range p.IMEIs {
			imeis = append(imeis, imei)
		}
		item := map[string]any{
			"brand":           p.Brand,
			"model":           p.Model,
			"capacity":        p.Capacity,
			"capacityUnit":    p.CapacityUnit,
			"color":           p.Color,
			"carrier":         p.Carrier,
			"status":          p.Status,
			"storageLocation": p.StorageLocation,
			"imeis":           imeis,
			"price":           p.Price,
		}
		if p.Cost.Valid {
			item["cost"] = p.Cost.Decimal
		}
		products = append(products, item)
	}
	services := make([]any, 0, len(rec.Services))
	for _, s := range rec.Services {
		services = append(services, map[string]any{"name": s.Name, "price": s.Price})
	}

	doc := map[string]any{
		"transactionDate":     rec.TransactionDate,
		"orderNumber":         rec.OrderNumber,
		"productSubtotal":     rec.ProductSubtotal,
		"serviceSubtotal":     rec.ServiceSubtotal,
		"subtotal":            rec.Subtotal,
		"gstPercent":          rec.GSTPercent,
		"pstPercent":          rec.PSTPercent,
		"gstAmount":           rec.GSTAmount,
		"pstAmount":           rec.PSTAmount,
		"adjustment":          rec.Adjustment,
		"adjustmentDirection": string(rec.AdjustmentDirection),
		"grandTotal":          rec.GrandTotal,
		"products":            products,
		"services":            services,
		"payment":             paymentDocument(rec.Payment),
		"customer": map[string]any{
			"reference": rec.Customer.Reference,
			"name":      rec.Customer.Name,
		},
		"createdAt": rec.CreatedAt,
	}
	if rec.Middleman != nil {
		doc["middleman"] = map[string]any{
			"reference": rec.Middleman.Reference,
			"name":      rec.Middleman.Name,
			"unit":      string(rec.Middleman.Unit),
			"amount":    rec.Middleman.Amount,
			"payment":   paymentDocument(rec.Middleman.Payment),
		}
	}
	return doc
}

func paymentDocument(p domain.SalePayment) map[string]any {
	return map[string]any{
		"cash":            p.Cash,
		"bank":            p.Bank,
		"card":            p.Card,
		"totalPaid":       p.TotalPaid,
		"remainingCredit": p.RemainingCredit,
	}
}

func decodeSale(doc *docstore.Document) domain.SaleRecord {
	data := doc.Data
	rec := domain.SaleRecord{
		ID:                  doc.Ref.ID,
		ProductSubtotal:     dec(data["productSubtotal"]),
		ServiceSubtotal:     dec(data["serviceSubtotal"]),
		Subtotal:            dec(data["subtotal"]),
		GSTPercent:          dec(data["gstPercent"]),
		PSTPercent:          dec(data["pstPercent"]),
		GSTAmount:           dec(data["gstAmount"]),
		PSTAmount:           dec(data["pstAmount"]),
		Adjustment:          dec(data["adjustment"]),
		AdjustmentDirection: domain.AdjustmentDirection(str(data["adjustmentDirection"])),
		GrandTotal:          dec(data["grandTotal"]),
		Payment:             decodePayment(data["payment"]),
	}
	rec.TransactionDate, _ = docstore.Time(data["transactionDate"])
	rec.CreatedAt, _ = docstore.Time(data["createdAt"])
	rec.OrderNumber, _ = docstore.Int(data["orderNumber"])

	for _, raw := range list(data["products"]) {
		p, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item := domain.ProductItem{
			Brand:           str(p["brand"]),
			Model:           str(p["model"]),
			Capacity:        str(p["capacity"]),
			CapacityUnit:    str(p["capacityUnit"]),
			Color:           str(p["color"]),
			Carrier:         str(p["carrier"]),
			Status:          str(p["status"]),
			StorageLocation: str(p["storageLocation"]),
			Price:           dec(p["price"]),
		}
		for _, imei := range list(p["imeis"]) {
			if s, ok := imei.(string); ok {
				item.IMEIs = append(item.IMEIs, s)
			}
		}
		if cost, ok := docstore.Decimal(p["cost"]); ok {
			item.Cost = decimal.NewNullDecimal(cost)
		}
		rec.Products = append(rec.Products, item)
	}
	for _, raw := range list(data["services"]) {
		s, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		rec.Services = append(rec.Services, domain.ServiceItem{Name: str(s["name"]), Price: dec(s["price"])})
	}
	if c, ok := data["customer"].(map[string]any); ok {
		rec.Customer = domain.SaleCustomer{Reference: str(c["reference"]), Name: str(c["name"])}
	}
	if m, ok := data["middleman"].(map[string]any); ok {
		rec.Middleman = &domain.SaleMiddleman{
			Reference: str(m["reference"]),
			Name:      str(m["name"]),
			Unit:      domain.MiddlemanUnit(str(m["unit"])),
			Amount:    dec(m["amount"]),
			Payment:   decodePayment(m["payment"]),
		}
	}
	return rec
}

func decodePayment(v any) domain.SalePayment {
	p, _ := v.(map[string]any)
	return domain.SalePayment{
		Cash:            dec(p["cash"]),
		Bank:            dec(p["bank"]),
		Card:            dec(p["card"]),
		TotalPaid:       dec(p["totalPaid"]),
		RemainingCredit: dec(p["remainingCredit"]),
	}
}

func dec(v any) decimal.Decimal {
	d, ok := docstore.Decimal(v)
	if !ok {
		return decimal.Zero
	}
	return d
}

func str(v any) string {
	s, _ := docstore.String(v)
	return s
}

func list(v any) []any {
	l, _ := v.([]any)
	return l
}
