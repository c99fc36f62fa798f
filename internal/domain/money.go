package domain

import "github.com/shopspring/decimal"

const (
	DefaultCurrency = "USD"
	moneyPlaces     = 2
)

// LineTotal is unitPrice × quantity rounded to cents.
func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity))).Round(moneyPlaces)
}

func SumLines(lines []CartLine) decimal.Decimal {
	total := decimal.Zero
	for _, l := range lines {
		total = total.Add(l.Total())
	}
	return total.Round(moneyPlaces)
}

func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return total.Round(moneyPlaces)
}
