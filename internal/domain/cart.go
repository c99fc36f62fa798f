package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartEntry is a persisted cart line as the buyer added it. Prices are not
// stored; they are looked up live at checkout.
type CartEntry struct {
	ProductID string    `bson:"product_id" json:"product_id"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

type Cart struct {
	BuyerID   string      `bson:"buyer_id" json:"buyer_id"`
	Items     []CartEntry `bson:"items" json:"items"`
	CreatedAt time.Time   `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time   `bson:"updated_at" json:"updated_at"`
}

// CartLine is a cart entry resolved against the catalog at checkout time.
type CartLine struct {
	ProductID   string
	ProductName string
	SellerID    string
	Quantity    int
	UnitPrice   decimal.Decimal
	Available   int
}

func (l CartLine) Total() decimal.Decimal {
	return LineTotal(l.UnitPrice, l.Quantity)
}

// SellerGroup is the unit of order creation: every line belongs to SellerID.
type SellerGroup struct {
	SellerID string
	Lines    []CartLine
	Subtotal decimal.Decimal
}

func (g SellerGroup) ProductIDs() []string {
	ids := make([]string, 0, len(g.Lines))
	for _, l := range g.Lines {
		ids = append(ids, l.ProductID)
	}
	return ids
}

type Product struct {
	ID       string
	SellerID string
	Name     string
	Price    decimal.Decimal
	Stock    int
}

type StockLine struct {
	ProductID string
	Quantity  int
}
