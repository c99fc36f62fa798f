package domain

import "strings"

// ShippingAddress is copied by value into each order so later edits to the
// address book never touch placed orders.
type ShippingAddress struct {
	ID         string `bson:"id,omitempty" json:"id,omitempty"`
	Street     string `bson:"street" json:"street"`
	City       string `bson:"city" json:"city"`
	State      string `bson:"state" json:"state"`
	PostalCode string `bson:"postal_code" json:"postal_code"`
	Country    string `bson:"country" json:"country"`
	IsDefault  bool   `bson:"is_default" json:"is_default,omitempty"`
}

func (a ShippingAddress) IsComplete() bool {
	for _, field := range []string{a.Street, a.City, a.PostalCode, a.Country} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return true
}

// Snapshot strips address-book bookkeeping before the address is stored on an order.
func (a ShippingAddress) Snapshot() ShippingAddress {
	a.ID = ""
	a.IsDefault = false
	return a
}
