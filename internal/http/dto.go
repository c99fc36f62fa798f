package http

import (
	"time"

	"github.com/fjod/farm-checkout/internal/domain"
)

type AddressDTO struct {
	ID         string `json:"id,omitempty"`
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
	IsDefault  bool   `json:"is_default,omitempty"`
}

func (a AddressDTO) toDomain() domain.ShippingAddress {
	return domain.ShippingAddress{
		ID:         a.ID,
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		IsDefault:  a.IsDefault,
	}
}

func toAddressDTO(a domain.ShippingAddress) AddressDTO {
	return AddressDTO{
		ID:         a.ID,
		Street:     a.Street,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		IsDefault:  a.IsDefault,
	}
}

type CheckoutRequestDTO struct {
	AddressID       string      `json:"address_id,omitempty"`
	ShippingAddress *AddressDTO `json:"shipping_address,omitempty"`
}

type FailedGroupDTO struct {
	SellerID string `json:"seller_id"`
	Reason   string `json:"reason"`
	Detail   string `json:"detail,omitempty"`
}

type CheckoutResponseDTO struct {
	CheckoutID      string           `json:"checkout_id"`
	Status          string           `json:"status"`
	CreatedOrderIDs []string         `json:"created_order_ids"`
	FailedGroups    []FailedGroupDTO `json:"failed_groups"`
	DroppedProducts []string         `json:"dropped_products,omitempty"`
	PendingFollowUp []string         `json:"pending_follow_up,omitempty"`
}

func toCheckoutResponse(res *domain.CheckoutResult) CheckoutResponseDTO {
	dto := CheckoutResponseDTO{
		CheckoutID:      res.CheckoutID,
		Status:          checkoutStatus(res),
		CreatedOrderIDs: append([]string{}, res.CreatedOrderIDs...),
		FailedGroups:    make([]FailedGroupDTO, 0, len(res.FailedGroups)),
		DroppedProducts: res.DroppedProducts,
	}
	for _, g := range res.FailedGroups {
		dto.FailedGroups = append(dto.FailedGroups, FailedGroupDTO{
			SellerID: g.SellerID,
			Reason:   string(g.Reason),
			Detail:   g.Detail,
		})
	}
	for _, f := range res.PendingFollowUp {
		dto.PendingFollowUp = append(dto.PendingFollowUp, string(f))
	}
	return dto
}

func checkoutStatus(res *domain.CheckoutResult) string {
	switch {
	case res.Succeeded():
		return "COMPLETED"
	case res.IsPartial():
		return "PARTIAL"
	default:
		return "FAILED"
	}
}

type OrderItemDTO struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	TotalPrice  string `json:"total_price"`
}

type OrderResponseDTO struct {
	ID              string         `json:"id"`
	CheckoutID      string         `json:"checkout_id"`
	BuyerID         string         `json:"buyer_id"`
	SellerID        string         `json:"seller_id"`
	Status          string         `json:"status"`
	TotalAmount     string         `json:"total_amount"`
	Currency        string         `json:"currency"`
	ShippingAddress AddressDTO     `json:"shipping_address"`
	Items           []OrderItemDTO `json:"items"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
	Warnings        []string       `json:"warnings,omitempty"`
}

func toOrderDTO(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, OrderItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice.StringFixed(2),
			TotalPrice:  item.TotalPrice.StringFixed(2),
		})
	}
	return OrderResponseDTO{
		ID:              o.ID,
		CheckoutID:      o.CheckoutID,
		BuyerID:         o.BuyerID,
		SellerID:        o.SellerID,
		Status:          o.Status.String(),
		TotalAmount:     o.TotalAmount.StringFixed(2),
		Currency:        o.Currency,
		ShippingAddress: toAddressDTO(o.ShippingAddress),
		Items:           items,
		CreatedAt:       o.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func toOrderDTOs(orders []*domain.Order) []OrderResponseDTO {
	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, toOrderDTO(o))
	}
	return dtos
}

type UpdateStatusRequestDTO struct {
	Status string `json:"status"`
}

type CartItemDTO struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
	AddedAt   string `json:"added_at,omitempty"`
}

type CartResponseDTO struct {
	BuyerID string        `json:"buyer_id"`
	Items   []CartItemDTO `json:"items"`
}

func toCartDTO(c *domain.Cart) CartResponseDTO {
	items := make([]CartItemDTO, 0, len(c.Items))
	for _, e := range c.Items {
		dto := CartItemDTO{ProductID: e.ProductID, Quantity: e.Quantity}
		if !e.AddedAt.IsZero() {
			dto.AddedAt = e.AddedAt.UTC().Format(time.RFC3339)
		}
		items = append(items, dto)
	}
	return CartResponseDTO{BuyerID: c.BuyerID, Items: items}
}

type SetQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}
