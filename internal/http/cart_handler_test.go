package http

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	buyersvc "github.com/fjod/farm-checkout/internal/buyer/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCart_RequiresBuyer(t *testing.T) {
	ts := newTestServer(t)
	for _, tc := range []struct{ method, target string }{
		{http.MethodGet, "/api/v1/cart"},
		{http.MethodDelete, "/api/v1/cart"},
		{http.MethodPut, "/api/v1/cart/items/eggs"},
		{http.MethodDelete, "/api/v1/cart/items/eggs"},
		{http.MethodGet, "/api/v1/buyers/me/addresses"},
	} {
		rec := ts.do(tc.method, tc.target, "")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.target)
	}
}

func TestCart_SetRemoveClear(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/cart", "", asBuyer("buyer-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[CartResponseDTO](t, rec.Body.Bytes()).Items)

	rec = ts.do(http.MethodPut, "/api/v1/cart/items/eggs", `{"quantity":6}`, asBuyer("buyer-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(http.MethodPut, "/api/v1/cart/items/honey", `{"quantity":1}`, asBuyer("buyer-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	cart := decode[CartResponseDTO](t, rec.Body.Bytes())
	assert.Equal(t, "buyer-1", cart.BuyerID)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, CartItemDTO{ProductID: "eggs", Quantity: 6}, cart.Items[0])

	rec = ts.do(http.MethodDelete, "/api/v1/cart/items/eggs", "", asBuyer("buyer-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	cart = decode[CartResponseDTO](t, rec.Body.Bytes())
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "honey", cart.Items[0].ProductID)

	rec = ts.do(http.MethodDelete, "/api/v1/cart", "", asBuyer("buyer-1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.NotContains(t, ts.carts.carts, "buyer-1")
}

func TestCart_SetQuantityErrors(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodPut, "/api/v1/cart/items/eggs", `not json`, asBuyer("buyer-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	ts.carts.err = fmt.Errorf("set eggs: %w", buyersvc.ErrInvalidQuantity)
	rec = ts.do(http.MethodPut, "/api/v1/cart/items/eggs", `{"quantity":0}`, asBuyer("buyer-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_quantity", decode[ErrorResponse](t, rec.Body.Bytes()).Code)

	ts.carts.err = errors.New("mongo down")
	rec = ts.do(http.MethodPut, "/api/v1/cart/items/eggs", `{"quantity":2}`, asBuyer("buyer-1"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAddresses(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(http.MethodGet, "/api/v1/buyers/me/addresses", "", asBuyer("buyer-1"))
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "buyer_not_found", decode[ErrorResponse](t, rec.Body.Bytes()).Code)

	body := `{"id":"spoofed","street":"1 Farm Rd","city":"Ames","postal_code":"50010","country":"US","is_default":true}`
	rec = ts.do(http.MethodPost, "/api/v1/buyers/me/addresses", body, asBuyer("buyer-1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	saved := decode[AddressDTO](t, rec.Body.Bytes())
	assert.Equal(t, "addr-1", saved.ID)
	assert.True(t, saved.IsDefault)

	rec = ts.do(http.MethodGet, "/api/v1/buyers/me/addresses", "", asBuyer("buyer-1"))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[[]AddressDTO](t, rec.Body.Bytes())
	require.Len(t, list, 1)
	assert.Equal(t, "Ames", list[0].City)
}

func TestAddAddress_Invalid(t *testing.T) {
	ts := newTestServer(t)
	ts.carts.err = buyersvc.ErrInvalidAddress

	rec := ts.do(http.MethodPost, "/api/v1/buyers/me/addresses", `{"street":"x"}`, asBuyer("buyer-1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_address", decode[ErrorResponse](t, rec.Body.Bytes()).Code)
	assert.Empty(t, ts.carts.addresses["buyer-1"])
}
