package models

import (
	"fmt"
	"math"
	"testing"

	"jewelcraft/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validItem(images int) *Item {
	imgs := make([]string, images)
	for i := range imgs {
		imgs[i] = fmt.Sprintf("https://cdn.example.com/ring-%d.jpg", i)
	}
	return ItemInput{
		ItemCode:  "JWL-001",
		Name:      "Diamond Ring",
		Category:  CategoryRing,
		Price:     250000,
		Weight:    5.5,
		MetalType: MetalGold,
		Images:    imgs,
		Quantity:  3,
	}.ToItem()
}

func TestItemValidateImages(t *testing.T) {
	assert.ErrorIs(t, validItem(0).Validate(), apperr.ErrValidation)
	assert.NoError(t, validItem(1).Validate())
	assert.NoError(t, validItem(10).Validate())
	assert.ErrorIs(t, validItem(11).Validate(), apperr.ErrValidation)
}

func TestItemValidateFields(t *testing.T) {
	cases := map[string]func(*Item){
		"negative price": func(i *Item) { i.Price = -1 },
		"zero weight":    func(i *Item) { i.Weight = 0 },
		"short code":     func(i *Item) { i.ItemCode = "AB" },
		"bad category":   func(i *Item) { i.Category = "tiara" },
		"bad metal":      func(i *Item) { i.MetalType = "bronze" },
		"empty image":    func(i *Item) { i.Images[0] = "" },
		"negative qty":   func(i *Item) { i.Quantity = -2 },
		"price too high": func(i *Item) { i.Price = MaxItemPrice + 1 },
		"qty too high":   func(i *Item) { i.Quantity = MaxQuantity + 1 },
		"sold with qty":  func(i *Item) { i.Status = ItemStatusSold },
		"discontinued with qty": func(i *Item) {
			i.Status = ItemStatusDiscontinued
		},
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			item := validItem(1)
			mutate(item)
			err := item.Validate()
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}
}

func TestItemValidateMessageNamesField(t *testing.T) {
	item := validItem(0)
	err := item.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "images must have at least 1 entries")
}

func TestItemInputDefaultsStatus(t *testing.T) {
	assert.Equal(t, ItemStatusInStock, ItemInput{Quantity: 2}.ToItem().Status)
	assert.Equal(t, ItemStatusSold, ItemInput{Quantity: 0}.ToItem().Status)
	assert.Equal(t, ItemStatusReserved, ItemInput{Quantity: 2, Status: ItemStatusReserved}.ToItem().Status)
}

func TestItemPatchApply(t *testing.T) {
	item := *validItem(2)
	price := int64(99)
	images := []string{"https://cdn.example.com/new.jpg"}

	merged := ItemPatch{Price: &price, Images: &images}.Apply(item)

	assert.Equal(t, int64(99), merged.Price)
	assert.Equal(t, []string{"https://cdn.example.com/new.jpg"}, []string(merged.Images))
	assert.Equal(t, item.Name, merged.Name)
	assert.Equal(t, int64(250000), item.Price, "original is untouched")
}

func TestItemPatchStones(t *testing.T) {
	item := *validItem(1)
	stones := "diamond"
	item = ItemPatch{Stones: &stones}.Apply(item)
	require.NotNil(t, item.Stones)
	assert.Equal(t, "diamond", *item.Stones)

	item = ItemPatch{}.Apply(item)
	require.NotNil(t, item.Stones, "absent field leaves stones alone")

	empty := ""
	item = ItemPatch{Stones: &empty}.Apply(item)
	assert.Nil(t, item.Stones, "empty value clears stones")
}

func TestLineSubtotal(t *testing.T) {
	sub, ok := LineSubtotal(150000, 3)
	require.True(t, ok)
	assert.Equal(t, int64(450000), sub)

	sub, ok = LineSubtotal(MaxItemPrice, MaxQuantity)
	require.True(t, ok)
	assert.Equal(t, int64(MaxItemPrice)*MaxQuantity, sub)

	_, ok = LineSubtotal(4_000_000_000_000_000_000, 3)
	assert.False(t, ok)
	_, ok = LineSubtotal(-1, 1)
	assert.False(t, ok)
}

func TestOrderSumSubtotalsOverflow(t *testing.T) {
	o := &Order{Items: []LineItem{{Subtotal: 100}, {Subtotal: 250}}}
	total, ok := o.SumSubtotals()
	require.True(t, ok)
	assert.Equal(t, int64(350), total)

	o.Items = []LineItem{{Subtotal: math.MaxInt64 - 10}, {Subtotal: 11}}
	_, ok = o.SumSubtotals()
	assert.False(t, ok)
}

func TestOrderStatusTransitions(t *testing.T) {
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusPending, OrderStatusConfirmed}:    true,
		{OrderStatusConfirmed, OrderStatusProcessing}: true,
		{OrderStatusProcessing, OrderStatusShipped}:   true,
		{OrderStatusShipped, OrderStatusDelivered}:    true,
		{OrderStatusPending, OrderStatusCancelled}:    true,
		{OrderStatusConfirmed, OrderStatusCancelled}:  true,
		{OrderStatusProcessing, OrderStatusCancelled}: true,
	}

	for _, from := range OrderStatuses {
		for _, to := range OrderStatuses {
			want := allowed[[2]OrderStatus{from, to}]
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatuses(t *testing.T) {
	for _, s := range OrderStatuses {
		terminal := s == OrderStatusDelivered || s == OrderStatusCancelled
		assert.Equal(t, terminal, s.IsTerminal(), s.String())
	}
	assert.False(t, OrderStatus("lost").Valid())
}

func TestPageNormalize(t *testing.T) {
	assert.Equal(t, Page{Page: 1, Limit: DefaultPageSize}, Page{}.Normalize())
	assert.Equal(t, Page{Page: 3, Limit: MaxPageSize}, Page{Page: 3, Limit: 1000}.Normalize())

	p := Page{Page: 2, Limit: 10}
	assert.Equal(t, 10, p.Offset())

	huge := Page{Page: 100000000000000000, Limit: 100}
	assert.Greater(t, huge.Offset(), 0, "offset never wraps negative")
	assert.Equal(t, math.MaxInt32/100, huge.Normalize().Page)
	assert.Equal(t, 1, p.TotalPages(0))
	assert.Equal(t, 1, p.TotalPages(10))
	assert.Equal(t, 2, p.TotalPages(11))
}

func validOrderRequest() *CreateOrderRequest {
	return &CreateOrderRequest{
		CustomerName:  "Asha Rao",
		CustomerEmail: "asha@example.com",
		CustomerPhone: "5551234567",
		ShippingAddress: ShippingAddress{
			Line1: "12 Main St", City: "Pune", State: "MH", Zip: "411001", Country: "IN",
		},
		Items: []OrderLineRequest{{ItemID: "item-1", Quantity: 1}},
	}
}

func TestCreateOrderRequestValidate(t *testing.T) {
	assert.NoError(t, validOrderRequest().Validate())

	cases := map[string]func(*CreateOrderRequest){
		"no items":        func(r *CreateOrderRequest) { r.Items = nil },
		"zero quantity":   func(r *CreateOrderRequest) { r.Items[0].Quantity = 0 },
		"huge quantity":   func(r *CreateOrderRequest) { r.Items[0].Quantity = MaxQuantity + 1 },
		"bad email":       func(r *CreateOrderRequest) { r.CustomerEmail = "not-an-email" },
		"short phone":     func(r *CreateOrderRequest) { r.CustomerPhone = "123" },
		"missing city":    func(r *CreateOrderRequest) { r.ShippingAddress.City = "" },
		"missing item id": func(r *CreateOrderRequest) { r.Items[0].ItemID = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := validOrderRequest()
			mutate(req)
			assert.ErrorIs(t, req.Validate(), apperr.ErrValidation)
		})
	}
}

func TestRegisterUserRequestValidate(t *testing.T) {
	req := &RegisterUserRequest{Username: "staffer", Email: "s@example.com", Password: "StaffPass123", Role: "staff"}
	assert.NoError(t, req.Validate())

	req.Role = "admin"
	assert.ErrorIs(t, req.Validate(), apperr.ErrValidation)

	req.Role = "manager"
	req.Password = "short"
	assert.ErrorIs(t, req.Validate(), apperr.ErrValidation)
}
