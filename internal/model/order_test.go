package model

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func testAddress() Address {
	return Address{Name: "Jane", AddressLine1: "1 Main St", City: "Springfield", PostalCode: "12345", Country: "US"}
}

func deliveredOrder(total float64) *Order {
	o := &Order{
		CustomerEmail:  "Jane@Example.com",
		Items:          datatypes.JSONSlice[OrderItem]{{ProductID: 1, Name: "Mug", Quantity: 1, Price: total}},
		BillingAddress: datatypes.NewJSONType(testAddress()),
	}
	o.Initialize(nil, testNow)
	o.Status = OrderDelivered
	o.PaymentStatus = PaymentPaid
	return o
}

func TestRecalculate(t *testing.T) {
	o := &Order{
		Items: datatypes.JSONSlice[OrderItem]{
			{Name: "A", Quantity: 2, Price: 10.25},
			{Name: "B", Quantity: 3, Price: 0.1},
		},
		TaxAmount:      2,
		ShippingAmount: 5,
		DiscountAmount: 1.5,
		BillingAddress: datatypes.NewJSONType(testAddress()),
	}
	o.Recalculate()

	assert.InDelta(t, 20.5, o.Items[0].Total, 1e-9)
	assert.InDelta(t, 0.3, o.Items[1].Total, 1e-9)
	assert.InDelta(t, 20.8, o.Subtotal, 1e-9)
	assert.InDelta(t, 26.3, o.Total, 1e-9)
	assert.Equal(t, "Springfield", o.ShippingAddress.Data().City)
	assert.Equal(t, 5, o.TotalQuantity())
}

func TestInitializeRecordsHistory(t *testing.T) {
	o := deliveredOrder(10)
	require.Len(t, o.StatusHistory, 1)
	assert.Equal(t, OrderPending, o.StatusHistory[0].Status)
	assert.Equal(t, "jane@example.com", o.CustomerEmail)
	assert.NoError(t, o.Validate())
}

func TestValidateRejectsEmptyOrder(t *testing.T) {
	o := &Order{CustomerEmail: "a@b.com", BillingAddress: datatypes.NewJSONType(testAddress())}
	assert.Error(t, o.Validate())
}

func TestFormatOrderNumber(t *testing.T) {
	assert.Equal(t, "ORD-2026-000042", FormatOrderNumber(2026, 42))
}

func TestSequentialPartialRefunds(t *testing.T) {
	o := deliveredOrder(100)
	require.NoError(t, o.AddRefund(Refund{Amount: 60, ProcessedAt: testNow}))
	assert.Equal(t, PaymentPartiallyRefunded, o.PaymentStatus)
	assert.Equal(t, OrderDelivered, o.Status)

	err := o.AddRefund(Refund{Amount: 50, ProcessedAt: testNow})
	var refundErr *RefundError
	require.True(t, errors.As(err, &refundErr))
	assert.InDelta(t, 40, refundErr.Remaining, 1e-9)
	assert.Contains(t, err.Error(), "$40.00")
	assert.Len(t, o.Refunds, 1)

	require.NoError(t, o.AddRefund(Refund{Amount: 40, Reason: "damaged", ProcessedAt: testNow}))
	assert.Equal(t, PaymentRefunded, o.PaymentStatus)
	assert.Equal(t, OrderRefunded, o.Status)
	assert.Equal(t, float64(0), o.RemainingRefundable())

	last := o.StatusHistory[len(o.StatusHistory)-1]
	assert.Equal(t, OrderRefunded, last.Status)
}

func TestRefundCeilingHolds(t *testing.T) {
	o := deliveredOrder(19.99)
	amounts := []float64{5.01, 10, 7, 4.98, 0.01}
	for _, a := range amounts {
		_ = o.AddRefund(Refund{Amount: a, ProcessedAt: testNow})
		assert.LessOrEqual(t, o.RefundedAmount(), o.Total+1e-9)
	}
	assert.InDelta(t, 19.99, o.RefundedAmount(), 1e-9)
}

func TestRefundRequiresDeliveredAndPaid(t *testing.T) {
	o := deliveredOrder(10)
	o.Status = OrderShipped
	assert.ErrorIs(t, o.AddRefund(Refund{Amount: 1}), ErrNotRefundable)

	o.Status = OrderDelivered
	o.PaymentStatus = PaymentPending
	assert.ErrorIs(t, o.AddRefund(Refund{Amount: 1}), ErrNotRefundable)

	o.PaymentStatus = PaymentPaid
	assert.Error(t, o.AddRefund(Refund{Amount: 0}))
}

func TestUpdateStatus(t *testing.T) {
	o := deliveredOrder(10)
	o.Status = OrderConfirmed
	by := uint(3)

	require.NoError(t, o.UpdateStatus(OrderShipped, "", &by, testNow))
	assert.Equal(t, PartiallyFulfilled, o.FulfillmentStatus)

	require.NoError(t, o.UpdateStatus(OrderDelivered, "left at door", &by, testNow))
	assert.Equal(t, Fulfilled, o.FulfillmentStatus)
	require.NotNil(t, o.ActualDeliveryDate)

	last := o.StatusHistory[len(o.StatusHistory)-1]
	assert.Equal(t, "left at door", last.Note)
	assert.Equal(t, &by, last.UpdatedBy)
}

func TestSetTracking(t *testing.T) {
	o := deliveredOrder(10)
	o.Status = OrderProcessing
	o.ShippingMethod = datatypes.NewJSONType(ShippingMethod{Name: "Ground", TrackingURLTemplate: "https://track.example.com/{tracking_number}"})

	o.SetTracking("1Z999", "", "UPS", nil, testNow)
	assert.Equal(t, "https://track.example.com/1Z999", o.TrackingURL)
	assert.Equal(t, OrderShipped, o.Status)
	assert.Equal(t, "UPS", o.ShippingMethod.Data().Carrier)

	o.Status = OrderDelivered
	o.SetTracking("1Z000", "https://other.example.com", "", nil, testNow)
	assert.Equal(t, OrderDelivered, o.Status)
	assert.Equal(t, "https://other.example.com", o.TrackingURL)
}

func TestCanBeCancelled(t *testing.T) {
	o := &Order{Status: OrderConfirmed}
	assert.True(t, o.CanBeCancelled())
	o.Status = OrderShipped
	assert.False(t, o.CanBeCancelled())
}

func TestCancelOnlyBeforeProcessing(t *testing.T) {
	o := deliveredOrder(10)
	history := len(o.StatusHistory)
	assert.ErrorIs(t, o.UpdateStatus(OrderCancelled, "", nil, testNow), ErrNotCancellable)
	assert.Equal(t, OrderDelivered, o.Status)
	assert.Len(t, o.StatusHistory, history)

	o.Status = OrderConfirmed
	require.NoError(t, o.UpdateStatus(OrderCancelled, "customer request", nil, testNow))
	assert.Equal(t, OrderCancelled, o.Status)

	require.NoError(t, o.UpdateStatus(OrderCancelled, "note again", nil, testNow))
	assert.Equal(t, "note again", o.StatusHistory[len(o.StatusHistory)-1].Note)
}
