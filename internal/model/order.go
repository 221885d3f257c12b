package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderConfirmed  OrderStatus = "confirmed"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
	OrderRefunded   OrderStatus = "refunded"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled, OrderRefunded:
		return true
	}
	return false
}

// DispatchedStatuses are the statuses of orders that have left the store
var DispatchedStatuses = []OrderStatus{OrderShipped, OrderDelivered}

// Dispatched reports shipped or delivered
func (s OrderStatus) Dispatched() bool {
	return s == OrderShipped || s == OrderDelivered
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentPartiallyPaid     PaymentStatus = "partially_paid"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
	PaymentFailed            PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPaid, PaymentPartiallyPaid, PaymentRefunded, PaymentPartiallyRefunded, PaymentFailed:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCreditCard     PaymentMethod = "credit_card"
	PaymentDebitCard      PaymentMethod = "debit_card"
	PaymentPaypal         PaymentMethod = "paypal"
	PaymentStripe         PaymentMethod = "stripe"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCreditCard, PaymentDebitCard, PaymentPaypal, PaymentStripe, PaymentBankTransfer, PaymentCashOnDelivery:
		return true
	}
	return false
}

type FulfillmentStatus string

const (
	Unfulfilled        FulfillmentStatus = "unfulfilled"
	PartiallyFulfilled FulfillmentStatus = "partially_fulfilled"
	Fulfilled          FulfillmentStatus = "fulfilled"
)

type OrderSource string

const (
	SourceWeb    OrderSource = "web"
	SourceMobile OrderSource = "mobile"
	SourceAdmin  OrderSource = "admin"
	SourceAPI    OrderSource = "api"
)

func (s OrderSource) Valid() bool {
	return s == SourceWeb || s == SourceMobile || s == SourceAdmin || s == SourceAPI
}

// OrderItem snapshots the product at purchase time
type OrderItem struct {
	ProductID uint                   `json:"product_id"`
	VariantID string                 `json:"variant_id,omitempty"`
	Name      string                 `json:"name"`
	SKU       string                 `json:"sku,omitempty"`
	Quantity  int                    `json:"quantity"`
	Price     float64                `json:"price"`
	Total     float64                `json:"total"`
	Product   map[string]interface{} `json:"product_data,omitempty"`
}

type ShippingMethod struct {
	ID                    string  `json:"id,omitempty"`
	Name                  string  `json:"name"`
	Description           string  `json:"description,omitempty"`
	Price                 float64 `json:"price"`
	EstimatedDeliveryDays int     `json:"estimated_delivery_days,omitempty"`
	Carrier               string  `json:"carrier,omitempty"`
	TrackingURLTemplate   string  `json:"tracking_url_template,omitempty"`
}

// StatusChange is one entry of the append-only status log
type StatusChange struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
	Note      string      `json:"note,omitempty"`
	UpdatedBy *uint       `json:"updated_by,omitempty"`
}

type Refund struct {
	Amount       float64   `json:"amount"`
	Reason       string    `json:"reason,omitempty"`
	RefundMethod string    `json:"refund_method,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
	ProcessedBy  *uint     `json:"processed_by,omitempty"`
}

// Order is a tenant-scoped purchase
type Order struct {
	ID                          uint                               `json:"id" gorm:"primaryKey"`
	TenantID                    uint                               `json:"tenant_id" gorm:"index;not null;uniqueIndex:idx_orders_tenant_number,priority:1"`
	OrderNumber                 string                             `json:"order_number" gorm:"type:varchar(32);not null;uniqueIndex:idx_orders_tenant_number,priority:2"`
	CustomerID                  *uint                              `json:"customer_id,omitempty" gorm:"index"`
	CustomerEmail               string                             `json:"customer_email" gorm:"type:varchar(255);not null;index"`
	IsGuest                     bool                               `json:"is_guest" gorm:"default:false"`
	Items                       datatypes.JSONSlice[OrderItem]     `json:"items" gorm:"type:jsonb"`
	Subtotal                    float64                            `json:"subtotal"`
	TaxAmount                   float64                            `json:"tax_amount"`
	ShippingAmount              float64                            `json:"shipping_amount"`
	DiscountAmount              float64                            `json:"discount_amount"`
	Total                       float64                            `json:"total"`
	Currency                    string                             `json:"currency" gorm:"type:varchar(3);default:'USD'"`
	BillingAddress              datatypes.JSONType[Address]        `json:"billing_address" gorm:"type:jsonb"`
	ShippingAddress             datatypes.JSONType[Address]        `json:"shipping_address" gorm:"type:jsonb"`
	DifferentShippingAddress    bool                               `json:"different_shipping_address"`
	ShippingMethod              datatypes.JSONType[ShippingMethod] `json:"shipping_method" gorm:"type:jsonb"`
	TrackingNumber              string                             `json:"tracking_number,omitempty" gorm:"type:varchar(100)"`
	TrackingURL                 string                             `json:"tracking_url,omitempty" gorm:"type:varchar(500)"`
	EstimatedDeliveryDate       *time.Time                         `json:"estimated_delivery_date,omitempty"`
	ActualDeliveryDate          *time.Time                         `json:"actual_delivery_date,omitempty"`
	PaymentStatus               PaymentStatus                      `json:"payment_status" gorm:"type:varchar(20);default:'pending';index"`
	PaymentMethod               PaymentMethod                      `json:"payment_method" gorm:"type:varchar(20)"`
	PaymentGateway              string                             `json:"payment_gateway,omitempty" gorm:"type:varchar(50)"`
	PaymentGatewayTransactionID string                             `json:"payment_gateway_transaction_id,omitempty" gorm:"type:varchar(255)"`
	Status                      OrderStatus                        `json:"status" gorm:"type:varchar(20);default:'pending';index"`
	FulfillmentStatus           FulfillmentStatus                  `json:"fulfillment_status" gorm:"type:varchar(20);default:'unfulfilled'"`
	CouponCode                  string                             `json:"coupon_code,omitempty" gorm:"type:varchar(50)"`
	Notes                       string                             `json:"notes,omitempty" gorm:"type:text"`
	InternalNotes               string                             `json:"-" gorm:"type:text"`
	Source                      OrderSource                        `json:"source" gorm:"type:varchar(10);default:'web'"`
	StatusHistory               datatypes.JSONSlice[StatusChange]  `json:"status_history" gorm:"type:jsonb"`
	Refunds                     datatypes.JSONSlice[Refund]        `json:"refunds" gorm:"type:jsonb"`
	UpdatedBy                   *uint                              `json:"updated_by,omitempty"`
	CreatedAt                   time.Time                          `json:"created_at" gorm:"index"`
	UpdatedAt                   time.Time                          `json:"updated_at"`
	DeletedAt                   gorm.DeletedAt                     `json:"-" gorm:"index"`
}

// RefundError reports a refund larger than what is left to refund
type RefundError struct {
	Requested float64
	Remaining float64
}

func (e *RefundError) Error() string {
	return fmt.Sprintf("refund amount exceeds remaining refundable amount of $%.2f", e.Remaining)
}

// ErrNotRefundable is returned when the order state does not allow refunds
var ErrNotRefundable = errors.New("order cannot be refunded")

func money(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(2)
}

// Recalculate derives item totals, subtotal, total and the shipping address.
// total = subtotal + tax + shipping - discount.
func (o *Order) Recalculate() {
	subtotal := decimal.Zero
	for i := range o.Items {
		line := money(o.Items[i].Price).Mul(decimal.NewFromInt(int64(o.Items[i].Quantity)))
		o.Items[i].Total = line.InexactFloat64()
		subtotal = subtotal.Add(line)
	}
	o.Subtotal = subtotal.InexactFloat64()
	o.Total = subtotal.
		Add(money(o.TaxAmount)).
		Add(money(o.ShippingAmount)).
		Sub(money(o.DiscountAmount)).
		InexactFloat64()
	if !o.DifferentShippingAddress {
		o.ShippingAddress = datatypes.NewJSONType(o.BillingAddress.Data())
	}
}

// Validate checks an order before it is first written
func (o *Order) Validate() error {
	if len(o.Items) == 0 {
		return errors.New("order must contain at least one item")
	}
	for i, item := range o.Items {
		if item.Quantity < 1 {
			return fmt.Errorf("item %d: quantity must be at least 1", i)
		}
		if item.Price < 0 {
			return fmt.Errorf("item %d: price cannot be negative", i)
		}
	}
	if !emailPattern.MatchString(strings.ToLower(o.CustomerEmail)) {
		return errors.New("valid customer email is required")
	}
	if err := o.BillingAddress.Data().Validate(); err != nil {
		return fmt.Errorf("billing address: %w", err)
	}
	if o.DifferentShippingAddress {
		if err := o.ShippingAddress.Data().Validate(); err != nil {
			return fmt.Errorf("shipping address: %w", err)
		}
	}
	if o.PaymentMethod != "" && !o.PaymentMethod.Valid() {
		return fmt.Errorf("invalid payment method %q", o.PaymentMethod)
	}
	if o.Source != "" && !o.Source.Valid() {
		return fmt.Errorf("invalid source %q", o.Source)
	}
	if o.Total < 0 {
		return errors.New("order total cannot be negative")
	}
	return nil
}

// Initialize prepares a new order: defaults, totals and the first history entry
func (o *Order) Initialize(by *uint, now time.Time) {
	if o.Status == "" {
		o.Status = OrderPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = PaymentPending
	}
	if o.FulfillmentStatus == "" {
		o.FulfillmentStatus = Unfulfilled
	}
	if o.Source == "" {
		o.Source = SourceWeb
	}
	if o.Currency == "" {
		o.Currency = "USD"
	}
	o.CustomerEmail = strings.ToLower(strings.TrimSpace(o.CustomerEmail))
	o.Recalculate()
	o.StatusHistory = append(o.StatusHistory, StatusChange{Status: o.Status, Timestamp: now, UpdatedBy: by})
}

// FormatOrderNumber renders ORD-<year>-<6 digit sequence>
func FormatOrderNumber(year int, seq int64) string {
	return fmt.Sprintf("ORD-%d-%06d", year, seq)
}

func (o *Order) CanBeCancelled() bool {
	return o.Status == OrderPending || o.Status == OrderConfirmed
}

// CanBeRefunded allows further refunds on a delivered order that was paid,
// including one that has already been partially refunded.
func (o *Order) CanBeRefunded() bool {
	return o.Status == OrderDelivered &&
		(o.PaymentStatus == PaymentPaid || o.PaymentStatus == PaymentPartiallyRefunded)
}

// CanBeDeleted restricts hard deletes to orders that never progressed
func (o *Order) CanBeDeleted() bool {
	return o.Status == OrderPending || o.Status == OrderCancelled
}

func (o *Order) refunded() decimal.Decimal {
	sum := decimal.Zero
	for _, r := range o.Refunds {
		sum = sum.Add(money(r.Amount))
	}
	return sum
}

// RefundedAmount sums every recorded refund
func (o *Order) RefundedAmount() float64 {
	return o.refunded().InexactFloat64()
}

// RemainingRefundable is max(0, total - refunded)
func (o *Order) RemainingRefundable() float64 {
	rest := money(o.Total).Sub(o.refunded())
	if rest.IsNegative() {
		return 0
	}
	return rest.InexactFloat64()
}

// AddRefund records a refund if it fits under the remaining refundable amount.
// A refund that brings the total refunded up to the order total marks the order refunded.
func (o *Order) AddRefund(r Refund) error {
	if !o.CanBeRefunded() {
		return ErrNotRefundable
	}
	amount := money(r.Amount)
	if !amount.IsPositive() {
		return errors.New("refund amount must be greater than zero")
	}
	remaining := o.RemainingRefundable()
	if amount.GreaterThan(money(remaining)) {
		return &RefundError{Requested: r.Amount, Remaining: remaining}
	}

	r.Amount = amount.InexactFloat64()
	o.Refunds = append(o.Refunds, r)
	if o.refunded().GreaterThanOrEqual(money(o.Total)) {
		o.PaymentStatus = PaymentRefunded
		o.changeStatus(OrderRefunded, r.Reason, r.ProcessedBy, r.ProcessedAt)
	} else {
		o.PaymentStatus = PaymentPartiallyRefunded
	}
	return nil
}

func (o *Order) changeStatus(s OrderStatus, note string, by *uint, now time.Time) {
	if o.Status == s {
		return
	}
	o.Status = s
	o.UpdatedBy = by
	o.StatusHistory = append(o.StatusHistory, StatusChange{Status: s, Timestamp: now, Note: note, UpdatedBy: by})
}

// ErrNotCancellable is returned when an order past confirmation is cancelled
var ErrNotCancellable = errors.New("order cannot be cancelled")

// UpdateStatus moves the order to s, keeping fulfillment in step.
// Only pending or confirmed orders may be cancelled.
// Re-applying the current status still records the note in the history.
func (o *Order) UpdateStatus(s OrderStatus, note string, by *uint, now time.Time) error {
	if s == OrderCancelled && o.Status != OrderCancelled && !o.CanBeCancelled() {
		return ErrNotCancellable
	}
	o.moveTo(s, note, by, now)
	return nil
}

func (o *Order) moveTo(s OrderStatus, note string, by *uint, now time.Time) {
	if o.Status == s {
		o.UpdatedBy = by
		o.StatusHistory = append(o.StatusHistory, StatusChange{Status: s, Timestamp: now, Note: note, UpdatedBy: by})
	} else {
		o.changeStatus(s, note, by, now)
	}

	switch s {
	case OrderDelivered:
		o.FulfillmentStatus = Fulfilled
		if o.ActualDeliveryDate == nil {
			o.ActualDeliveryDate = &now
		}
	case OrderShipped:
		o.FulfillmentStatus = PartiallyFulfilled
	}
}

// SetTracking stores the tracking number and URL and marks the order shipped
// unless it already is shipped or delivered.
func (o *Order) SetTracking(number, url, carrier string, by *uint, now time.Time) {
	o.TrackingNumber = number
	method := o.ShippingMethod.Data()
	if carrier != "" {
		method.Carrier = carrier
		o.ShippingMethod = datatypes.NewJSONType(method)
	}
	switch {
	case url != "":
		o.TrackingURL = url
	case method.TrackingURLTemplate != "":
		o.TrackingURL = strings.Replace(method.TrackingURLTemplate, "{tracking_number}", number, 1)
	}
	if o.Status != OrderShipped && o.Status != OrderDelivered {
		o.moveTo(OrderShipped, "Tracking number added", by, now)
	}
}

// TotalQuantity sums item quantities
func (o *Order) TotalQuantity() int {
	n := 0
	for _, item := range o.Items {
		n += item.Quantity
	}
	return n
}

// CountsAsRevenue reports whether orders in this payment state contribute to revenue statistics
func (s PaymentStatus) CountsAsRevenue() bool {
	return s == PaymentPaid || s == PaymentPartiallyRefunded
}
