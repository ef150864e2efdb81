package demo

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Address is stored inline in its owner's table under a column prefix.
type Address struct {
	StreetOrBox string `bun:"street_or_box" json:"streetOrBox"`
	PostalCode  string `bun:"postal_code" json:"postalCode"`
	PostOffice  string `bun:"post_office" json:"postOffice"`
	Country     string `bun:"country" json:"country"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s, %s %s, %s", a.StreetOrBox, a.PostalCode, a.PostOffice, a.Country)
}

type Customer struct {
	bun.BaseModel `bun:"table:customers,alias:c"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	CustNo          int        `bun:"cust_no,notnull" json:"custNo"`
	CustomerName    string     `bun:"customer_name,notnull" json:"customerName"`
	BillingAddress  Address    `bun:"embed:billing_" json:"billingAddress"`
	ShippingAddress Address    `bun:"embed:shipping_" json:"shippingAddress"`
	LastInvoiceDate *time.Time `bun:"last_invoice_date" json:"lastInvoiceDate,omitempty"`
	LastOrderDate   *time.Time `bun:"last_order_date" json:"lastOrderDate,omitempty"`
	Orders          []*Order   `bun:"rel:has-many,join:id=customer_id" json:"-"`
}

// Clone copies the customer without its loaded orders.
func (c *Customer) Clone() *Customer {
	cp := *c
	cp.Orders = nil
	if c.LastInvoiceDate != nil {
		t := *c.LastInvoiceDate
		cp.LastInvoiceDate = &t
	}
	if c.LastOrderDate != nil {
		t := *c.LastOrderDate
		cp.LastOrderDate = &t
	}
	return &cp
}

type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	OrderNo         int        `bun:"order_no,notnull" json:"orderNo"`
	OrderDate       time.Time  `bun:"order_date,notnull" json:"orderDate"`
	BilledDate      *time.Time `bun:"billed_date" json:"billedDate,omitempty"`
	CustomerID      uuid.UUID  `bun:"customer_id,type:uuid" json:"customerId"`
	Customer        *Customer  `bun:"rel:belongs-to,join:customer_id=id" json:"customer,omitempty"`
	BillingAddress  Address    `bun:"embed:billing_" json:"billingAddress"`
	ShippingAddress Address    `bun:"embed:shipping_" json:"shippingAddress"`
	Total           float64    `bun:"total" json:"total"`
	Version         int        `bun:"version" json:"version"`
}
