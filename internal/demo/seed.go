package demo

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

//go:embed data/customers.json
var customersJSON []byte

var namespace = uuid.MustParse("6f1c1f8e-4d1e-4b9e-9a55-3b3c8d0e2a10")

// FirstOrderDate is the date of the first seeded order. Each following order
// is three days later.
var FirstOrderDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// CustomerID returns the stable identifier of the seeded customer custNo.
func CustomerID(custNo int) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("customer/%d", custNo)))
}

// OrderID returns the stable identifier of the seeded order orderNo.
func OrderID(orderNo int) uuid.UUID {
	return uuid.NewSHA1(namespace, []byte(fmt.Sprintf("order/%d", orderNo)))
}

// Customers returns the seed customers.
func Customers() ([]*Customer, error) {
	var customers []*Customer
	if err := json.Unmarshal(customersJSON, &customers); err != nil {
		return nil, fmt.Errorf("decode seed customers: %w", err)
	}
	for _, c := range customers {
		c.ID = CustomerID(c.CustNo)
	}
	return customers, nil
}

// Orders returns the seed orders of customers: the i-th customer gets
// i%4+1 orders, numbered from 5001 in customer order.
func Orders(customers []*Customer) []*Order {
	var orders []*Order
	orderNo := 5001
	for i, c := range customers {
		for n := 0; n < i%4+1; n++ {
			date := FirstOrderDate.AddDate(0, 0, 3*(orderNo-5001))
			o := &Order{
				ID:              OrderID(orderNo),
				OrderNo:         orderNo,
				OrderDate:       date,
				CustomerID:      c.ID,
				BillingAddress:  c.BillingAddress,
				ShippingAddress: c.ShippingAddress,
				Total:           100 + float64(orderNo%7)*25.5,
			}
			if orderNo%2 == 0 {
				billed := date.AddDate(0, 0, 14)
				o.BilledDate = &billed
			}
			orders = append(orders, o)
			orderNo++
		}
	}
	return orders
}

// CreateSchema creates the customers and orders tables.
func CreateSchema(ctx context.Context, db bun.IDB) error {
	for _, model := range []any{(*Customer)(nil), (*Order)(nil)} {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}

// Seed inserts the seed customers and orders and returns how many of each
// were written.
func Seed(ctx context.Context, db bun.IDB) (int, int, error) {
	customers, err := Customers()
	if err != nil {
		return 0, 0, err
	}
	orders := Orders(customers)

	if _, err := db.NewInsert().Model(&customers).Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("insert customers: %w", err)
	}
	if _, err := db.NewInsert().Model(&orders).Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("insert orders: %w", err)
	}
	return len(customers), len(orders), nil
}
