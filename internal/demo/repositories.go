package demo

import (
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

func NewCustomerRepository(db *bun.DB) repository.Repository[*Customer] {
	return repository.NewRepository[*Customer](db, CustomerHandlers())
}

// CustomerHandlers tells go-repository-bun how to create and identify customers.
func CustomerHandlers() repository.ModelHandlers[*Customer] {
	return repository.ModelHandlers[*Customer]{
		NewRecord: func() *Customer { return &Customer{} },
		GetID: func(c *Customer) uuid.UUID {
			if c == nil {
				return uuid.Nil
			}
			return c.ID
		},
		SetID:         func(c *Customer, id uuid.UUID) { c.ID = id },
		GetIdentifier: func() string { return "cust_no" },
	}
}

func NewOrderRepository(db *bun.DB) repository.Repository[*Order] {
	return repository.NewRepository[*Order](db, OrderHandlers())
}

// OrderHandlers tells go-repository-bun how to create and identify orders.
func OrderHandlers() repository.ModelHandlers[*Order] {
	return repository.ModelHandlers[*Order]{
		NewRecord: func() *Order { return &Order{} },
		GetID: func(o *Order) uuid.UUID {
			if o == nil {
				return uuid.Nil
			}
			return o.ID
		},
		SetID:         func(o *Order, id uuid.UUID) { o.ID = id },
		GetIdentifier: func() string { return "order_no" },
	}
}
