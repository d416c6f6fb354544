package models

import "time"

type Product struct {
	ID              int       `json:"id"`
	StripeProductID string    `json:"stripe_product_id"`
	Name            string    `json:"name"`
	Price           int64     `json:"price"` // minor units
	Stock           int       `json:"stock"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
