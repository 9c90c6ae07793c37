package models

import "time"

// Tenant is an owning account. Its Subscription row is created in the same
// transaction.
type Tenant struct {
	ID        string    `gorm:"column:id;type:uuid;primary_key" json:"id"`
	Email     string    `gorm:"column:email;type:varchar(255);not null;uniqueIndex" json:"email"`
	Name      string    `gorm:"column:name;type:varchar(255);not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Tenant) TableName() string { return "tenant" }
