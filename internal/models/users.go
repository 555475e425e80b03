package models

import "time"

type ClientRole string

const (
	ClientRoleAdmin   ClientRole = "admin"
	ClientRoleAnalyst ClientRole = "analyst"
	ClientRoleViewer  ClientRole = "viewer"
)

func (r ClientRole) Valid() bool {
	switch r {
	case ClientRoleAdmin, ClientRoleAnalyst, ClientRoleViewer:
		return true
	}
	return false
}

// ClientUser is a dashboard account belonging to a customer organisation.
type ClientUser struct {
	ID           string     `json:"id" bson:"id"`
	Email        string     `json:"email" bson:"email"`
	PasswordHash string     `json:"-" bson:"passwordHash"`
	FirstName    string     `json:"firstName" bson:"firstName"`
	LastName     string     `json:"lastName" bson:"lastName"`
	Company      string     `json:"company" bson:"company"`
	Role         ClientRole `json:"role" bson:"role"`
	IsActive     bool       `json:"isActive" bson:"isActive"`
	LastLogin    *time.Time `json:"lastLogin,omitempty" bson:"lastLogin,omitempty"`
	CreatedAt    time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt" bson:"updatedAt"`
}
