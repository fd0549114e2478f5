package model

import "time"

// Role tiers carried in access tokens.  Higher values include the
// privileges of lower ones.
const (
	RoleMember uint8 = 0
	RoleAdmin  uint8 = 1
)

// User represents an account record as stored in the `users` table.
// Each field corresponds to a column in the database.  Handlers build
// their own response types so that PasswordHash never leaves the
// repository and service layers.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	AccountName  – unique login name.
//	PasswordHash – bcrypt hashed password.
//	Role         – numeric role tier (RoleMember, RoleAdmin).
//	Profile      – optional display fields supplied at registration.
//	CreatedAt    – timestamp of creation.
//	UpdatedAt    – timestamp of last update.
type User struct {
	ID           uint64 // users.id
	AccountName  string // users.account_name
	PasswordHash string // users.password_hash
	Role         uint8  // users.role
	Profile
	CreatedAt time.Time // users.created_at
	UpdatedAt time.Time // users.updated_at
}

// Profile holds the descriptive columns of a user.  All fields are
// optional and stored as empty strings when absent.
type Profile struct {
	Name        string // users.name
	Email       string // users.email
	Phone       string // users.phone
	Avatar      string // users.avatar
	DateOfBirth string // users.date_of_birth (YYYY-MM-DD)
	Address     string // users.address
	IsVerified  bool   // users.is_verified
}
