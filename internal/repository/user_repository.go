package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/model"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/utils"
)

const (
	userColumns = "id,account_name,password_hash,role,name,email,phone,avatar,date_of_birth,address,is_verified,created_at,updated_at"

	insertUserSQL = "INSERT INTO users (account_name,password_hash,role,name,email,phone,avatar,date_of_birth,address,is_verified) VALUES (?,?,?,?,?,?,?,?,?,?)"
	// A registered user starts with one empty device session.
	insertPlaceholderSQL = "INSERT INTO device_sessions (id,user_id) VALUES (?,?)"
	selectUserByNameSQL  = "SELECT " + userColumns + " FROM users WHERE account_name=? LIMIT 1"
	selectUserByIDSQL    = "SELECT " + userColumns + " FROM users WHERE id=? LIMIT 1"
)

// UserRepo is the credential store backed by the `users` table.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// NormalizeAccountName trims an account name.  The spelling is stored as
// given; the column collation makes lookups and the unique index
// case-insensitive.
func NormalizeAccountName(name string) string {
	return strings.TrimSpace(name)
}

// SameAccountName reports whether two account names collide under the
// case-insensitive collation of users.account_name.
func SameAccountName(a, b string) bool {
	return strings.EqualFold(NormalizeAccountName(a), NormalizeAccountName(b))
}

// Create hashes password, inserts the user and provisions its placeholder
// device session in one transaction.  It returns the new user ID.
func (r *UserRepo) Create(ctx context.Context, u model.User, password string, cost int) (uint64, error) {
	name := NormalizeAccountName(u.AccountName)
	hash, err := utils.HashPasswordContext(ctx, password, cost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	p := u.Profile
	res, err := tx.ExecContext(ctx, insertUserSQL,
		name, hash, u.Role, p.Name, p.Email, p.Phone, p.Avatar, p.DateOfBirth, p.Address, p.IsVerified)
	if err != nil {
		if isDuplicate(err) {
			return 0, ErrAccountExists
		}
		return 0, fmt.Errorf("insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, insertPlaceholderSQL, uuid.NewString(), id); err != nil {
		return 0, fmt.Errorf("insert placeholder session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByAccountName fetches a user by account name, ignoring case.
func (r *UserRepo) GetByAccountName(ctx context.Context, name string) (model.User, error) {
	return r.getOne(ctx, selectUserByNameSQL, NormalizeAccountName(name))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (model.User, error) {
	return r.getOne(ctx, selectUserByIDSQL, id)
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg any) (model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.AccountName, &u.PasswordHash, &u.Role,
		&u.Name, &u.Email, &u.Phone, &u.Avatar, &u.DateOfBirth, &u.Address, &u.IsVerified,
		&u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.User{}, ErrNotFound
	}
	return u, err
}
