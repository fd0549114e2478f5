// Package repository defines the MySQL data access layer and the error
// values it shares with higher layers.  Callers use errors.Is against
// these sentinels instead of inspecting driver errors.
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrAccountExists is returned when an account name is already taken.
// Handlers should translate this into an HTTP 409 response.
var ErrAccountExists = errors.New("account name already exists")

// ErrStaleSession is returned when a conditional session update finds
// that the stored refresh token no longer matches the presented one,
// i.e. a concurrent request rotated it first.
var ErrStaleSession = errors.New("session was rotated concurrently")

// mysqlDuplicateEntry is ER_DUP_ENTRY.
const mysqlDuplicateEntry = 1062

func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlDuplicateEntry
}
