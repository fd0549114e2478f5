package middleware

// identity.go holds the echo context keys written by AccessAuth and
// DeviceContext, plus typed accessors for handlers.

import (
	"strconv"

	"github.com/labstack/echo/v4"
)

const (
	ctxUserID   = "user_id"
	ctxRole     = "role"
	ctxDeviceID = "device_id"
	ctxDevice   = "device"
)

// UserID returns the authenticated user id stored by AccessAuth.
func UserID(c echo.Context) (uint64, bool) {
	id, ok := c.Get(ctxUserID).(uint64)
	return id, ok && id != 0
}

// Role returns the role tier stored by AccessAuth.
func Role(c echo.Context) (uint8, bool) {
	r, ok := c.Get(ctxRole).(uint8)
	return r, ok
}

// DeviceID returns the device id carried by the access token.
func DeviceID(c echo.Context) string {
	s, _ := c.Get(ctxDeviceID).(string)
	return s
}

// rateSubject identifies the caller for rate limiting: the authenticated
// user when there is one, otherwise "anon".
func rateSubject(c echo.Context) string {
	if id, ok := UserID(c); ok {
		return strconv.FormatUint(id, 10)
	}
	return "anon"
}
