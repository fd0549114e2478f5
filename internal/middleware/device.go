package middleware

import (
	"strings"
	"unicode/utf8"

	"github.com/labstack/echo/v4"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/service"
)

// Request headers identifying the client device.
const (
	HeaderDeviceID = "X-Device-Id"
	HeaderMacID    = "X-Mac-Id"
)

// Column widths of the device_sessions fields filled from the request.
const (
	maxHeaderLen = 255
	maxIPLen     = 64
)

// IPExtractor returns the echo client IP strategy for source: "xff" trusts
// X-Forwarded-For, "real_ip" trusts X-Real-IP, anything else uses the
// connection's remote address.  Only the private-range proxies echo trusts
// by default are honoured for the header variants.
func IPExtractor(source string) echo.IPExtractor {
	switch source {
	case "xff":
		return echo.ExtractIPFromXFFHeader()
	case "real_ip":
		return echo.ExtractIPFromRealIPHeader()
	default:
		return echo.ExtractIPDirect()
	}
}

// DeviceContext reads the device headers, client IP and user agent of every
// request and stores them for handlers.  It never rejects a request; the
// auth operations that need a device id enforce it themselves.
func DeviceContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			c.Set(ctxDevice, service.DeviceContext{
				DeviceID:  clip(r.Header.Get(HeaderDeviceID), maxHeaderLen),
				MacID:     clip(r.Header.Get(HeaderMacID), maxHeaderLen),
				IPAddress: clip(c.RealIP(), maxIPLen),
				UserAgent: clip(r.UserAgent(), maxHeaderLen),
			})
			return next(c)
		}
	}
}

// Device returns the device context of the request.  It falls back to
// reading the headers directly when DeviceContext is not installed.
func Device(c echo.Context) service.DeviceContext {
	if dc, ok := c.Get(ctxDevice).(service.DeviceContext); ok {
		return dc
	}
	r := c.Request()
	return service.DeviceContext{
		DeviceID:  clip(r.Header.Get(HeaderDeviceID), maxHeaderLen),
		MacID:     clip(r.Header.Get(HeaderMacID), maxHeaderLen),
		IPAddress: clip(c.RealIP(), maxIPLen),
		UserAgent: clip(r.UserAgent(), maxHeaderLen),
	}
}

// clip drops invalid UTF-8 and cuts s to at most n bytes on a rune boundary.
func clip(s string, n int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
