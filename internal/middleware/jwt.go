package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/service"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/utils"
)

// AccessVerifier checks an access token against its session secret.
// *service.AuthService implements it.
type AccessVerifier interface {
	AuthenticateAccess(ctx context.Context, token string) (*utils.AccessClaims, error)
}

// AccessAuth validates the Bearer access token of a request and stores the
// user id, role tier and device id in the context.  Because each token is
// checked against the current secret of its device session, tokens of a
// rotated or logged-out session are rejected.
func AccessAuth(v AccessVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))

			claims, err := v.AuthenticateAccess(c.Request().Context(), raw)
			if errors.Is(err, service.ErrInvalidAccessToken) {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
			}
			if err != nil {
				slog.ErrorContext(c.Request().Context(), "access auth failed", "err", err)
				return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
			}

			c.Set(ctxUserID, claims.UserID)
			c.Set(ctxRole, claims.Role)
			c.Set(ctxDeviceID, claims.DeviceID)
			return next(c)
		}
	}
}
