// Package router registers the HTTP routes of the auth API.
package router

import (
	"github.com/labstack/echo/v4"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/handler"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/middleware"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/model"
)

// RegisterRoutes registers routes that do not require authentication.
func RegisterRoutes(e *echo.Echo, db handler.Pinger) {
	e.GET("/healthz", handler.Health(db))
}

// RegisterAuth registers the auth routes.  Register, login and refresh sit
// behind the rate limiter; logout, session history and /v1/me require an
// access token.  /logout/:device_id revokes another of the caller's devices.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, verifier middleware.AccessVerifier, limiter echo.MiddlewareFunc) {
	if limiter == nil {
		limiter = func(next echo.HandlerFunc) echo.HandlerFunc { return next }
	}
	g := e.Group("/v1/auth", middleware.DeviceContext())

	g.POST("/register", a.Register, limiter)
	g.POST("/login", a.Login, limiter)
	g.POST("/refresh", a.Refresh, limiter)

	access := middleware.AccessAuth(verifier)
	g.POST("/logout", a.Logout, access)
	g.POST("/logout/:device_id", a.Logout, access)
	g.GET("/sessions", a.Sessions, access)

	e.GET("/v1/me", a.Me, access, middleware.RequireRole(model.RoleMember))
}
