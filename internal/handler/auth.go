package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ngthminh1709/StockExchangesBackEnd/internal/middleware"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/model"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/service"
	"github.com/ngthminh1709/StockExchangesBackEnd/internal/validation"
)

// RefreshCookieName is the cookie carrying the refresh token.
const RefreshCookieName = "refreshToken"

const requestTimeout = 5 * time.Second

// Authenticator is the part of *service.AuthService the HTTP layer uses.
type Authenticator interface {
	Register(ctx context.Context, in service.RegisterInput) (uint64, error)
	Login(ctx context.Context, in service.LoginInput, dc service.DeviceContext) (service.LoginResult, error)
	Logout(ctx context.Context, userID uint64, deviceID string) error
	Refresh(ctx context.Context, token, deviceID string) (service.Issued, error)
	History(ctx context.Context, userID uint64) ([]service.SessionView, error)
	Me(ctx context.Context, userID uint64) (model.User, error)
}

// CookieConfig controls the attributes of the refresh cookie.
type CookieConfig struct {
	Secure   bool
	SameSite http.SameSite
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	Auth   Authenticator
	Cookie CookieConfig
	Log    *slog.Logger
}

func NewAuthHandler(auth Authenticator, cookie CookieConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{Auth: auth, Cookie: cookie, Log: logger}
}

// ----- DTOs -----

type registerReq struct {
	AccountName string `json:"account_name" validate:"required,min=3,max=64,account_name"`
	Password    string `json:"password" validate:"required,min=6,max=72"`
	Name        string `json:"name" validate:"max=255"`
	Email       string `json:"email" validate:"omitempty,email,max=255"`
	Phone       string `json:"phone" validate:"max=32"`
	Avatar      string `json:"avatar" validate:"max=512"`
	DateOfBirth string `json:"date_of_birth" validate:"omitempty,datetime=2006-01-02"`
	Address     string `json:"address" validate:"max=512"`
}

type loginReq struct {
	AccountName string `json:"account_name" validate:"required,max=64"`
	Password    string `json:"password" validate:"required,max=72"`
}

type userPart struct {
	ID          uint64 `json:"id"`
	AccountName string `json:"account_name"`
	Role        uint8  `json:"role"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Avatar      string `json:"avatar"`
	DateOfBirth string `json:"date_of_birth"`
	Address     string `json:"address"`
	IsVerified  bool   `json:"is_verified"`
}

type loginResp struct {
	User        userPart  `json:"user"`
	AccessToken string    `json:"access_token"`
	ExpiredAt   time.Time `json:"expired_at"`
}

type refreshResp struct {
	AccessToken string    `json:"access_token"`
	ExpiredAt   time.Time `json:"expired_at"`
}

func toUserPart(u model.User) userPart {
	return userPart{
		ID:          u.ID,
		AccountName: u.AccountName,
		Role:        u.Role,
		Name:        u.Name,
		Email:       u.Email,
		Phone:       u.Phone,
		Avatar:      u.Avatar,
		DateOfBirth: u.DateOfBirth,
		Address:     u.Address,
		IsVerified:  u.IsVerified,
	}
}

// bindAndValidate decodes the JSON body into req and runs the echo
// validator.  It writes the 400 response itself and reports whether the
// handler should continue.
func bindAndValidate(c echo.Context, req interface{}) (bool, error) {
	if err := c.Bind(req); err != nil {
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := c.Validate(req); err != nil {
		var fe validation.Errors
		if errors.As(err, &fe) {
			return false, c.JSON(http.StatusBadRequest, echo.Map{"error": "validation failed", "fields": fe})
		}
		return false, c.JSON(http.StatusBadRequest, echo.Map{"error": err.Error()})
	}
	return true, nil
}

// Register creates an account.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	_, err := h.Auth.Register(ctx, service.RegisterInput{
		AccountName: req.AccountName,
		Password:    req.Password,
		Profile: model.Profile{
			Name:        req.Name,
			Email:       req.Email,
			Phone:       req.Phone,
			Avatar:      req.Avatar,
			DateOfBirth: req.DateOfBirth,
			Address:     req.Address,
		},
	})
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"success": true})
}

// Login verifies credentials, binds the calling device and returns an
// access token.  The refresh token travels in an HttpOnly cookie.
func (h *AuthHandler) Login(c echo.Context) error {
	dc := middleware.Device(c)
	if dc.DeviceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing " + middleware.HeaderDeviceID + " header"})
	}
	var req loginReq
	if ok, err := bindAndValidate(c, &req); !ok {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	res, err := h.Auth.Login(ctx, service.LoginInput{AccountName: req.AccountName, Password: req.Password}, dc)
	if err != nil {
		return h.writeError(c, err)
	}
	h.setRefreshCookie(c, res.RefreshToken, res.RefreshExp)
	return c.JSON(http.StatusOK, loginResp{
		User:        toUserPart(res.User),
		AccessToken: res.AccessToken,
		ExpiredAt:   res.ExpiresAt,
	})
}

// Refresh rotates the refresh cookie and returns a new access token.
func (h *AuthHandler) Refresh(c echo.Context) error {
	dc := middleware.Device(c)
	if dc.DeviceID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing " + middleware.HeaderDeviceID + " header"})
	}
	var token string
	if ck, err := c.Cookie(RefreshCookieName); err == nil {
		token = ck.Value
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	issued, err := h.Auth.Refresh(ctx, token, dc.DeviceID)
	if err != nil {
		if errors.Is(err, service.ErrInvalidRefreshToken) {
			h.clearRefreshCookie(c)
		}
		return h.writeError(c, err)
	}
	h.setRefreshCookie(c, issued.RefreshToken, issued.RefreshExp)
	return c.JSON(http.StatusOK, refreshResp{AccessToken: issued.AccessToken, ExpiredAt: issued.ExpiresAt})
}

// Logout revokes one of the caller's device sessions: the one named by the
// :device_id path parameter, or the device of the access token when absent.
// The refresh cookie is only cleared when the current device is revoked.
func (h *AuthHandler) Logout(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	current := middleware.DeviceID(c)
	target := c.Param("device_id")
	if target == "" {
		target = current
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	if err := h.Auth.Logout(ctx, uid, target); err != nil {
		return h.writeError(c, err)
	}
	if target == current {
		h.clearRefreshCookie(c)
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

// Sessions lists the caller's device sessions.
func (h *AuthHandler) Sessions(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	list, err := h.Auth.History(ctx, uid)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"sessions": list})
}

// Me returns the authenticated user's profile.
func (h *AuthHandler) Me(c echo.Context) error {
	uid, ok := middleware.UserID(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	u, err := h.Auth.Me(ctx, uid)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, toUserPart(u))
}

func (h *AuthHandler) setRefreshCookie(c echo.Context, token string, exp time.Time) {
	c.SetCookie(&http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     "/",
		Expires:  exp,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: h.Cookie.SameSite,
	})
}

func (h *AuthHandler) clearRefreshCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.Cookie.Secure,
		SameSite: h.Cookie.SameSite,
	})
}

// writeError maps service errors to HTTP responses.  Unknown errors are
// logged and hidden behind a generic 500.
func (h *AuthHandler) writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrDuplicateAccount):
		return c.JSON(http.StatusConflict, echo.Map{"error": "account already registered"})
	case errors.Is(err, service.ErrAccountNotFound), errors.Is(err, service.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid account name or password"})
	case errors.Is(err, service.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, service.ErrMissingRefreshToken):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh token not found"})
	case errors.Is(err, service.ErrMissingDeviceID):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing " + middleware.HeaderDeviceID + " header"})
	case errors.Is(err, service.ErrInvalidRefreshToken):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "refresh token is not valid"})
	case errors.Is(err, service.ErrInvalidAccessToken):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
	case errors.Is(err, context.DeadlineExceeded):
		h.Log.Error("request timed out", "path", c.Path(), "err", err)
		return c.JSON(http.StatusGatewayTimeout, echo.Map{"error": "request timed out"})
	}
	h.Log.Error("request failed", "path", c.Path(), "err", err)
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
