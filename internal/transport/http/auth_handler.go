package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/danpav1/Auth_Portal_BackEnd/internal/domain"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/service"
	"github.com/danpav1/Auth_Portal_BackEnd/internal/util"
)

const forgotPasswordReply = "If an account exists for that email, a reset code has been sent"

type AuthHandler struct {
	auth *service.AuthService
}

func RegisterAuth(e *echo.Echo, auth *service.AuthService) {
	handler := &AuthHandler{auth: auth}

	group := e.Group("/api/v1/auth")
	group.POST("/register", handler.register)
	group.POST("/login", handler.login)
	group.POST("/forgot-password", handler.forgotPassword)
	group.POST("/reset-password", handler.resetPassword)
	group.GET("/dashboard", handler.dashboard, RequireAuth(auth))
}

func (h *AuthHandler) register(c echo.Context) error {
	var req RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Message("invalid request body"))
	}

	result, err := h.auth.Register(c.Request().Context(), req.Name, req.Email, req.Password)
	if err != nil {
		return h.writeAuthError(c, err)
	}

	return c.JSON(http.StatusCreated, buildTokenResponse(result))
}

func (h *AuthHandler) login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Message("invalid request body"))
	}

	result, err := h.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return h.writeAuthError(c, err)
	}

	return c.JSON(http.StatusOK, buildTokenResponse(result))
}

func (h *AuthHandler) dashboard(c echo.Context) error {
	user, ok := CurrentUser(c)
	if !ok || user == nil {
		return c.JSON(http.StatusUnauthorized, util.Message("authentication required"))
	}
	return c.JSON(http.StatusOK, util.Data("user", buildAuthUser(user)))
}

func (h *AuthHandler) forgotPassword(c echo.Context) error {
	var req PasswordResetRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Message("invalid request body"))
	}

	if err := h.auth.RequestPasswordReset(c.Request().Context(), req.Email); err != nil {
		// Mail or store trouble; the body stays generic either way.
		return c.JSON(http.StatusInternalServerError, util.Message("server error"))
	}

	return c.JSON(http.StatusOK, util.Message(forgotPasswordReply))
}

func (h *AuthHandler) resetPassword(c echo.Context) error {
	var req PasswordResetConfirmRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, util.Message("invalid request body"))
	}

	if err := h.auth.ConfirmPasswordReset(c.Request().Context(), req.Email, req.OTP, req.NewPassword); err != nil {
		return h.writeAuthError(c, err)
	}

	return c.JSON(http.StatusOK, util.Message("password has been reset"))
}

func (h *AuthHandler) writeAuthError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, service.ErrNameRequired),
		errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrPasswordTooWeak),
		errors.Is(err, service.ErrEmailAlreadyUsed),
		errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrPasswordUnchanged):
		return c.JSON(http.StatusBadRequest, util.Message(err.Error()))
	case errors.Is(err, service.ErrResetOTPInvalid), errors.Is(err, service.ErrResetOTPExpired):
		// One message for both, so a caller cannot tell a wrong code from a
		// stale one.
		return c.JSON(http.StatusBadRequest, util.Message("invalid or expired reset code"))
	case errors.Is(err, service.ErrUnauthorized):
		return c.JSON(http.StatusUnauthorized, util.Message("invalid or expired token"))
	default:
		c.Logger().Errorf("auth operation failed: %v", err)
		return c.JSON(http.StatusInternalServerError, util.Message("server error"))
	}
}

func buildTokenResponse(result *service.AuthResult) AuthTokenResponse {
	return AuthTokenResponse{
		Token:     result.Token,
		ExpiresAt: result.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
		User:      buildAuthUser(result.User),
	}
}

func buildAuthUser(user *domain.User) AuthUser {
	return AuthUser{
		ID:        user.ID.String(),
		Name:      user.Name,
		Email:     user.Email,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
