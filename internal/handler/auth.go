package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fabian4819/Kedaireka-Backend/internal/domain"
	"github.com/fabian4819/Kedaireka-Backend/internal/mail"
	"github.com/fabian4819/Kedaireka-Backend/internal/service"
	"github.com/fabian4819/Kedaireka-Backend/internal/token"
)

// AuthFlows is the authentication surface the handlers drive.
type AuthFlows interface {
	Register(ctx context.Context, in service.RegisterInput) (*service.AuthResult, error)
	Login(ctx context.Context, email, password string) (*service.AuthResult, error)
	ExternalSignIn(ctx context.Context, idToken string) (*service.AuthResult, error)
	RefreshTokens(ctx context.Context, refreshToken string) (token.Pair, error)
	Logout(ctx context.Context, userID int64) error
	Me(ctx context.Context, userID int64) (*service.Profile, error)
	SendVerification(ctx context.Context, userID int64) (*service.VerificationDelivery, error)
	CheckVerification(ctx context.Context, userID int64) (bool, error)
	ChangePassword(ctx context.Context, userID int64, current, next string) error
	EmailConfiguration(ctx context.Context) mail.Status
}

// AuthHandler handles authentication endpoints.
type AuthHandler struct {
	auth AuthFlows
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(auth AuthFlows) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type registerRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=50"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type googleRequest struct {
	IDToken string `json:"idToken" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=6,nefield=CurrentPassword"`
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return fmt.Errorf("%w: invalid request body", domain.ErrInvalidInput)
	}
	return c.Validate(req)
}

func userID(c echo.Context) (int64, error) {
	id, ok := GetUserID(c)
	if !ok {
		return 0, domain.ErrUnauthorized
	}
	return id, nil
}

// Register creates an email/password account.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.auth.Register(c.Request().Context(), service.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		return err
	}
	return JSON(c, http.StatusCreated, "User registered successfully. Please check your email for verification.", res)
}

// Login authenticates with email and password.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.auth.Login(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, "Login successful", res)
}

// Google signs in with a Firebase ID token obtained by the client.
func (h *AuthHandler) Google(c echo.Context) error {
	var req googleRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	res, err := h.auth.ExternalSignIn(c.Request().Context(), req.IDToken)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, "Google sign-in successful", res)
}

// Refresh rotates the refresh token and returns a new pair.
func (h *AuthHandler) Refresh(c echo.Context) error {
	var req refreshRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}

	tokens, err := h.auth.RefreshTokens(c.Request().Context(), req.RefreshToken)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, "", map[string]any{"tokens": tokens})
}

// Logout revokes the caller's refresh token.
func (h *AuthHandler) Logout(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	if err := h.auth.Logout(c.Request().Context(), id); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, "Logout successful", nil)
}

// Me returns the currently authenticated user.
func (h *AuthHandler) Me(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	profile, err := h.auth.Me(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, "", map[string]any{"user": profile})
}

// SendVerification mails a new verification link to the caller.
func (h *AuthHandler) SendVerification(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	delivery, err := h.auth.SendVerification(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, "Verification email sent successfully", delivery)
}

// CheckVerification reports whether the caller's email is verified.
func (h *AuthHandler) CheckVerification(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	verified, err := h.auth.CheckVerification(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return JSON(c, http.StatusOK, "", map[string]bool{"isEmailVerified": verified})
}

// ChangePassword replaces the caller's password.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	id, err := userID(c)
	if err != nil {
		return err
	}
	var req changePasswordRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	if err := h.auth.ChangePassword(c.Request().Context(), id, req.CurrentPassword, req.NewPassword); err != nil {
		return err
	}
	return JSON(c, http.StatusOK, "Password changed successfully. Please sign in again.", nil)
}

// EmailConfig reports whether outbound mail is configured.
func (h *AuthHandler) EmailConfig(c echo.Context) error {
	st := h.auth.EmailConfiguration(c.Request().Context())
	data := map[string]any{
		"configured": st.Configured,
		"mode":       st.Mode,
	}
	if !st.Configured {
		data["note"] = "Email will be logged to console in development mode"
	}
	return c.JSON(http.StatusOK, Envelope{Success: st.Configured, Message: st.Message, Data: data})
}
