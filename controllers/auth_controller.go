package controller

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"leadforge/config"
	"leadforge/models"
	"leadforge/services"
	"leadforge/utils"
)

type AuthService interface {
	Register(ctx context.Context, in services.RegisterInput) (*services.AuthResponse, error)
	Login(ctx context.Context, in services.LoginInput) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
	Logout(ctx context.Context, id models.Identity) error
	ChangePassword(ctx context.Context, id models.Identity, in services.ChangePasswordInput) (*services.AuthResponse, error)
	Me(ctx context.Context, id models.Identity) (*models.User, error)
	LoginWithGoogle(ctx context.Context, profile services.GoogleProfile) (*services.AuthResponse, error)
}

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

type AuthController struct {
	auth          AuthService
	oauth         *oauth2.Config
	secureCookies bool
	refreshTTL    time.Duration
	logger        *logrus.Logger
}

func NewAuthController(auth AuthService, cfg config.Config, logger *logrus.Logger) *AuthController {
	return &AuthController{
		auth: auth,
		oauth: &oauth2.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURI,
			Scopes: []string{
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		secureCookies: cfg.IsProduction(),
		refreshTTL:    cfg.RefreshTokenTTL,
		logger:        logger,
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (ac *AuthController) Register(c *fiber.Ctx) error {
	var in services.RegisterInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	resp, err := ac.auth.Register(c.UserContext(), in)
	if err != nil {
		return handleError(c, err)
	}
	ac.setTokenCookies(c, resp.Tokens)
	return created(c, resp)
}

func (ac *AuthController) Login(c *fiber.Ctx) error {
	var in services.LoginInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	resp, err := ac.auth.Login(c.UserContext(), in)
	if err != nil {
		return handleError(c, err)
	}
	ac.setTokenCookies(c, resp.Tokens)
	return ok(c, resp)
}

// Refresh accepts the refresh token in the body or the refresh_token cookie.
func (ac *AuthController) Refresh(c *fiber.Ctx) error {
	var in refreshRequest
	if len(c.Body()) > 0 {
		if err := bindJSON(c, &in); err != nil {
			return badRequest(c, "Invalid request body", err)
		}
	}
	if in.RefreshToken == "" {
		in.RefreshToken = c.Cookies("refresh_token")
	}
	if in.RefreshToken == "" {
		return handleError(c, models.NewUnauthorized("refresh token required"))
	}
	resp, err := ac.auth.Refresh(c.UserContext(), in.RefreshToken)
	if err != nil {
		return handleError(c, err)
	}
	ac.setTokenCookies(c, resp.Tokens)
	return ok(c, resp)
}

func (ac *AuthController) Logout(c *fiber.Ctx) error {
	if err := ac.auth.Logout(c.UserContext(), caller(c)); err != nil {
		return handleError(c, err)
	}
	c.ClearCookie("access_token", "refresh_token")
	return ok(c, fiber.Map{"message": "Logged out"})
}

func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	var in services.ChangePasswordInput
	if err := bindJSON(c, &in); err != nil {
		return badRequest(c, "Invalid request body", err)
	}
	resp, err := ac.auth.ChangePassword(c.UserContext(), caller(c), in)
	if err != nil {
		return handleError(c, err)
	}
	ac.setTokenCookies(c, resp.Tokens)
	return ok(c, resp)
}

func (ac *AuthController) Me(c *fiber.Ctx) error {
	user, err := ac.auth.Me(c.UserContext(), caller(c))
	if err != nil {
		return handleError(c, err)
	}
	return ok(c, user)
}

func (ac *AuthController) GoogleLogin(c *fiber.Ctx) error {
	if ac.oauth.ClientID == "" {
		return utils.ErrorResponse(c, fiber.StatusNotFound, "Google sign-in is not configured", nil)
	}
	state := uuid.NewString()
	c.Cookie(&fiber.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Expires:  time.Now().Add(10 * time.Minute),
		HTTPOnly: true,
		Secure:   ac.secureCookies,
		SameSite: "Lax",
	})
	return c.Redirect(ac.oauth.AuthCodeURL(state), fiber.StatusTemporaryRedirect)
}

func (ac *AuthController) GoogleCallback(c *fiber.Ctx) error {
	state := c.Query("state")
	cookieState := c.Cookies("oauth_state")
	if state == "" || cookieState == "" || state != cookieState {
		return badRequest(c, "Invalid state parameter", nil)
	}
	c.ClearCookie("oauth_state")

	code := c.Query("code")
	if code == "" {
		return badRequest(c, "Authorization code not provided", nil)
	}

	ctx := c.UserContext()
	token, err := ac.oauth.Exchange(ctx, code)
	if err != nil {
		ac.logger.WithError(err).Warn("Google token exchange failed")
		return handleError(c, models.NewUnauthorized("google token exchange failed"))
	}
	profile, err := ac.fetchGoogleProfile(ctx, token)
	if err != nil {
		utils.LogError("google_userinfo_failed", err, nil)
		return utils.ErrorResponse(c, fiber.StatusBadGateway, "Failed to get user info", nil)
	}

	resp, err := ac.auth.LoginWithGoogle(ctx, *profile)
	if err != nil {
		return handleError(c, err)
	}
	ac.setTokenCookies(c, resp.Tokens)
	return ok(c, resp)
}

func (ac *AuthController) fetchGoogleProfile(ctx context.Context, token *oauth2.Token) (*services.GoogleProfile, error) {
	resp, err := ac.oauth.Client(ctx, token).Get(googleUserInfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fiber.NewError(resp.StatusCode, "google api error: "+string(body))
	}
	var profile services.GoogleProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

func (ac *AuthController) setTokenCookies(c *fiber.Ctx, tokens *utils.TokenPair) {
	if tokens == nil {
		return
	}
	now := time.Now()
	c.Cookie(&fiber.Cookie{
		Name:     "access_token",
		Value:    tokens.AccessToken,
		Expires:  now.Add(time.Duration(tokens.ExpiresIn) * time.Second),
		HTTPOnly: true,
		Secure:   ac.secureCookies,
		SameSite: "Lax",
	})
	c.Cookie(&fiber.Cookie{
		Name:     "refresh_token",
		Value:    tokens.RefreshToken,
		Expires:  now.Add(ac.refreshTTL),
		HTTPOnly: true,
		Secure:   ac.secureCookies,
		SameSite: "Lax",
	})
}
