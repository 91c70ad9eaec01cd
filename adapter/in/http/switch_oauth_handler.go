package http

import (
	"github.com/gofiber/fiber/v2"

	"switch_server/core/domain"
	"switch_server/core/port/in"
	"switch_server/pkg/apperr"
	"switch_server/pkg/logger"
)

type OAuthHandler struct {
	oauthService in.OAuthService
}

func NewOAuthHandler(oauthService in.OAuthService) *OAuthHandler {
	return &OAuthHandler{oauthService: oauthService}
}

func (h *OAuthHandler) Register(app fiber.Router) {
	oauth := app.Group("/oauth")
	oauth.Get("/connect/:provider", h.Connect)
	oauth.Get("/callback/:provider", h.Callback)
	oauth.Get("/connections", h.ListConnections)
	oauth.Delete("/connections/:provider", h.Disconnect)
}

func paramProvider(c *fiber.Ctx) (domain.Provider, error) {
	provider := domain.Provider(c.Params("provider"))
	if !provider.Valid() {
		return "", apperr.InvalidInput("provider", "must be google or microsoft")
	}
	return provider, nil
}

// Connect starts an authorization attempt and returns the provider URL the
// caller should open. Calling it again abandons the previous attempt.
func (h *OAuthHandler) Connect(c *fiber.Ctx) error {
	provider, err := paramProvider(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}
	logger.Info("[OAuth.Connect] Provider: %s", provider)

	authURL, state, err := h.oauthService.AuthorizeURL(c.Context(), provider)
	if err != nil {
		logger.WithError(err).WithProvider(string(provider)).Error("[OAuth.Connect] AuthorizeURL failed")
		return AppErrorResponse(c, err)
	}

	return SuccessResponse(c, fiber.Map{
		"auth_url": authURL,
		"state":    state,
	})
}

// Callback receives the relayed authorization response and completes the
// token exchange.
func (h *OAuthHandler) Callback(c *fiber.Ctx) error {
	provider, err := paramProvider(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	if oauthErr := c.Query("error"); oauthErr != "" {
		desc := c.Query("error_description")
		logger.Warn("[OAuth.Callback] Provider %s returned error: %s (%s)", provider, oauthErr, desc)
		return AppErrorResponse(c, apperr.ProviderError(string(provider), oauthErr, desc))
	}

	code := c.Query("code")
	state := c.Query("state")

	conn, err := h.oauthService.HandleCallback(c.Context(), provider, code, state)
	if err != nil {
		logger.WithError(err).WithProvider(string(provider)).Error("[OAuth.Callback] Exchange failed")
		return AppErrorResponse(c, err)
	}

	logger.Info("[OAuth.Callback] Provider %s connected", provider)
	return SuccessResponse(c, fiber.Map{
		"provider":   conn.Provider,
		"status":     conn.Status(),
		"expires_at": conn.ExpiresAt,
	})
}

// ListConnections reports status for every known provider.
func (h *OAuthHandler) ListConnections(c *fiber.Ctx) error {
	connections := make([]fiber.Map, 0, len(domain.Providers))
	for _, provider := range domain.Providers {
		status, err := h.oauthService.Status(c.Context(), provider)
		if err != nil {
			return InternalErrorResponse(c, err, "list connections")
		}
		connections = append(connections, fiber.Map{
			"provider": provider,
			"status":   status,
		})
	}
	return SuccessResponse(c, fiber.Map{"connections": connections})
}

// Disconnect revokes and clears the stored connection. Idempotent.
func (h *OAuthHandler) Disconnect(c *fiber.Ctx) error {
	provider, err := paramProvider(c)
	if err != nil {
		return AppErrorResponse(c, err)
	}

	if err := h.oauthService.Disconnect(c.Context(), provider); err != nil {
		logger.WithError(err).WithProvider(string(provider)).Error("[OAuth.Disconnect] failed")
		return AppErrorResponse(c, err)
	}

	logger.Info("[OAuth.Disconnect] Provider %s disconnected", provider)
	return SuccessResponse(c, fiber.Map{
		"provider": provider,
		"status":   domain.StatusDisconnected,
	})
}
