// Package httpapi exposes the webhook endpoint and webhook administration over gin.
package httpapi

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/m3rciful/botengine/core/buildinfo"
	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/logger"
)

const (
	maxBodyBytes = 1 << 20
	// messengerKey stores the resolved messenger in the gin context.
	messengerKey = "httpapi.messenger"
	// keyParam holds the messenger hash on webhook routes and the messenger id on admin routes.
	keyParam = "key"
)

// Dispatcher processes one webhook call.
type Dispatcher interface {
	Dispatch(ctx context.Context, m *engine.Messenger, req *engine.Request) (engine.Payload, error)
}

// adapterCache is implemented by providers that keep built adapters.
type adapterCache interface {
	Forget(id int64)
}

// Handler serves the bot endpoints.
type Handler struct {
	dispatcher Dispatcher
	messengers engine.MessengerStore
	adapters   engine.AdapterProvider
	publicURL  string
}

// NewHandler wires a Handler. publicURL is the externally reachable base
// used to build webhook URLs.
func NewHandler(d Dispatcher, messengers engine.MessengerStore, adapters engine.AdapterProvider, publicURL string) *Handler {
	return &Handler{dispatcher: d, messengers: messengers, adapters: adapters, publicURL: publicURL}
}

// ResolveMessenger looks up the messenger addressed by the webhook hash and
// keeps it in the context for the handlers that follow. An unknown hash ends
// the request with 404.
func (h *Handler) ResolveMessenger(c *gin.Context) {
	if _, ok := h.lookup(c); ok {
		c.Next()
	}
}

func (h *Handler) lookup(c *gin.Context) (*engine.Messenger, bool) {
	if m, ok := messengerFrom(c); ok {
		return m, true
	}
	ctx := c.Request.Context()
	m, err := h.messengers.GetByHash(ctx, c.Param(keyParam))
	if errors.Is(err, engine.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "handler not found"})
		return nil, false
	}
	if err != nil {
		logger.Error(ctx, "http", "webhook.lookup", slog.String("status", "fail"), slog.String("err", err.Error()))
		c.AbortWithStatus(http.StatusInternalServerError)
		return nil, false
	}
	c.Set(messengerKey, m)
	return m, true
}

func messengerFrom(c *gin.Context) (*engine.Messenger, bool) {
	v, ok := c.Get(messengerKey)
	if !ok {
		return nil, false
	}
	m, ok := v.(*engine.Messenger)
	return m, ok && m != nil
}

// Webhook answers 404 for an unknown hash and 406 when the backend payload
// cannot be parsed. Any other failure is logged and answered with an empty
// 200 so the backend does not redeliver.
func (h *Handler) Webhook(c *gin.Context) {
	ctx := c.Request.Context()
	m, ok := h.lookup(c)
	if !ok {
		return
	}

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	payload, err := h.dispatcher.Dispatch(ctx, m, &engine.Request{Header: c.Request.Header.Clone(), Body: body})
	var parseErr *engine.MessengerError
	switch {
	case errors.As(err, &parseErr):
		c.AbortWithStatusJSON(http.StatusNotAcceptable, gin.H{"error": parseErr.Error()})
		return
	case err != nil:
		logger.Error(ctx, "http", "webhook.dispatch",
			slog.String("status", "fail"),
			slog.Int64("messenger_id", m.ID),
			slog.String("err", err.Error()),
		)
		c.Status(http.StatusOK)
		return
	}
	if payload == nil {
		c.Status(http.StatusOK)
		return
	}
	c.JSON(http.StatusOK, payload)
}

// EnableWebhook registers the webhook of messenger :id with its backend.
func (h *Handler) EnableWebhook(c *gin.Context) { h.switchWebhook(c, true) }

// DisableWebhook removes the webhook of messenger :id.
func (h *Handler) DisableWebhook(c *gin.Context) { h.switchWebhook(c, false) }

func (h *Handler) switchWebhook(c *gin.Context, on bool) {
	ctx := c.Request.Context()
	id, err := strconv.ParseInt(c.Param(keyParam), 10, 64)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid messenger id"})
		return
	}
	m, err := h.messengers.GetByID(ctx, id)
	if errors.Is(err, engine.ErrNotFound) {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "handler not found"})
		return
	}
	if err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	if on && h.publicURL == "" {
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "public url is not configured"})
		return
	}

	adapter, err := h.adapters.Adapter(m)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	url := WebhookURL(h.publicURL, m.Hash)
	if on {
		err = adapter.EnableWebhook(ctx, url)
	} else {
		err = adapter.DisableWebhook(ctx)
	}
	if err != nil {
		logger.Error(ctx, "http", "webhook.switch",
			slog.String("status", "fail"),
			slog.Int64("messenger_id", m.ID),
			slog.Bool("enable", on),
			slog.String("err", err.Error()),
		)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if err := h.messengers.SetActive(ctx, m.ID, on); err != nil {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	resp := gin.H{"id": m.ID, "is_active": on}
	attrs := []slog.Attr{
		slog.String("status", "ok"),
		slog.Int64("messenger_id", m.ID),
		slog.Bool("enable", on),
		slog.String("public_url", url),
	}
	if on {
		// The identity is informational; the webhook is already registered.
		if info, err := adapter.AccountInfo(ctx); err == nil {
			resp["account"] = info.Username
			attrs = append(attrs, slog.String("account", info.Username))
		} else {
			attrs = append(attrs, slog.String("account_err", err.Error()))
		}
	} else if cache, ok := h.adapters.(adapterCache); ok {
		cache.Forget(m.ID)
	}
	logger.Info(ctx, "http", "webhook.switch", attrs...)
	c.JSON(http.StatusOK, resp)
}

// Health reports build information.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "build": buildinfo.Current()})
}

// WebhookURL is the address a backend posts updates for messenger hash to.
func WebhookURL(publicURL, hash string) string {
	return publicURL + "/bot/" + hash
}
