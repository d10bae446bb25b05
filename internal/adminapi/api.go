// Package adminapi exposes read and maintenance endpoints for settings and the
// rate limiter. Every route runs through the admission wrapper, so these
// endpoints are limited like any other business handler.
package adminapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-admin/internal/admission"
	"github.com/keithlinneman/linnemanlabs-admin/internal/apperr"
	"github.com/keithlinneman/linnemanlabs-admin/internal/log"
	"github.com/keithlinneman/linnemanlabs-admin/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-admin/internal/settings"
	"github.com/keithlinneman/linnemanlabs-admin/internal/xerrors"
)

// ClientTable is the part of the limiter store the API manages.
type ClientTable interface {
	Stats() ratelimit.Stats
	Reset(clientID string) bool
}

// invalidator is implemented by config resolvers that cache.
type invalidator interface {
	Invalidate()
}

// API implements the admin endpoints
type API struct {
	wrap     *admission.Wrapper
	settings settings.Source
	config   admission.ConfigResolver
	clients  ClientTable
	logger   log.Logger
	now      func() time.Time
}

// NewAPI creates the admin API handler
func NewAPI(wrap *admission.Wrapper, src settings.Source, cfg admission.ConfigResolver, clients ClientTable, logger log.Logger) *API {
	if logger == nil {
		logger = log.Nop()
	}
	return &API{
		wrap:     wrap,
		settings: src,
		config:   cfg,
		clients:  clients,
		logger:   logger,
		now:      time.Now,
	}
}

// RegisterRoutes attaches the admin endpoints to the router
func (api *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Method(http.MethodGet, "/settings/{category}/{key}", api.wrap.Handle("settings.get", api.getSetting))
		r.Method(http.MethodGet, "/ratelimit/config", api.wrap.Handle("ratelimit.config", api.getConfig))
		r.Method(http.MethodPost, "/ratelimit/config/refresh", api.wrap.Handle("ratelimit.config.refresh", api.refreshConfig))
		r.Method(http.MethodGet, "/ratelimit/stats", api.wrap.Handle("ratelimit.stats", api.getStats))
		r.Method(http.MethodDelete, "/ratelimit/clients/{clientID}", api.wrap.Handle("ratelimit.client.reset", api.resetClient))
	})
}

// SettingResponse is one resolved setting. Value is the parsed form of Raw.
type SettingResponse struct {
	Category string `json:"category"`
	Key      string `json:"key"`
	Raw      string `json:"raw"`
	Value    any    `json:"value"`
}

func (api *API) getSetting(_ http.ResponseWriter, r *http.Request) (any, error) {
	category := strings.TrimSpace(chi.URLParam(r, "category"))
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	if category == "" {
		return nil, apperr.Required("category")
	}
	if key == "" {
		return nil, apperr.Required("key")
	}

	raw, ok, err := api.settings.GetSetting(r.Context(), category, key)
	if err != nil {
		return nil, xerrors.Wrapf(err, "get setting %s/%s", category, key)
	}
	if !ok {
		return nil, apperr.Newf(apperr.KindNotFound, "Setting %s/%s not found", category, key)
	}
	return SettingResponse{
		Category: category,
		Key:      key,
		Raw:      raw,
		Value:    settings.ParseValue(raw),
	}, nil
}

// ConfigResponse reports the limiter config currently in force.
type ConfigResponse struct {
	ratelimit.Config
	Complete   bool      `json:"complete"`
	ResolvedAt time.Time `json:"resolvedAt"`
}

func (api *API) getConfig(_ http.ResponseWriter, r *http.Request) (any, error) {
	cfg, err := api.config.Get(r.Context())
	if err != nil {
		return nil, xerrors.Wrap(err, "resolve rate limit config")
	}
	return api.configResponse(cfg), nil
}

func (api *API) refreshConfig(w http.ResponseWriter, r *http.Request) (any, error) {
	if inv, ok := api.config.(invalidator); ok {
		inv.Invalidate()
	}
	cfg, err := api.config.Get(r.Context())
	if err != nil {
		return nil, xerrors.Wrap(err, "refresh rate limit config")
	}
	api.logger.Info(r.Context(), "rate limit config refreshed",
		"enabled", cfg.Enabled,
	)
	return api.configResponse(cfg), nil
}

func (api *API) configResponse(cfg ratelimit.Config) ConfigResponse {
	return ConfigResponse{
		Config:     cfg,
		Complete:   !cfg.Enabled || (cfg.MaxPerMinute != nil && cfg.MaxPerHour != nil),
		ResolvedAt: api.now().UTC(),
	}
}

func (api *API) getStats(_ http.ResponseWriter, _ *http.Request) (any, error) {
	return api.clients.Stats(), nil
}

// ResetResponse confirms a client entry was dropped.
type ResetResponse struct {
	ClientID string `json:"clientId"`
	Reset    bool   `json:"reset"`
}

func (api *API) resetClient(_ http.ResponseWriter, r *http.Request) (any, error) {
	id := strings.TrimSpace(chi.URLParam(r, "clientID"))
	if id == "" {
		return nil, apperr.Required("clientID")
	}
	if !api.clients.Reset(id) {
		return nil, apperr.Newf(apperr.KindNotFound, "No rate limit entry for client %s", id)
	}
	api.logger.Info(r.Context(), "rate limit entry reset", "client_id", id)
	return ResetResponse{ClientID: id, Reset: true}, nil
}
