package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/CoachLogLabs/coachlog/backend/internal/credentials"
	"github.com/CoachLogLabs/coachlog/backend/internal/stats"
	"github.com/CoachLogLabs/coachlog/backend/internal/tracks"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const athleteIDContextKey = "coachlog_athlete_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingVault        = errors.New("credential vault dependency required")
	errMissingRegistry     = errors.New("provider registry dependency required")
	errMissingImporter     = errors.New("importer dependency required")
	errMissingLibrary      = errors.New("track library dependency required")
	errMissingStats        = errors.New("stats service dependency required")
	errInvalidAuth         = errors.New("authorization header missing or invalid")
)

// TokenValidator checks bearer tokens and yields the athlete they belong to.
type TokenValidator interface {
	ValidateToken(token string) (uint, error)
}

// ProviderRegistry builds athlete-bound provider adapters.
type ProviderRegistry interface {
	Names() []string
	Get(name string, athleteID uint) (tracks.Provider, error)
}

// ImportRunner executes one import run.
type ImportRunner interface {
	ImportAthlete(ctx context.Context, athleteID uint, provider tracks.Provider, full bool) error
}

// MonthReader serves cached monthly aggregates.
type MonthReader interface {
	Get(ctx context.Context, athleteID uint, year, month int) (*stats.MonthPayload, error)
}

// Dependencies wires the HTTP layer to the services behind it.
type Dependencies struct {
	TokenManager TokenValidator
	Vault        *credentials.Vault
	Registry     ProviderRegistry
	Importer     ImportRunner
	Library      *tracks.Library
	Stats        MonthReader
	Logger       *zap.Logger
}

// NewHTTPHandler builds the API router. Every route requires a bearer token.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.Vault == nil {
		return nil, errMissingVault
	}
	if deps.Registry == nil {
		return nil, errMissingRegistry
	}
	if deps.Importer == nil {
		return nil, errMissingImporter
	}
	if deps.Library == nil {
		return nil, errMissingLibrary
	}
	if deps.Stats == nil {
		return nil, errMissingStats
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:   deps.TokenManager,
		vault:    deps.Vault,
		registry: deps.Registry,
		importer: deps.Importer,
		library:  deps.Library,
		stats:    deps.Stats,
		logger:   logger,
	}

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/providers", handler.handleProviderList)
	protected.POST("/providers/:name/connect", handler.handleProviderConnect)
	protected.POST("/providers/:name/disconnect", handler.handleProviderDisconnect)
	protected.POST("/providers/:name/import", handler.handleProviderImport)
	protected.GET("/tracks", handler.handleTrackList)
	protected.GET("/stats/:year/:month", handler.handleMonthStats)

	return router, nil
}

type httpHandler struct {
	tokens   TokenValidator
	vault    *credentials.Vault
	registry ProviderRegistry
	importer ImportRunner
	library  *tracks.Library
	stats    MonthReader
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuth.Error()})
		return
	}
	athleteID, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(athleteIDContextKey, athleteID)
	c.Next()
}

func (h *httpHandler) athleteID(c *gin.Context) uint {
	value, ok := c.Get(athleteIDContextKey)
	if !ok {
		return 0
	}
	athleteID, _ := value.(uint)
	return athleteID
}

// provider resolves the :name route parameter into an athlete-bound adapter.
func (h *httpHandler) provider(c *gin.Context) (tracks.Provider, bool) {
	provider, err := h.registry.Get(c.Param("name"), h.athleteID(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown_provider"})
		return nil, false
	}
	return provider, true
}

type providerStatusPayload struct {
	Name      string  `json:"name"`
	Connected bool    `json:"connected"`
	Tracks    int64   `json:"tracks"`
	FirstDate *string `json:"first_date"`
	LastDate  *string `json:"last_date"`
}

func (h *httpHandler) handleProviderList(c *gin.Context) {
	athleteID := h.athleteID(c)
	out := make([]providerStatusPayload, 0, len(h.registry.Names()))
	for _, name := range h.registry.Names() {
		provider, err := h.registry.Get(name, athleteID)
		if err != nil {
			h.logger.Error("provider construction failed", zap.String("provider", name), zap.Error(err))
			continue
		}
		connected, err := provider.IsConnected(c.Request.Context())
		if err != nil {
			h.logger.Error("connection check failed", zap.String("provider", name), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
			return
		}
		imported, err := h.library.ImportedStatsFor(c.Request.Context(), athleteID, name)
		if err != nil {
			h.logger.Error("imported stats failed", zap.String("provider", name), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "status_failed"})
			return
		}
		out = append(out, providerStatusPayload{
			Name:      name,
			Connected: connected,
			Tracks:    imported.Total,
			FirstDate: dayString(imported.FirstDate),
			LastDate:  dayString(imported.LastDate),
		})
	}
	c.JSON(http.StatusOK, gin.H{"providers": out})
}

func dayString(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format("2006-01-02")
	return &formatted
}

func (h *httpHandler) handleProviderConnect(c *gin.Context) {
	provider, ok := h.provider(c)
	if !ok {
		return
	}

	var fields map[string]string
	if err := c.ShouldBindJSON(&fields); err != nil || len(fields) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	if err := h.vault.Set(c.Request.Context(), h.athleteID(c), provider.Name(), fields); err != nil {
		h.logger.Error("credential store failed", zap.String("provider", provider.Name()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "connect_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "connected"})
}

func (h *httpHandler) handleProviderDisconnect(c *gin.Context) {
	provider, ok := h.provider(c)
	if !ok {
		return
	}
	if err := provider.Disconnect(c.Request.Context()); err != nil {
		h.logger.Error("disconnect failed", zap.String("provider", provider.Name()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disconnect_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "disconnected"})
}

func (h *httpHandler) handleProviderImport(c *gin.Context) {
	provider, ok := h.provider(c)
	if !ok {
		return
	}
	full := c.Query("full") == "true"

	err := h.importer.ImportAthlete(c.Request.Context(), h.athleteID(c), provider, full)
	if err != nil {
		var authErr *tracks.AuthError
		if errors.As(err, &authErr) {
			c.JSON(http.StatusBadGateway, gin.H{"error": "authentication_failed"})
			return
		}
		h.logger.Error("import failed", zap.String("provider", provider.Name()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "import_failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "completed"})
}

type trackPayload struct {
	ID              uint    `json:"id"`
	Provider        string  `json:"provider"`
	ProviderID      string  `json:"provider_id"`
	URL             string  `json:"url"`
	Name            string  `json:"name"`
	Sport           string  `json:"sport"`
	Date            *string `json:"date"`
	DistanceMeters  float64 `json:"distance_m"`
	DurationSeconds float64 `json:"duration_s"`
	HasGeometry     bool    `json:"has_geometry"`
}

func (h *httpHandler) handleTrackList(c *gin.Context) {
	list, err := h.library.ListByAthlete(c.Request.Context(), h.athleteID(c))
	if err != nil {
		h.logger.Error("track listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing_failed"})
		return
	}

	out := make([]trackPayload, 0, len(list))
	for _, track := range list {
		payload := trackPayload{
			ID:          track.ID,
			Provider:    track.Provider,
			ProviderID:  track.ProviderID,
			URL:         track.ExternalURL(),
			HasGeometry: track.SimpleLine != "",
		}
		if track.Session != nil {
			payload.Name = track.Session.Name
			if track.Session.Sport != nil {
				payload.Sport = track.Session.Sport.Slug
			}
			if track.Session.Day != nil {
				payload.Date = dayString(&track.Session.Day.Date)
			}
		}
		if track.SplitTotal != nil {
			payload.DistanceMeters = track.SplitTotal.DistanceMeters
			payload.DurationSeconds = track.SplitTotal.DurationSeconds
		}
		out = append(out, payload)
	}
	c.JSON(http.StatusOK, gin.H{"tracks": out})
}

func (h *httpHandler) handleMonthStats(c *gin.Context) {
	year, err := strconv.Atoi(c.Param("year"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_year"})
		return
	}
	month, err := strconv.Atoi(c.Param("month"))
	if err != nil || month < 1 || month > 12 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_month"})
		return
	}

	payload, err := h.stats.Get(c.Request.Context(), h.athleteID(c), year, month)
	if err != nil {
		h.logger.Error("month stats lookup failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats_failed"})
		return
	}
	if payload == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_built"})
		return
	}
	c.JSON(http.StatusOK, payload)
}
