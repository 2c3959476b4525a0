package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"submaker/internal/cache"
	"submaker/internal/config"
	"submaker/internal/models"
	"submaker/utils"
)

var validate = validator.New()

// TranslateRequest is the POST /translate body. Grounded on the teacher's
// middleware/input_validation.go convention of driving field constraints
// through go-playground/validator struct tags rather than hand-rolled
// checks per handler.
type TranslateRequest struct {
	SourceFileID string           `json:"sourceFileId" binding:"required" validate:"required"`
	TargetLang   string           `json:"targetLang" binding:"required" validate:"required,len=3"`
	Bypass       bool             `json:"bypass"`
	ForceRefresh bool             `json:"forceRefresh"`
	ConfigToken  string           `json:"configToken"`
	Segments     []models.Segment `json:"segments"`
}

// TranslateResponse mirrors the current cache entry snapshot.
type TranslateResponse struct {
	Success bool               `json:"success"`
	Entry   *models.CacheEntry `json:"entry,omitempty"`
}

// StartTranslation handles POST /translate.
// @Summary Initiate (or join) a singleflight translation build
// @Tags translate
// @Accept json
// @Produce json
// @Param body body TranslateRequest true "translation request"
// @Success 200 {object} TranslateResponse
// @Failure 400 {object} utils.ErrorResponse
// @Router /translate [post]
func (h *Handlers) StartTranslation(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendErrorResponse(c, h.logger, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		utils.SendErrorResponse(c, h.logger, http.StatusBadRequest, "validation failed", err)
		return
	}

	configHash := h.resolveConfigHash(req.ConfigToken)
	if configHash != "" && h.sessions != nil {
		if err := h.sessions.Touch(c.Request.Context(), configHash, nil); err != nil && h.logger != nil {
			h.logger.Warn("handlers: session touch failed", zap.Error(err))
		}
	}

	entry, err := h.cache.BuildOrSubscribe(c.Request.Context(), cache.Request{
		SourceFileID: req.SourceFileID,
		TargetLang:   req.TargetLang,
		Bypass:       req.Bypass,
		ConfigHash:   configHash,
		Segments:     req.Segments,
		ForceRefresh: req.ForceRefresh,
	})
	if err != nil {
		if errors.Is(err, cache.ErrConfigHashRequired) {
			utils.SendErrorResponse(c, nil, http.StatusBadRequest, "configToken required for this write", err)
			return
		}
		if h.logger != nil {
			h.logger.Error("handlers: translation build failed", zap.Error(err))
		}
		utils.SendErrorResponse(c, nil, http.StatusInternalServerError, "translation failed", err)
		return
	}
	c.JSON(http.StatusOK, TranslateResponse{Success: true, Entry: entry})
}

// GetTranslation handles GET /translation/<baseKey>?scope=<permanent|bypass>.
// @Summary Read the current translation cache snapshot
// @Tags translate
// @Produce json
// @Param baseKey path string true "sourceFileId_targetLang"
// @Param scope query string false "permanent or bypass"
// @Param configToken query string false "required when scope=bypass"
// @Success 200 {object} TranslateResponse
// @Failure 404 {object} utils.ErrorResponse
// @Router /translation/{baseKey} [get]
func (h *Handlers) GetTranslation(c *gin.Context) {
	baseKey := c.Param("baseKey")
	scope := c.Query("scope")
	configHash := h.resolveConfigHash(c.Query("configToken"))

	keys := cache.Keys{BaseKey: baseKey, ScopedKey: baseKey, RuntimeKey: baseKey}
	if scope == "bypass" && configHash != "" {
		keys.ScopedKey = baseKey + "__u_" + configHash
		keys.RuntimeKey = keys.ScopedKey
		keys.BypassEnabled = true
	}

	entry, err := h.cache.Get(c.Request.Context(), keys)
	if err != nil {
		utils.SendErrorResponse(c, nil, http.StatusNotFound, "no translation entry for this key", nil)
		return
	}
	c.JSON(http.StatusOK, TranslateResponse{Success: true, Entry: entry})
}

// resolveConfigHash computes the glossary's "Config hash" from a raw config
// token, returning empty on any validation failure — a missing/invalid
// token simply means the caller gets permanent-scope behavior.
func (h *Handlers) resolveConfigHash(token string) string {
	if token == "" {
		return ""
	}
	hash, err := config.ComputeConfigHash(token, []byte(h.cfg.Security.ConfigTokenSecret))
	if err != nil {
		return ""
	}
	return hash
}
