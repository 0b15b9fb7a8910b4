package http

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/domain/addonstore"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/navigation"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/pipeline"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/risk"
	"github.com/GriffinCanCode/addonhost/backend/internal/domain/runtime"
	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/utils"
)

// Version is reported by the root endpoint
const Version = "1.0.0"

// Deps are the collaborators the handlers serve
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Registry   *runtime.Registry
	Store      runtime.Store
	Navigation *navigation.Host
	Classifier *risk.Classifier
	// StoreClient is nil when no remote store is configured
	StoreClient     *addonstore.Client
	Metrics         *monitoring.Metrics
	MaxPackageBytes int64
	Logger          *zap.Logger
}

// Handlers contains all HTTP handlers
type Handlers struct {
	pipeline    *pipeline.Pipeline
	registry    *runtime.Registry
	store       runtime.Store
	nav         *navigation.Host
	classifier  *risk.Classifier
	storeClient *addonstore.Client
	metrics     *monitoring.Metrics
	maxPackage  int64
	logger      *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	classifier := deps.Classifier
	if classifier == nil {
		classifier = risk.NewClassifier(risk.DefaultTable)
	}
	maxPackage := deps.MaxPackageBytes
	if maxPackage <= 0 {
		maxPackage = 32 << 20
	}
	return &Handlers{
		pipeline:    deps.Pipeline,
		registry:    deps.Registry,
		store:       deps.Store,
		nav:         deps.Navigation,
		classifier:  classifier,
		storeClient: deps.StoreClient,
		metrics:     deps.Metrics,
		maxPackage:  maxPackage,
		logger:      logger.Named("api"),
	}
}

// addonView is an install record plus its runtime state
type addonView struct {
	*types.InstalledAddon
	Loaded        bool                   `json:"loaded"`
	Tier          types.RiskTier         `json:"tier"`
	Contributions []runtime.Contribution `json:"contributions,omitempty"`
}

func (h *Handlers) view(rec *types.InstalledAddon, withContributions bool) addonView {
	v := addonView{
		InstalledAddon: rec,
		Tier:           h.classifier.Classify(rec.ApprovedCapabilities),
	}
	if handle, ok := h.registry.Handle(rec.ID()); ok {
		v.Loaded = true
		if withContributions {
			v.Contributions = handle.Contributions()
		}
	}
	return v
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "Add-on Host",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	addons, err := h.store.GetInstalledAddons(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	enabled := 0
	for _, a := range addons {
		if a.Enabled {
			enabled++
		}
	}

	storeStatus := gin.H{"configured": h.storeClient != nil}
	if h.storeClient != nil {
		storeStatus["breaker"] = h.storeClient.BreakerState().String()
	}

	body := gin.H{
		"status": "healthy",
		"addons": gin.H{
			"installed": len(addons),
			"enabled":   enabled,
			"loaded":    len(h.registry.Loaded()),
			"staged":    len(h.pipeline.Pending()),
		},
		"store": storeStatus,
	}
	if h.metrics != nil {
		body["metrics"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// ListAddons lists installed add-ons in install order
func (h *Handlers) ListAddons(c *gin.Context) {
	addons, err := h.store.GetInstalledAddons(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	views := make([]addonView, 0, len(addons))
	for _, a := range addons {
		views = append(views, h.view(a, false))
	}
	c.JSON(http.StatusOK, gin.H{
		"addons": views,
		"count":  len(views),
	})
}

// GetAddon returns one install record with its live contributions
func (h *Handlers) GetAddon(c *gin.Context) {
	addonID, ok := addonParam(c)
	if !ok {
		return
	}
	rec, err := h.store.GetInstalledAddon(c.Request.Context(), addonID)
	if err != nil {
		h.fail(c, err)
		return
	}
	body := gin.H{"addon": h.view(rec, true)}
	if attempt, ok := h.pipeline.Attempt(addonID); ok {
		body["attempt"] = attempt
	}
	c.JSON(http.StatusOK, body)
}

// GetPermissions returns the approved capabilities grouped for display
func (h *Handlers) GetPermissions(c *gin.Context) {
	addonID, ok := addonParam(c)
	if !ok {
		return
	}
	rec, err := h.store.GetInstalledAddon(c.Request.Context(), addonID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"addon_id":     addonID,
		"capabilities": rec.ApprovedCapabilities,
		"summary":      h.classifier.Summarize(rec.ApprovedCapabilities),
	})
}

// ListPending lists staged packages awaiting consent
func (h *Handlers) ListPending(c *gin.Context) {
	pending := h.pipeline.Pending()
	c.JSON(http.StatusOK, gin.H{
		"pending": pending,
		"count":   len(pending),
	})
}

// ReviewPackage stages an uploaded package and returns the permission review.
// The package is either the raw request body or the multipart field "package".
func (h *Handlers) ReviewPackage(c *gin.Context) {
	data, err := h.readPackage(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.fail(c, err)
			return
		}
		badRequest(c, err)
		return
	}
	rv, err := h.pipeline.Review(c.Request.Context(), data)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "review": rv})
}

func (h *Handlers) readPackage(c *gin.Context) ([]byte, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxPackage+(1<<20))

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		header, err := c.FormFile("package")
		if err != nil {
			return nil, fmt.Errorf("multipart field %q: %w", "package", err)
		}
		if header.Size > h.maxPackage {
			return nil, &http.MaxBytesError{Limit: h.maxPackage}
		}
		f, err := header.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return readLimited(f, h.maxPackage)
	}
	return readLimited(c.Request.Body, h.maxPackage)
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, &http.MaxBytesError{Limit: limit}
	}
	if n == 0 {
		return nil, errors.New("empty package body")
	}
	return buf.Bytes(), nil
}

type approveRequest struct {
	// Enable defaults to true when omitted
	Enable *bool `json:"enable"`
}

// ApproveAddon installs the staged package of :id
func (h *Handlers) ApproveAddon(c *gin.Context) {
	addonID, ok := addonParam(c)
	if !ok {
		return
	}
	var req approveRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			badRequest(c, err)
			return
		}
	}
	enable := req.Enable == nil || *req.Enable

	rec, err := h.pipeline.Approve(c.Request.Context(), addonID, enable)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "addon": h.view(rec, true)})
}

// CancelAddon discards the staged package of :id
func (h *Handlers) CancelAddon(c *gin.Context) {
	addonID, ok := addonParam(c)
	if !ok {
		return
	}
	if err := h.pipeline.Cancel(c.Request.Context(), addonID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "addon_id": addonID})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ToggleAddon enables or disables an installed add-on
func (h *Handlers) ToggleAddon(c *gin.Context) {
	addonID, ok := addonParam(c)
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.pipeline.Toggle(c.Request.Context(), addonID, *req.Enabled); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"addon_id": addonID,
		"enabled":  *req.Enabled,
		"loaded":   h.registry.IsLoaded(addonID),
	})
}

// UninstallAddon removes an installed add-on
func (h *Handlers) UninstallAddon(c *gin.Context) {
	addonID, ok := addonParam(c)
	if !ok {
		return
	}
	if err := h.pipeline.Uninstall(c.Request.Context(), addonID); err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "addon_id": addonID})
}

// ReloadAddons unloads everything and loads every enabled add-on again
func (h *Handlers) ReloadAddons(c *gin.Context) {
	report, err := h.pipeline.ReloadAll(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	if report.Aborted != nil {
		h.fail(c, report.Aborted)
		return
	}
	if report.StoreErr != nil {
		h.fail(c, report.StoreErr)
		return
	}
	failures := make(map[string]string, len(report.Failures))
	for id, err := range report.Failures {
		failures[id] = err.Error()
	}
	c.JSON(http.StatusOK, gin.H{
		"success":  len(failures) == 0,
		"unloaded": report.Unloaded,
		"loaded":   report.Loaded,
		"failures": failures,
	})
}

// Navigation returns the current sidebar and routes
func (h *Handlers) Navigation(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"sidebar": h.nav.Sidebar(),
		"routes":  h.nav.Routes(),
	})
}

func addonParam(c *gin.Context) (string, bool) {
	addonID := c.Param("id")
	if err := utils.ValidateAddonID(addonID); err != nil {
		badRequest(c, err)
		return "", false
	}
	return addonID, true
}
