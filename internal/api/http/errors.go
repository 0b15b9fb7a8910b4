package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/addonhost/backend/internal/domain/navigation"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// statusFor maps a domain error to an HTTP status
func statusFor(err error) int {
	var (
		pkgErr      *types.PackageError
		stagingErr  *types.StagingError
		loadErr     *types.LoadError
		unavailable *types.StoreUnavailableError
		persistErr  *types.PersistenceError
		tooLarge    *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &pkgErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, types.ErrAlreadyInProgress):
		return http.StatusConflict
	case errors.Is(err, navigation.ErrRouteConflict):
		return http.StatusConflict
	case errors.Is(err, types.ErrNotStaged),
		errors.Is(err, types.ErrNotInstalled),
		errors.Is(err, types.ErrListingNotFound):
		return http.StatusNotFound
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, types.ErrStoreRejected):
		return http.StatusBadGateway
	case errors.As(err, &stagingErr), errors.As(err, &loadErr), errors.As(err, &persistErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// errorKind is a stable machine-readable label for clients
func errorKind(err error) string {
	var (
		pkgErr      *types.PackageError
		stagingErr  *types.StagingError
		loadErr     *types.LoadError
		unavailable *types.StoreUnavailableError
		persistErr  *types.PersistenceError
	)
	switch {
	case errors.As(err, &pkgErr):
		return "package_" + string(pkgErr.Kind)
	case errors.Is(err, types.ErrAlreadyInProgress):
		return "already_in_progress"
	case errors.Is(err, types.ErrNotStaged):
		return "not_staged"
	case errors.Is(err, types.ErrNotInstalled):
		return "not_installed"
	case errors.Is(err, types.ErrListingNotFound):
		return "listing_not_found"
	case errors.As(err, &unavailable):
		return "store_unavailable"
	case errors.Is(err, types.ErrStoreRejected):
		return "store_rejected"
	case errors.As(err, &stagingErr):
		return "staging"
	case errors.As(err, &loadErr):
		return "load"
	case errors.As(err, &persistErr):
		return "persistence"
	default:
		return "internal"
	}
}

func (h *Handlers) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	body := gin.H{
		"success": false,
		"error":   err.Error(),
		"kind":    errorKind(err),
	}
	var pkgErr *types.PackageError
	if errors.As(err, &pkgErr) && len(pkgErr.Issues) > 0 {
		body["issues"] = pkgErr.Issues
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"success": false,
		"error":   err.Error(),
		"kind":    "invalid_request",
	})
}
