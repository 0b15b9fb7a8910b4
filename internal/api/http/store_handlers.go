package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/utils"
)

var errStoreNotConfigured = &types.StoreUnavailableError{
	Op:  "configure",
	Err: errors.New("no store url configured"),
}

// ListListings lists the remote store catalog
func (h *Handlers) ListListings(c *gin.Context) {
	if h.storeClient == nil {
		h.fail(c, errStoreNotConfigured)
		return
	}
	listings, err := h.storeClient.ListListings(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"listings": listings,
		"count":    len(listings),
	})
}

// GetRatings lists ratings for an add-on
func (h *Handlers) GetRatings(c *gin.Context) {
	if h.storeClient == nil {
		h.fail(c, errStoreNotConfigured)
		return
	}
	addonID, ok := addonParam(c)
	if !ok {
		return
	}
	ratings, err := h.storeClient.GetRatings(c.Request.Context(), addonID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"addon_id": addonID,
		"ratings":  ratings,
	})
}

type ratingRequest struct {
	Rating int    `json:"rating" binding:"required"`
	Review string `json:"review"`
}

// SubmitRating rates an add-on in the remote store
func (h *Handlers) SubmitRating(c *gin.Context) {
	if h.storeClient == nil {
		h.fail(c, errStoreNotConfigured)
		return
	}
	addonID, ok := addonParam(c)
	if !ok {
		return
	}
	var req ratingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := utils.ValidateRating(req.Rating, req.Review); err != nil {
		badRequest(c, err)
		return
	}
	rating, err := h.storeClient.SubmitRating(c.Request.Context(), addonID, req.Rating, req.Review)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "rating": rating})
}

// ReviewListing downloads a store listing and stages it for consent. An
// already-installed add-on goes through the same full review.
func (h *Handlers) ReviewListing(c *gin.Context) {
	listingID := c.Param("id")
	if err := utils.ValidateID(listingID, "listing id", true); err != nil {
		badRequest(c, err)
		return
	}
	rv, err := h.pipeline.ReviewFromStore(c.Request.Context(), listingID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "review": rv})
}
