package addonstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/utils"
)

type ratingsPage struct {
	Ratings []types.Rating `json:"ratings"`
}

type ratingRequest struct {
	Rating int    `json:"rating"`
	Review string `json:"review,omitempty"`
}

// GetRatings returns the ratings of addonID
func (c *Client) GetRatings(ctx context.Context, addonID string) ([]types.Rating, error) {
	if err := utils.ValidateAddonID(addonID); err != nil {
		return nil, err
	}
	var page ratingsPage
	_, err := c.do(ctx, OpGetRatings, func(r *resty.Request) (*resty.Response, error) {
		return r.SetResult(&page).
			SetPathParam("addonId", addonID).
			Get("/addons/{addonId}/ratings")
	})
	if err != nil {
		return nil, err
	}
	return page.Ratings, nil
}

// SubmitRating posts a rating after validating it locally
func (c *Client) SubmitRating(ctx context.Context, addonID string, rating int, review string) (*types.Rating, error) {
	if err := utils.ValidateAddonID(addonID); err != nil {
		return nil, err
	}
	review = strings.TrimSpace(review)
	if err := utils.ValidateRating(rating, review); err != nil {
		return nil, fmt.Errorf("invalid rating: %w", err)
	}

	var created types.Rating
	_, err := c.do(ctx, OpSubmitRating, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(ratingRequest{Rating: rating, Review: review}).
			SetResult(&created).
			SetPathParam("addonId", addonID).
			Post("/addons/{addonId}/ratings")
	})
	if err != nil {
		return nil, err
	}
	c.InvalidateListings()
	if created.AddonID == "" {
		created.AddonID = addonID
	}
	return &created, nil
}
