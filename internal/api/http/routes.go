package http

import "github.com/gin-gonic/gin"

// Register mounts the add-on routes on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)
	r.GET("/health", h.Health)

	addons := r.Group("/addons")
	addons.GET("", h.ListAddons)
	addons.GET("/pending", h.ListPending)
	addons.POST("/review", h.ReviewPackage)
	addons.POST("/reload", h.ReloadAddons)
	addons.GET("/:id", h.GetAddon)
	addons.GET("/:id/permissions", h.GetPermissions)
	addons.POST("/:id/approve", h.ApproveAddon)
	addons.POST("/:id/cancel", h.CancelAddon)
	addons.POST("/:id/toggle", h.ToggleAddon)
	addons.DELETE("/:id", h.UninstallAddon)

	r.GET("/navigation", h.Navigation)

	store := r.Group("/store")
	store.GET("/listings", h.ListListings)
	store.POST("/listings/:id/review", h.ReviewListing)
	store.GET("/addons/:id/ratings", h.GetRatings)
	store.POST("/addons/:id/ratings", h.SubmitRating)
}
