// Package api provides the HTTP API over the drop and marketplace services.
package api

import (
	"github.com/gin-gonic/gin"
)

// NewRouter builds the gin engine with all routes registered.
func NewRouter(h *Handler, mode string, isAdmin func(int64) bool) *gin.Engine {
	gin.SetMode(mode)

	r := gin.New()
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(RecoveryMiddleware())

	r.GET("/health", h.Health)

	v1 := r.Group("/api/v1")

	// Called by the payment processor, not by players.
	v1.POST("/payments/confirmed", h.PaymentConfirmed)

	v1.GET("/packs", h.ListPacks)
	v1.GET("/listings", h.ListListings)
	v1.GET("/listings/:id", h.GetListing)
	v1.GET("/collections/:id/scarcity", h.Scarcity)

	user := v1.Group("")
	user.Use(AuthMiddleware())
	{
		user.POST("/packs/:id/open", h.OpenPack)
		user.POST("/listings", h.CreateListing)
		user.DELETE("/listings/:id", h.CancelListing)
		user.POST("/listings/:id/purchase", h.Purchase)
		user.POST("/items/:id/autosell", h.AutoSell)
		user.GET("/users/me/items", h.MyItems)
		user.GET("/users/me/balance", h.MyBalance)
		user.GET("/users/me/transactions", h.MyTransactions)
	}

	admin := v1.Group("/admin")
	admin.Use(AuthMiddleware(), AdminMiddleware(isAdmin))
	{
		admin.GET("/rules", h.ListRules)
		admin.PATCH("/rules/:id", h.UpdateRule)
		admin.GET("/risk-signals", h.RiskSignals)
		admin.POST("/reconcile", h.Reconcile)
	}

	return r
}
