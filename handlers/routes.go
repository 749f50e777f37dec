// Package handlers exposes the inventory ledger over REST.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sitestock_backend/middlewares"
	"github.com/mmdatafocus/sitestock_backend/models"
)

// RegisterRoutes mounts the ledger endpoints. The session middleware must run before them.
func RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	mutate := middlewares.RequireRoles(models.InventoryMutatingRoles...)

	api := r.Group("/api", middlewares.RequireSession())
	{
		api.POST("/purchases", mutate, createPurchase)
		api.GET("/purchases", listPurchases)
		api.GET("/purchases/:id", getPurchase)
		api.PATCH("/purchases/:id", mutate, updatePurchase)
		api.DELETE("/purchases/:id", mutate, deletePurchase)

		api.POST("/receipts", mutate, createReceipts)
		api.GET("/receipts", listReceipts)
		api.GET("/receipts/:id", getReceipt)
		api.GET("/receipts/:id/pushes", listReceiptPushes)
		api.PATCH("/receipts/:id", mutate, updateReceipt)
		api.DELETE("/receipts/:id", mutate, deleteReceipt)

		api.POST("/consumptions", mutate, createConsumptionRecords)
		api.GET("/consumptions", listConsumptionRecords)

		api.GET("/materials", listMaterials)
		api.GET("/materials/:id", getMaterial)
		api.GET("/materials/:id/allocations", listMaterialAllocations)

		api.POST("/sites", mutate, createSite)
		api.GET("/sites", listSites)

		api.GET("/histories", listHistories)
	}

	ops := r.Group("/internal/ops", middlewares.RequireSession(), middlewares.RequireRoles(models.UserRoleOwner, models.UserRoleAdmin))
	ops.POST("/opening-balance/replay", replayOpeningBalancePush)
}
