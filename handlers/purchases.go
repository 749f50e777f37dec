package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sitestock_backend/models"
	"go.opentelemetry.io/otel/attribute"
)

func createPurchase(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "createPurchase")
	defer span.End()

	var input models.NewPurchase
	if !bindJSON(c, &input) {
		return
	}
	purchase, err := models.CreatePurchase(ctx, &input)
	if err != nil {
		span.RecordError(err)
		respondError(c, "createPurchase", err)
		return
	}
	span.SetAttributes(attribute.Int("purchase.id", purchase.ID))
	c.JSON(http.StatusCreated, purchase)
}

func listPurchases(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "listPurchases")
	defer span.End()

	page, pageSize, err := pageParams(c)
	if err != nil {
		respondError(c, "listPurchases", err)
		return
	}
	list, err := models.ListPurchases(ctx, page, pageSize)
	if err != nil {
		span.RecordError(err)
		respondError(c, "listPurchases", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func getPurchase(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "getPurchase")
	defer span.End()

	id, ok := pathId(c)
	if !ok {
		return
	}
	purchase, err := models.GetPurchase(ctx, id)
	if err != nil {
		respondError(c, "getPurchase", err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

func updatePurchase(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "updatePurchase")
	defer span.End()

	id, ok := pathId(c)
	if !ok {
		return
	}
	var patch models.PurchasePatch
	if !bindJSON(c, &patch) {
		return
	}
	purchase, err := models.UpdatePurchase(ctx, id, &patch)
	if err != nil {
		span.RecordError(err)
		respondError(c, "updatePurchase", err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}

func deletePurchase(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "deletePurchase")
	defer span.End()

	id, ok := pathId(c)
	if !ok {
		return
	}
	purchase, err := models.DeletePurchase(ctx, id)
	if err != nil {
		span.RecordError(err)
		respondError(c, "deletePurchase", err)
		return
	}
	c.JSON(http.StatusOK, purchase)
}
