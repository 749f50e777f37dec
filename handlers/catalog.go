package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/utils"
)

func listMaterials(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "listMaterials")
	defer span.End()

	var name *string
	if v, ok := c.GetQuery("name"); ok {
		name = &v
	}
	materials, err := models.ListMaterials(ctx, name)
	if err != nil {
		respondError(c, "listMaterials", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"materials": materials})
}

func getMaterial(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "getMaterial")
	defer span.End()

	id, ok := pathId(c)
	if !ok {
		return
	}
	material, err := models.GetMaterial(ctx, id)
	if err != nil {
		respondError(c, "getMaterial", err)
		return
	}
	c.JSON(http.StatusOK, material)
}

func listMaterialAllocations(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "listMaterialAllocations")
	defer span.End()

	id, ok := pathId(c)
	if !ok {
		return
	}
	allocations, err := models.ListSiteAllocations(ctx, id)
	if err != nil {
		respondError(c, "listMaterialAllocations", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"allocations": allocations})
}

func createSite(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "createSite")
	defer span.End()

	var input models.NewSite
	if !bindJSON(c, &input) {
		return
	}
	site, err := models.CreateSite(ctx, &input)
	if err != nil {
		respondError(c, "createSite", err)
		return
	}
	c.JSON(http.StatusCreated, site)
}

func listSites(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "listSites")
	defer span.End()

	sites, err := models.ListSites(ctx)
	if err != nil {
		respondError(c, "listSites", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sites": sites})
}

type consumptionBatch struct {
	Records []*models.NewConsumptionRecord `json:"records" binding:"required"`
}

func createConsumptionRecords(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "createConsumptionRecords")
	defer span.End()

	var batch consumptionBatch
	if !bindJSON(c, &batch) {
		return
	}
	records, err := models.CreateConsumptionRecords(ctx, batch.Records)
	if err != nil {
		span.RecordError(err)
		respondError(c, "createConsumptionRecords", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"records": records})
}

func listConsumptionRecords(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "listConsumptionRecords")
	defer span.End()

	activity, err := queryInt(c, "work_activity_id")
	if err != nil {
		respondError(c, "listConsumptionRecords", err)
		return
	}
	material, err := queryInt(c, "material_id")
	if err != nil {
		respondError(c, "listConsumptionRecords", err)
		return
	}
	records, err := models.ListConsumptionRecords(ctx, activity, material)
	if err != nil {
		respondError(c, "listConsumptionRecords", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func listHistories(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "listHistories")
	defer span.End()

	refId, err := queryInt(c, "reference_id")
	if err != nil {
		respondError(c, "listHistories", err)
		return
	}
	refType := utils.NilIfEmpty(c.Query("reference_type"))
	histories, err := models.GetHistories(ctx, refId, refType)
	if err != nil {
		respondError(c, "listHistories", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"histories": histories})
}
