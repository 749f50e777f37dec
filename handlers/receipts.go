package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"go.opentelemetry.io/otel/attribute"
)

type receiptBatch struct {
	Receipts []*models.NewReceipt `json:"receipts"`
}

// createReceipts accepts one receipt object, or {"receipts": [...]}.
// The response mirrors the request shape.
func createReceipts(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "createReceipts")
	defer span.End()

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, "createReceipts", utils.AsValidationError(err))
		return
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		respondError(c, "createReceipts", utils.AsValidationError(err))
		return
	}

	var inputs []*models.NewReceipt
	_, isBatch := probe["receipts"]
	if isBatch {
		var batch receiptBatch
		if err := decodeBody(body, &batch); err != nil {
			respondError(c, "createReceipts", err)
			return
		}
		inputs = batch.Receipts
	} else {
		var single models.NewReceipt
		if err := decodeBody(body, &single); err != nil {
			respondError(c, "createReceipts", err)
			return
		}
		inputs = []*models.NewReceipt{&single}
	}
	span.SetAttributes(attribute.Int("receipt.count", len(inputs)), attribute.Bool("receipt.batch", isBatch))

	receipts, err := models.CreateReceipts(ctx, inputs)
	if err != nil {
		span.RecordError(err)
		respondError(c, "createReceipts", err)
		return
	}
	if isBatch {
		c.JSON(http.StatusCreated, gin.H{"receipts": receipts})
		return
	}
	c.JSON(http.StatusCreated, receipts[0])
}

func decodeBody(body []byte, dest interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(dest); err != nil {
		return utils.AsValidationError(err)
	}
	return nil
}

func listReceipts(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "listReceipts")
	defer span.End()

	page, pageSize, err := pageParams(c)
	if err != nil {
		respondError(c, "listReceipts", err)
		return
	}
	var filter models.ReceiptFilter
	if filter.MaterialId, err = queryInt(c, "material_id"); err != nil {
		respondError(c, "listReceipts", err)
		return
	}
	if filter.SiteId, err = queryInt(c, "site_id"); err != nil {
		respondError(c, "listReceipts", err)
		return
	}
	if filter.FromDate, err = queryDate(c, "from"); err != nil {
		respondError(c, "listReceipts", err)
		return
	}
	if filter.ToDate, err = queryDate(c, "to"); err != nil {
		respondError(c, "listReceipts", err)
		return
	}

	list, err := models.ListReceipts(ctx, filter, page, pageSize)
	if err != nil {
		respondError(c, "listReceipts", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func queryDate(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := utils.ParseDate(v)
	if err != nil {
		return nil, utils.FieldError(key, "invalid date")
	}
	return &t, nil
}

func getReceipt(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "getReceipt")
	defer span.End()

	id, ok := pathId(c)
	if !ok {
		return
	}
	receipt, err := models.GetReceipt(ctx, id)
	if err != nil {
		respondError(c, "getReceipt", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func updateReceipt(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "updateReceipt")
	defer span.End()

	id, ok := pathId(c)
	if !ok {
		return
	}
	var patch models.ReceiptPatch
	if !bindJSON(c, &patch) {
		return
	}
	receipt, err := models.UpdateReceipt(ctx, id, &patch)
	if err != nil {
		span.RecordError(err)
		respondError(c, "updateReceipt", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

func deleteReceipt(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "deleteReceipt")
	defer span.End()

	id, ok := pathId(c)
	if !ok {
		return
	}
	receipt, err := models.DeleteReceipt(ctx, id)
	if err != nil {
		span.RecordError(err)
		respondError(c, "deleteReceipt", err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}
