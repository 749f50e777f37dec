package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/utils"
)

type pushReplayRequest struct {
	PushId int  `json:"push_id" binding:"required"`
	Apply  bool `json:"apply"`
}

// replayOpeningBalancePush re-queues a FAILED or DEAD push of the caller's tenant.
// With apply=true it is processed right away instead of waiting for the retry worker.
func replayOpeningBalancePush(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "replayOpeningBalancePush")
	defer span.End()

	var req pushReplayRequest
	if !bindJSON(c, &req) {
		return
	}
	db := config.GetDB()
	push, err := models.RequeuePush(ctx, db, req.PushId)
	if err != nil {
		respondError(c, "replayOpeningBalancePush", err)
		return
	}

	if req.Apply {
		// a failed apply is recorded on the push; the response shows its state
		_ = models.ProcessOpeningBalancePush(ctx, db, config.GetLogger(), push.ID)
		if push, err = models.GetOpeningBalancePush(ctx, db, push.ID); err != nil {
			respondError(c, "replayOpeningBalancePush", err)
			return
		}
	}
	c.JSON(http.StatusOK, push)
}

func listReceiptPushes(c *gin.Context) {
	ctx, span := tracer.Start(c.Request.Context(), "listReceiptPushes")
	defer span.End()

	id, ok := pathId(c)
	if !ok {
		return
	}
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		respondError(c, "listReceiptPushes", err)
		return
	}
	if err := utils.ValidateResourceId[models.Receipt](ctx, tenantId, id); err != nil {
		respondError(c, "listReceiptPushes", err)
		return
	}
	pushes, err := models.ListReceiptPushes(ctx, config.GetDB(), id)
	if err != nil {
		respondError(c, "listReceiptPushes", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pushes": pushes})
}
