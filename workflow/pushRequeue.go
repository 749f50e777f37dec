package workflow

import (
	"context"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// RequeueDeadPushes moves DEAD pushes back to PENDING so the retry worker picks them up.
// Pushes of deleted receipts stay DEAD. tenantId and receiptId narrow the selection when set.
func RequeueDeadPushes(ctx context.Context, db *gorm.DB, logger *logrus.Logger, tenantId string, receiptId int) (int, error) {
	q := db.WithContext(ctx).Model(&models.OpeningBalancePush{}).Where("status = ?", models.PushStatusDead)
	if tenantId != "" {
		q = q.Where("tenant_id = ?", tenantId)
	}
	if receiptId > 0 {
		q = q.Where("receipt_id = ?", receiptId)
	}
	var ids []int
	if err := q.Order("id").Pluck("id", &ids).Error; err != nil {
		config.LogError(logger, "pushRequeue.go", "RequeueDeadPushes", "listing dead pushes", tenantId, err)
		return 0, err
	}

	requeued := 0
	for _, id := range ids {
		push, err := models.RequeuePush(ctx, db, id)
		if err != nil {
			if utils.IsValidationError(err) {
				if logger != nil {
					logger.WithFields(logrus.Fields{
						"field":   "RequeueDeadPushes",
						"push_id": id,
					}).Warn("push left DEAD: " + err.Error())
				}
				continue
			}
			return requeued, err
		}
		requeued++
		if logger != nil {
			logger.WithFields(logrus.Fields{
				"field":      "RequeueDeadPushes",
				"tenant_id":  push.TenantId,
				"receipt_id": push.ReceiptId,
				"push_id":    push.ID,
			}).Info("dead push requeued")
		}
	}
	return requeued, nil
}
