package models

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpeningBalancePush is the outbox row that carries one receipt's quantity into
// the material's opening balance. It is written in the receipt's transaction and
// applied after commit, by the request or later by the retry worker.
type OpeningBalancePush struct {
	ID            int             `gorm:"primary_key" json:"id"`
	TenantId      string          `gorm:"size:64;not null;index;index:idx_ob_push_dispatch,priority:2" json:"tenant_id"`
	ReceiptId     int             `gorm:"not null;index" json:"receipt_id"`
	MaterialId    *int            `gorm:"index" json:"material_id"`
	SiteId        *int            `json:"site_id"`
	Quantity      decimal.Decimal `gorm:"type:decimal(20,4);not null;default:0" json:"quantity"`
	Status        PushStatus      `gorm:"size:20;not null;default:'PENDING';index:idx_ob_push_dispatch,priority:1" json:"status"`
	Attempts      int             `gorm:"not null;default:0" json:"attempts"`
	NextAttemptAt *time.Time      `gorm:"index:idx_ob_push_dispatch,priority:3" json:"next_attempt_at"`
	LastError     *string         `gorm:"type:text" json:"last_error"`
	LockedAt      *time.Time      `json:"locked_at"`
	LockedBy      *string         `gorm:"size:100" json:"locked_by"`
	ProcessedAt   *time.Time      `json:"processed_at"`
	CorrelationId string          `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

var (
	// ErrPushMaterialUnresolved is returned while the receipt's material has no catalog entry.
	ErrPushMaterialUnresolved = errors.New("receipt material is not in the material catalog")
	// ErrPushReceiptMissing is permanent: the receipt was deleted.
	ErrPushReceiptMissing = errors.New("receipt no longer exists")
)

const (
	// PushClaimGrace keeps the retry worker away from pushes the request is still applying.
	PushClaimGrace = 30 * time.Second
	pushLockTTL    = 10 * time.Second
)

func newOpeningBalancePush(receipt *Receipt, correlationId string) *OpeningBalancePush {
	next := time.Now().UTC().Add(PushClaimGrace)
	return &OpeningBalancePush{
		TenantId:      receipt.TenantId,
		ReceiptId:     receipt.ID,
		MaterialId:    receipt.MaterialId,
		SiteId:        receipt.SiteId,
		Quantity:      receipt.Quantity,
		Status:        PushStatusPending,
		NextAttemptAt: &next,
		CorrelationId: correlationId,
	}
}

// PushBackoff is base * 2^(attempt-1), capped at cfg.MaxBackoff.
func PushBackoff(attempt int, cfg config.PushRetryConfig) time.Duration {
	if attempt <= 0 {
		return cfg.BaseBackoff
	}
	exp := float64(attempt - 1)
	delay := time.Duration(float64(cfg.BaseBackoff) * math.Pow(2, exp))
	if delay > cfg.MaxBackoff || delay <= 0 {
		return cfg.MaxBackoff
	}
	return delay
}

// ProcessOpeningBalancePush applies one push. It is idempotent: a push already
// SUCCEEDED or DEAD is left alone, and success is recorded in the same transaction
// as the balance change, so a push is never applied twice.
func ProcessOpeningBalancePush(ctx context.Context, db *gorm.DB, logger *logrus.Logger, pushId int) error {
	var push OpeningBalancePush
	if err := db.WithContext(ctx).First(&push, pushId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorRecordNotFound
		}
		return err
	}
	if push.Status.IsTerminal() {
		return nil
	}

	if push.MaterialId != nil {
		release := utils.TryLock(ctx, utils.MaterialLockKey(push.TenantId, *push.MaterialId), pushLockTTL)
		defer release()
	}

	applied := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current OpeningBalancePush
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, pushId).Error; err != nil {
			return err
		}
		if current.Status.IsTerminal() {
			return nil
		}
		if err := applyOpeningBalancePush(tx, &current); err != nil {
			return err
		}
		now := time.Now().UTC()
		if err := tx.Model(&OpeningBalancePush{}).
			Where("id = ?", current.ID).
			Updates(map[string]interface{}{
				"status":          PushStatusSucceeded,
				"attempts":        current.Attempts + 1,
				"material_id":     current.MaterialId,
				"processed_at":    &now,
				"next_attempt_at": nil,
				"last_error":      nil,
				"locked_at":       nil,
				"locked_by":       nil,
			}).Error; err != nil {
			return err
		}
		push = current
		applied = true
		return nil
	})
	if err != nil {
		markPushFailure(ctx, db, logger, &push, err)
		return err
	}
	if !applied {
		return nil
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":          "OpeningBalancePush",
			"tenant_id":      push.TenantId,
			"receipt_id":     push.ReceiptId,
			"push_id":        push.ID,
			"correlation_id": push.CorrelationId,
		}).Info("opening balance applied")
	}
	publishOpeningBalanceApplied(ctx, logger, &push)
	return nil
}

// applyOpeningBalancePush performs the balance change of one push inside tx.
//
// unallocated receipt:  catalog.opening_balance += quantity
// site receipt:         allocation(material, site) += quantity, then
//                       catalog.opening_balance = sum of the material's allocations
func applyOpeningBalancePush(tx *gorm.DB, push *OpeningBalancePush) error {
	if push.MaterialId == nil {
		if err := resolvePushMaterial(tx, push); err != nil {
			return err
		}
	}

	// the row lock on the catalog entry serializes concurrent pushes of one material
	entry, err := utils.FetchModelForUpdate[MaterialCatalogEntry](tx, push.TenantId, *push.MaterialId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return fmt.Errorf("%w: material id %d", ErrPushMaterialUnresolved, *push.MaterialId)
		}
		return err
	}

	if push.SiteId == nil {
		return ApplyOpeningBalanceDelta(tx, push.TenantId, entry.ID, push.Quantity)
	}
	if err := AddSiteOpeningBalance(tx, push.TenantId, entry.ID, *push.SiteId, push.Quantity); err != nil {
		return err
	}
	total, err := TotalSiteOpeningBalance(tx, push.TenantId, entry.ID)
	if err != nil {
		return err
	}
	return SetOpeningBalance(tx, push.TenantId, entry.ID, total)
}

// resolvePushMaterial retries the catalog lookup by the receipt's material name,
// for receipts recorded before their material was purchased.
func resolvePushMaterial(tx *gorm.DB, push *OpeningBalancePush) error {
	var receipt Receipt
	if err := tx.Where("tenant_id = ? AND id = ?", push.TenantId, push.ReceiptId).Limit(1).Find(&receipt).Error; err != nil {
		return err
	}
	if receipt.ID == 0 {
		return ErrPushReceiptMissing
	}
	entry, err := FindMaterialByName(tx, push.TenantId, receipt.MaterialName)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			return fmt.Errorf("%w: %q", ErrPushMaterialUnresolved, receipt.MaterialName)
		}
		return err
	}
	id := entry.ID
	push.MaterialId = &id
	return tx.Model(&Receipt{}).Where("tenant_id = ? AND id = ?", push.TenantId, receipt.ID).
		Update("material_id", id).Error
}

// markPushFailure records a failed attempt. The push turns DEAD at the attempt
// limit, or at once when the receipt is gone.
func markPushFailure(ctx context.Context, db *gorm.DB, logger *logrus.Logger, push *OpeningBalancePush, cause error) {
	cfg := config.GetPushRetryConfig()
	now := time.Now().UTC()
	errMsg := cause.Error()

	var current OpeningBalancePush
	if err := db.WithContext(ctx).Select("id, attempts, status").Where("id = ?", push.ID).First(&current).Error; err != nil {
		config.LogError(logger, "openingBalancePush.go", "markPushFailure", "reading attempts", push.ID, err)
		return
	}
	if current.Status.IsTerminal() {
		return
	}

	attempts := current.Attempts + 1
	status := PushStatusFailed
	var nextAttemptAt *time.Time
	if attempts >= cfg.MaxAttempts || errors.Is(cause, ErrPushReceiptMissing) {
		status = PushStatusDead
	} else {
		t := now.Add(PushBackoff(attempts, cfg))
		nextAttemptAt = &t
	}

	err := db.WithContext(ctx).Model(&OpeningBalancePush{}).
		Where("id = ?", push.ID).
		Updates(map[string]interface{}{
			"status":          status,
			"attempts":        attempts,
			"next_attempt_at": nextAttemptAt,
			"last_error":      &errMsg,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
	if err != nil {
		config.LogError(logger, "openingBalancePush.go", "markPushFailure", "recording failure", push.ID, err)
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"field":          "OpeningBalancePush",
			"tenant_id":      push.TenantId,
			"receipt_id":     push.ReceiptId,
			"push_id":        push.ID,
			"status":         status,
			"attempts":       attempts,
			"correlation_id": push.CorrelationId,
		}).Error("opening balance push failed: " + errMsg)
	}
	push.Status = status
	push.Attempts = attempts
	push.NextAttemptAt = nextAttemptAt
	push.LastError = &errMsg
}

// cancelPendingPushes marks unapplied pushes of a receipt DEAD.
func cancelPendingPushes(tx *gorm.DB, tenantId string, receiptId int, reason string) error {
	return tx.Model(&OpeningBalancePush{}).
		Where("tenant_id = ? AND receipt_id = ? AND status IN ?", tenantId, receiptId,
			[]PushStatus{PushStatusPending, PushStatusProcessing, PushStatusFailed}).
		Updates(map[string]interface{}{
			"status":          PushStatusDead,
			"next_attempt_at": nil,
			"last_error":      &reason,
			"locked_at":       nil,
			"locked_by":       nil,
		}).Error
}

func publishOpeningBalanceApplied(ctx context.Context, logger *logrus.Logger, push *OpeningBalancePush) {
	if config.InventoryTopic() == "" {
		return
	}
	ev := config.InventoryEvent{
		Type:          "opening_balance.applied",
		TenantId:      push.TenantId,
		ReceiptId:     push.ReceiptId,
		MaterialId:    utils.DereferencePtr(push.MaterialId),
		SiteId:        push.SiteId,
		Quantity:      push.Quantity.String(),
		OccurredAt:    time.Now().UTC(),
		CorrelationId: push.CorrelationId,
	}
	if _, err := config.PublishInventoryEvent(ctx, ev); err != nil {
		config.LogError(logger, "openingBalancePush.go", "publishOpeningBalanceApplied", "publishing inventory event", push.ID, err)
	}
}

// RequeuePush moves a FAILED or DEAD push back to PENDING with a fresh attempt budget.
func RequeuePush(ctx context.Context, db *gorm.DB, pushId int) (*OpeningBalancePush, error) {
	var push OpeningBalancePush
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&push, pushId).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.ErrorRecordNotFound
			}
			return err
		}
		if push.Status == PushStatusSucceeded {
			return utils.NewValidationError("push has already been applied")
		}
		var count int64
		if err := tx.Model(&Receipt{}).Where("tenant_id = ? AND id = ?", push.TenantId, push.ReceiptId).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return utils.NewValidationError("receipt of this push was deleted")
		}
		now := time.Now().UTC()
		push.Status = PushStatusPending
		push.Attempts = 0
		push.NextAttemptAt = &now
		push.LockedAt = nil
		push.LockedBy = nil
		return tx.Model(&OpeningBalancePush{}).
			Where("id = ?", push.ID).
			Updates(map[string]interface{}{
				"status":          PushStatusPending,
				"attempts":        0,
				"next_attempt_at": &now,
				"locked_at":       nil,
				"locked_by":       nil,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return &push, nil
}

func GetOpeningBalancePush(ctx context.Context, db *gorm.DB, pushId int) (*OpeningBalancePush, error) {
	var push OpeningBalancePush
	if err := db.WithContext(ctx).First(&push, pushId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &push, nil
}

func ListReceiptPushes(ctx context.Context, db *gorm.DB, receiptId int) ([]*OpeningBalancePush, error) {
	var pushes []*OpeningBalancePush
	if err := db.WithContext(ctx).Where("receipt_id = ?", receiptId).Order("id").Find(&pushes).Error; err != nil {
		return nil, err
	}
	return pushes, nil
}
