package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OpeningBalanceRetryProcessor re-applies opening-balance pushes that failed, or that
// the creating request never got to. Rows are claimed with FOR UPDATE SKIP LOCKED, so
// several replicas can run it side by side.
type OpeningBalanceRetryProcessor struct {
	DB        *gorm.DB
	Logger    *logrus.Logger
	WorkerID  string
	BatchSize int
	Interval  time.Duration
	LockTTL   time.Duration
}

func NewOpeningBalanceRetryProcessor(db *gorm.DB, logger *logrus.Logger) *OpeningBalanceRetryProcessor {
	return &OpeningBalanceRetryProcessor{
		DB:        db,
		Logger:    logger,
		WorkerID:  "ob-retry-" + uuid.NewString()[:8],
		BatchSize: 50,
		Interval:  2 * time.Second,
		LockTTL:   30 * time.Second,
	}
}

func (p *OpeningBalanceRetryProcessor) Run(ctx context.Context) {
	if p == nil || p.DB == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		p.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.Interval):
		}
	}
}

// ProcessOnce claims one batch of due pushes and applies them.
// It returns how many of them succeeded.
func (p *OpeningBalanceRetryProcessor) ProcessOnce(ctx context.Context) int {
	claimed, err := p.claim(ctx)
	if err != nil {
		if p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{
				"field":     "OpeningBalanceRetry",
				"worker_id": p.WorkerID,
			}).Error("claiming pushes failed: " + err.Error())
		}
		return 0
	}

	succeeded := 0
	for _, push := range claimed {
		procCtx := utils.SetTenantIdInContext(ctx, push.TenantId)
		procCtx = utils.SetUserIdInContext(procCtx, 0)
		procCtx = utils.SetUserNameInContext(procCtx, "System")
		procCtx = utils.SetCorrelationIdInContext(procCtx, push.CorrelationId)

		// failures are recorded on the row by the push itself
		if err := models.ProcessOpeningBalancePush(procCtx, p.DB, p.Logger, push.ID); err != nil {
			continue
		}
		succeeded++
	}
	return succeeded
}

func (p *OpeningBalanceRetryProcessor) claim(ctx context.Context) ([]models.OpeningBalancePush, error) {
	now := time.Now().UTC()
	staleBefore := now.Add(-p.LockTTL)
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	var claimed []models.OpeningBalancePush
	err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.
			Where("status IN ?", []models.PushStatus{models.PushStatusPending, models.PushStatusFailed, models.PushStatusProcessing}).
			Where("(next_attempt_at IS NULL OR next_attempt_at <= ?)", now).
			Where("(locked_at IS NULL OR locked_at <= ?)", staleBefore).
			Order("id ASC").
			Limit(batchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		if len(claimed) == 0 {
			return nil
		}
		ids := make([]int, 0, len(claimed))
		for _, c := range claimed {
			ids = append(ids, c.ID)
		}
		return tx.Model(&models.OpeningBalancePush{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":    models.PushStatusProcessing,
				"locked_at": &now,
				"locked_by": p.WorkerID,
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}
