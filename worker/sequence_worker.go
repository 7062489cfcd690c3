package worker

import (
	"context"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"leadflow/config"
	"leadflow/models"
)

// SequenceWorker sweeps due enrollments and hands each to the executor under
// a per-enrollment single-flight claim. Enrollments are fully independent;
// the sweep fans out across them with bounded concurrency.
type SequenceWorker struct {
	DB       *gorm.DB
	Executor *Executor
	Locker   EnrollmentLocker
	Config   config.WorkerConfig
}

func NewSequenceWorker(db *gorm.DB, executor *Executor, locker EnrollmentLocker, cfg config.WorkerConfig) *SequenceWorker {
	return &SequenceWorker{
		DB:       db,
		Executor: executor,
		Locker:   locker,
		Config:   cfg,
	}
}

func (sw *SequenceWorker) Start(ctx context.Context) {
	// Initial delay to let the server start up
	time.Sleep(5 * time.Second)

	logrus.Info("sequence worker started")

	ticker := time.NewTicker(sw.Config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("sequence worker shutting down...")
			return
		case <-ticker.C:
			sw.Sweep(ctx)
		}
	}
}

// Sweep processes every enrollment that is due right now, up to the batch
// size. Claim failures mean another worker owns the enrollment; they are
// skipped, not errors.
func (sw *SequenceWorker) Sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			sentry.CurrentHub().Recover(r)
			logrus.WithField("panic", r).Error("sweep panicked")
		}
	}()

	var due []uint
	err := sw.DB.Model(&models.SequenceEnrollment{}).
		Where("status = ? AND next_step_scheduled_at IS NOT NULL AND next_step_scheduled_at <= ?",
			models.EnrollmentActive, sw.Executor.Now()).
		Order("next_step_scheduled_at").
		Limit(sw.Config.SweepBatchSize).
		Pluck("id", &due).Error
	if err != nil {
		logrus.WithError(err).Error("failed to query due enrollments")
		return
	}

	if len(due) == 0 {
		return
	}
	logrus.WithField("count", len(due)).Debug("sweeping due enrollments")

	sem := make(chan struct{}, sw.Config.Concurrency)
	var wg sync.WaitGroup
	for _, enrollmentID := range due {
		sem <- struct{}{}
		wg.Add(1)
		go func(id uint) {
			defer wg.Done()
			defer func() { <-sem }()
			sw.processOne(ctx, id)
		}(enrollmentID)
	}
	wg.Wait()
}

func (sw *SequenceWorker) processOne(ctx context.Context, enrollmentID uint) {
	locked, err := sw.Locker.TryLock(ctx, enrollmentID, sw.Config.LockTTL)
	if err != nil {
		logrus.WithError(err).WithField("enrollment_id", enrollmentID).Error("lock acquisition failed")
		return
	}
	if !locked {
		return
	}
	defer func() {
		if err := sw.Locker.Unlock(ctx, enrollmentID); err != nil {
			logrus.WithError(err).WithField("enrollment_id", enrollmentID).Warn("lock release failed")
		}
	}()

	if err := sw.Executor.ProcessEnrollment(ctx, enrollmentID); err != nil {
		sentry.CaptureException(err)
		logrus.WithError(err).WithField("enrollment_id", enrollmentID).Error("enrollment processing failed")
	}
}
