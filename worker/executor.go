package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"leadflow/config"
	"leadflow/engine"
	"leadflow/models"
	"leadflow/utils"
)

// Executor advances one enrollment by one due step at a time. All state
// reads and writes for a step happen under the enrollment's row claim, so
// the pointer can never move concurrently.
type Executor struct {
	DB              *gorm.DB
	Mailer          utils.Mailer
	Tasks           TaskCreator
	Config          config.WorkerConfig
	TrackingBaseURL string

	// Now is swappable for tests
	Now func() time.Time
}

func NewExecutor(db *gorm.DB, mailer utils.Mailer, tasks TaskCreator, cfg config.WorkerConfig, trackingBaseURL string) *Executor {
	return &Executor{
		DB:              db,
		Mailer:          mailer,
		Tasks:           tasks,
		Config:          cfg,
		TrackingBaseURL: trackingBaseURL,
		Now:             time.Now,
	}
}

// ProcessEnrollment runs the enrollment's due step, then keeps chaining
// zero-delay steps in the same sweep up to the configured cap. The pointer is
// persisted every hop, so a capped chain simply resumes on the next sweep.
func (ex *Executor) ProcessEnrollment(ctx context.Context, enrollmentID uint) error {
	for hop := 0; hop < ex.Config.ZeroDelayChainCap; hop++ {
		again, err := ex.processStep(ctx, enrollmentID)
		if err != nil {
			return err
		}
		if !again {
			return nil
		}
	}
	return nil
}

// processStep executes at most one step. It reports again=true when the
// enrollment is immediately due for its next step.
func (ex *Executor) processStep(ctx context.Context, enrollmentID uint) (bool, error) {
	again := false
	err := ex.DB.Transaction(func(tx *gorm.DB) error {
		now := ex.Now()

		// Claim the row; also re-checks status freshness so an enrollment
		// stopped after the sweep query is never rescheduled.
		var enrollment models.SequenceEnrollment
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&enrollment, enrollmentID).Error; err != nil {
			return err
		}
		if enrollment.Status != models.EnrollmentActive {
			return nil
		}
		if enrollment.NextStepScheduledAt == nil || enrollment.NextStepScheduledAt.After(now) {
			return nil
		}

		var template models.SequenceTemplate
		if err := tx.First(&template, enrollment.TemplateID).Error; err != nil {
			return err
		}

		var steps []models.SequenceStep
		if err := tx.Where("template_id = ?", template.ID).
			Order("step_number").Find(&steps).Error; err != nil {
			return err
		}
		var branches []models.SequenceBranch
		if err := tx.Where("template_id = ?", template.ID).Find(&branches).Error; err != nil {
			return err
		}

		step := stepByNumber(steps, enrollment.CurrentStep)
		if step == nil {
			// Pointer is past the last step
			return ex.complete(tx, &enrollment, &template, now)
		}

		// Wait steps never dispatch; by the time one is due its delay has
		// already elapsed, so only the pointer moves.
		if step.StepType == models.StepTypeWait {
			return ex.advance(tx, &enrollment, &template, steps, branches, step, nil, now, &again)
		}

		// Idempotency: a completed execution for this (enrollment, step)
		// means a duplicate schedule; recompute the pointer without
		// dispatching again.
		var prior models.SequenceStepExecution
		if err := tx.Where("enrollment_id = ? AND step_id = ? AND executed_at IS NOT NULL AND outcome <> ?",
			enrollment.ID, step.ID, models.OutcomeFailed).
			First(&prior).Error; err == nil {
			return ex.advance(tx, &enrollment, &template, steps, branches, step, &prior, now, &again)
		} else if err != gorm.ErrRecordNotFound {
			return err
		}

		// Pre-execution guard
		signals := engine.SignalsFrom(&enrollment, nil)
		if !engine.EvalGuard(step.Conditions, signals) {
			execution, err := ex.recordExecution(tx, &enrollment, step, models.OutcomeSkipped, "", models.ExecutionResult{}, now)
			if err != nil {
				return err
			}
			return ex.advance(tx, &enrollment, &template, steps, branches, step, execution, now, &again)
		}

		// Throttle gate: a due email may still have to wait for its slot.
		// Deferral is a normal outcome, not a failure.
		if step.StepType == models.StepTypeEmail {
			allowed := ex.throttled(tx, &enrollment, &template, now)
			if allowed.After(now) {
				logrus.WithFields(logrus.Fields{
					"enrollment_id": enrollment.ID,
					"deferred_to":   allowed,
				}).Debug("send deferred by throttle policy")
				return tx.Model(&enrollment).Update("next_step_scheduled_at", allowed).Error
			}
		}

		execution, err := ex.dispatch(ctx, tx, &enrollment, &template, step, now)
		if err != nil {
			return ex.handleFailure(tx, &enrollment, &template, step, err, now)
		}
		return ex.advance(tx, &enrollment, &template, steps, branches, step, execution, now, &again)
	})
	return again, err
}

// dispatch runs the step's external action and records the audit row in the
// same transaction as the pointer advance.
func (ex *Executor) dispatch(ctx context.Context, tx *gorm.DB, enrollment *models.SequenceEnrollment, template *models.SequenceTemplate, step *models.SequenceStep, now time.Time) (*models.SequenceStepExecution, error) {
	switch step.StepType {
	case models.StepTypeEmail:
		return ex.dispatchEmail(ctx, tx, enrollment, step, now)

	case models.StepTypeTask:
		var lead models.Lead
		if err := tx.First(&lead, enrollment.LeadID).Error; err != nil {
			return nil, err
		}
		task := taskFromStep(step, enrollment, &lead, now)
		if err := ex.Tasks.CreateTask(ctx, tx, task); err != nil {
			return nil, &engine.ExecutionError{StepID: step.ID, Err: err}
		}
		return ex.recordExecution(tx, enrollment, step, models.OutcomeSent, "", models.ExecutionResult{TaskID: task.ID}, now)

	case models.StepTypeCondition:
		// Evaluation only; the branch decision happens in advance()
		return ex.recordExecution(tx, enrollment, step, models.OutcomeSkipped, "", models.ExecutionResult{}, now)
	}

	return nil, &engine.ExecutionError{StepID: step.ID, Err: fmt.Errorf("unknown step type %q", step.StepType)}
}

func (ex *Executor) dispatchEmail(ctx context.Context, tx *gorm.DB, enrollment *models.SequenceEnrollment, step *models.SequenceStep, now time.Time) (*models.SequenceStepExecution, error) {
	var lead models.Lead
	if err := tx.First(&lead, enrollment.LeadID).Error; err != nil {
		return nil, err
	}
	if !lead.Contactable() {
		// Not a transient failure; skip the send and move on
		return ex.recordExecution(tx, enrollment, step, models.OutcomeSkipped, "",
			models.ExecutionResult{Error: "lead is not contactable"}, now)
	}

	token := utils.NewTrackingToken()
	body := utils.RenderMergeFields(step.Body, &lead)
	body = utils.InjectTracking(body, ex.TrackingBaseURL, token)

	sendCtx, cancel := context.WithTimeout(ctx, ex.Config.SendTimeout)
	defer cancel()

	messageID, err := ex.Mailer.Send(sendCtx, utils.Email{
		FromName: step.FromName,
		To:       lead.Email,
		Subject:  utils.RenderMergeFields(step.Subject, &lead),
		Body:     body,
	})
	if err != nil {
		return nil, &engine.ExecutionError{StepID: step.ID, Err: err}
	}

	execution, err := ex.recordExecution(tx, enrollment, step, models.OutcomeSent, token,
		models.ExecutionResult{ExternalID: messageID}, now)
	if err != nil {
		return nil, err
	}

	if err := tx.Model(enrollment).Update("emails_sent", gorm.Expr("emails_sent + ?", 1)).Error; err != nil {
		return nil, err
	}
	enrollment.EmailsSent++
	if err := tx.Model(&lead).Update("last_contact", now).Error; err != nil {
		return nil, err
	}

	return execution, nil
}

func (ex *Executor) recordExecution(tx *gorm.DB, enrollment *models.SequenceEnrollment, step *models.SequenceStep, outcome, token string, result models.ExecutionResult, now time.Time) (*models.SequenceStepExecution, error) {
	scheduledAt := now
	if enrollment.NextStepScheduledAt != nil {
		scheduledAt = *enrollment.NextStepScheduledAt
	}
	execution := &models.SequenceStepExecution{
		EnrollmentID:  enrollment.ID,
		StepID:        step.ID,
		ScheduledAt:   scheduledAt,
		ExecutedAt:    &now,
		Outcome:       outcome,
		TrackingToken: token,
		Result:        result,
	}
	if err := tx.Create(execution).Error; err != nil {
		return nil, err
	}
	return execution, nil
}

// handleFailure records the failed attempt, schedules a bounded-backoff retry
// and, once retries are exhausted, stops the enrollment. The pointer never
// advances on failure.
func (ex *Executor) handleFailure(tx *gorm.DB, enrollment *models.SequenceEnrollment, template *models.SequenceTemplate, step *models.SequenceStep, cause error, now time.Time) error {
	logrus.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"step_id":       step.ID,
		"retry_count":   enrollment.RetryCount,
	}).WithError(cause).Warn("step execution failed")

	if _, err := ex.recordExecution(tx, enrollment, step, models.OutcomeFailed, "",
		models.ExecutionResult{Error: cause.Error()}, now); err != nil {
		return err
	}

	enrollment.RetryCount++
	if enrollment.RetryCount >= ex.Config.MaxStepRetries {
		if err := engine.Transition(enrollment, models.EnrollmentStopped, models.StopReasonExhausted, now); err != nil {
			return err
		}
		if err := tx.Model(template).Update("failure_count", gorm.Expr("failure_count + ?", 1)).Error; err != nil {
			return err
		}
		return tx.Model(enrollment).Select("status", "stop_reason", "stopped_at", "next_step_scheduled_at", "retry_count").
			Updates(map[string]interface{}{
				"status":                 enrollment.Status,
				"stop_reason":            enrollment.StopReason,
				"stopped_at":             enrollment.StoppedAt,
				"next_step_scheduled_at": nil,
				"retry_count":            enrollment.RetryCount,
			}).Error
	}

	retryAt := now.Add(ex.Config.RetryBackoff * time.Duration(enrollment.RetryCount))
	return tx.Model(enrollment).Updates(map[string]interface{}{
		"retry_count":            enrollment.RetryCount,
		"next_step_scheduled_at": retryAt,
	}).Error
}

// advance moves the pointer after a successful (or skipped, or deduplicated)
// step: branch selection first, ordinal order otherwise, completion when the
// template runs out of steps.
func (ex *Executor) advance(tx *gorm.DB, enrollment *models.SequenceEnrollment, template *models.SequenceTemplate, steps []models.SequenceStep, branches []models.SequenceBranch, step *models.SequenceStep, execution *models.SequenceStepExecution, now time.Time, again *bool) error {
	signals := engine.SignalsFrom(enrollment, execution)

	nextNumber := enrollment.CurrentStep + 1
	if branch := engine.SelectBranch(branches, step.ID, signals); branch != nil {
		target := stepByID(steps, branch.NextStepID)
		if target == nil {
			return fmt.Errorf("branch %d targets missing step %d", branch.ID, branch.NextStepID)
		}
		nextNumber = target.StepNumber
	}

	nextStep := stepByNumber(steps, nextNumber)
	if nextStep == nil {
		return ex.complete(tx, enrollment, template, now)
	}

	scheduledAt := now
	if nextStep.StepType == models.StepTypeWait {
		scheduledAt = now.Add(nextStep.WaitDuration())
	}
	scheduledAt = ex.throttled(tx, enrollment, template, scheduledAt)

	enrollment.CurrentStep = nextNumber
	enrollment.RetryCount = 0
	enrollment.NextStepScheduledAt = &scheduledAt
	if err := tx.Model(enrollment).Updates(map[string]interface{}{
		"current_step":           nextNumber,
		"retry_count":            0,
		"next_step_scheduled_at": scheduledAt,
	}).Error; err != nil {
		return err
	}

	*again = !scheduledAt.After(now)
	return nil
}

func (ex *Executor) complete(tx *gorm.DB, enrollment *models.SequenceEnrollment, template *models.SequenceTemplate, now time.Time) error {
	if err := engine.Transition(enrollment, models.EnrollmentCompleted, "", now); err != nil {
		return err
	}
	if err := tx.Model(template).Update("success_count", gorm.Expr("success_count + ?", 1)).Error; err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"enrollment_id": enrollment.ID,
		"template_id":   template.ID,
	}).Info("enrollment completed")
	return tx.Model(enrollment).Select("status", "completed_at", "next_step_scheduled_at").
		Updates(map[string]interface{}{
			"status":                 enrollment.Status,
			"completed_at":           enrollment.CompletedAt,
			"next_step_scheduled_at": nil,
		}).Error
}

// throttled gates the computed schedule through the organization's pacing
// rules. Applied to every pointer advance so a due email is never committed
// ahead of its allowed slot.
func (ex *Executor) throttled(tx *gorm.DB, enrollment *models.SequenceEnrollment, template *models.SequenceTemplate, candidate time.Time) time.Time {
	var org models.Organization
	if err := tx.First(&org, enrollment.OrganizationID).Error; err != nil {
		logrus.WithError(err).WithField("organization_id", enrollment.OrganizationID).
			Warn("organization lookup failed, throttling in UTC")
	}
	loc := engine.LoadLocation(org.Timezone)

	window, err := ex.sendWindow(tx, enrollment.OrganizationID, loc, candidate)
	if err != nil {
		logrus.WithError(err).Warn("send window query failed, keeping candidate slot")
		return candidate
	}

	return engine.NextAllowedSlot(template.Settings, loc, window, candidate)
}

// sendWindow snapshots the organization's email sends for the throttle
// policy: count on the candidate's local day and in the trailing hour.
func (ex *Executor) sendWindow(tx *gorm.DB, orgID uint, loc *time.Location, at time.Time) (engine.SendWindow, error) {
	var window engine.SendWindow

	local := at.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	base := tx.Model(&models.SequenceStepExecution{}).
		Joins("JOIN sequence_enrollments ON sequence_enrollments.id = sequence_step_executions.enrollment_id").
		Joins("JOIN sequence_steps ON sequence_steps.id = sequence_step_executions.step_id").
		Where("sequence_enrollments.organization_id = ?", orgID).
		Where("sequence_steps.step_type = ?", models.StepTypeEmail).
		Where("sequence_step_executions.outcome = ?", models.OutcomeSent)

	var sentToday int64
	if err := base.Session(&gorm.Session{}).
		Where("sequence_step_executions.executed_at >= ? AND sequence_step_executions.executed_at < ?",
			dayStart, dayStart.AddDate(0, 0, 1)).
		Count(&sentToday).Error; err != nil {
		return window, err
	}
	window.SentToday = int(sentToday)

	hourAgo := at.Add(-time.Hour)
	var sentLastHour int64
	if err := base.Session(&gorm.Session{}).
		Where("sequence_step_executions.executed_at > ?", hourAgo).
		Count(&sentLastHour).Error; err != nil {
		return window, err
	}
	window.SentLastHour = int(sentLastHour)

	if sentLastHour > 0 {
		var oldest []time.Time
		if err := base.Session(&gorm.Session{}).
			Where("sequence_step_executions.executed_at > ?", hourAgo).
			Order("sequence_step_executions.executed_at").
			Limit(1).
			Pluck("sequence_step_executions.executed_at", &oldest).Error; err != nil {
			return window, err
		}
		if len(oldest) > 0 {
			window.OldestInHour = &oldest[0]
		}
	}

	return window, nil
}

func stepByNumber(steps []models.SequenceStep, number int) *models.SequenceStep {
	for i := range steps {
		if steps[i].StepNumber == number {
			return &steps[i]
		}
	}
	return nil
}

func stepByID(steps []models.SequenceStep, id uint) *models.SequenceStep {
	for i := range steps {
		if steps[i].ID == id {
			return &steps[i]
		}
	}
	return nil
}
