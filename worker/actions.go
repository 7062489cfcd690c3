package worker

import (
	"context"
	"time"

	"gorm.io/gorm"

	"leadflow/models"
	"leadflow/utils"
)

// TaskCreator is the task action handler the executor dispatches to. The
// task row must land in the same transaction as the execution audit row, so
// the executor hands its transaction down.
type TaskCreator interface {
	CreateTask(ctx context.Context, tx *gorm.DB, task *models.Task) error
}

// DBTaskCreator writes tasks straight into the CRM task table.
type DBTaskCreator struct{}

func NewDBTaskCreator() *DBTaskCreator {
	return &DBTaskCreator{}
}

func (DBTaskCreator) CreateTask(ctx context.Context, tx *gorm.DB, task *models.Task) error {
	return tx.WithContext(ctx).Create(task).Error
}

// taskFromStep builds the task a task-type step produces. Title and
// description carry merge fields the same way email subjects do.
func taskFromStep(step *models.SequenceStep, enrollment *models.SequenceEnrollment, lead *models.Lead, now time.Time) *models.Task {
	task := &models.Task{
		OrganizationID: enrollment.OrganizationID,
		EnrollmentID:   enrollment.ID,
		LeadID:         enrollment.LeadID,
		Title:          utils.RenderMergeFields(step.TaskTitle, lead),
		Description:    utils.RenderMergeFields(step.TaskDescription, lead),
		Priority:       step.TaskPriority,
	}
	if task.Priority == "" {
		task.Priority = "normal"
	}
	if step.TaskDueDays > 0 {
		due := now.AddDate(0, 0, step.TaskDueDays)
		task.DueAt = &due
	}
	return task
}
