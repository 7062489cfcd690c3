package engine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"leadflow/models"
)

func validTemplate() (*models.SequenceTemplate, []models.SequenceStep, []models.SequenceBranch) {
	template := &models.SequenceTemplate{OrganizationID: 1, Name: "Outbound v1"}
	steps := []models.SequenceStep{
		{StepNumber: 1, StepType: models.StepTypeEmail, Subject: "Intro", Body: "<p>hi</p>"},
		{StepNumber: 2, StepType: models.StepTypeWait, WaitDays: 2},
		{StepNumber: 3, StepType: models.StepTypeEmail, Subject: "Follow up", Body: "<p>still there?</p>"},
	}
	steps[0].ID = 10
	steps[1].ID = 11
	steps[2].ID = 12
	return template, steps, nil
}

func TestValidateTemplateOK(t *testing.T) {
	template, steps, branches := validTemplate()
	require.NoError(t, ValidateTemplate(template, steps, branches))
}

func TestValidateTemplateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*models.SequenceTemplate, []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch)
		field  string
	}{
		{
			name: "missing organization",
			mutate: func(tpl *models.SequenceTemplate, steps []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch) {
				tpl.OrganizationID = 0
				return steps, nil
			},
			field: "organization_id",
		},
		{
			name: "missing name",
			mutate: func(tpl *models.SequenceTemplate, steps []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch) {
				tpl.Name = ""
				return steps, nil
			},
			field: "name",
		},
		{
			name: "gap in step numbers",
			mutate: func(tpl *models.SequenceTemplate, steps []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch) {
				steps[1].StepNumber = 5
				return steps, nil
			},
			field: "step_number",
		},
		{
			name: "email without subject",
			mutate: func(tpl *models.SequenceTemplate, steps []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch) {
				steps[0].Subject = ""
				return steps, nil
			},
			field: "steps[1]",
		},
		{
			name: "wait without duration",
			mutate: func(tpl *models.SequenceTemplate, steps []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch) {
				steps[1].WaitDays = 0
				return steps, nil
			},
			field: "steps[2]",
		},
		{
			name: "negative daily limit",
			mutate: func(tpl *models.SequenceTemplate, steps []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch) {
				tpl.Settings.DailyLimit = -1
				return steps, nil
			},
			field: "settings.daily_limit",
		},
		{
			name: "throttle enabled without a cap",
			mutate: func(tpl *models.SequenceTemplate, steps []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch) {
				tpl.Settings.Throttle.Enabled = true
				return steps, nil
			},
			field: "settings.throttle.max_per_hour",
		},
		{
			name: "branch referencing a foreign step",
			mutate: func(tpl *models.SequenceTemplate, steps []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch) {
				return steps, []models.SequenceBranch{{
					BranchName:    "yes",
					ParentStepID:  10,
					NextStepID:    999,
					ConditionType: models.ConditionOpened,
				}}
			},
			field: "next_step_id",
		},
		{
			name: "branch with unknown condition",
			mutate: func(tpl *models.SequenceTemplate, steps []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch) {
				return steps, []models.SequenceBranch{{
					BranchName:    "yes",
					ParentStepID:  10,
					NextStepID:    12,
					ConditionType: "bounced",
				}}
			},
			field: "condition_type",
		},
		{
			name: "guard with unknown condition",
			mutate: func(tpl *models.SequenceTemplate, steps []models.SequenceStep) ([]models.SequenceStep, []models.SequenceBranch) {
				steps[2].Conditions = &models.StepConditions{Require: "sneezed"}
				return steps, nil
			},
			field: "steps[3]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			template, steps, _ := validTemplate()
			steps, branches := tt.mutate(template, steps)

			err := ValidateTemplate(template, steps, branches)
			var validationErr *ValidationError
			require.ErrorAs(t, err, &validationErr)
			require.Equal(t, tt.field, validationErr.Field)
		})
	}
}

func TestValidateTemplateTaskAndCondition(t *testing.T) {
	template := &models.SequenceTemplate{OrganizationID: 1, Name: "With task"}
	steps := []models.SequenceStep{
		{StepNumber: 1, StepType: models.StepTypeTask, TaskTitle: "Call the lead"},
		{StepNumber: 2, StepType: models.StepTypeCondition, ConditionType: models.ConditionReplied},
	}
	require.NoError(t, ValidateTemplate(template, steps, nil))

	steps[0].TaskTitle = ""
	err := ValidateTemplate(template, steps, nil)
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
}
