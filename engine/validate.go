package engine

import (
	"fmt"

	"leadflow/models"
)

// ValidateTemplate checks a template with its steps and branches as one unit.
// Pure: no database access, no side effects.
func ValidateTemplate(template *models.SequenceTemplate, steps []models.SequenceStep, branches []models.SequenceBranch) error {
	if template.OrganizationID == 0 {
		return &ValidationError{Field: "organization_id", Message: "organization id is required"}
	}
	if template.Name == "" {
		return &ValidationError{Field: "name", Message: "template name is required"}
	}
	if template.Settings.DailyLimit < 0 {
		return &ValidationError{Field: "settings.daily_limit", Message: "daily limit cannot be negative"}
	}
	if template.Settings.Throttle.Enabled && template.Settings.Throttle.MaxPerHour <= 0 {
		return &ValidationError{Field: "settings.throttle.max_per_hour", Message: "max per hour must be positive when throttling is enabled"}
	}

	stepIDs := make(map[uint]bool, len(steps))
	for i, step := range steps {
		if step.StepNumber != i+1 {
			return &ValidationError{
				Field:   "step_number",
				Message: fmt.Sprintf("step numbers must be contiguous from 1, got %d at position %d", step.StepNumber, i+1),
			}
		}
		if err := validateStep(&step); err != nil {
			return err
		}
		if step.ID != 0 {
			stepIDs[step.ID] = true
		}
	}

	for _, branch := range branches {
		if !stepIDs[branch.ParentStepID] {
			return &ValidationError{
				Field:   "parent_step_id",
				Message: fmt.Sprintf("branch %q references step %d outside the template", branch.BranchName, branch.ParentStepID),
			}
		}
		if !stepIDs[branch.NextStepID] {
			return &ValidationError{
				Field:   "next_step_id",
				Message: fmt.Sprintf("branch %q references step %d outside the template", branch.BranchName, branch.NextStepID),
			}
		}
		if !ValidConditionType(branch.ConditionType) {
			return &ValidationError{
				Field:   "condition_type",
				Message: fmt.Sprintf("unknown branch condition type %q", branch.ConditionType),
			}
		}
	}

	return nil
}

func validateStep(step *models.SequenceStep) error {
	field := fmt.Sprintf("steps[%d]", step.StepNumber)

	switch step.StepType {
	case models.StepTypeEmail:
		if step.Subject == "" || step.Body == "" {
			return &ValidationError{Field: field, Message: "email step requires subject and body"}
		}
	case models.StepTypeWait:
		if step.WaitDuration() <= 0 {
			return &ValidationError{Field: field, Message: "wait step requires a positive duration"}
		}
	case models.StepTypeTask:
		if step.TaskTitle == "" {
			return &ValidationError{Field: field, Message: "task step requires a title"}
		}
	case models.StepTypeCondition:
		if !ValidConditionType(step.ConditionType) {
			return &ValidationError{Field: field, Message: "condition step requires a valid condition_type"}
		}
	default:
		return &ValidationError{Field: field, Message: fmt.Sprintf("unknown step type %q", step.StepType)}
	}

	if step.Conditions != nil && step.Conditions.Require != "" && !ValidConditionType(step.Conditions.Require) {
		return &ValidationError{Field: field, Message: fmt.Sprintf("unknown guard condition %q", step.Conditions.Require)}
	}

	return nil
}

// ValidConditionType reports whether a condition type is one the evaluator
// understands. Anything else would silently never match at runtime.
func ValidConditionType(conditionType string) bool {
	switch conditionType {
	case models.ConditionOpened, models.ConditionClicked, models.ConditionReplied, models.ConditionNoResponse:
		return true
	}
	return false
}
