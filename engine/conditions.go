package engine

import (
	"leadflow/models"
)

// EnrollmentSignals is what a branch condition can see: the enrollment's
// counters plus the event stamps of the parent step's execution.
type EnrollmentSignals struct {
	Opened  bool // opened_at set on the parent step's execution or any prior one
	Clicked bool
	Replied bool
}

// SignalsFrom collects branch-visible signals from an enrollment and the
// execution of the step the branch hangs off.
func SignalsFrom(enrollment *models.SequenceEnrollment, execution *models.SequenceStepExecution) EnrollmentSignals {
	signals := EnrollmentSignals{
		Opened:  enrollment.EmailsOpened > 0,
		Clicked: enrollment.EmailsClicked > 0,
		Replied: enrollment.RepliesReceived > 0,
	}
	if execution != nil {
		signals.Opened = signals.Opened || execution.OpenedAt != nil
		signals.Clicked = signals.Clicked || execution.ClickedAt != nil
		signals.Replied = signals.Replied || execution.RepliedAt != nil
	}
	return signals
}

// EvalCondition reports whether a condition type holds for the given signals.
func EvalCondition(conditionType string, signals EnrollmentSignals) bool {
	switch conditionType {
	case models.ConditionOpened:
		return signals.Opened
	case models.ConditionClicked:
		return signals.Clicked
	case models.ConditionReplied:
		return signals.Replied
	case models.ConditionNoResponse:
		return !signals.Opened && !signals.Clicked && !signals.Replied
	}
	return false
}

// SelectBranch picks the first satisfied branch for a parent step, in
// priority order (lower value first). Returns nil when none is satisfied;
// the caller then falls through to the next step in template order.
func SelectBranch(branches []models.SequenceBranch, parentStepID uint, signals EnrollmentSignals) *models.SequenceBranch {
	var best *models.SequenceBranch
	for i := range branches {
		branch := &branches[i]
		if branch.ParentStepID != parentStepID {
			continue
		}
		if best != nil && branch.Priority >= best.Priority {
			continue
		}
		satisfied := EvalCondition(branch.ConditionType, signals)
		if branch.ConditionConfig.Negate {
			satisfied = !satisfied
		}
		if satisfied {
			best = branch
		}
	}
	return best
}

// EvalGuard applies a step's optional pre-execution guard. A nil or empty
// guard passes.
func EvalGuard(guard *models.StepConditions, signals EnrollmentSignals) bool {
	if guard == nil || guard.Require == "" {
		return true
	}
	ok := EvalCondition(guard.Require, signals)
	if guard.Negate {
		ok = !ok
	}
	return ok
}
