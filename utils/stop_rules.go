package utils

import "dealflow/models"

// EvaluateStopRules decides whether an enrollment should halt before its next
// step fires. It is a pure function; callers persist the decision.
//
// Rules are checked in fixed priority order, first match wins:
// reply, then stage change, then attempt cap.
func EvaluateStopRules(enrollment *models.SequenceEnrollment, sequence *models.Sequence, deal *models.Deal, hasUnprocessedReply bool) (bool, string) {
	if sequence.StopOnReply && hasUnprocessedReply {
		return true, models.StopReasonReply
	}

	if sequence.StopOnStageChange && deal != nil && deal.Stage != sequence.TriggerStage {
		return true, models.StopReasonStageChanged
	}

	if sequence.MaxAttempts != nil && enrollment.AttemptCount >= *sequence.MaxAttempts {
		return true, models.StopReasonMaxAttempts
	}

	return false, ""
}
