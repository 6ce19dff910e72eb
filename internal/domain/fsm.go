package domain

var runTransitions = map[RunStatus][]RunStatus{
	RunStatusCreated:   {RunStatusRunning, RunStatusAborted},
	RunStatusRunning:   {RunStatusCompleted, RunStatusAborted},
	RunStatusCompleted: {},
	RunStatusAborted:   {},
}

// PROPOSED -> REJECTED records a policy rejection at evaluation time.
var actionTransitions = map[ActionStatus][]ActionStatus{
	ActionStatusProposed:        {ActionStatusPendingApproval, ActionStatusApproved, ActionStatusRejected},
	ActionStatusPendingApproval: {ActionStatusApproved, ActionStatusRejected},
	ActionStatusApproved:        {ActionStatusExecuting},
	ActionStatusExecuting:       {ActionStatusExecuted, ActionStatusFailed},
	ActionStatusExecuted:        {},
	ActionStatusFailed:          {},
	ActionStatusRejected:        {},
}

var findingTransitions = map[FindingStatus][]FindingStatus{
	FindingDraft:       {FindingNeedsReview},
	FindingNeedsReview: {FindingConfirmed, FindingRejected},
	FindingConfirmed:   {},
	FindingRejected:    {},
}

func CanTransitionRun(from, to RunStatus) bool {
	for _, candidate := range runTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func CanTransitionAction(from, to ActionStatus) bool {
	for _, candidate := range actionTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

func CanTransitionFinding(from, to FindingStatus) bool {
	for _, candidate := range findingTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateRunTransition rejects any pair missing from the run table, including self loops.
func ValidateRunTransition(from, to RunStatus) error {
	if !CanTransitionRun(from, to) {
		return NewError(CodeInvalidTransition, "run transition %s -> %s not allowed", from, to)
	}
	return nil
}

func ValidateActionTransition(from, to ActionStatus) error {
	if !CanTransitionAction(from, to) {
		return NewError(CodeInvalidTransition, "action transition %s -> %s not allowed", from, to)
	}
	return nil
}

func ValidateFindingTransition(from, to FindingStatus) error {
	if !CanTransitionFinding(from, to) {
		return NewError(CodeInvalidTransition, "finding transition %s -> %s not allowed", from, to)
	}
	return nil
}

func AllRunStatuses() []RunStatus {
	return []RunStatus{RunStatusCreated, RunStatusRunning, RunStatusCompleted, RunStatusAborted}
}

func AllActionStatuses() []ActionStatus {
	return []ActionStatus{
		ActionStatusProposed, ActionStatusPendingApproval, ActionStatusApproved,
		ActionStatusExecuting, ActionStatusExecuted, ActionStatusFailed, ActionStatusRejected,
	}
}

func AllFindingStatuses() []FindingStatus {
	return []FindingStatus{FindingDraft, FindingNeedsReview, FindingConfirmed, FindingRejected}
}
