package domain

import "fmt"

// Stage is a workflow state a task can occupy.
type Stage string

const (
	StagePlanning       Stage = "planning"
	StageInProgress     Stage = "in_progress"
	StageAtRisk         Stage = "at_risk"
	StageUpdateRequired Stage = "update_required"
	StageOnHold         Stage = "on_hold"
	StageCompleted      Stage = "completed"
)

// Stages lists every stage in board order.
var Stages = [...]Stage{
	StagePlanning,
	StageInProgress,
	StageAtRisk,
	StageUpdateRequired,
	StageOnHold,
	StageCompleted,
}

var stageLabels = map[Stage]string{
	StagePlanning:       "Planning",
	StageInProgress:     "In Progress",
	StageAtRisk:         "At Risk",
	StageUpdateRequired: "Update Required",
	StageOnHold:         "On Hold",
	StageCompleted:      "Completed",
}

// ParseStage validates a raw status code.
func ParseStage(code string) (Stage, error) {
	s := Stage(code)
	if !s.Valid() {
		return "", fmt.Errorf("%w %q", ErrUnknownStage, code)
	}
	return s, nil
}

func (s Stage) Valid() bool {
	_, ok := stageLabels[s]
	return ok
}

// Label returns the display label, falling back to the raw code.
func (s Stage) Label() string {
	if l, ok := stageLabels[s]; ok {
		return l
	}
	return string(s)
}

// Index returns the board position of the stage or -1.
func (s Stage) Index() int {
	for i, st := range Stages {
		if st == s {
			return i
		}
	}
	return -1
}
