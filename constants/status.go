package constants

import "fmt"

// StageStatus is the canonical status for each stage column on documents.
type StageStatus string

// Stable values (store these exact strings in DB).
const (
	StatusPending    StageStatus = "pending"
	StatusProcessing StageStatus = "processing"
	StatusCompleted  StageStatus = "completed"
	StatusFailed     StageStatus = "failed"
)

// StageStatuses lists the stored status strings.
var StageStatuses = []string{
	string(StatusPending),
	string(StatusProcessing),
	string(StatusCompleted),
	string(StatusFailed),
}

// Stage identifies one of the four ordered pipeline stages. The numeric value
// is the processing level a document reaches when the stage completes.
type Stage int

const (
	StageExtraction     Stage = 1
	StageClassification Stage = 2
	StageMetadata       Stage = 3
	StageChunking       Stage = 4
)

// MaxLevel is the highest processing level.
const MaxLevel = int(StageChunking)

// Stages lists every stage in execution order.
var Stages = []Stage{StageExtraction, StageClassification, StageMetadata, StageChunking}

func (s Stage) String() string {
	switch s {
	case StageExtraction:
		return "extraction"
	case StageClassification:
		return "classification"
	case StageMetadata:
		return "metadata"
	case StageChunking:
		return "chunking"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// Valid reports whether s is one of the four known stages.
func (s Stage) Valid() bool {
	return s >= StageExtraction && s <= StageChunking
}

// ParseStage maps a stage name or level number to a Stage.
func ParseStage(v string) (Stage, error) {
	for _, s := range Stages {
		if v == s.String() || v == fmt.Sprintf("%d", int(s)) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", v)
}

// CanTransition reports whether a stage status may move from one value to
// another without an explicit reset.
func CanTransition(from, to StageStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		// processing→processing takes over a claim left by a crashed or
		// interrupted run; the repository only allows it once the claim is stale
		return to == StatusProcessing || to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
