// Package progress reports pipeline run progress to an external table so
// callers can poll a single row per run instead of tailing logs.
//
// Reporting is best effort: the driver logs reporter errors and keeps
// going, a run never fails because its progress row could not be written.
package progress

import "context"

// Step names a pipeline phase. The value is stored verbatim in the
// progress table's current_step column.
type Step string

const (
	StepQueued             Step = "queued"
	StepExtractingAudio    Step = "extracting_audio"
	StepChunkingAudio      Step = "chunking_audio"
	StepDiarizing          Step = "diarizing"
	StepMergingSpeakers    Step = "merging_speakers"
	StepSplittingBySpeaker Step = "splitting_by_speaker"
	StepTranscribing       Step = "transcribing"
	StepAggregatingResults Step = "aggregating_results"
	StepAnalyzing          Step = "analyzing"
	StepCompleted          Step = "completed"
	StepFailed             Step = "failed"
)

// stepPercent maps each step to its completion percentage.
var stepPercent = map[Step]int{
	StepQueued:             0,
	StepExtractingAudio:    10,
	StepChunkingAudio:      15,
	StepDiarizing:          30,
	StepMergingSpeakers:    45,
	StepSplittingBySpeaker: 50,
	StepTranscribing:       70,
	StepAggregatingResults: 85,
	StepAnalyzing:          95,
	StepCompleted:          100,
}

// Percent returns the completion percentage for s. Unknown steps report 0,
// matching how an unrecognized step is treated as "no progress yet".
func (s Step) Percent() int {
	return stepPercent[s]
}

// Reporter records the current step of a run. Implementations must be safe
// for concurrent use.
type Reporter interface {
	// Update sets the run's current step and derived percentage.
	Update(ctx context.Context, runID string, step Step) error
}

// Noop is a Reporter that discards updates. Used when no progress store is
// configured.
type Noop struct{}

var _ Reporter = Noop{}

// Update implements Reporter.
func (Noop) Update(context.Context, string, Step) error { return nil }
