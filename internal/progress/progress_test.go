package progress

import (
	"context"
	"strings"
	"testing"
)

func TestStepPercent(t *testing.T) {
	t.Parallel()

	cases := []struct {
		step Step
		want int
	}{
		{StepQueued, 0},
		{StepExtractingAudio, 10},
		{StepChunkingAudio, 15},
		{StepDiarizing, 30},
		{StepMergingSpeakers, 45},
		{StepSplittingBySpeaker, 50},
		{StepTranscribing, 70},
		{StepAggregatingResults, 85},
		{StepAnalyzing, 95},
		{StepCompleted, 100},
		{Step("unheard_of"), 0},
	}
	for _, tc := range cases {
		if got := tc.step.Percent(); got != tc.want {
			t.Errorf("Percent(%q) = %d, want %d", tc.step, got, tc.want)
		}
	}
}

func TestRecorderKeepsOrder(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	ctx := context.Background()
	for _, s := range []Step{StepQueued, StepDiarizing, StepCompleted} {
		if err := rec.Update(ctx, "run-1", s); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	steps := rec.Steps()
	want := []Step{StepQueued, StepDiarizing, StepCompleted}
	if len(steps) != len(want) {
		t.Fatalf("got %d updates, want %d", len(steps), len(want))
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step[%d] = %q, want %q", i, steps[i], want[i])
		}
	}
}

func TestUpsertQueryPreservesProgressOnFailure(t *testing.T) {
	t.Parallel()

	for _, step := range []Step{StepQueued, StepDiarizing, StepCompleted} {
		q := upsertQuery("runs", step)
		if !strings.Contains(q, "progress = EXCLUDED.progress") {
			t.Errorf("upsertQuery(%q) does not advance progress:\n%s", step, q)
		}
	}

	q := upsertQuery("runs", StepFailed)
	if strings.Contains(q, "progress = EXCLUDED.progress") {
		t.Errorf("failed-step upsert overwrites the row's progress:\n%s", q)
	}
	if !strings.Contains(q, "current_step = EXCLUDED.current_step") {
		t.Errorf("failed-step upsert does not record the step:\n%s", q)
	}
}

func TestNewPostgresReporterRejectsBadTable(t *testing.T) {
	t.Parallel()

	if _, err := NewPostgresReporter(context.Background(), "postgres://x", "runs; DROP TABLE runs"); err == nil {
		t.Fatal("NewPostgresReporter accepted a malicious table name")
	}
}
