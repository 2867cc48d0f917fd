package checkpoint

import (
	"fmt"

	"github.com/BaSui01/runledger/run"
)

// ResumeOptions overrides the default resume-point analysis.
type ResumeOptions struct {
	// ForceRestart resumes at index 0 regardless of prior progress.
	ForceRestart bool `json:"force_restart"`

	// SkipToStep names a step to resume at, regardless of its
	// completion state. Takes effect only when ForceRestart is false.
	SkipToStep string `json:"skip_to_step,omitempty"`
}

// ResumePoint describes where an interrupted run should resume.
type ResumePoint struct {
	// StartFromIndex is the index of the first step to (re)execute.
	StartFromIndex int `json:"start_from_index"`

	// StartFromStep is the name of the step at StartFromIndex, empty
	// when the run has no remaining steps.
	StartFromStep string `json:"start_from_step,omitempty"`

	// AvailableArtifacts holds the outputs of already-completed steps,
	// or the checkpoint's artifacts when one was used.
	AvailableArtifacts map[string]any `json:"available_artifacts,omitempty"`

	// Checkpoint is the checkpoint the analysis was based on, if any.
	Checkpoint *Checkpoint `json:"checkpoint,omitempty"`
}

// ResumeBlockedError reports an attempt to resume a run that already
// reached a terminal status. It is not retryable.
type ResumeBlockedError struct {
	RunID  string
	Status run.Status
}

func (e *ResumeBlockedError) Error() string {
	return fmt.Sprintf("run %s cannot be resumed: run is %s", e.RunID, e.Status)
}

// AnalyzeResumePoint computes where the run should resume. Precedence:
//
//  1. A terminal run (completed or cancelled) cannot be resumed; a
//     *ResumeBlockedError is returned.
//  2. opts.ForceRestart resumes at index 0.
//  3. opts.SkipToStep resumes at the named step's index.
//  4. A supplied checkpoint's index and artifacts are used as-is.
//  5. Otherwise the resume point is derived from the run's own step
//     statuses: the first non-completed step, with completed step
//     outputs exposed as available artifacts.
func AnalyzeResumePoint(r *run.Run, cp *Checkpoint, opts ResumeOptions) (*ResumePoint, error) {
	if r == nil {
		return nil, fmt.Errorf("checkpoint: run is required")
	}
	if r.Status.IsTerminal() {
		return nil, &ResumeBlockedError{RunID: r.ID, Status: r.Status}
	}

	if opts.ForceRestart {
		return pointAt(r, 0, nil, nil), nil
	}

	if opts.SkipToStep != "" {
		index := stepIndexByName(r, opts.SkipToStep)
		if index < 0 {
			return nil, fmt.Errorf("checkpoint: run %s has no step named %q", r.ID, opts.SkipToStep)
		}
		return pointAt(r, index, completedOutputs(r), nil), nil
	}

	if cp != nil {
		return pointAt(r, cp.CurrentStepIndex, cp.Artifacts, cp), nil
	}

	return pointAt(r, r.FirstIncompleteIndex(), completedOutputs(r), nil), nil
}

// ShouldSkipStep reports whether the step already ran to completion,
// either by its own status or by membership in a checkpoint's completed
// set. Position relative to the resume index is irrelevant: a step
// completed out of order must not be re-executed.
func ShouldSkipStep(step run.Step, completed map[string]bool) bool {
	return step.Status == run.StepStatusCompleted || completed[step.ID]
}

// MergeArtifacts shallow-merges two artifact maps. Keys in current win on
// conflict; callers rely on later artifacts overriding earlier
// placeholders, so this must stay a last-writer-wins merge.
func MergeArtifacts(prior, current map[string]any) map[string]any {
	out := make(map[string]any, len(prior)+len(current))
	for k, v := range prior {
		out[k] = v
	}
	for k, v := range current {
		out[k] = v
	}
	return out
}

func pointAt(r *run.Run, index int, artifacts map[string]any, cp *Checkpoint) *ResumePoint {
	point := &ResumePoint{
		StartFromIndex:     index,
		AvailableArtifacts: artifacts,
		Checkpoint:         cp,
	}
	if index >= 0 && index < len(r.Steps) {
		point.StartFromStep = r.Steps[index].Name
	}
	return point
}

func stepIndexByName(r *run.Run, name string) int {
	for i, step := range r.Steps {
		if step.Name == name || step.ID == name {
			return i
		}
	}
	return -1
}

// completedOutputs merges the outputs of every completed step in order,
// later steps winning on key conflicts.
func completedOutputs(r *run.Run) map[string]any {
	var merged map[string]any
	for _, step := range r.Steps {
		if step.Status != run.StepStatusCompleted || len(step.Output) == 0 {
			continue
		}
		merged = MergeArtifacts(merged, step.Output)
	}
	return merged
}
