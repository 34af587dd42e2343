package pipeline

import (
	"testing"

	"github.com/kalambet/starcoach/internal/storage"
)

func TestInfer(t *testing.T) {
	tr := &storage.Transcript{Text: "hi"}
	an := &storage.Analytics{}
	fb := &storage.Feedback{CoachFeedback: "ok"}

	tests := []struct {
		name string
		art  storage.Artifacts
		want Status
	}{
		{"nothing", storage.Artifacts{}, StatusTranscribing},
		{"transcript", storage.Artifacts{Transcript: tr}, StatusAnalyticsPending},
		{"transcript and analytics", storage.Artifacts{Transcript: tr, Analytics: an}, StatusFeedbackPending},
		{"all artifacts", storage.Artifacts{Transcript: tr, Analytics: an, Feedback: fb}, StatusComplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Infer(tt.art); got != tt.want {
				t.Errorf("Infer = %q, want %q", got, tt.want)
			}
			if again := Infer(tt.art); again != tt.want {
				t.Errorf("second Infer = %q, want %q", again, tt.want)
			}
		})
	}
}

func TestInfer_MonotonicInArtifacts(t *testing.T) {
	rank := map[Status]int{
		StatusTranscribing:     0,
		StatusAnalyticsPending: 1,
		StatusFeedbackPending:  2,
		StatusComplete:         3,
	}

	// Every subset of artifacts, and every superset reached by adding one more.
	for mask := 0; mask < 8; mask++ {
		base := artifactsFromMask(mask)
		for bit := 0; bit < 3; bit++ {
			grown := artifactsFromMask(mask | 1<<bit)
			if rank[Infer(grown)] < rank[Infer(base)] {
				t.Errorf("adding artifact %d to mask %03b regressed %q -> %q", bit, mask, Infer(base), Infer(grown))
			}
		}
	}
}

func artifactsFromMask(mask int) storage.Artifacts {
	var a storage.Artifacts
	if mask&1 != 0 {
		a.Transcript = &storage.Transcript{}
	}
	if mask&2 != 0 {
		a.Analytics = &storage.Analytics{}
	}
	if mask&4 != 0 {
		a.Feedback = &storage.Feedback{}
	}
	return a
}
