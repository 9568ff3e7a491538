package models

import "testing"

func TestOrchestrationStrategyValid(t *testing.T) {
	for _, s := range AllStrategies() {
		if !s.Valid() {
			t.Errorf("expected %q to be valid", s)
		}
	}

	if OrchestrationStrategy("turbo").Valid() {
		t.Error("expected unknown strategy to be invalid")
	}
}

func TestComplexityHintsScore(t *testing.T) {
	tests := []struct {
		name  string
		hints ComplexityHints
		want  float64
	}{
		{"zero", ComplexityHints{}, 0},
		{"features only", ComplexityHints{NumFeatures: 10}, 3},
		{"mixed", ComplexityHints{NumFeatures: 5, NumDependencies: 5, EstimatedSubUnits: 10}, 6.5},
		{"complex assets", ComplexityHints{NumFeatures: 5, HasComplexAssets: true}, 11.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.hints.Score(); got != tt.want {
				t.Errorf("Score() = %v, want %v", got, tt.want)
			}
		})
	}
}
