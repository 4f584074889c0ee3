package application

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

func TestCostModel_Budget(t *testing.T) {
	model := CostModel{
		Base:      10 * time.Second,
		PerUnit:   time.Second,
		UnitBytes: 1000,
		Min:       15 * time.Second,
		Max:       2 * time.Minute,
	}

	tests := []struct {
		name string
		size int64
		opts domain.AnalysisOptions
		want time.Duration
	}{
		{name: "small target-only run hits the floor", size: 100, want: 15 * time.Second},
		{name: "target-only scales with size", size: 9500, want: 20 * time.Second},
		{
			name: "observed run multiplies by passes",
			size: 1000,
			opts: domain.AnalysisOptions{RunObserved: true},
			// 1 unit · (1 + 6 default grades)
			want: 17 * time.Second,
		},
		{
			name: "explicit grades",
			size: 2000,
			opts: domain.AnalysisOptions{RunObserved: true, ObservedGrades: domain.Scale{1, 2}},
			want: 16 * time.Second,
		},
		{
			name: "ceiling",
			size: 1 << 20,
			opts: domain.AnalysisOptions{RunObserved: true},
			want: 2 * time.Minute,
		},
		{name: "negative size", size: -5, want: 15 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, model.Budget(tt.size, tt.opts))
		})
	}
}

func TestDefaultCostModel(t *testing.T) {
	m := DefaultCostModel()
	assert.Equal(t, 30*time.Second, m.Budget(0, domain.AnalysisOptions{}))
	assert.LessOrEqual(t, m.Budget(1<<30, domain.AnalysisOptions{RunObserved: true}), m.Max)
}
