package application

import (
	"time"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
)

// CostModel estimates how long a job may run before it is failed with a
// timeout. The estimate is Base + PerUnit·ceil(size/UnitBytes)·passes,
// clamped to [Min, Max], where passes is 1 for a target-only run and
// 1 + |observed grades| when curves are requested.
type CostModel struct {
	Base      time.Duration `yaml:"base" validate:"gte=0"`
	PerUnit   time.Duration `yaml:"per_unit" validate:"gte=0"`
	UnitBytes int64         `yaml:"unit_bytes" validate:"gt=0"`
	Min       time.Duration `yaml:"min" validate:"gt=0"`
	Max       time.Duration `yaml:"max" validate:"gtefield=Min"`
}

// DefaultCostModel returns the cost model used when none is configured.
func DefaultCostModel() CostModel {
	return CostModel{
		Base:      20 * time.Second,
		PerUnit:   2 * time.Second,
		UnitBytes: 64 << 10,
		Min:       30 * time.Second,
		Max:       10 * time.Minute,
	}
}

// Budget returns the time allowed for a document of size bytes analysed
// with opts.
func (m CostModel) Budget(size int64, opts domain.AnalysisOptions) time.Duration {
	passes := int64(1)
	if opts.RunObserved {
		passes += int64(len(opts.Grades()))
	}
	unitBytes := m.UnitBytes
	if unitBytes <= 0 {
		unitBytes = 1
	}
	units := (max(size, 0) + unitBytes - 1) / unitBytes

	budget := m.Base + m.PerUnit*time.Duration(units*passes)
	if budget < m.Min {
		budget = m.Min
	}
	if m.Max > 0 && budget > m.Max {
		budget = m.Max
	}
	return budget
}
