package correlation

import (
	"time"
)

// DefaultRules returns a starter rule set covering the common correlation
// paths: shared-source grouping, text similarity for repeated symptoms, and
// a temporal fallback for everything else.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:               "shared-source",
			Strategy:           StrategySpatial,
			Enabled:            true,
			Priority:           10,
			Weight:             1.0,
			TimeWindow:         10 * time.Minute,
			HostWeight:         2.5,
			ComponentWeight:    2.0,
			CategoryWeight:     1.5,
			SuppressAfterCount: 20,
		},
		{
			Name:               "similar-symptoms",
			Strategy:           StrategySemantic,
			Enabled:            true,
			Priority:           20,
			Weight:             0.9,
			TimeWindow:         15 * time.Minute,
			MinSimilarityScore: 0.7,
			SuppressAfterCount: 20,
		},
		{
			Name:       "temporal-fallback",
			Strategy:   StrategyTemporal,
			Enabled:    true,
			Priority:   100,
			Weight:     0.8,
			TimeWindow: 5 * time.Minute,
		},
	}
}
