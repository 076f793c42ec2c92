package correlation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quellhq/quell/internal/core/domain"
	"github.com/quellhq/quell/internal/logging"
)

// createTestLogger creates a logger for testing.
func createTestLogger() *logging.Logger {
	config := logging.DefaultConfig(logging.Test)
	logger, _ := logging.NewLogger(config)
	return logger
}

// createTestEngine creates an engine with default configuration and no
// external collaborators.
func createTestEngine(t *testing.T) *Engine {
	t.Helper()
	engine, err := NewEngine(DefaultConfig(), Dependencies{}, createTestLogger())
	require.NoError(t, err)
	return engine
}

// createTestAlert creates a minimal valid alert.
func createTestAlert(id string, triggeredAt time.Time) domain.Alert {
	return domain.Alert{
		ID:          id,
		Severity:    domain.SeverityHigh,
		TriggeredAt: triggeredAt,
	}
}

// createSourceAlert creates an alert with source attribution for spatial
// correlation tests.
func createSourceAlert(id, host, component, category string, triggeredAt time.Time) domain.Alert {
	alert := createTestAlert(id, triggeredAt)
	alert.SourceHost = host
	alert.SourceComponent = component
	alert.Category = category
	return alert
}

// sharedSourceRule is the spatial rule used across the merge tests.
func sharedSourceRule() Rule {
	return Rule{
		Name:            "shared-source",
		Strategy:        StrategySpatial,
		Enabled:         true,
		Priority:        10,
		Weight:          1.0,
		TimeWindow:      10 * time.Minute,
		HostWeight:      2.5,
		ComponentWeight: 2.0,
		CategoryWeight:  1.5,
	}
}

func TestNewEngine(t *testing.T) {
	logger := createTestLogger()

	t.Run("valid configuration", func(t *testing.T) {
		engine, err := NewEngine(DefaultConfig(), Dependencies{}, logger)

		require.NoError(t, err)
		assert.NotNil(t, engine)
		assert.NotNil(t, engine.groups)
		assert.NotNil(t, engine.alertToGroup)
		assert.NotNil(t, engine.rulesByName)
	})

	t.Run("nil logger", func(t *testing.T) {
		engine, err := NewEngine(DefaultConfig(), Dependencies{}, nil)

		assert.Error(t, err)
		assert.Nil(t, engine)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("non-positive time window", func(t *testing.T) {
		config := DefaultConfig()
		config.DefaultTimeWindow = 0
		engine, err := NewEngine(config, Dependencies{}, logger)

		assert.Error(t, err)
		assert.Nil(t, engine)
	})

	t.Run("non-positive group size", func(t *testing.T) {
		config := DefaultConfig()
		config.MaxGroupSize = 0
		engine, err := NewEngine(config, Dependencies{}, logger)

		assert.Error(t, err)
		assert.Nil(t, engine)
	})

	t.Run("missing optional settings get defaults", func(t *testing.T) {
		config := Config{DefaultTimeWindow: time.Minute, MaxGroupSize: 10}
		engine, err := NewEngine(config, Dependencies{}, logger)

		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().MaxGroupAge, engine.config.MaxGroupAge)
		assert.Equal(t, DefaultConfig().SweepInterval, engine.config.SweepInterval)
		assert.Equal(t, DefaultConfig().PersistTimeout, engine.config.PersistTimeout)
	})
}

func TestEngine_StartStop(t *testing.T) {
	engine := createTestEngine(t)

	require.NoError(t, engine.Start())
	assert.Error(t, engine.Start(), "second start should fail")

	engine.Stop()
	engine.Stop() // stop is idempotent

	assert.Error(t, engine.Start(), "restart after stop should fail")
	engine.Stop()
}

func TestEngine_AddRule(t *testing.T) {
	engine := createTestEngine(t)

	t.Run("registers valid rule", func(t *testing.T) {
		require.NoError(t, engine.AddRule(sharedSourceRule()))
	})

	t.Run("rejects duplicate name", func(t *testing.T) {
		err := engine.AddRule(sharedSourceRule())
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInvalidRule)
		assert.Contains(t, err.Error(), "already registered")
	})

	t.Run("rejects invalid rule", func(t *testing.T) {
		err := engine.AddRule(Rule{Name: "bad", Strategy: Strategy("fuzzy")})
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("sorts by priority then registration order", func(t *testing.T) {
		require.NoError(t, engine.AddRule(Rule{
			Name: "fallback", Strategy: StrategyTemporal, Enabled: true,
			Priority: 100, Weight: 0.8, TimeWindow: 5 * time.Minute,
		}))
		require.NoError(t, engine.AddRule(Rule{
			Name: "first", Strategy: StrategyTemporal, Enabled: true,
			Priority: 1, Weight: 0.8, TimeWindow: 5 * time.Minute,
		}))

		engine.mu.RLock()
		defer engine.mu.RUnlock()
		names := make([]string, len(engine.rules))
		for i, r := range engine.rules {
			names[i] = r.Name
		}
		assert.Equal(t, []string{"first", "shared-source", "fallback"}, names)
	})
}

func TestEngine_RemoveRule(t *testing.T) {
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	assert.True(t, engine.RemoveRule("shared-source"))
	assert.False(t, engine.RemoveRule("shared-source"))
	assert.False(t, engine.RemoveRule("never-existed"))
}

func TestEngine_EnableRule(t *testing.T) {
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	assert.True(t, engine.EnableRule("shared-source", false))
	assert.False(t, engine.EnableRule("missing", false))

	// A disabled rule no longer correlates.
	now := time.Now().UTC()
	ref1, err := engine.Process(context.Background(), createSourceAlert("a1", "db1", "pool", "performance", now))
	require.NoError(t, err)
	ref2, err := engine.Process(context.Background(), createSourceAlert("a2", "db1", "pool", "performance", now))
	require.NoError(t, err)

	assert.True(t, ref1.Created)
	assert.True(t, ref2.Created)
	assert.NotEqual(t, ref1.GroupID, ref2.GroupID)
}

func TestEngine_Process_InvalidAlert(t *testing.T) {
	engine := createTestEngine(t)

	ref, err := engine.Process(context.Background(), domain.Alert{})

	assert.Error(t, err)
	assert.Nil(t, ref)
	assert.Contains(t, err.Error(), "invalid alert")
}

func TestEngine_Process_SyntheticAlert(t *testing.T) {
	engine := createTestEngine(t)

	alert := createTestAlert("synthetic-1", time.Now().UTC())
	alert.Synthetic = true

	ref, err := engine.Process(context.Background(), alert)

	assert.NoError(t, err)
	assert.Nil(t, ref)
	assert.Empty(t, engine.GetGroups())
}

func TestEngine_Process_CreatesGroupWithoutRules(t *testing.T) {
	engine := createTestEngine(t)

	ref, err := engine.Process(context.Background(), createTestAlert("a1", time.Now().UTC()))

	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.True(t, ref.Created)
	assert.False(t, ref.Suppressed)
	assert.Empty(t, ref.RuleName)
	assert.Equal(t, domain.ConfidenceVeryLow, ref.Confidence)

	group := engine.GetGroup(ref.GroupID)
	require.NotNil(t, group)
	assert.Equal(t, "a1", group.RootAlertID)
	assert.Equal(t, domain.GroupStatusOpen, group.Status)
	assert.Len(t, group.Alerts, 1)
}

func TestEngine_Process_SharedSourceMerge(t *testing.T) {
	// Two alerts sharing host, component and category, 2 minutes apart,
	// under spatial weights {host=2.5, component=2.0, category=1.5}: score
	// 6.0/7.0 ≈ 0.857, classified high, so the second alert merges.
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	base := time.Now().UTC().Add(-2 * time.Minute)
	ref1, err := engine.Process(context.Background(), createSourceAlert("a1", "db1", "pool", "performance", base))
	require.NoError(t, err)
	require.True(t, ref1.Created)

	ref2, err := engine.Process(context.Background(), createSourceAlert("a2", "db1", "pool", "performance", base.Add(2*time.Minute)))
	require.NoError(t, err)

	assert.False(t, ref2.Created)
	assert.Equal(t, ref1.GroupID, ref2.GroupID)
	assert.Equal(t, "shared-source", ref2.RuleName)
	assert.Equal(t, StrategySpatial, ref2.Strategy)
	assert.Equal(t, domain.ConfidenceHigh, ref2.Confidence)

	group := engine.GetGroup(ref1.GroupID)
	require.NotNil(t, group)
	assert.Len(t, group.Alerts, 2)
	assert.InDelta(t, 6.0/7.0, group.ConfidenceScore, 1e-9)
	assert.Equal(t, []string{"shared-source"}, group.Rules)
	assert.Contains(t, group.Evidence, "shared-source.avg_match_value")
}

func TestEngine_Process_SemanticMerge(t *testing.T) {
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(Rule{
		Name:               "similar-symptoms",
		Strategy:           StrategySemantic,
		Enabled:            true,
		Priority:           20,
		Weight:             0.8,
		TimeWindow:         15 * time.Minute,
		MinSimilarityScore: 0.7,
	}))

	base := time.Now().UTC().Add(-time.Minute)
	first := createTestAlert("a1", base)
	first.Title = "Disk full"
	first.Description = "Volume /data at 100%"

	second := createTestAlert("a2", base.Add(time.Minute))
	second.Title = "Disk full"
	second.Description = "Volume /data at 100%"

	ref1, err := engine.Process(context.Background(), first)
	require.NoError(t, err)
	ref2, err := engine.Process(context.Background(), second)
	require.NoError(t, err)

	assert.True(t, ref1.Created)
	assert.False(t, ref2.Created)
	assert.Equal(t, ref1.GroupID, ref2.GroupID)
	assert.Equal(t, StrategySemantic, ref2.Strategy)
	assert.Equal(t, domain.ConfidenceHigh, ref2.Confidence)

	group := engine.GetGroup(ref1.GroupID)
	require.NotNil(t, group)
	assert.InDelta(t, 0.8, group.ConfidenceScore, 1e-9)
}

func TestEngine_Process_TemporalWindowExpired(t *testing.T) {
	// An alert triggered 20 minutes after the group member, under a
	// temporal rule with a 10 minute window, must not correlate.
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(Rule{
		Name: "temporal", Strategy: StrategyTemporal, Enabled: true,
		Priority: 10, Weight: 1.0, TimeWindow: 10 * time.Minute,
	}))

	base := time.Now().UTC().Add(-20 * time.Minute)
	ref1, err := engine.Process(context.Background(), createTestAlert("a1", base))
	require.NoError(t, err)
	ref2, err := engine.Process(context.Background(), createTestAlert("a2", base.Add(20*time.Minute)))
	require.NoError(t, err)

	assert.True(t, ref1.Created)
	assert.True(t, ref2.Created)
	assert.NotEqual(t, ref1.GroupID, ref2.GroupID)
}

func TestEngine_Process_SuppressionFlipsOnNinthMerge(t *testing.T) {
	engine := createTestEngine(t)
	rule := sharedSourceRule()
	rule.SuppressAfterCount = 8
	require.NoError(t, engine.AddRule(rule))

	base := time.Now().UTC().Add(-time.Minute)
	var groupID string
	for i := 1; i <= 9; i++ {
		alert := createSourceAlert(fmt.Sprintf("a%d", i), "db1", "pool", "performance", base.Add(time.Duration(i)*time.Second))
		ref, err := engine.Process(context.Background(), alert)
		require.NoError(t, err)

		switch i {
		case 1:
			require.True(t, ref.Created)
			groupID = ref.GroupID
		case 9:
			assert.Equal(t, groupID, ref.GroupID)
			assert.True(t, ref.Suppressed, "9th member must flip suppression")
		default:
			assert.Equal(t, groupID, ref.GroupID)
			assert.False(t, ref.Suppressed, "member %d must not suppress", i)
		}
	}

	group := engine.GetGroup(groupID)
	require.NotNil(t, group)
	assert.Equal(t, domain.GroupStatusSuppressed, group.Status)
	assert.Len(t, group.Alerts, 9)

	stats := engine.GetStats()
	assert.Equal(t, int64(1), stats.GroupsSuppressed)
}

func TestEngine_Process_PatternMatchMerge(t *testing.T) {
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(Rule{
		Name: "latency-pattern", Strategy: StrategyPatternMatch, Enabled: true,
		Priority: 10, Weight: 1.0, Pattern: "(timeout|latency)",
		TimeWindow: 10 * time.Minute,
	}))

	base := time.Now().UTC().Add(-time.Minute)
	first := createTestAlert("a1", base)
	first.Title = "High latency observed"
	second := createTestAlert("a2", base.Add(time.Minute))
	second.Title = "Request timeout detected"

	ref1, err := engine.Process(context.Background(), first)
	require.NoError(t, err)
	ref2, err := engine.Process(context.Background(), second)
	require.NoError(t, err)

	assert.True(t, ref1.Created)
	assert.False(t, ref2.Created)
	assert.Equal(t, StrategyPatternMatch, ref2.Strategy)

	group := engine.GetGroup(ref1.GroupID)
	require.NotNil(t, group)
	assert.InDelta(t, 0.8, group.ConfidenceScore, 1e-9)
}

func TestEngine_Process_Idempotent(t *testing.T) {
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	alert := createSourceAlert("a1", "db1", "pool", "performance", time.Now().UTC())

	ref1, err := engine.Process(context.Background(), alert)
	require.NoError(t, err)
	ref2, err := engine.Process(context.Background(), alert)
	require.NoError(t, err)

	assert.Equal(t, ref1.GroupID, ref2.GroupID)
	assert.False(t, ref2.Created)

	group := engine.GetGroup(ref1.GroupID)
	require.NotNil(t, group)
	assert.Len(t, group.Alerts, 1, "reprocessing must not duplicate membership")
}

func TestEngine_Process_Exclusivity(t *testing.T) {
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	base := time.Now().UTC().Add(-time.Minute)
	for i := 0; i < 20; i++ {
		host := fmt.Sprintf("host-%d", i%4)
		alert := createSourceAlert(fmt.Sprintf("a%d", i), host, "pool", "performance", base.Add(time.Duration(i)*time.Second))
		_, err := engine.Process(context.Background(), alert)
		require.NoError(t, err)
	}

	seen := make(map[string]string)
	for _, group := range engine.GetGroups() {
		for _, alert := range group.Alerts {
			owner, dup := seen[alert.ID]
			assert.False(t, dup, "alert %s in both %s and %s", alert.ID, owner, group.ID)
			seen[alert.ID] = group.ID
		}
	}
	assert.Len(t, seen, 20)
}

func TestEngine_Process_RespectsMaxGroupSize(t *testing.T) {
	config := DefaultConfig()
	config.MaxGroupSize = 2
	engine, err := NewEngine(config, Dependencies{}, createTestLogger())
	require.NoError(t, err)
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	base := time.Now().UTC().Add(-time.Minute)
	ref1, err := engine.Process(context.Background(), createSourceAlert("a1", "db1", "pool", "performance", base))
	require.NoError(t, err)
	ref2, err := engine.Process(context.Background(), createSourceAlert("a2", "db1", "pool", "performance", base.Add(time.Second)))
	require.NoError(t, err)
	ref3, err := engine.Process(context.Background(), createSourceAlert("a3", "db1", "pool", "performance", base.Add(2*time.Second)))
	require.NoError(t, err)

	assert.Equal(t, ref1.GroupID, ref2.GroupID)
	assert.True(t, ref3.Created, "a full group must not accept more members")
	assert.NotEqual(t, ref1.GroupID, ref3.GroupID)
}

func TestEngine_Process_BestOutcomeWins(t *testing.T) {
	// With a weak temporal rule and a strong spatial rule both matching,
	// the higher-scoring spatial outcome must win regardless of priority.
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(Rule{
		Name: "weak-temporal", Strategy: StrategyTemporal, Enabled: true,
		Priority: 1, Weight: 0.75, TimeWindow: 10 * time.Minute,
	}))
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	base := time.Now().UTC().Add(-time.Minute)
	_, err := engine.Process(context.Background(), createSourceAlert("a1", "db1", "pool", "performance", base))
	require.NoError(t, err)
	ref, err := engine.Process(context.Background(), createSourceAlert("a2", "db1", "pool", "performance", base.Add(time.Second)))
	require.NoError(t, err)

	assert.False(t, ref.Created)
	assert.Equal(t, "shared-source", ref.RuleName)
	assert.Equal(t, StrategySpatial, ref.Strategy)
}

func TestEngine_Process_EvaluatorFailureDoesNotBlockOtherRules(t *testing.T) {
	engine := createTestEngine(t)

	broken := sharedSourceRule()
	broken.Name = "broken-window"
	broken.Priority = 1
	require.NoError(t, engine.AddRule(broken))
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	// Corrupt the bound evaluator of the higher-priority rule so it
	// panics on every (group, rule) pair.
	engine.mu.Lock()
	engine.rulesByName["broken-window"].evaluate = func(domain.Alert, *domain.AlertGroup, *Rule) Outcome {
		panic("corrupted evaluator state")
	}
	engine.mu.Unlock()

	base := time.Now().UTC().Add(-time.Minute)
	_, err := engine.Process(context.Background(), createSourceAlert("a1", "db1", "pool", "performance", base))
	require.NoError(t, err)

	ref, err := engine.Process(context.Background(), createSourceAlert("a2", "db1", "pool", "performance", base.Add(time.Second)))
	require.NoError(t, err)
	assert.False(t, ref.Created, "healthy rule should still merge")
	assert.Equal(t, "shared-source", ref.RuleName)
	assert.Equal(t, StrategySpatial, ref.Strategy)

	stats := engine.GetStats()
	assert.Equal(t, int64(1), stats.EvaluationFailures)
	assert.Equal(t, int64(1), stats.TotalCorrelated)
}

func TestEngine_ResolveGroup(t *testing.T) {
	engine := createTestEngine(t)

	ref, err := engine.Process(context.Background(), createTestAlert("a1", time.Now().UTC()))
	require.NoError(t, err)

	assert.True(t, engine.ResolveGroup(ref.GroupID))
	assert.False(t, engine.ResolveGroup(ref.GroupID), "resolving twice must fail")
	assert.False(t, engine.ResolveGroup("missing"))

	group := engine.GetGroup(ref.GroupID)
	require.NotNil(t, group)
	assert.Equal(t, domain.GroupStatusResolved, group.Status)

	// Ownership is retained for late attribution until garbage collection.
	assert.NotNil(t, engine.GetGroupForAlert("a1"))
}

func TestEngine_ResolvedGroupNotACandidate(t *testing.T) {
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	base := time.Now().UTC().Add(-time.Minute)
	ref1, err := engine.Process(context.Background(), createSourceAlert("a1", "db1", "pool", "performance", base))
	require.NoError(t, err)
	require.True(t, engine.ResolveGroup(ref1.GroupID))

	ref2, err := engine.Process(context.Background(), createSourceAlert("a2", "db1", "pool", "performance", base.Add(time.Second)))
	require.NoError(t, err)

	assert.True(t, ref2.Created)
	assert.NotEqual(t, ref1.GroupID, ref2.GroupID)
}

func TestEngine_ReopenGroup(t *testing.T) {
	engine := createTestEngine(t)

	ref, err := engine.Process(context.Background(), createTestAlert("a1", time.Now().UTC()))
	require.NoError(t, err)

	assert.False(t, engine.ReopenGroup(ref.GroupID), "open group cannot reopen")

	require.True(t, engine.ResolveGroup(ref.GroupID))
	assert.True(t, engine.ReopenGroup(ref.GroupID))

	group := engine.GetGroup(ref.GroupID)
	require.NotNil(t, group)
	assert.Equal(t, domain.GroupStatusOpen, group.Status)
}

func TestEngine_GetGroupForAlert(t *testing.T) {
	engine := createTestEngine(t)

	ref, err := engine.Process(context.Background(), createTestAlert("a1", time.Now().UTC()))
	require.NoError(t, err)

	group := engine.GetGroupForAlert("a1")
	require.NotNil(t, group)
	assert.Equal(t, ref.GroupID, group.ID)

	assert.Nil(t, engine.GetGroupForAlert("missing"))
}

func TestEngine_GetGroup_ReturnsCopy(t *testing.T) {
	engine := createTestEngine(t)

	ref, err := engine.Process(context.Background(), createTestAlert("a1", time.Now().UTC()))
	require.NoError(t, err)

	copy1 := engine.GetGroup(ref.GroupID)
	require.NotNil(t, copy1)
	copy1.Alerts = append(copy1.Alerts, createTestAlert("injected", time.Now().UTC()))
	copy1.Status = domain.GroupStatusResolved

	copy2 := engine.GetGroup(ref.GroupID)
	require.NotNil(t, copy2)
	assert.Len(t, copy2.Alerts, 1)
	assert.Equal(t, domain.GroupStatusOpen, copy2.Status)
}

func TestEngine_GetStats(t *testing.T) {
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	base := time.Now().UTC().Add(-time.Minute)
	_, err := engine.Process(context.Background(), createSourceAlert("a1", "db1", "pool", "performance", base))
	require.NoError(t, err)
	_, err = engine.Process(context.Background(), createSourceAlert("a2", "db1", "pool", "performance", base.Add(time.Second)))
	require.NoError(t, err)
	_, err = engine.Process(context.Background(), createTestAlert("a3", base.Add(2*time.Second)))
	require.NoError(t, err)

	stats := engine.GetStats()

	assert.Equal(t, int64(3), stats.TotalProcessed)
	assert.Equal(t, int64(1), stats.TotalCorrelated)
	assert.Equal(t, int64(2), stats.GroupsCreated)
	assert.Equal(t, 2, stats.ActiveGroups)
	assert.Equal(t, int64(1), stats.StrategyMatches[StrategySpatial])
	assert.GreaterOrEqual(t, stats.AvgProcessingLatencyMs, 0.0)
}

func TestEngine_ConcurrentProcessing(t *testing.T) {
	engine := createTestEngine(t)
	require.NoError(t, engine.AddRule(sharedSourceRule()))

	const producers = 8
	const perProducer = 25

	var wg sync.WaitGroup
	base := time.Now().UTC()
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				alert := createSourceAlert(
					fmt.Sprintf("p%d-a%d", p, i),
					fmt.Sprintf("host-%d", p%2),
					"pool", "performance", base)
				_, err := engine.Process(context.Background(), alert)
				assert.NoError(t, err)
			}
		}(p)
	}
	wg.Wait()

	stats := engine.GetStats()
	assert.Equal(t, int64(producers*perProducer), stats.TotalProcessed)

	// Exclusivity holds under concurrency.
	seen := make(map[string]bool)
	total := 0
	for _, group := range engine.GetGroups() {
		for _, alert := range group.Alerts {
			assert.False(t, seen[alert.ID], "alert %s owned twice", alert.ID)
			seen[alert.ID] = true
			total++
		}
	}
	assert.Equal(t, producers*perProducer, total)
}
