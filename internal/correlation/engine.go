package correlation

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quellhq/quell/internal/breaker"
	"github.com/quellhq/quell/internal/cache"
	"github.com/quellhq/quell/internal/callback"
	"github.com/quellhq/quell/internal/core/domain"
	"github.com/quellhq/quell/internal/logging"
	"github.com/quellhq/quell/internal/metrics"
)

// groupKeyPrefix namespaces group snapshot keys in the external cache.
const groupKeyPrefix = "quell:group:"

// Config configures the correlation engine behaviour.
type Config struct {
	// DefaultTimeWindow bounds candidate-group selection for rules without
	// their own window
	DefaultTimeWindow time.Duration `yaml:"default_time_window" json:"default_time_window"`
	// MaxGroupSize is the engine-wide cap on group membership
	MaxGroupSize int `yaml:"max_group_size" json:"max_group_size"`
	// MaxGroupAge removes groups older than this regardless of status
	MaxGroupAge time.Duration `yaml:"max_group_age" json:"max_group_age"`
	// ResolvedRetention removes resolved groups idle longer than this
	ResolvedRetention time.Duration `yaml:"resolved_retention" json:"resolved_retention"`
	// SweepInterval determines how often the lifecycle sweep runs
	SweepInterval time.Duration `yaml:"sweep_interval" json:"sweep_interval"`
	// PersistTimeout bounds each snapshot write to the external cache
	PersistTimeout time.Duration `yaml:"persist_timeout" json:"persist_timeout"`
	// PersistBufferSize bounds the queue of pending snapshot writes
	PersistBufferSize int `yaml:"persist_buffer_size" json:"persist_buffer_size"`
	// LatencyWindowSize is the number of samples in the rolling latency window
	LatencyWindowSize int `yaml:"latency_window_size" json:"latency_window_size"`
}

// DefaultConfig returns sensible defaults for alert correlation.
func DefaultConfig() Config {
	return Config{
		DefaultTimeWindow: 10 * time.Minute,
		MaxGroupSize:      100,
		MaxGroupAge:       24 * time.Hour,
		ResolvedRetention: 30 * time.Minute,
		SweepInterval:     5 * time.Minute,
		PersistTimeout:    2 * time.Second,
		PersistBufferSize: 256,
		LatencyWindowSize: 256,
	}
}

// Dependencies carries the optional external collaborators of the engine.
// Any of them may be nil; the engine then runs purely in memory.
type Dependencies struct {
	// Cache receives best-effort group snapshots
	Cache cache.Provider
	// Breaker isolates cache calls when the cache is unhealthy
	Breaker *breaker.Breaker
	// Callbacks receives group lifecycle events
	Callbacks *callback.Dispatcher
}

// GroupRef is the result of processing one alert: which group now owns it
// and how it got there.
type GroupRef struct {
	// GroupID identifies the owning group
	GroupID string `json:"group_id"`
	// Created is true when the alert became the root of a new group
	Created bool `json:"created"`
	// Suppressed is true when this merge flipped the group to suppressed
	Suppressed bool `json:"suppressed"`
	// RuleName is the winning rule (empty for created groups)
	RuleName string `json:"rule_name,omitempty"`
	// Strategy is the winning rule's strategy (empty for created groups)
	Strategy Strategy `json:"strategy,omitempty"`
	// Confidence classifies the winning outcome's score
	Confidence domain.Confidence `json:"confidence"`
}

// Engine is the correlation orchestrator. It owns the rule registry and the
// group store; all access is serialised through a single lock, which keeps
// each Process call atomic with respect to the store. Alerting workloads
// are hundreds of events per second, so correctness wins over parallel
// throughput here.
type Engine struct {
	config Config
	logger *logging.Logger
	deps   Dependencies

	mu           sync.RWMutex
	rules        []*Rule
	rulesByName  map[string]*Rule
	nextSeq      int
	groups       map[string]*domain.AlertGroup
	alertToGroup map[string]string
	counters     counters
	latency      *latencyWindow

	persistCh   chan persistOp
	stopCh      chan struct{}
	sweepDone   chan struct{}
	persistDone chan struct{}
	started     bool
	stopped     bool
}

// counters aggregates engine statistics. Guarded by Engine.mu.
type counters struct {
	totalProcessed      int64
	totalCorrelated     int64
	groupsCreated       int64
	groupsSuppressed    int64
	evaluationFailures  int64
	persistenceFailures int64
	strategyMatches     map[Strategy]int64
}

// persistOp is one queued cache operation for the persistence worker.
type persistOp struct {
	key     string
	payload []byte
	delete  bool
}

// NewEngine creates a correlation engine with the given configuration and
// collaborators. The engine is inert until Start is called.
func NewEngine(config Config, deps Dependencies, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if config.DefaultTimeWindow <= 0 {
		return nil, fmt.Errorf("default time window must be positive")
	}
	if config.MaxGroupSize <= 0 {
		return nil, fmt.Errorf("max group size must be positive")
	}
	defaults := DefaultConfig()
	if config.MaxGroupAge <= 0 {
		config.MaxGroupAge = defaults.MaxGroupAge
	}
	if config.ResolvedRetention <= 0 {
		config.ResolvedRetention = defaults.ResolvedRetention
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.PersistTimeout <= 0 {
		config.PersistTimeout = defaults.PersistTimeout
	}
	if config.PersistBufferSize <= 0 {
		config.PersistBufferSize = defaults.PersistBufferSize
	}

	return &Engine{
		config:       config,
		logger:       logger,
		deps:         deps,
		rulesByName:  make(map[string]*Rule),
		groups:       make(map[string]*domain.AlertGroup),
		alertToGroup: make(map[string]string),
		counters:     counters{strategyMatches: make(map[Strategy]int64)},
		latency:      newLatencyWindow(config.LatencyWindowSize),
		persistCh:    make(chan persistOp, config.PersistBufferSize),
		stopCh:       make(chan struct{}),
		sweepDone:    make(chan struct{}),
		persistDone:  make(chan struct{}),
	}, nil
}

// Start launches the lifecycle sweep and the persistence worker. The engine
// is single-use: once stopped it cannot be restarted.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return fmt.Errorf("engine is stopped and cannot be restarted")
	}
	if e.started {
		return fmt.Errorf("engine is already started")
	}
	e.started = true

	go e.sweepWorker()
	go e.persistWorker()

	e.logger.Info("Correlation engine started",
		"rules", len(e.rules),
		"sweep_interval", e.config.SweepInterval,
		"max_group_age", e.config.MaxGroupAge)
	return nil
}

// Stop shuts down the background workers and waits for them to finish.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	<-e.sweepDone
	<-e.persistDone
	e.logger.Info("Correlation engine stopped")
}

// AddRule validates and registers a correlation rule. The rule's evaluator
// is resolved once here; an invalid rule is rejected and never becomes
// active.
func (e *Engine) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rulesByName[rule.Name]; exists {
		return fmt.Errorf("%w: rule %q already registered", ErrInvalidRule, rule.Name)
	}

	rule.evaluate = evaluators[rule.Strategy]
	rule.seq = e.nextSeq
	e.nextSeq++

	registered := rule
	e.rules = append(e.rules, &registered)
	e.rulesByName[rule.Name] = &registered
	e.sortRulesLocked()

	e.logger.Debug("Registered correlation rule",
		"rule", rule.Name,
		"strategy", string(rule.Strategy),
		"priority", rule.Priority)
	return nil
}

// RemoveRule unregisters a rule by name. Returns false when no such rule
// exists.
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.rulesByName[name]; !exists {
		return false
	}
	delete(e.rulesByName, name)
	for i, r := range e.rules {
		if r.Name == name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			break
		}
	}
	return true
}

// EnableRule toggles a rule without unregistering it. Returns false when no
// such rule exists.
func (e *Engine) EnableRule(name string, enabled bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rule, exists := e.rulesByName[name]
	if !exists {
		return false
	}
	rule.Enabled = enabled
	return true
}

// sortRulesLocked orders rules by priority (lower first) with registration
// order as the tie-break. Priority governs evaluation order only.
func (e *Engine) sortRulesLocked() {
	sort.SliceStable(e.rules, func(i, j int) bool {
		if e.rules[i].Priority != e.rules[j].Priority {
			return e.rules[i].Priority < e.rules[j].Priority
		}
		return e.rules[i].seq < e.rules[j].seq
	})
}

// Process runs one alert through the correlation pipeline and returns a
// reference to the group that now owns it.
//
// The returned error is non-nil only for structurally invalid input;
// evaluator, persistence and callback failures are absorbed. Synthetic
// alerts are ignored and return a nil reference. Processing the same alert
// ID twice returns the existing reference unchanged.
func (e *Engine) Process(ctx context.Context, alert domain.Alert) (*GroupRef, error) {
	start := time.Now()

	if err := alert.Validate(); err != nil {
		metrics.ObserveProcess(time.Since(start), metrics.ResultRejected)
		return nil, fmt.Errorf("invalid alert: %w", err)
	}
	if alert.Synthetic {
		metrics.ObserveProcess(time.Since(start), metrics.ResultRejected)
		e.logger.Debug("Ignoring synthetic alert", "alert_id", alert.ID)
		return nil, nil
	}

	e.mu.Lock()
	ref, effects := e.processLocked(alert)
	e.latency.observe(time.Since(start))
	e.mu.Unlock()

	// Side effects are fire-and-forget: failures never roll back the
	// group mutation committed above.
	for _, effect := range effects {
		e.emit(effect)
	}

	result := metrics.ResultCorrelated
	if ref.Created {
		result = metrics.ResultCreated
	}
	metrics.ObserveProcess(time.Since(start), result)
	return ref, nil
}

// sideEffect pairs a lifecycle event with the snapshot to persist, captured
// under the lock and emitted after it is released.
type sideEffect struct {
	event    callback.Event
	snapshot []byte
	groupID  string
}

// processLocked performs steps 2-8 of the pipeline under the store lock.
func (e *Engine) processLocked(alert domain.Alert) (*GroupRef, []sideEffect) {
	e.counters.totalProcessed++
	now := time.Now().UTC()

	// Idempotence: an alert already owned by a group (including a resolved
	// one awaiting garbage collection) is never re-correlated.
	if groupID, owned := e.alertToGroup[alert.ID]; owned {
		if group, ok := e.groups[groupID]; ok {
			return &GroupRef{
				GroupID:    group.ID,
				Suppressed: group.Status == domain.GroupStatusSuppressed,
				Confidence: domain.ClassifyConfidence(group.ConfidenceScore),
			}, nil
		}
	}

	applicable := e.applicableRulesLocked(alert)
	best := e.selectBestLocked(alert, applicable, now)

	if best == nil || best.outcome.Confidence() < domain.ConfidenceHigh {
		return e.createGroupLocked(alert, now)
	}
	return e.mergeLocked(alert, best, now)
}

// applicableRulesLocked returns the enabled rules passing the alert's
// filters, already in priority order.
func (e *Engine) applicableRulesLocked(alert domain.Alert) []*Rule {
	applicable := make([]*Rule, 0, len(e.rules))
	for _, rule := range e.rules {
		if rule.AppliesTo(alert) {
			applicable = append(applicable, rule)
		}
	}
	return applicable
}

// candidate is a matched (group, rule) pair under consideration for the
// best outcome.
type candidate struct {
	group   *domain.AlertGroup
	rule    *Rule
	outcome Outcome
}

// selectBestLocked evaluates every applicable rule against every candidate
// group and returns the highest-scoring matched outcome. Ties are broken by
// rule priority, then by group recency. A failing evaluator is treated as a
// non-match and does not block the remaining pairs.
func (e *Engine) selectBestLocked(alert domain.Alert, applicable []*Rule, now time.Time) *candidate {
	if len(applicable) == 0 {
		return nil
	}

	maxWindow := time.Duration(0)
	for _, rule := range applicable {
		if w := rule.window(e.config.DefaultTimeWindow); w > maxWindow {
			maxWindow = w
		}
	}

	var best *candidate
	for _, group := range e.groups {
		if group.Status != domain.GroupStatusOpen {
			continue
		}
		if now.Sub(group.UpdatedAt) > maxWindow {
			continue
		}
		if len(group.Alerts) >= e.config.MaxGroupSize {
			continue
		}
		for _, rule := range applicable {
			if rule.MaxGroupSize > 0 && len(group.Alerts) >= rule.MaxGroupSize {
				continue
			}
			outcome := e.safeEvaluate(rule, alert, group)
			if !outcome.Matched {
				continue
			}
			contender := &candidate{group: group, rule: rule, outcome: outcome}
			if best == nil || contender.beats(best) {
				best = contender
			}
		}
	}
	return best
}

// beats reports whether c should win over current: higher score first, then
// lower rule priority, then earlier registration, then more recently
// updated group.
func (c *candidate) beats(current *candidate) bool {
	if c.outcome.Score != current.outcome.Score {
		return c.outcome.Score > current.outcome.Score
	}
	if c.rule.Priority != current.rule.Priority {
		return c.rule.Priority < current.rule.Priority
	}
	if c.rule.seq != current.rule.seq {
		return c.rule.seq < current.rule.seq
	}
	return c.group.UpdatedAt.After(current.group.UpdatedAt)
}

// safeEvaluate runs the rule's evaluator, recovering a panic as a
// non-match.
func (e *Engine) safeEvaluate(rule *Rule, alert domain.Alert, group *domain.AlertGroup) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			e.counters.evaluationFailures++
			metrics.RecordEvaluatorFailure()
			e.logger.WithGroupID(group.ID).WithAlertID(alert.ID).Error(
				"Strategy evaluator failed",
				"rule", rule.Name,
				"strategy", string(rule.Strategy),
				"panic", fmt.Sprintf("%v", r))
			out = noMatch(rule.Strategy)
		}
	}()
	return rule.evaluate(alert, group, rule)
}

// mergeLocked folds the alert into the winning group and applies
// suppression when membership exceeds the responsible rule's threshold.
func (e *Engine) mergeLocked(alert domain.Alert, best *candidate, now time.Time) (*GroupRef, []sideEffect) {
	group := best.group
	rule := best.rule
	outcome := best.outcome

	group.Alerts = append(group.Alerts, alert)
	group.UpdatedAt = now
	if outcome.Score > group.ConfidenceScore {
		group.ConfidenceScore = outcome.Score
	}
	e.appendRuleNameLocked(group, rule.Name)
	e.appendEvidenceLocked(group, rule.Name, outcome.Evidence)
	e.alertToGroup[alert.ID] = group.ID

	e.counters.totalCorrelated++
	e.counters.strategyMatches[outcome.Strategy]++
	metrics.RecordStrategyMatch(string(outcome.Strategy))

	effects := []sideEffect{e.snapshotEffectLocked(group, callback.EventGroupUpdated, now)}

	suppressed := false
	if rule.SuppressAfterCount > 0 &&
		len(group.Alerts) > rule.SuppressAfterCount &&
		group.Status == domain.GroupStatusOpen {
		group.Status = domain.GroupStatusSuppressed
		e.counters.groupsSuppressed++
		suppressed = true
		effects = append(effects, e.snapshotEffectLocked(group, callback.EventGroupSuppressed, now))
		e.logger.WithGroupID(group.ID).Info("Suppressed alert group",
			"rule", rule.Name,
			"members", len(group.Alerts))
	}

	e.logger.WithGroupID(group.ID).WithAlertID(alert.ID).Debug(
		"Correlated alert into group",
		"rule", rule.Name,
		"strategy", string(outcome.Strategy),
		"score", outcome.Score)

	return &GroupRef{
		GroupID:    group.ID,
		Suppressed: suppressed,
		RuleName:   rule.Name,
		Strategy:   outcome.Strategy,
		Confidence: outcome.Confidence(),
	}, effects
}

// createGroupLocked starts a new group with the alert as root.
func (e *Engine) createGroupLocked(alert domain.Alert, now time.Time) (*GroupRef, []sideEffect) {
	group := &domain.AlertGroup{
		ID:          uuid.NewString(),
		RootAlertID: alert.ID,
		Alerts:      []domain.Alert{alert},
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      domain.GroupStatusOpen,
	}
	e.groups[group.ID] = group
	e.alertToGroup[alert.ID] = group.ID
	e.counters.groupsCreated++
	metrics.SetActiveGroups(len(e.groups))

	e.logger.WithGroupID(group.ID).WithAlertID(alert.ID).Debug("Created new alert group")

	return &GroupRef{
			GroupID:    group.ID,
			Created:    true,
			Confidence: domain.ConfidenceVeryLow,
		}, []sideEffect{
			e.snapshotEffectLocked(group, callback.EventGroupCreated, now),
		}
}

func (e *Engine) appendRuleNameLocked(group *domain.AlertGroup, name string) {
	for _, existing := range group.Rules {
		if existing == name {
			return
		}
	}
	group.Rules = append(group.Rules, name)
}

func (e *Engine) appendEvidenceLocked(group *domain.AlertGroup, ruleName string, evidence map[string]string) {
	if len(evidence) == 0 {
		return
	}
	if group.Evidence == nil {
		group.Evidence = make(map[string]string, len(evidence))
	}
	for k, v := range evidence {
		group.Evidence[ruleName+"."+k] = v
	}
}

// snapshotEffectLocked captures the event and serialised snapshot for
// emission after the lock is released.
func (e *Engine) snapshotEffectLocked(group *domain.AlertGroup, eventType callback.EventType, now time.Time) sideEffect {
	payload, err := json.Marshal(group.Snapshot())
	if err != nil {
		// Snapshot layout is plain data; a marshal failure indicates a bug.
		e.logger.Error("Failed to marshal group snapshot", "group_id", group.ID, "error", err.Error())
		payload = nil
	}
	return sideEffect{
		event: callback.Event{
			Type:      eventType,
			Group:     *group.Clone(),
			Timestamp: now,
		},
		snapshot: payload,
		groupID:  group.ID,
	}
}

// emit dispatches one side effect: snapshot to the persistence queue,
// event to the callback dispatcher.
func (e *Engine) emit(effect sideEffect) {
	if e.deps.Cache != nil && effect.snapshot != nil {
		op := persistOp{key: groupKeyPrefix + effect.groupID, payload: effect.snapshot}
		select {
		case e.persistCh <- op:
		default:
			e.recordPersistenceFailure("persistence queue full", effect.groupID, nil)
		}
	}
	if e.deps.Callbacks != nil {
		e.deps.Callbacks.Dispatch(effect.event)
	}
}

// GetGroup returns a copy of the group with the given ID, or nil.
func (e *Engine) GetGroup(id string) *domain.AlertGroup {
	e.mu.RLock()
	defer e.mu.RUnlock()

	group, ok := e.groups[id]
	if !ok {
		return nil
	}
	return group.Clone()
}

// GetGroupForAlert returns a copy of the group owning the given alert ID,
// or nil.
func (e *Engine) GetGroupForAlert(alertID string) *domain.AlertGroup {
	e.mu.RLock()
	defer e.mu.RUnlock()

	groupID, ok := e.alertToGroup[alertID]
	if !ok {
		return nil
	}
	group, ok := e.groups[groupID]
	if !ok {
		return nil
	}
	return group.Clone()
}

// GetGroups returns copies of all groups currently in the store.
func (e *Engine) GetGroups() []*domain.AlertGroup {
	e.mu.RLock()
	defer e.mu.RUnlock()

	groups := make([]*domain.AlertGroup, 0, len(e.groups))
	for _, group := range e.groups {
		groups = append(groups, group.Clone())
	}
	return groups
}

// ResolveGroup transitions a group to resolved. Ownership mappings are kept
// until garbage collection so that late-arriving correlated alerts can
// still be attributed for audit. Returns false when the group does not
// exist or is already resolved.
func (e *Engine) ResolveGroup(id string) bool {
	e.mu.Lock()
	group, ok := e.groups[id]
	if !ok || !group.Status.CanTransitionTo(domain.GroupStatusResolved) {
		e.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	group.Status = domain.GroupStatusResolved
	group.UpdatedAt = now
	effect := e.snapshotEffectLocked(group, callback.EventGroupResolved, now)
	e.mu.Unlock()

	e.emit(effect)
	e.logger.WithGroupID(id).Info("Resolved alert group")
	return true
}

// ReopenGroup is the only permitted backward status transition: it returns
// a suppressed or resolved group to open. Returns false when the group does
// not exist or is already open.
func (e *Engine) ReopenGroup(id string) bool {
	e.mu.Lock()
	group, ok := e.groups[id]
	if !ok || group.Status == domain.GroupStatusOpen {
		e.mu.Unlock()
		return false
	}
	now := time.Now().UTC()
	group.Status = domain.GroupStatusOpen
	group.UpdatedAt = now
	effect := e.snapshotEffectLocked(group, callback.EventGroupReopened, now)
	e.mu.Unlock()

	e.emit(effect)
	e.logger.WithGroupID(id).Info("Reopened alert group")
	return true
}

// GetStats returns a snapshot of engine statistics.
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	perStrategy := make(map[Strategy]int64, len(e.counters.strategyMatches))
	for k, v := range e.counters.strategyMatches {
		perStrategy[k] = v
	}
	return Stats{
		TotalProcessed:         e.counters.totalProcessed,
		TotalCorrelated:        e.counters.totalCorrelated,
		GroupsCreated:          e.counters.groupsCreated,
		GroupsSuppressed:       e.counters.groupsSuppressed,
		StrategyMatches:        perStrategy,
		EvaluationFailures:     e.counters.evaluationFailures,
		PersistenceFailures:    e.counters.persistenceFailures,
		ActiveGroups:           len(e.groups),
		AvgProcessingLatencyMs: e.latency.averageMs(),
	}
}

// persistWorker applies queued cache operations with a per-call timeout,
// optionally behind the circuit breaker. Failures increment a counter and
// are otherwise absorbed; correlation proceeds purely in memory.
func (e *Engine) persistWorker() {
	defer close(e.persistDone)

	for {
		select {
		case op := <-e.persistCh:
			e.applyPersistOp(op)
		case <-e.stopCh:
			for {
				select {
				case op := <-e.persistCh:
					e.applyPersistOp(op)
				default:
					return
				}
			}
		}
	}
}

func (e *Engine) applyPersistOp(op persistOp) {
	call := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), e.config.PersistTimeout)
		defer cancel()
		if op.delete {
			return e.deps.Cache.Del(ctx, op.key)
		}
		return e.deps.Cache.Set(ctx, op.key, op.payload, e.config.MaxGroupAge)
	}

	var err error
	if e.deps.Breaker != nil {
		err = e.deps.Breaker.Execute(call)
	} else {
		err = call()
	}
	if err != nil {
		e.recordPersistenceFailure("cache operation failed", op.key, err)
	}
}

func (e *Engine) recordPersistenceFailure(reason, key string, err error) {
	e.mu.Lock()
	e.counters.persistenceFailures++
	e.mu.Unlock()
	metrics.RecordPersistenceFailure()

	logger := e.logger
	if err != nil {
		logger = logger.WithError(err)
	}
	logger.Warn("Group snapshot persistence failed", "reason", reason, "key", key)
}
