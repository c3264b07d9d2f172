package rules

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EvaluationStrategy selects the evaluator's debug behavior. The zero
// value is the production path: short-circuit triggers, emit only
// genuinely triggered actions. Debug strategies are operator tooling and
// must never run in the live trading path.
type EvaluationStrategy struct {
	// EvaluateAllConditions disables trigger short-circuiting so every
	// condition's result and operands are recorded.
	EvaluateAllConditions bool `json:"evaluate_all_conditions"`
	// ForceGenerateActions builds a rule's actions even when its trigger
	// is not met, flagged as would-have actions, and always continues to
	// the next rule.
	ForceGenerateActions bool `json:"force_generate_actions"`
}

const (
	TriggerModeAll = "all"
	TriggerModeAny = "any"
)

type Trigger struct {
	Mode       string            `json:"mode,omitempty"`
	Conditions []ConditionConfig `json:"conditions"`
}

type Rule struct {
	Name    string         `json:"name"`
	Trigger Trigger        `json:"trigger"`
	Actions []ActionConfig `json:"actions"`
	// ContinueProcessing keeps walking the ruleset after this rule matched.
	ContinueProcessing bool `json:"continue_processing"`
}

// DecodeRules parses the JSONB rules column of a ruleset row.
func DecodeRules(raw []byte) ([]Rule, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out []Rule
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

type ActionTrace struct {
	Config    ActionConfig `json:"config"`
	Intent    *OrderIntent `json:"intent,omitempty"`
	Hash      string       `json:"hash,omitempty"`
	Forced    bool         `json:"forced,omitempty"`
	Duplicate bool         `json:"duplicate,omitempty"`
	Error     string       `json:"error,omitempty"`
}

type RuleTrace struct {
	Rule       string            `json:"rule"`
	TriggerMet bool              `json:"trigger_met"`
	Conditions []ConditionResult `json:"conditions"`
	Actions    []ActionTrace     `json:"actions,omitempty"`
}

// Evaluation is the full output of one ruleset pass: the ordered emitted
// intents plus the complete audit trace.
type Evaluation struct {
	ID        string             `json:"id"`
	ExpertID  uint64             `json:"expert_id"`
	Symbol    string             `json:"symbol"`
	Strategy  EvaluationStrategy `json:"strategy"`
	Rules     []RuleTrace        `json:"rules"`
	Intents   []OrderIntent      `json:"intents"`
	CreatedAt time.Time          `json:"created_at"`
}

type Evaluator struct {
	Logger *zap.Logger
}

// Evaluate walks the ordered ruleset for one recommendation. Evaluation is
// deterministic: an identical context yields identical intents and hashes.
func (e *Evaluator) Evaluate(ruleset []Rule, ctx *EvalContext, strat EvaluationStrategy) *Evaluation {
	now := ctx.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ev := &Evaluation{
		ID:        uuid.NewString(),
		ExpertID:  ctx.Recommendation.ExpertID,
		Symbol:    ctx.Recommendation.Symbol,
		Strategy:  strat,
		CreatedAt: now,
	}
	emitted := map[string]struct{}{}

	for _, rule := range ruleset {
		met, conds := e.evaluateTrigger(rule.Trigger, ctx, strat)
		trace := RuleTrace{
			Rule:       rule.Name,
			TriggerMet: met,
			Conditions: conds,
		}
		if met || strat.ForceGenerateActions {
			trace.Actions = e.buildActions(rule, ctx, met, emitted, ev)
		}
		ev.Rules = append(ev.Rules, trace)

		if met && !rule.ContinueProcessing && !strat.ForceGenerateActions {
			break
		}
	}

	if e.Logger != nil {
		e.Logger.Debug("ruleset evaluated",
			zap.String("evaluation_id", ev.ID),
			zap.Uint64("expert_id", ev.ExpertID),
			zap.String("symbol", ev.Symbol),
			zap.Int("rules", len(ev.Rules)),
			zap.Int("intents", len(ev.Intents)),
		)
	}
	return ev
}

func (e *Evaluator) evaluateTrigger(t Trigger, ctx *EvalContext, strat EvaluationStrategy) (bool, []ConditionResult) {
	mode := t.Mode
	if mode == "" {
		mode = TriggerModeAll
	}
	results := make([]ConditionResult, 0, len(t.Conditions))
	met := mode == TriggerModeAll
	decided := false
	for _, cfg := range t.Conditions {
		if decided && !strat.EvaluateAllConditions {
			break
		}
		res := EvaluateCondition(cfg, ctx)
		results = append(results, res)
		switch mode {
		case TriggerModeAny:
			if res.Passed {
				met = true
				decided = true
			}
		default:
			if !res.Passed {
				met = false
				decided = true
			}
		}
	}
	if len(t.Conditions) == 0 {
		met = false
	}
	return met, results
}

func (e *Evaluator) buildActions(rule Rule, ctx *EvalContext, met bool, emitted map[string]struct{}, ev *Evaluation) []ActionTrace {
	traces := make([]ActionTrace, 0, len(rule.Actions))
	for _, cfg := range rule.Actions {
		trace := ActionTrace{Config: cfg, Forced: !met}
		intent, err := Build(cfg, ctx)
		if err != nil {
			trace.Error = err.Error()
			traces = append(traces, trace)
			continue
		}
		trace.Intent = &intent
		trace.Hash = intentHash(intent)

		if met {
			if _, dup := emitted[trace.Hash]; dup {
				trace.Duplicate = true
				if e.Logger != nil {
					e.Logger.Debug("duplicate action suppressed",
						zap.String("rule", rule.Name),
						zap.String("hash", trace.Hash),
						zap.String("symbol", intent.Symbol),
					)
				}
			} else {
				emitted[trace.Hash] = struct{}{}
				ev.Intents = append(ev.Intents, intent)
			}
		}
		traces = append(traces, trace)
	}
	return traces
}

// intentHash is a structural hash over (action type, instrument, resolved
// reference value, percent) used to suppress functionally identical
// actions produced by different rules in the same pass.
func intentHash(intent OrderIntent) string {
	ref := intent.Price
	pct := 0.0
	if intent.Calc != nil {
		ref = intent.Calc.ReferencePrice
		pct = intent.Calc.Percent
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%.6f", intent.Action, intent.Symbol, ref.StringFixed(8), pct)
	return fmt.Sprintf("%016x", h.Sum64())
}
