package rules

import (
	"testing"

	"go.uber.org/zap"

	"tradecore/internal/models"
)

func buyContext() *EvalContext {
	return &EvalContext{
		Recommendation: models.Recommendation{
			ExpertID:   7,
			Symbol:     "AAPL",
			Signal:     models.SignalBuy,
			Confidence: 0.9,
		},
		CurrentPrice: dec("110"),
		HasPrice:     true,
	}
}

func openRule(name string, conds ...ConditionConfig) Rule {
	return Rule{
		Name:    name,
		Trigger: Trigger{Conditions: conds},
		Actions: []ActionConfig{{Type: ActionOpenPosition}},
	}
}

func TestEvaluateEmitsOnMetTrigger(t *testing.T) {
	e := &Evaluator{Logger: zap.NewNop()}
	ruleset := []Rule{openRule("confident entry",
		ConditionConfig{Type: CondConfidence, Operator: OpGTE, Value: 0.7},
		ConditionConfig{Type: CondSignalBullish},
	)}
	ev := e.Evaluate(ruleset, buyContext(), EvaluationStrategy{})
	if len(ev.Intents) != 1 {
		t.Fatalf("expected 1 intent, got %d", len(ev.Intents))
	}
	if ev.ID == "" {
		t.Fatalf("evaluation must carry an id")
	}
	if !ev.Rules[0].TriggerMet {
		t.Fatalf("trigger should be met")
	}
}

func TestEvaluateShortCircuitsConditions(t *testing.T) {
	e := &Evaluator{Logger: zap.NewNop()}
	ruleset := []Rule{openRule("entry",
		ConditionConfig{Type: CondConfidence, Operator: OpGTE, Value: 0.99}, // fails
		ConditionConfig{Type: CondSignalBullish},
	)}
	ev := e.Evaluate(ruleset, buyContext(), EvaluationStrategy{})
	if len(ev.Rules[0].Conditions) != 1 {
		t.Fatalf("production mode should stop at first failure, evaluated %d", len(ev.Rules[0].Conditions))
	}
	if len(ev.Intents) != 0 {
		t.Fatalf("unmet trigger must not emit")
	}
}

func TestEvaluateAllConditionsIsNeutral(t *testing.T) {
	e := &Evaluator{Logger: zap.NewNop()}
	ruleset := []Rule{openRule("entry",
		ConditionConfig{Type: CondConfidence, Operator: OpGTE, Value: 0.99}, // fails
		ConditionConfig{Type: CondSignalBullish},                           // passes
	)}
	ev := e.Evaluate(ruleset, buyContext(), EvaluationStrategy{EvaluateAllConditions: true})
	if len(ev.Rules[0].Conditions) != 2 {
		t.Fatalf("debug mode should evaluate all conditions, got %d", len(ev.Rules[0].Conditions))
	}
	if ev.Rules[0].TriggerMet {
		t.Fatalf("a later pass must not flip an already-failed all-mode trigger")
	}
	if len(ev.Intents) != 0 {
		t.Fatalf("evaluate-all must not change the emitted set")
	}
}

func TestAnyModeTrigger(t *testing.T) {
	e := &Evaluator{Logger: zap.NewNop()}
	ruleset := []Rule{{
		Name: "either",
		Trigger: Trigger{
			Mode: TriggerModeAny,
			Conditions: []ConditionConfig{
				{Type: CondConfidence, Operator: OpGTE, Value: 0.99}, // fails
				{Type: CondSignalBullish},                            // passes
			},
		},
		Actions: []ActionConfig{{Type: ActionOpenPosition}},
	}}
	ev := e.Evaluate(ruleset, buyContext(), EvaluationStrategy{})
	if !ev.Rules[0].TriggerMet {
		t.Fatalf("any-mode trigger should be met")
	}
}

func TestEmptyTriggerNeverFires(t *testing.T) {
	e := &Evaluator{Logger: zap.NewNop()}
	ev := e.Evaluate([]Rule{openRule("no conditions")}, buyContext(), EvaluationStrategy{})
	if ev.Rules[0].TriggerMet || len(ev.Intents) != 0 {
		t.Fatalf("a rule without conditions must not fire")
	}
}

func TestStopAfterMatchUnlessContinue(t *testing.T) {
	e := &Evaluator{Logger: zap.NewNop()}
	first := openRule("first", ConditionConfig{Type: CondSignalBullish})
	second := openRule("second", ConditionConfig{Type: CondConfidence, Operator: OpGTE, Value: 0.5})

	ev := e.Evaluate([]Rule{first, second}, buyContext(), EvaluationStrategy{})
	if len(ev.Rules) != 1 {
		t.Fatalf("processing should stop after a met rule, walked %d rules", len(ev.Rules))
	}

	first.ContinueProcessing = true
	ev = e.Evaluate([]Rule{first, second}, buyContext(), EvaluationStrategy{})
	if len(ev.Rules) != 2 {
		t.Fatalf("continue_processing should walk on, walked %d rules", len(ev.Rules))
	}
}

func TestDuplicateIntentsSuppressed(t *testing.T) {
	e := &Evaluator{Logger: zap.NewNop()}
	first := openRule("first", ConditionConfig{Type: CondSignalBullish})
	first.ContinueProcessing = true
	second := openRule("second", ConditionConfig{Type: CondSignalBullish})

	ev := e.Evaluate([]Rule{first, second}, buyContext(), EvaluationStrategy{})
	if len(ev.Intents) != 1 {
		t.Fatalf("identical actions from different rules must emit once, got %d", len(ev.Intents))
	}
	var dup bool
	for _, at := range ev.Rules[1].Actions {
		if at.Duplicate {
			dup = true
		}
	}
	if !dup {
		t.Fatalf("the suppressed action should be flagged duplicate in the trace")
	}
}

func TestForceGenerateActions(t *testing.T) {
	e := &Evaluator{Logger: zap.NewNop()}
	failing := openRule("never", ConditionConfig{Type: CondConfidence, Operator: OpGTE, Value: 0.99})
	passing := openRule("always", ConditionConfig{Type: CondSignalBullish})

	ev := e.Evaluate([]Rule{failing, passing}, buyContext(), EvaluationStrategy{ForceGenerateActions: true})
	if len(ev.Rules) != 2 {
		t.Fatalf("force mode must walk every rule, walked %d", len(ev.Rules))
	}
	if len(ev.Rules[0].Actions) != 1 || !ev.Rules[0].Actions[0].Forced {
		t.Fatalf("unmet rule's actions should be built and flagged forced: %+v", ev.Rules[0].Actions)
	}
	if len(ev.Intents) != 1 {
		t.Fatalf("forced actions must not join the emitted set, got %d intents", len(ev.Intents))
	}
}

func TestIntentHashDeterministic(t *testing.T) {
	ctxA := buyContext()
	ctxB := buyContext()
	a, err := Build(ActionConfig{Type: ActionAdjustTakeProfit, Basis: BasisCurrentPrice, Percent: 15}, ctxA)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	b, err := Build(ActionConfig{Type: ActionAdjustTakeProfit, Basis: BasisCurrentPrice, Percent: 15}, ctxB)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if intentHash(a) != intentHash(b) {
		t.Fatalf("identical intents must hash identically")
	}
	c, err := Build(ActionConfig{Type: ActionAdjustTakeProfit, Basis: BasisCurrentPrice, Percent: 16}, ctxA)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if intentHash(a) == intentHash(c) {
		t.Fatalf("different percents must hash differently")
	}
}

func TestDecodeRules(t *testing.T) {
	raw := []byte(`[{"name":"entry","trigger":{"conditions":[{"type":"confidence","operator":"gte","value":0.7}]},"actions":[{"type":"open_position"}]}]`)
	rulesetParsed, err := DecodeRules(raw)
	if err != nil {
		t.Fatalf("DecodeRules: %v", err)
	}
	if len(rulesetParsed) != 1 || rulesetParsed[0].Name != "entry" {
		t.Fatalf("unexpected decode result %+v", rulesetParsed)
	}
	if _, err := DecodeRules([]byte("{broken")); err == nil {
		t.Fatalf("invalid json must error")
	}
	empty, err := DecodeRules(nil)
	if err != nil || empty != nil {
		t.Fatalf("nil input decodes to nil, got %v %v", empty, err)
	}
}
