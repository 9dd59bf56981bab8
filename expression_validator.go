package tracker

import "sync"

var (
	expressionCacheOnce sync.Once
	expressionCache     ProgramCache
)

func sharedExpressionCache() ProgramCache {
	expressionCacheOnce.Do(func() {
		expressionCache = NewProgramCache(DefaultProgramCacheSize)
	})
	return expressionCache
}

// ExpressionValidator builds a validator that passes when expr evaluates to
// true. The expression sees value, entity and propertyName; entity fields are
// reachable as entity.<name> for expr and cel. Evaluation errors fail the
// validator and surface in the message.
func ExpressionValidator(name, expr string, evaluator Evaluator, logger Logger) (*Validator, error) {
	if name == "" {
		name = "expression"
	}
	eval, err := compileEvaluation(evaluator, expr, logger)
	if err != nil {
		return nil, err
	}
	params := map[string]any{
		"expression": expr,
		"engine":     EngineName(evaluator),
	}
	v := NewValidator(name, "'%displayName%' failed the rule '%expression%'", nil, params)
	v.fn = func(value any, vctx ValidationContext) bool {
		ok, runErr := eval.runBool(RuleContext{
			Bindings: expressionBindings(value, vctx),
			Target:   expressionTarget(vctx),
		})
		return runErr == nil && ok
	}
	return v, nil
}

func expressionBindings(value any, vctx ValidationContext) map[string]any {
	bindings := map[string]any{
		"value":        value,
		"propertyName": vctx.PropertyName,
	}
	switch {
	case vctx.Entity != nil:
		bindings["entity"] = snapshotValues(vctx.Entity)
	case vctx.Target != nil:
		bindings["entity"] = snapshotValues(vctx.Target)
	default:
		bindings["entity"] = map[string]any{}
	}
	return bindings
}

func expressionTarget(vctx ValidationContext) string {
	label := ""
	if vctx.Target != nil {
		label = vctx.Target.StructuralType().TypeName()
	}
	if vctx.PropertyName != "" {
		if label != "" {
			label += "."
		}
		label += vctx.PropertyName
	}
	return label
}

func init() {
	RegisterValidatorFactory("expression", func(params map[string]any) (*Validator, error) {
		expr, _ := params["expression"].(string)
		engine, _ := params["engine"].(string)
		evaluator, err := NewEvaluator(engine, sharedExpressionCache(), &expressionFunctions)
		if err != nil {
			return nil, err
		}
		return ExpressionValidator("expression", expr, evaluator, nil)
	})
}
