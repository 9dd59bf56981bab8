package tracker

import (
	"errors"
	"fmt"
	"time"
)

var ErrNoEvaluator = errors.New("tracker: evaluator not configured")

// evaluation runs one compiled rule and reports it to logger.
type evaluation struct {
	engine string
	expr   string
	rule   CompiledRule
	logger Logger
}

func compileEvaluation(evaluator Evaluator, expr string, logger Logger, opts ...CompileOption) (*evaluation, error) {
	if evaluator == nil {
		return nil, ErrNoEvaluator
	}
	if expr == "" {
		return nil, fmt.Errorf("expression must not be empty")
	}
	rule, err := evaluator.Compile(expr, opts...)
	if err != nil {
		return nil, err
	}
	return &evaluation{
		engine: EngineName(evaluator),
		expr:   expr,
		rule:   rule,
		logger: loggerOrNoop(logger),
	}, nil
}

func (e *evaluation) run(ctx RuleContext) (any, error) {
	ctx = ctx.withDefaults()
	start := time.Now()
	value, err := e.rule.Evaluate(ctx)
	duration := time.Since(start)
	err = wrapEvaluationError(e.engine, e.expr, ctx.targetLabel(), err)
	e.logger.Log(LogEvent{
		Kind:     LogEvaluation,
		Engine:   e.engine,
		Expr:     e.expr,
		Duration: duration,
		Err:      err,
		Fields:   map[string]any{"target": ctx.targetLabel()},
	})
	return value, err
}

// runBool treats any non-bool result as an error.
func (e *evaluation) runBool(ctx RuleContext) (bool, error) {
	value, err := e.run(ctx)
	if err != nil {
		return false, err
	}
	b, ok := value.(bool)
	if !ok {
		return false, wrapEvaluationError(e.engine, e.expr, ctx.targetLabel(), fmt.Errorf("expected bool, got %T", value))
	}
	return b, nil
}
