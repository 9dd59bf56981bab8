package tracker

import (
	"errors"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

var errEmptyExpression = errors.New("expression must not be empty")

// ExprEvaluatorOption configures NewExprEvaluator.
type ExprEvaluatorOption func(*exprEvaluator)

// ExprWithProgramCache shares compiled programs through cache.
func ExprWithProgramCache(cache ProgramCache) ExprEvaluatorOption {
	return func(e *exprEvaluator) { e.cache = cache }
}

// ExprWithFunctionRegistry exposes a copy of registry to expressions. Each
// function is callable by its registered name.
func ExprWithFunctionRegistry(registry *FunctionRegistry) ExprEvaluatorOption {
	return func(e *exprEvaluator) {
		if registry != nil {
			e.registry = registry.Clone()
		}
	}
}

// WithBoolResult makes Compile reject expressions that do not produce a bool.
// Validators and predicates compile with it.
func WithBoolResult() CompileOption {
	return compileOptionFunc(func(cfg *compileConfig) { cfg.boolResult = true })
}

type exprEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewExprEvaluator returns the default engine, backed by expr-lang/expr.
// Undefined variables evaluate to nil instead of failing compilation.
func NewExprEvaluator(opts ...ExprEvaluatorOption) Evaluator {
	e := &exprEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *exprEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	rule, err := e.compile(expression, compileConfig{})
	if err != nil {
		return nil, err
	}
	return rule.Evaluate(ctx)
}

func (e *exprEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	return e.compile(expression, applyCompileOptions(opts))
}

func (e *exprEvaluator) compile(expression string, cfg compileConfig) (*exprCompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(EngineExpr, errEmptyExpression)
	}
	key := cfg.cacheKey(expression)
	if e.cache != nil {
		if program, ok := e.cache.Get(key); ok {
			if program, ok := program.(*exprvm.Program); ok {
				return &exprCompiledRule{evaluator: e, program: program, expression: expression}, nil
			}
		}
	}

	options := []exprlang.Option{exprlang.Env(map[string]any{}), exprlang.AllowUndefinedVariables()}
	if cfg.boolResult {
		options = append(options, exprlang.AsBool())
	}
	if e.registry != nil {
		for _, name := range e.registry.Names() {
			options = append(options, exprlang.Function(name, e.call(name)))
		}
	}
	program, err := exprlang.Compile(expression, options...)
	if err != nil {
		return nil, wrapEvaluationError(EngineExpr, expression, "", err)
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return &exprCompiledRule{evaluator: e, program: program, expression: expression}, nil
}

// env exposes the bindings plus now, args and metadata. With a registry it
// also binds call(name, args...).
func (e *exprEvaluator) env(ctx RuleContext) map[string]any {
	env := make(map[string]any, len(ctx.Bindings)+4)
	for key, value := range ctx.Bindings {
		env[key] = value
	}
	env["now"] = ctx.timestamp()
	env["args"] = ctx.Args
	env["metadata"] = ctx.Metadata
	if e.registry != nil {
		env["call"] = func(name string, arguments ...any) (any, error) {
			return e.registry.Call(name, arguments...)
		}
	}
	return env
}

func (e *exprEvaluator) call(name string) func(...any) (any, error) {
	return func(arguments ...any) (any, error) {
		return e.registry.Call(name, arguments...)
	}
}

type exprCompiledRule struct {
	evaluator  *exprEvaluator
	program    *exprvm.Program
	expression string
}

func (r *exprCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil || r.program == nil {
		return nil, wrapEvaluatorError(EngineExpr, errors.New("compiled rule missing program"))
	}
	ctx = ctx.withDefaults()
	result, err := exprlang.Run(r.program, r.evaluator.env(ctx))
	if err != nil {
		return nil, wrapEvaluationError(EngineExpr, r.expression, ctx.targetLabel(), err)
	}
	return result, nil
}
