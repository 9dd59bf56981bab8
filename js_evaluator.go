//go:build js_eval

package tracker

import (
	"fmt"

	"github.com/dop251/goja"
)

type jsEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

func init() {
	jsEngine = func(cache ProgramCache, registry *FunctionRegistry) Evaluator {
		e := &jsEvaluator{cache: cache}
		if registry != nil {
			e.registry = registry.Clone()
		}
		return e
	}
}

func (*jsEvaluator) engineName() string { return EngineJS }

func (e *jsEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(EngineJS, errEmptyExpression)
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return e.run(ctx.withDefaults(), expression, program, compileConfig{})
}

func (e *jsEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(EngineJS, errEmptyExpression)
	}
	program, err := e.loadOrCompile(expression)
	if err != nil {
		return nil, err
	}
	return &jsCompiledRule{
		evaluator:  e,
		expression: expression,
		program:    program,
		cfg:        applyCompileOptions(opts),
	}, nil
}

func (e *jsEvaluator) loadOrCompile(expression string) (*goja.Program, error) {
	if e.cache != nil {
		if cached, ok := e.cache.Get("js:" + expression); ok {
			if program, ok := cached.(*goja.Program); ok {
				return program, nil
			}
		}
	}
	program, err := goja.Compile("", wrapJSExpression(expression), false)
	if err != nil {
		return nil, wrapEvaluationError(EngineJS, expression, "", err)
	}
	if e.cache != nil {
		e.cache.Set("js:"+expression, program)
	}
	return program, nil
}

func (e *jsEvaluator) run(ctx RuleContext, expression string, program *goja.Program, cfg compileConfig) (any, error) {
	vm := goja.New()
	if err := e.injectContext(vm, ctx); err != nil {
		return nil, wrapEvaluationError(EngineJS, expression, ctx.targetLabel(), err)
	}
	value, err := vm.RunProgram(program)
	if err != nil {
		return nil, wrapEvaluationError(EngineJS, expression, ctx.targetLabel(), err)
	}
	result := value.Export()
	if cfg.boolResult {
		if _, ok := result.(bool); !ok {
			return nil, wrapEvaluationError(EngineJS, expression, ctx.targetLabel(), fmt.Errorf("expected bool, got %T", result))
		}
	}
	return result, nil
}

func (e *jsEvaluator) injectContext(vm *goja.Runtime, ctx RuleContext) error {
	for key, value := range ctx.Bindings {
		if err := vm.Set(key, value); err != nil {
			return err
		}
	}
	if err := vm.Set("now", ctx.timestamp()); err != nil {
		return err
	}
	if err := vm.Set("args", ctx.Args); err != nil {
		return err
	}
	if err := vm.Set("metadata", ctx.Metadata); err != nil {
		return err
	}
	if e.registry == nil {
		return nil
	}
	if err := vm.Set("call", func(name string, arguments ...any) (any, error) {
		return e.registry.Call(name, arguments...)
	}); err != nil {
		return err
	}
	for _, name := range e.registry.Names() {
		fn := name
		if err := vm.Set(fn, func(arguments ...any) (any, error) {
			return e.registry.Call(fn, arguments...)
		}); err != nil {
			return err
		}
	}
	return nil
}

func wrapJSExpression(expression string) string {
	return fmt.Sprintf("(function(){ return (%s); })()", expression)
}

type jsCompiledRule struct {
	evaluator  *jsEvaluator
	expression string
	program    *goja.Program
	cfg        compileConfig
}

func (r *jsCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil {
		return nil, wrapEvaluatorError(EngineJS, fmt.Errorf("compiled rule missing evaluator"))
	}
	return r.evaluator.run(ctx.withDefaults(), r.expression, r.program, r.cfg)
}
