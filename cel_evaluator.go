package tracker

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	celgo "github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
)

// CELEvaluatorOption configures the CEL evaluator.
type CELEvaluatorOption func(*celEvaluator)

// CELWithProgramCache wires a ProgramCache into the CEL evaluator.
func CELWithProgramCache(cache ProgramCache) CELEvaluatorOption {
	return func(e *celEvaluator) {
		e.cache = cache
	}
}

// CELWithFunctionRegistry wires a FunctionRegistry into the CEL evaluator.
// Registered functions are reachable through call("name", [args]).
func CELWithFunctionRegistry(registry *FunctionRegistry) CELEvaluatorOption {
	return func(e *celEvaluator) {
		if registry == nil {
			return
		}
		e.registry = registry.Clone()
	}
}

type celEvaluator struct {
	cache    ProgramCache
	registry *FunctionRegistry
}

// NewCELEvaluator constructs an Evaluator backed by cel-go. Every binding is
// declared as a dyn variable.
func NewCELEvaluator(opts ...CELEvaluatorOption) Evaluator {
	e := &celEvaluator{}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *celEvaluator) Evaluate(ctx RuleContext, expression string) (any, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(EngineCEL, errEmptyExpression)
	}
	return e.eval(ctx.withDefaults(), expression, compileConfig{})
}

// Compile defers program construction to the first evaluation because the
// declared variables depend on the bindings.
func (e *celEvaluator) Compile(expression string, opts ...CompileOption) (CompiledRule, error) {
	if expression == "" {
		return nil, wrapEvaluatorError(EngineCEL, errEmptyExpression)
	}
	return &celCompiledRule{evaluator: e, expression: expression, cfg: applyCompileOptions(opts)}, nil
}

func (e *celEvaluator) eval(ctx RuleContext, expression string, cfg compileConfig) (any, error) {
	program, err := e.loadOrCompile(expression, bindingNames(ctx.Bindings))
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, ctx.targetLabel(), err)
	}
	out, _, err := program.Eval(e.activation(ctx))
	if err != nil {
		return nil, wrapEvaluationError(EngineCEL, expression, ctx.targetLabel(), err)
	}
	value := out.Value()
	if cfg.boolResult {
		if _, ok := value.(bool); !ok {
			return nil, wrapEvaluationError(EngineCEL, expression, ctx.targetLabel(), fmt.Errorf("expected bool, got %T", value))
		}
	}
	return value, nil
}

func (e *celEvaluator) loadOrCompile(expression string, names []string) (celgo.Program, error) {
	key := expression + "|" + strings.Join(names, ",")
	if e.cache != nil {
		if cached, ok := e.cache.Get(key); ok {
			if program, ok := cached.(celgo.Program); ok {
				return program, nil
			}
		}
	}
	env, err := e.buildEnv(names)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	if e.cache != nil {
		e.cache.Set(key, program)
	}
	return program, nil
}

func (e *celEvaluator) buildEnv(names []string) (*celgo.Env, error) {
	opts := []celgo.EnvOption{
		celgo.Variable("now", celgo.TimestampType),
		celgo.Variable("args", celgo.DynType),
		celgo.Variable("metadata", celgo.DynType),
	}
	for _, name := range names {
		switch name {
		case "now", "args", "metadata":
			continue
		}
		opts = append(opts, celgo.Variable(name, celgo.DynType))
	}
	if e.registry != nil {
		opts = append(opts, celgo.Function("call",
			celgo.Overload("call_string_list",
				[]*celgo.Type{celgo.StringType, celgo.ListType(celgo.DynType)},
				celgo.DynType,
				celgo.BinaryBinding(e.callBinding),
			),
		))
	}
	return celgo.NewEnv(opts...)
}

func (e *celEvaluator) activation(ctx RuleContext) map[string]any {
	activation := make(map[string]any, len(ctx.Bindings)+3)
	for key, value := range ctx.Bindings {
		activation[key] = value
	}
	activation["now"] = ctx.timestamp()
	activation["args"] = ctx.Args
	activation["metadata"] = ctx.Metadata
	return activation
}

func (e *celEvaluator) callBinding(nameVal, argsVal ref.Val) ref.Val {
	name, ok := nameVal.Value().(string)
	if !ok {
		return types.NewErr("tracker: call name must be string")
	}
	var args []any
	if lister, ok := argsVal.(traits.Lister); ok {
		native, err := lister.ConvertToNative(reflect.TypeOf([]any{}))
		if err != nil {
			return types.NewErr("tracker: call arguments: %v", err)
		}
		args, _ = native.([]any)
	}
	result, err := e.registry.Call(name, args...)
	if err != nil {
		return types.NewErr("%s", err.Error())
	}
	if result == nil {
		return types.NullValue
	}
	return types.DefaultTypeAdapter.NativeToValue(result)
}

type celCompiledRule struct {
	evaluator  *celEvaluator
	expression string
	cfg        compileConfig
}

func (r *celCompiledRule) Evaluate(ctx RuleContext) (any, error) {
	if r.evaluator == nil {
		return nil, wrapEvaluatorError(EngineCEL, fmt.Errorf("compiled rule missing evaluator"))
	}
	return r.evaluator.eval(ctx.withDefaults(), r.expression, r.cfg)
}

func bindingNames(bindings map[string]any) []string {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
