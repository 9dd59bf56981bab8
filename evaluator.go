package tracker

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Evaluator executes expressions against a rule context. Expression
// validators and local query predicates are evaluated through it.
type Evaluator interface {
	Evaluate(ctx RuleContext, expr string) (any, error)
	Compile(expr string, opts ...CompileOption) (CompiledRule, error)
}

// CompiledRule represents a reusable expression program.
type CompiledRule interface {
	Evaluate(ctx RuleContext) (any, error)
}

// CompileOption configures evaluator compile behaviour.
type CompileOption interface {
	applyCompileOption(*compileConfig)
}

type compileConfig struct {
	boolResult bool
}

func applyCompileOptions(opts []CompileOption) compileConfig {
	cfg := compileConfig{}
	for _, opt := range opts {
		if opt != nil {
			opt.applyCompileOption(&cfg)
		}
	}
	return cfg
}

func (cfg compileConfig) cacheKey(expression string) string {
	if cfg.boolResult {
		return "bool:" + expression
	}
	return expression
}

type compileOptionFunc func(*compileConfig)

func (f compileOptionFunc) applyCompileOption(cfg *compileConfig) {
	if f != nil {
		f(cfg)
	}
}

// RuleContext carries the inputs of a single evaluation. Bindings become top
// level variables; Target labels the entity or property being evaluated.
type RuleContext struct {
	Bindings map[string]any
	Now      *time.Time
	Args     map[string]any
	Metadata map[string]any
	Target   string
}

func (ctx RuleContext) withDefaultNow() RuleContext {
	if ctx.Now != nil {
		return ctx
	}
	now := time.Now()
	ctx.Now = &now
	return ctx
}

func (ctx RuleContext) timestamp() time.Time {
	ctx = ctx.withDefaultNow()
	return *ctx.Now
}

func (ctx RuleContext) withDefaultMaps() RuleContext {
	if ctx.Args == nil {
		ctx.Args = map[string]any{}
	}
	if ctx.Metadata == nil {
		ctx.Metadata = map[string]any{}
	}
	if ctx.Bindings == nil {
		ctx.Bindings = map[string]any{}
	}
	return ctx
}

func (ctx RuleContext) withDefaults() RuleContext {
	return ctx.withDefaultNow().withDefaultMaps()
}

func (ctx RuleContext) targetLabel() string {
	if ctx.Target != "" {
		return ctx.Target
	}
	return "unknown"
}

// ProgramCache stores compiled expression programs keyed by expression strings.
type ProgramCache interface {
	Get(key string) (any, bool)
	Set(key string, value any)
}

// DefaultProgramCacheSize bounds NewProgramCache when size is not positive.
const DefaultProgramCacheSize = 512

// NewProgramCache returns a goroutine-safe LRU ProgramCache holding at most
// size compiled programs.
func NewProgramCache(size int) ProgramCache {
	if size <= 0 {
		size = DefaultProgramCacheSize
	}
	cache, err := lru.New[string, any](size)
	if err != nil {
		panic(err)
	}
	return &lruProgramCache{programs: cache}
}

type lruProgramCache struct {
	programs *lru.Cache[string, any]
}

func (c *lruProgramCache) Get(key string) (any, bool) { return c.programs.Get(key) }

func (c *lruProgramCache) Set(key string, value any) { c.programs.Add(key, value) }

// Engine names reported in log events and evaluation errors.
const (
	EngineExpr   = "expr"
	EngineCEL    = "cel"
	EngineJS     = "js"
	EngineCustom = "custom"
)

// EngineName reports the engine behind e.
func EngineName(e Evaluator) string {
	switch e.(type) {
	case nil:
		return "unknown"
	case *exprEvaluator:
		return EngineExpr
	case *celEvaluator:
		return EngineCEL
	}
	if named, ok := e.(interface{ engineName() string }); ok {
		return named.engineName()
	}
	return EngineCustom
}

// jsEngine is set when the package is built with the js_eval tag.
var jsEngine func(ProgramCache, *FunctionRegistry) Evaluator

// NewEvaluator builds an evaluator for the named engine. The js engine is
// only available when built with the js_eval tag.
func NewEvaluator(engine string, cache ProgramCache, registry *FunctionRegistry) (Evaluator, error) {
	switch engine {
	case "", EngineExpr:
		return NewExprEvaluator(ExprWithProgramCache(cache), ExprWithFunctionRegistry(registry)), nil
	case EngineCEL:
		return NewCELEvaluator(CELWithProgramCache(cache), CELWithFunctionRegistry(registry)), nil
	case EngineJS:
		if jsEngine == nil {
			return nil, errorf(ErrInvalidConfig, "the js evaluator requires the js_eval build tag")
		}
		return jsEngine(cache, registry), nil
	}
	return nil, errorf(ErrInvalidConfig, "unknown evaluator engine %q", engine)
}
