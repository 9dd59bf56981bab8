package tracker

import (
	"fmt"
	"strings"
	"sync"
)

// FilterOp is a binary comparison operator of a Predicate.
type FilterOp string

const (
	OpEquals             FilterOp = "eq"
	OpNotEquals          FilterOp = "ne"
	OpGreaterThan        FilterOp = "gt"
	OpLessThan           FilterOp = "lt"
	OpGreaterThanOrEqual FilterOp = "ge"
	OpLessThanOrEqual    FilterOp = "le"
	OpContains           FilterOp = "contains"
	OpStartsWith         FilterOp = "startswith"
	OpEndsWith           FilterOp = "endswith"
)

var filterOpAliases = map[string]FilterOp{
	"==": OpEquals, "eq": OpEquals,
	"!=": OpNotEquals, "ne": OpNotEquals,
	">": OpGreaterThan, "gt": OpGreaterThan,
	"<": OpLessThan, "lt": OpLessThan,
	">=": OpGreaterThanOrEqual, "ge": OpGreaterThanOrEqual,
	"<=": OpLessThanOrEqual, "le": OpLessThanOrEqual,
	"contains": OpContains, "substringof": OpContains,
	"startswith": OpStartsWith,
	"endswith":   OpEndsWith,
}

// ParseFilterOp resolves an operator or one of its aliases.
func ParseFilterOp(name string) (FilterOp, error) {
	if op, ok := filterOpAliases[strings.ToLower(strings.TrimSpace(name))]; ok {
		return op, nil
	}
	return "", errorf(ErrInvalidConfig, "unknown filter operator %q", name)
}

var exprOperators = map[FilterOp]string{
	OpEquals:             "==",
	OpNotEquals:          "!=",
	OpGreaterThan:        ">",
	OpLessThan:           "<",
	OpGreaterThanOrEqual: ">=",
	OpLessThanOrEqual:    "<=",
	OpContains:           "contains",
	OpStartsWith:         "startsWith",
	OpEndsWith:           "endsWith",
}

type predicateKind uint8

const (
	predicateBinary predicateKind = iota
	predicateAnd
	predicateOr
	predicateNot
)

// Predicate is an immutable filter over entity property values. It renders
// to an OData filter for providers and to an expr program for local
// evaluation.
type Predicate struct {
	kind     predicateKind
	property string
	op       FilterOp
	value    any
	preds    []*Predicate
}

// NewPredicate compares the property at path with value.
func NewPredicate(path string, op FilterOp, value any) *Predicate {
	return &Predicate{kind: predicateBinary, property: path, op: op, value: value}
}

// Equals is NewPredicate with OpEquals.
func Equals(path string, value any) *Predicate {
	return NewPredicate(path, OpEquals, value)
}

// And joins preds; nil entries are skipped and a single predicate is
// returned as is.
func And(preds ...*Predicate) *Predicate { return joinPredicates(predicateAnd, preds) }

// Or is the disjunction of preds.
func Or(preds ...*Predicate) *Predicate { return joinPredicates(predicateOr, preds) }

// Not negates p.
func Not(p *Predicate) *Predicate {
	if p == nil {
		return nil
	}
	return &Predicate{kind: predicateNot, preds: []*Predicate{p}}
}

func joinPredicates(kind predicateKind, preds []*Predicate) *Predicate {
	kept := make([]*Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			kept = append(kept, p)
		}
	}
	switch len(kept) {
	case 0:
		return nil
	case 1:
		return kept[0]
	}
	return &Predicate{kind: kind, preds: kept}
}

// And returns p and others joined by and.
func (p *Predicate) And(others ...*Predicate) *Predicate {
	return And(append([]*Predicate{p}, others...)...)
}

// Or returns p and others joined by or.
func (p *Predicate) Or(others ...*Predicate) *Predicate {
	return Or(append([]*Predicate{p}, others...)...)
}

// String renders the predicate with client property names.
func (p *Predicate) String() string {
	s, _ := p.render(nil, false)
	return s
}

// ToOData renders the predicate as an OData filter using the server names of
// et's properties.
func (p *Predicate) ToOData(et *EntityType) (string, error) {
	return p.render(et, true)
}

func (p *Predicate) render(et *EntityType, serverNames bool) (string, error) {
	if p == nil {
		return "", nil
	}
	switch p.kind {
	case predicateAnd, predicateOr:
		joiner := " and "
		if p.kind == predicateOr {
			joiner = " or "
		}
		parts := make([]string, len(p.preds))
		for i, child := range p.preds {
			s, err := child.render(et, serverNames)
			if err != nil {
				return "", err
			}
			parts[i] = "(" + s + ")"
		}
		return strings.Join(parts, joiner), nil
	case predicateNot:
		s, err := p.preds[0].render(et, serverNames)
		if err != nil {
			return "", err
		}
		return "not (" + s + ")", nil
	}
	path := p.property
	dt := DataTypeFromValue(p.value)
	if et != nil {
		props, err := et.GetPropertiesOnPath(p.property, false, true)
		if err != nil {
			return "", err
		}
		if dp, ok := props[len(props)-1].(*DataProperty); ok {
			dt = dp.DataType
		}
		if serverNames {
			server := make([]string, len(props))
			for i, prop := range props {
				server[i] = prop.ServerName()
			}
			path = strings.Join(server, "/")
		}
	}
	literal := dt.FormatOData(dt.Parse(p.value))
	switch p.op {
	case OpContains:
		return fmt.Sprintf("substringof(%s,%s) eq true", literal, path), nil
	case OpStartsWith, OpEndsWith:
		return fmt.Sprintf("%s(%s,%s) eq true", p.op, path, literal), nil
	}
	return fmt.Sprintf("%s %s %s", path, p.op, literal), nil
}

// Matches evaluates the predicate against entity through the expr engine.
// String comparisons follow opts; nil opts uses case-insensitive SQL rules.
func (p *Predicate) Matches(entity Structural, opts *LocalQueryComparisonOptions) (bool, error) {
	if p == nil {
		return true, nil
	}
	if opts == nil {
		opts = CaseInsensitiveSQL
	}
	bindings := map[string]any{}
	program, err := p.exprProgram(entity, opts, bindings)
	if err != nil {
		return false, err
	}
	eval, err := compileEvaluation(localQueryEvaluator(), program, nil, WithBoolResult())
	if err != nil {
		return false, err
	}
	target := ""
	if st := entity.StructuralType(); st != nil {
		target = st.TypeName()
	}
	return eval.runBool(RuleContext{Bindings: bindings, Target: target})
}

func (p *Predicate) exprProgram(entity Structural, opts *LocalQueryComparisonOptions, bindings map[string]any) (string, error) {
	switch p.kind {
	case predicateAnd, predicateOr:
		joiner := " && "
		if p.kind == predicateOr {
			joiner = " || "
		}
		parts := make([]string, len(p.preds))
		for i, child := range p.preds {
			s, err := child.exprProgram(entity, opts, bindings)
			if err != nil {
				return "", err
			}
			parts[i] = "(" + s + ")"
		}
		return strings.Join(parts, joiner), nil
	case predicateNot:
		s, err := p.preds[0].exprProgram(entity, opts, bindings)
		if err != nil {
			return "", err
		}
		return "!(" + s + ")", nil
	}
	operator, ok := exprOperators[p.op]
	if !ok {
		return "", errorf(ErrInvalidConfig, "unknown filter operator %q", p.op)
	}
	dt, actual, err := propertyValueOnPath(entity, p.property)
	if err != nil {
		return "", err
	}
	if dt == DataTypeUndefined {
		dt = DataTypeFromValue(p.value)
	}
	n := len(bindings) / 2
	left := fmt.Sprintf("p%d", n)
	right := fmt.Sprintf("v%d", n)
	bindings[left] = comparableValue(dt, actual, opts)
	bindings[right] = comparableValue(dt, dt.Parse(p.value), opts)
	switch p.op {
	case OpContains, OpStartsWith, OpEndsWith:
		bindings[left] = stringOrEmpty(bindings[left])
		bindings[right] = stringOrEmpty(bindings[right])
	case OpGreaterThan, OpLessThan, OpGreaterThanOrEqual, OpLessThanOrEqual:
		// nulls never order against anything
		if bindings[left] == nil || bindings[right] == nil {
			return "false", nil
		}
	}
	return fmt.Sprintf("%s %s %s", left, operator, right), nil
}

// propertyValueOnPath walks a dotted path of data, complex and scalar
// navigation properties.
func propertyValueOnPath(target Structural, path string) (DataType, any, error) {
	current := target
	names := strings.Split(path, ".")
	for i, name := range names {
		if current == nil {
			return DataTypeUndefined, nil, nil
		}
		prop := findProperty(current.StructuralType(), name, false)
		if prop == nil {
			return DataTypeUndefined, nil, errorf(ErrPropertyNotFound, "unable to locate property: %s on type: %s", name, current.StructuralType().TypeName())
		}
		value := current.GetProperty(name)
		if i == len(names)-1 {
			if dp, ok := prop.(*DataProperty); ok {
				return dp.DataType, value, nil
			}
			return DataTypeUndefined, value, nil
		}
		next, _ := value.(Structural)
		current = next
	}
	return DataTypeUndefined, nil, nil
}

func comparableValue(dt DataType, value any, opts *LocalQueryComparisonOptions) any {
	if value == nil {
		return nil
	}
	switch {
	case dt == DataTypeString || dt == DataTypeGuid:
		s, ok := value.(string)
		if !ok {
			return value
		}
		if opts.UsesSQL92CompliantStringComparison {
			s = strings.TrimRight(s, " ")
		}
		if !opts.IsCaseSensitive || dt == DataTypeGuid {
			s = strings.ToLower(s)
		}
		return s
	case dt.IsDate():
		return dt.Normalize(value)
	case dt.IsNumeric():
		if f, ok := toFloat64(value); ok {
			return f
		}
	}
	return value
}

func stringOrEmpty(v any) string {
	s, _ := v.(string)
	return s
}

var (
	localQueryOnce sync.Once
	localQueryEval Evaluator
)

func localQueryEvaluator() Evaluator {
	localQueryOnce.Do(func() {
		localQueryEval = NewExprEvaluator(ExprWithProgramCache(sharedExpressionCache()))
	})
	return localQueryEval
}
