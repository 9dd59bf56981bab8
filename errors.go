package tracker

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

var (
	ErrFrozenType           = errors.New("tracker: type has been frozen")
	ErrPropertyOwned        = errors.New("tracker: property already belongs to another type")
	ErrDuplicateProperty    = errors.New("tracker: property name already in use")
	ErrDuplicateType        = errors.New("tracker: type already exists")
	ErrNoKeyProperties      = errors.New("tracker: entity type has no key properties")
	ErrNamingRoundTrip      = errors.New("tracker: naming convention does not roundtrip")
	ErrDetachedState        = errors.New("tracker: entity is detached")
	ErrBeingSaved           = errors.New("tracker: entity is being saved")
	ErrTypeNotFound         = errors.New("tracker: type not found")
	ErrPropertyNotFound     = errors.New("tracker: property not found")
	ErrUnresolvedNavigation = errors.New("tracker: unresolved navigation properties")
	ErrMetadataVersion      = errors.New("tracker: metadata version mismatch")
	ErrKeyConflict          = errors.New("tracker: entity key already in cache")
	ErrOtherManager         = errors.New("tracker: entity belongs to another EntityManager")
	ErrNoQueryProvider      = errors.New("tracker: query provider not configured")
	ErrNoSaveProvider       = errors.New("tracker: save provider not configured")
	ErrNoMetadataFetcher    = errors.New("tracker: metadata fetcher not configured")
	ErrInvalidConfig        = errors.New("tracker: invalid configuration")
	ErrFunctionNotFound     = errors.New("tracker: function not registered")
)

// UnresolvedNavigationError lists navigation properties whose target type never
// arrived during a resolution pass.
type UnresolvedNavigationError struct {
	Pairs []string
}

func (e *UnresolvedNavigationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return "tracker: unable to resolve the following navigation properties: " + strings.Join(e.Pairs, ", ")
}

func (e *UnresolvedNavigationError) Unwrap() error {
	return ErrUnresolvedNavigation
}

func newUnresolvedNavigationError(nps []*NavigationProperty) error {
	if len(nps) == 0 {
		return nil
	}
	pairs := make([]string, 0, len(nps))
	for _, np := range nps {
		parent := "<unknown>"
		if np.parentType != nil {
			parent = np.parentType.Name
		}
		pairs = append(pairs, parent+":"+np.Name)
	}
	sort.Strings(pairs)
	return &UnresolvedNavigationError{Pairs: pairs}
}

// EvaluationError reports a failed compile or run of an expression. Target
// names the type or property being validated, when there is one.
type EvaluationError struct {
	Engine string
	Expr   string
	Target string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString("tracker: ")
	b.WriteString(e.Engine)
	b.WriteString(" rule ")
	if e.Expr == "" {
		b.WriteString("<empty>")
	} else {
		b.WriteString(strconv.Quote(e.Expr))
	}
	if e.Target != "" {
		b.WriteString(" on ")
		b.WriteString(e.Target)
	}
	b.WriteString(": ")
	b.WriteString(fmt.Sprint(e.Err))
	return b.String()
}

func (e *EvaluationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// wrapEvaluatorError tags engine-level failures that carry no expression.
func wrapEvaluatorError(engine string, err error) error {
	var evalErr *EvaluationError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &evalErr), strings.HasPrefix(err.Error(), "tracker:"):
		return err
	}
	return fmt.Errorf("tracker: %s evaluator: %w", engine, err)
}

// wrapEvaluationError attaches expression details to err, filling only the
// fields an inner EvaluationError left empty.
func wrapEvaluationError(engine, expr, target string, err error) error {
	if err == nil {
		return nil
	}
	var evalErr *EvaluationError
	if !errors.As(err, &evalErr) {
		return &EvaluationError{Engine: engine, Expr: expr, Target: target, Err: err}
	}
	for _, f := range []struct {
		field *string
		value string
	}{{&evalErr.Engine, engine}, {&evalErr.Expr, expr}, {&evalErr.Target, target}} {
		if *f.field == "" {
			*f.field = f.value
		}
	}
	return evalErr
}

func errorf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
