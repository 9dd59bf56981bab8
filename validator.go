package tracker

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ValidatorFunc reports whether value is valid.
type ValidatorFunc func(value any, vctx ValidationContext) bool

// Validator is a named validation rule. Context holds the parameters the rule
// was built with and travels with the validator through metadata export.
type Validator struct {
	Name    string
	Context map[string]any

	fn       ValidatorFunc
	template string
}

// ValidationContext describes what is being validated.
type ValidationContext struct {
	Entity       Entity
	Target       Structural
	Property     StructuralProperty
	PropertyName string
	DisplayName  string
	Index        int
	Value        any
	OldValue     any
}

// NewValidationContext returns a context with Index set to -1.
func NewValidationContext() ValidationContext {
	return ValidationContext{Index: -1}
}

// ValidationError is a single failed validation.
type ValidationError struct {
	Validator     *Validator
	Context       ValidationContext
	ErrorMessage  string
	Key           string
	Property      StructuralProperty
	PropertyName  string
	IsServerError bool
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.ErrorMessage
}

// NewValidationError builds an error keyed by validator and property path. An
// explicit key, used for server errors, replaces the derived one.
func NewValidationError(validator *Validator, vctx ValidationContext, message, key string) *ValidationError {
	name := ""
	if validator != nil {
		name = validator.Name
	}
	if key == "" {
		key = ValidationErrorKey(name, vctx.PropertyName)
	}
	return &ValidationError{
		Validator:    validator,
		Context:      vctx,
		ErrorMessage: message,
		Key:          key,
		Property:     vctx.Property,
		PropertyName: vctx.PropertyName,
	}
}

// ValidationErrorKey is validatorName:propertyPath. Entity level errors have
// an empty property path.
func ValidationErrorKey(validatorName, propertyPath string) string {
	return validatorName + ":" + propertyPath
}

// NewValidator builds a validator. template may reference %displayName%,
// %value% and any key of params.
func NewValidator(name, template string, fn ValidatorFunc, params map[string]any) *Validator {
	if template == "" {
		template = "'%displayName%' is not valid"
	}
	ctx := make(map[string]any, len(params)+1)
	for k, v := range params {
		ctx[k] = v
	}
	if msg, ok := ctx["message"].(string); ok && msg != "" {
		template = msg
	}
	ctx["name"] = name
	return &Validator{Name: name, Context: ctx, fn: fn, template: template}
}

// WithMessage returns a copy of v using template for failures.
func (v *Validator) WithMessage(template string) *Validator {
	out := *v
	out.Context = cloneCustom(v.Context)
	out.Context["message"] = template
	out.template = template
	return &out
}

// Validate runs the rule and returns nil on success.
func (v *Validator) Validate(value any, vctx ValidationContext) *ValidationError {
	vctx.Value = value
	if v.fn == nil || v.fn(value, vctx) {
		return nil
	}
	return NewValidationError(v, vctx, v.Message(vctx), "")
}

// Message renders the failure message for vctx.
func (v *Validator) Message(vctx ValidationContext) string {
	tokens := map[string]string{
		"displayName":  resolveDisplayName(vctx),
		"propertyName": vctx.PropertyName,
		"value":        fmt.Sprint(vctx.Value),
	}
	for k, val := range v.Context {
		if k == "message" || k == "name" {
			continue
		}
		tokens[k] = fmt.Sprint(val)
	}
	return formatTemplate(v.template, tokens)
}

func resolveDisplayName(vctx ValidationContext) string {
	if vctx.DisplayName != "" {
		return vctx.DisplayName
	}
	if dp, ok := vctx.Property.(*DataProperty); ok {
		if name := dp.ResolvedDisplayName(); name != "" {
			return name
		}
	}
	if np, ok := vctx.Property.(*NavigationProperty); ok && np.DisplayName != "" {
		return np.DisplayName
	}
	if vctx.PropertyName != "" {
		return vctx.PropertyName
	}
	return "Value"
}

func formatTemplate(template string, tokens map[string]string) string {
	var b strings.Builder
	for {
		start := strings.IndexByte(template, '%')
		if start < 0 {
			b.WriteString(template)
			break
		}
		end := strings.IndexByte(template[start+1:], '%')
		if end < 0 {
			b.WriteString(template)
			break
		}
		token := template[start+1 : start+1+end]
		b.WriteString(template[:start])
		if val, ok := tokens[token]; ok {
			b.WriteString(val)
		} else {
			b.WriteString(template[start : start+end+2])
		}
		template = template[start+end+2:]
	}
	return b.String()
}

// ToJSON returns the exported form {name, ...context}.
func (v *Validator) ToJSON() map[string]any {
	out := cloneCustom(v.Context)
	if out == nil {
		out = map[string]any{}
	}
	out["name"] = v.Name
	return out
}

// MarshalJSON implements json.Marshaler.
func (v *Validator) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToJSON())
}

// ValidatorFactory rebuilds a validator from its exported context.
type ValidatorFactory func(params map[string]any) (*Validator, error)

var validatorFactories = struct {
	mu        sync.RWMutex
	factories map[string]ValidatorFactory
}{factories: map[string]ValidatorFactory{}}

// RegisterValidatorFactory makes name available to ValidatorFromJSON.
func RegisterValidatorFactory(name string, factory ValidatorFactory) {
	validatorFactories.mu.Lock()
	defer validatorFactories.mu.Unlock()
	validatorFactories.factories[name] = factory
}

// ValidatorFactoryNames lists the registered factory names.
func ValidatorFactoryNames() []string {
	validatorFactories.mu.RLock()
	defer validatorFactories.mu.RUnlock()
	names := make([]string, 0, len(validatorFactories.factories))
	for name := range validatorFactories.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidatorFromJSON rebuilds an exported validator.
func ValidatorFromJSON(raw map[string]any) (*Validator, error) {
	name, _ := raw["name"].(string)
	if name == "" {
		return nil, errorf(ErrInvalidConfig, "validator json requires a name")
	}
	validatorFactories.mu.RLock()
	factory := validatorFactories.factories[name]
	validatorFactories.mu.RUnlock()
	if factory == nil {
		return nil, errorf(ErrInvalidConfig, "Unable to locate a validator factory with the name '%s'", name)
	}
	params := make(map[string]any, len(raw))
	for k, v := range raw {
		if k != "name" {
			params[k] = v
		}
	}
	validator, err := factory(params)
	if err != nil {
		return nil, err
	}
	if msg, ok := params["message"].(string); ok && msg != "" && validator.template != msg {
		validator = validator.WithMessage(msg)
	}
	return validator, nil
}
