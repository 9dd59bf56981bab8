package tracker

import (
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// KeyGenerator produces temporary key values for entities whose keys are
// assigned by the server, and remembers which keys it handed out.
type KeyGenerator interface {
	GenerateTempKeyValue(et *EntityType) (any, error)
	IsTempKey(key EntityKey) bool
	GetTempKeys() []EntityKey
}

// KeyGeneratorFactory builds a fresh generator; managers call it again on
// Clear.
type KeyGeneratorFactory func() KeyGenerator

type tempKeyTracker struct {
	seen  map[string]EntityKey
	order []string
}

func newTempKeyTracker() tempKeyTracker {
	return tempKeyTracker{seen: map[string]EntityKey{}}
}

func (t *tempKeyTracker) track(et *EntityType, value any) (any, error) {
	key := NewEntityKey(et, value)
	s := key.String()
	if _, dup := t.seen[s]; dup {
		return nil, errorf(ErrKeyConflict, "temporary key %s was already generated", s)
	}
	t.seen[s] = key
	t.order = append(t.order, s)
	return value, nil
}

// RegisterTempKey records a temporary key produced elsewhere, such as one
// carried by an imported cache.
func (t *tempKeyTracker) RegisterTempKey(key EntityKey) {
	s := key.String()
	if _, dup := t.seen[s]; dup {
		return
	}
	t.seen[s] = key
	t.order = append(t.order, s)
}

// IsTempKey reports whether key was produced by this generator.
func (t *tempKeyTracker) IsTempKey(key EntityKey) bool {
	_, ok := t.seen[key.String()]
	return ok
}

// GetTempKeys returns the generated keys in generation order.
func (t *tempKeyTracker) GetTempKeys() []EntityKey {
	out := make([]EntityKey, 0, len(t.order))
	for _, s := range t.order {
		out = append(out, t.seen[s])
	}
	return out
}

func singleKeyProperty(et *EntityType) (*DataProperty, error) {
	if len(et.KeyProperties) != 1 {
		return nil, errorf(ErrInvalidConfig, "Ids can not be autogenerated for entities with multipart keys: %s", et.Name)
	}
	return et.KeyProperties[0], nil
}

// DefaultKeyGenerator draws values from DataType.GetNext: negative numbers,
// "K_" strings, new uuids and the current time.
type DefaultKeyGenerator struct {
	tempKeyTracker
}

// NewDefaultKeyGenerator returns a DefaultKeyGenerator as a KeyGenerator.
func NewDefaultKeyGenerator() KeyGenerator {
	return &DefaultKeyGenerator{tempKeyTracker: newTempKeyTracker()}
}

// GenerateTempKeyValue implements KeyGenerator.
func (g *DefaultKeyGenerator) GenerateTempKeyValue(et *EntityType) (any, error) {
	kp, err := singleKeyProperty(et)
	if err != nil {
		return nil, err
	}
	value, ok := kp.DataType.GetNext()
	if !ok {
		return nil, errorf(ErrInvalidConfig, "Cannot use a DataType of '%s' to generate a temporary key for %s", kp.DataType, et.Name)
	}
	return g.track(et, value)
}

// ULIDKeyGenerator hands out lexically sortable ULIDs for String and Guid
// keys and falls back to DataType.GetNext for everything else.
type ULIDKeyGenerator struct {
	tempKeyTracker
	prefix string
}

// NewULIDKeyGenerator returns a ULIDKeyGenerator. String keys are prefixed
// with prefix.
func NewULIDKeyGenerator(prefix string) KeyGenerator {
	return &ULIDKeyGenerator{tempKeyTracker: newTempKeyTracker(), prefix: prefix}
}

// GenerateTempKeyValue implements KeyGenerator.
func (g *ULIDKeyGenerator) GenerateTempKeyValue(et *EntityType) (any, error) {
	kp, err := singleKeyProperty(et)
	if err != nil {
		return nil, err
	}
	switch kp.DataType {
	case DataTypeString:
		return g.track(et, g.prefix+ulid.Make().String())
	case DataTypeGuid:
		return g.track(et, uuid.UUID(ulid.Make()).String())
	}
	value, ok := kp.DataType.GetNext()
	if !ok {
		return nil, errorf(ErrInvalidConfig, "Cannot use a DataType of '%s' to generate a temporary key for %s", kp.DataType, et.Name)
	}
	return g.track(et, value)
}
