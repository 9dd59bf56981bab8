package tracker

// NavTuple groups the children waiting on one navigation property of a
// parent.
type NavTuple struct {
	NavigationProperty *NavigationProperty
	Children           []Entity
}

// UnattachedChildrenMap holds entities whose parent has not been seen yet,
// keyed by the parent key string.
type UnattachedChildrenMap struct {
	tuples map[string][]*NavTuple
}

// NewUnattachedChildrenMap returns an empty map.
func NewUnattachedChildrenMap() *UnattachedChildrenMap {
	return &UnattachedChildrenMap{tuples: map[string][]*NavTuple{}}
}

// AddChild records child as waiting for the parent identified by parentKey.
func (m *UnattachedChildrenMap) AddChild(parentKey EntityKey, np *NavigationProperty, child Entity) {
	tuple := m.GetTuple(parentKey, np)
	if tuple == nil {
		tuple = &NavTuple{NavigationProperty: np}
		key := parentKey.String()
		m.tuples[key] = append(m.tuples[key], tuple)
	}
	tuple.Children = append(tuple.Children, child)
}

// RemoveChildren drops the tuple for np and the whole bucket once it is
// empty.
func (m *UnattachedChildrenMap) RemoveChildren(parentKeyString string, np *NavigationProperty) {
	tuples, ok := m.tuples[parentKeyString]
	if !ok {
		return
	}
	kept := tuples[:0]
	for _, t := range tuples {
		if t.NavigationProperty != np {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(m.tuples, parentKeyString)
		return
	}
	m.tuples[parentKeyString] = kept
}

// GetTuple returns the tuple for np under parentKey, or nil.
func (m *UnattachedChildrenMap) GetTuple(parentKey EntityKey, np *NavigationProperty) *NavTuple {
	for _, t := range m.GetTuples(parentKey) {
		if t.NavigationProperty == np {
			return t
		}
	}
	return nil
}

// GetTuples returns the tuples waiting on parentKey. When there are none the
// base types of the key's type are tried in turn, since a child may have
// been indexed under a base type key.
func (m *UnattachedChildrenMap) GetTuples(parentKey EntityKey) []*NavTuple {
	_, tuples := m.lookup(parentKey)
	return tuples
}

func (m *UnattachedChildrenMap) lookup(parentKey EntityKey) (string, []*NavTuple) {
	keyString := parentKey.String()
	tuples, ok := m.tuples[keyString]
	for et := parentKey.EntityType(); !ok && et != nil && et.BaseEntityType != nil; {
		et = et.BaseEntityType
		keyString = parentKey.StringAs(et)
		tuples, ok = m.tuples[keyString]
	}
	if !ok {
		return parentKey.String(), nil
	}
	return keyString, tuples
}

// GetTuplesByString returns the tuples stored under a key string.
func (m *UnattachedChildrenMap) GetTuplesByString(parentKeyString string) []*NavTuple {
	return m.tuples[parentKeyString]
}

// Len returns the number of parent keys with waiting children.
func (m *UnattachedChildrenMap) Len() int { return len(m.tuples) }

// clear drops every entry.
func (m *UnattachedChildrenMap) clear() { m.tuples = map[string][]*NavTuple{} }
