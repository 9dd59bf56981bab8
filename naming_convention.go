package tracker

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

// NameFunc converts a property name between client and server forms. prop is
// nil when the property is not yet attached to a type.
type NameFunc func(name string, prop StructuralProperty) string

// NamingConvention maps server property names to client names and back. The
// two functions must be inverses of each other.
type NamingConvention struct {
	Name                       string
	ServerPropertyNameToClient NameFunc
	ClientPropertyNameToServer NameFunc
}

var (
	// NamingNone leaves names unchanged.
	NamingNone = &NamingConvention{
		Name:                       "noChange",
		ServerPropertyNameToClient: func(name string, _ StructuralProperty) string { return name },
		ClientPropertyNameToServer: func(name string, _ StructuralProperty) string { return name },
	}
	// NamingCamelCase lower-cases the first rune on the client and upper-cases it on the server.
	NamingCamelCase = &NamingConvention{
		Name:                       "camelCase",
		ServerPropertyNameToClient: func(name string, _ StructuralProperty) string { return mapFirstRune(name, unicode.ToLower) },
		ClientPropertyNameToServer: func(name string, _ StructuralProperty) string { return mapFirstRune(name, unicode.ToUpper) },
	}
)

var namingRegistry = struct {
	mu          sync.RWMutex
	conventions map[string]*NamingConvention
}{
	conventions: map[string]*NamingConvention{
		NamingNone.Name:      NamingNone,
		NamingCamelCase.Name: NamingCamelCase,
	},
}

// NewNamingConvention registers a convention. A uuid is used when name is empty.
func NewNamingConvention(name string, toClient, toServer NameFunc) (*NamingConvention, error) {
	if toClient == nil || toServer == nil {
		return nil, errorf(ErrInvalidConfig, "naming convention %q requires both conversion functions", name)
	}
	if strings.TrimSpace(name) == "" {
		name = uuid.NewString()
	}
	nc := &NamingConvention{
		Name:                       name,
		ServerPropertyNameToClient: toClient,
		ClientPropertyNameToServer: toServer,
	}
	namingRegistry.mu.Lock()
	namingRegistry.conventions[name] = nc
	namingRegistry.mu.Unlock()
	return nc, nil
}

// NamingConventionByName returns a registered convention.
func NamingConventionByName(name string) (*NamingConvention, bool) {
	namingRegistry.mu.RLock()
	defer namingRegistry.mu.RUnlock()
	nc, ok := namingRegistry.conventions[name]
	return nc, ok
}

func (nc *NamingConvention) toClient(name string, prop StructuralProperty) string {
	if nc == nil || nc.ServerPropertyNameToClient == nil {
		return name
	}
	return nc.ServerPropertyNameToClient(name, prop)
}

func (nc *NamingConvention) toServer(name string, prop StructuralProperty) string {
	if nc == nil || nc.ClientPropertyNameToServer == nil {
		return name
	}
	return nc.ClientPropertyNameToServer(name, prop)
}

// updateClientServerNames derives the server name from the client name when
// one is present, otherwise the client name from the server name, and checks
// that the conversion round-trips.
func (nc *NamingConvention) updateClientServerNames(prop StructuralProperty, clientName, serverName *string) error {
	if *clientName != "" {
		*serverName = nc.toServer(*clientName, prop)
		if test := nc.toClient(*serverName, prop); test != *clientName {
			return errorf(ErrNamingRoundTrip, "NamingConvention for this client property name does not roundtrip properly:%s-->%s", *clientName, test)
		}
		return nil
	}
	if *serverName == "" {
		return nil
	}
	*clientName = nc.toClient(*serverName, prop)
	if test := nc.toServer(*clientName, prop); test != *serverName {
		return errorf(ErrNamingRoundTrip, "NamingConvention for this server property name does not roundtrip properly:%s-->%s", *serverName, test)
	}
	return nil
}

// updateClientServerNameLists applies updateClientServerNames element-wise to
// foreign key name lists.
func (nc *NamingConvention) updateClientServerNameLists(prop StructuralProperty, clients, servers *[]string) error {
	if len(*clients) > 0 {
		out := make([]string, len(*clients))
		for i, c := range *clients {
			client := c
			if err := nc.updateClientServerNames(prop, &client, &out[i]); err != nil {
				return err
			}
		}
		*servers = out
		return nil
	}
	if len(*servers) == 0 {
		return nil
	}
	out := make([]string, len(*servers))
	for i, s := range *servers {
		server := s
		if err := nc.updateClientServerNames(prop, &out[i], &server); err != nil {
			return err
		}
	}
	*clients = out
	return nil
}

func mapFirstRune(name string, fn func(rune) rune) string {
	if name == "" {
		return name
	}
	r, size := utf8.DecodeRuneInString(name)
	return string(fn(r)) + name[size:]
}

// LocalQueryComparisonOptions control string comparison during local query
// evaluation.
type LocalQueryComparisonOptions struct {
	Name                               string `json:"name" yaml:"name"`
	IsCaseSensitive                    bool   `json:"isCaseSensitive" yaml:"isCaseSensitive"`
	UsesSQL92CompliantStringComparison bool   `json:"usesSql92CompliantStringComparison" yaml:"usesSql92CompliantStringComparison"`
}

var (
	CaseInsensitiveSQL = &LocalQueryComparisonOptions{Name: "caseInsensitiveSQL", UsesSQL92CompliantStringComparison: true}
	CaseSensitiveSQL   = &LocalQueryComparisonOptions{Name: "caseSensitiveSQL", IsCaseSensitive: true, UsesSQL92CompliantStringComparison: true}
)

// ComparisonOptionsByName returns a built-in comparison option set.
func ComparisonOptionsByName(name string) (*LocalQueryComparisonOptions, bool) {
	switch name {
	case CaseInsensitiveSQL.Name:
		return CaseInsensitiveSQL, true
	case CaseSensitiveSQL.Name:
		return CaseSensitiveSQL, true
	}
	return nil, false
}

func (o *LocalQueryComparisonOptions) stringsEqual(a, b string) bool {
	if o != nil && o.UsesSQL92CompliantStringComparison {
		a = strings.TrimRight(a, " ")
		b = strings.TrimRight(b, " ")
	}
	if o != nil && o.IsCaseSensitive {
		return a == b
	}
	return strings.EqualFold(a, b)
}

func (o *LocalQueryComparisonOptions) String() string {
	if o == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(caseSensitive=%t)", o.Name, o.IsCaseSensitive)
}
