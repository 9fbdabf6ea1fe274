package namedconfig

import (
	"fmt"
	"sort"
	"sync"
)

// InMemoryManager is the bootstrap Manager implementation: everything lives
// in maps built at construction time (or added later via Register), with no
// persistent backend, matching spec.md's framing of NamedConfig's storage
// as out of scope for the core.
type InMemoryManager struct {
	mu sync.RWMutex

	// entries is keyed by category, then by id. aliases resolve into the
	// same map via aliasIndex.
	entries    map[string]map[string]Entry
	aliasIndex map[string]map[string]string // category -> alias -> id
	tokens     map[string]Claims
	masterKey  []byte
}

// NewInMemoryManager returns an empty manager. masterKey seeds the
// encrypt/decrypt key derivation (spec.md §4.8); in production this would
// come from a secret store, itself out of scope.
func NewInMemoryManager(masterKey []byte) *InMemoryManager {
	return &InMemoryManager{
		entries:    make(map[string]map[string]Entry),
		aliasIndex: make(map[string]map[string]string),
		tokens:     make(map[string]Claims),
		masterKey:  masterKey,
	}
}

// Bootstrap seeds entries, one call per (category, id) pair the caller
// wants pre-registered (typically from config.Backend at startup).
func (m *InMemoryManager) Bootstrap(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putLocked(e)
}

// RegisterToken seeds a bearer token's claims, the in-memory stand-in for
// whatever token-issuance system a production NamedConfig delegates to.
func (m *InMemoryManager) RegisterToken(token string, claims Claims) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[token] = claims
}

func (m *InMemoryManager) putLocked(e Entry) {
	if m.entries[e.Category] == nil {
		m.entries[e.Category] = make(map[string]Entry)
	}
	m.entries[e.Category][e.ID] = e

	if m.aliasIndex[e.Category] == nil {
		m.aliasIndex[e.Category] = make(map[string]string)
	}
	for _, a := range e.Aliases {
		m.aliasIndex[e.Category][a] = e.ID
	}
}

func (m *InMemoryManager) GetAllIDs(category string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byID := m.entries[category]
	out := make([]Entry, 0, len(byID))
	for _, e := range byID {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *InMemoryManager) HasConfig(category, id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.resolveLocked(category, id)
	return ok
}

func (m *InMemoryManager) resolveLocked(category, id string) (Entry, bool) {
	if byID, ok := m.entries[category]; ok {
		if e, ok := byID[id]; ok {
			return e, true
		}
	}
	if aliases, ok := m.aliasIndex[category]; ok {
		if realID, ok := aliases[id]; ok {
			return m.entries[category][realID], true
		}
	}
	return Entry{}, false
}

// GetConfig returns e's properties. tag, when non-empty, restricts the
// result to keys prefixed by "tag.". tenant is currently only used to scope
// future persistent backends and is otherwise ignored here.
func (m *InMemoryManager) GetConfig(category, id, tag, tenant string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.resolveLocked(category, id)
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, category, id)
	}

	if tag == "" {
		out := make(map[string]string, len(e.Properties)+2)
		for k, v := range e.Properties {
			out[k] = v
		}
		if e.Driver != "" {
			out["driver"] = e.Driver
		}
		if e.DSN != "" {
			out["dsn"] = e.DSN
		}
		return out, nil
	}

	prefix := tag + "."
	out := make(map[string]string)
	for k, v := range e.Properties {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			out[k[len(prefix):]] = v
		}
	}
	return out, nil
}

func (m *InMemoryManager) VerifyToken(audience, token string) *Claims {
	if token == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.tokens[token]
	if !ok {
		return nil
	}
	claims := c
	return &claims
}

// Register stores properties under the "secret" category, keyed by tenant,
// merging with anything already registered for that tenant. This is the
// target of the admin `register` endpoint after it decrypts its body.
func (m *InMemoryManager) Register(tenant string, properties map[string]string) error {
	if tenant == "" {
		return fmt.Errorf("namedconfig: register requires a tenant")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.resolveLocked("secret", tenant)
	if !ok {
		e = Entry{Category: "secret", ID: tenant, Properties: make(map[string]string)}
	}
	if e.Properties == nil {
		e.Properties = make(map[string]string)
	}
	for k, v := range properties {
		e.Properties[k] = v
	}
	m.putLocked(e)
	return nil
}
