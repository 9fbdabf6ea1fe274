package main

import (
	"sync"

	"github.com/queryhub/qbridge/aclmath"
	"github.com/queryhub/qbridge/log"
	"github.com/queryhub/qbridge/namedconfig"
)

// AclCache memoizes ServerAcl by token in a bounded LRU, grounded on the
// teacher's cache.Cache pending-entry idiom generalized from files to an
// in-memory map (spec.md §4.2).
type AclCache struct {
	mu         sync.Mutex
	entries    map[string]*ServerAcl
	order      []string
	maxEntries int

	manager  namedconfig.Manager
	enabled  bool
	audience string
}

// NewAclCache constructs an AclCache. enabled mirrors config.Auth: when
// false, Authorize always returns true (spec.md §4.2 fast path).
func NewAclCache(manager namedconfig.Manager, maxEntries int, enabled bool, audience string) *AclCache {
	return &AclCache{
		entries:    make(map[string]*ServerAcl),
		maxEntries: maxEntries,
		manager:    manager,
		enabled:    enabled,
		audience:   audience,
	}
}

// Authorize implements the authorize(token, peerAddress) contract.
func (a *AclCache) Authorize(token, peer string) bool {
	if !a.enabled {
		return true
	}
	if token == "" {
		log.Infof("acl: denied empty token from peer %s", peer)
		return false
	}

	acl := a.lookup(token)
	if acl == nil {
		return false
	}
	return acl.IsValid(peer)
}

func (a *AclCache) lookup(token string) *ServerAcl {
	a.mu.Lock()
	if acl, ok := a.entries[token]; ok {
		for i, t := range a.order {
			if t == token {
				a.order = append(append(a.order[:i:i], a.order[i+1:]...), token)
				break
			}
		}
		a.mu.Unlock()
		return acl
	}
	a.mu.Unlock()

	claims := a.manager.VerifyToken(a.audience, token)
	if claims.Empty() {
		return nil
	}
	acl := aclFromClaims(claims)
	a.put(token, acl)
	return acl
}

func aclFromClaims(claims *namedconfig.Claims) *ServerAcl {
	acl := &ServerAcl{
		AllowedHosts: claims.AllowedHosts,
		AllowAll:     len(claims.AllowedHosts) == 0 && len(claims.AllowedIPs) == 0,
	}
	for _, cidr := range claims.AllowedIPs {
		if r, ok := aclmath.ParseRange(cidr); ok {
			acl.AllowedIPs = append(acl.AllowedIPs, r)
		} else {
			log.Errorf("acl: invalid CIDR %q in claims, skipping", cidr)
		}
	}
	return acl
}

func (a *AclCache) put(token string, acl *ServerAcl) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.entries[token]; !ok {
		a.order = append(a.order, token)
	}
	a.entries[token] = acl

	if a.maxEntries > 0 {
		for len(a.order) > a.maxEntries {
			oldest := a.order[0]
			a.order = a.order[1:]
			delete(a.entries, oldest)
		}
	}
}
