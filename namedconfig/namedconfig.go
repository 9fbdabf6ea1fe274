// Package namedconfig implements the NamedConfig collaborator spec.md
// treats as external to the core: a read-only (from the core's
// perspective) store mapping (category, id) to a property bag, plus token
// verification and the encrypt/register admin operations. The persistent
// backend is out of scope; this package provides the in-memory bootstrap
// implementation the core needs to run standalone.
package namedconfig

import "errors"

// ErrNotFound is returned by GetConfig for an unknown (category, id).
var ErrNotFound = errors.New("namedconfig: no such category/id")

// Claims is what VerifyToken extracts from a token: the subject plus the
// host/IP allowlists the ACL Cache turns into a ServerAcl.
type Claims struct {
	Subject      string
	Tenant       string
	AllowedHosts []string
	AllowedIPs   []string
}

// Empty reports whether c carries no subject, i.e. verification failed.
func (c *Claims) Empty() bool {
	return c == nil || c.Subject == ""
}

// Entry is one (category, id) record: a property bag plus aliases and a
// human description, matching the admin `config/<ext>/<id>` response shape.
type Entry struct {
	Category    string
	ID          string
	Aliases     []string
	Description string
	Driver      string
	DSN         string
	Properties  map[string]string
}

// Manager is the NamedConfig contract from spec.md §3.
type Manager interface {
	GetAllIDs(category string) []Entry
	HasConfig(category, id string) bool
	GetConfig(category, id, tag, tenant string) (map[string]string, error)
	VerifyToken(audience, token string) *Claims
	Encrypt(value, tenant string) (string, error)
	Decrypt(value, tenant string) (string, error)
	Register(tenant string, properties map[string]string) error
}
