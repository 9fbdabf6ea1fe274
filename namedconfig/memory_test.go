package namedconfig

import "testing"

func newTestManager() *InMemoryManager {
	return NewInMemoryManager([]byte("test-master-key"))
}

func TestBootstrapAndGetConfig(t *testing.T) {
	m := newTestManager()
	m.Bootstrap(Entry{
		Category:   "sql",
		ID:         "analytics",
		Aliases:    []string{"an"},
		Driver:     "pgx",
		DSN:        "postgres://localhost/analytics",
		Properties: map[string]string{"timeout": "30s"},
	})

	if !m.HasConfig("sql", "analytics") {
		t.Fatalf("expected sql/analytics to exist")
	}
	if !m.HasConfig("sql", "an") {
		t.Fatalf("expected alias 'an' to resolve")
	}

	props, err := m.GetConfig("sql", "an", "", "")
	if err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if props["dsn"] != "postgres://localhost/analytics" {
		t.Errorf("dsn = %q", props["dsn"])
	}
	if props["timeout"] != "30s" {
		t.Errorf("timeout = %q", props["timeout"])
	}
}

func TestGetConfigNotFound(t *testing.T) {
	m := newTestManager()
	if _, err := m.GetConfig("sql", "missing", "", ""); err == nil {
		t.Fatalf("expected error for missing config")
	}
}

func TestVerifyTokenEmptyDenies(t *testing.T) {
	m := newTestManager()
	if claims := m.VerifyToken("aud", ""); claims != nil {
		t.Errorf("expected nil claims for empty token")
	}
	if claims := m.VerifyToken("aud", "unknown"); claims != nil {
		t.Errorf("expected nil claims for unknown token")
	}
}

func TestVerifyTokenKnown(t *testing.T) {
	m := newTestManager()
	m.RegisterToken("tok-123", Claims{Subject: "alice", Tenant: "acme", AllowedIPs: []string{"10.0.0.0/8"}})

	claims := m.VerifyToken("aud", "tok-123")
	if claims.Empty() {
		t.Fatalf("expected non-empty claims")
	}
	if claims.Subject != "alice" || claims.Tenant != "acme" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestEncryptRegisterGetConfigRoundTrip(t *testing.T) {
	m := newTestManager()
	cipher, err := m.Encrypt("s3cr3t", "acme")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if cipher == "s3cr3t" {
		t.Fatalf("expected ciphertext to differ from plaintext")
	}

	plain, err := m.Decrypt(cipher, "acme")
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if plain != "s3cr3t" {
		t.Errorf("round trip = %q, want s3cr3t", plain)
	}

	if err := m.Register("acme", map[string]string{"password": plain}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	props, err := m.GetConfig("secret", "acme", "", "")
	if err != nil {
		t.Fatalf("GetConfig after register: %v", err)
	}
	if props["password"] != "s3cr3t" {
		t.Errorf("password = %q, want cleartext s3cr3t", props["password"])
	}
}

func TestDecryptWrongTenantFails(t *testing.T) {
	m := newTestManager()
	cipher, err := m.Encrypt("value", "tenant-a")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := m.Decrypt(cipher, "tenant-b"); err == nil {
		t.Fatalf("expected decrypt under a different tenant to fail")
	}
}
