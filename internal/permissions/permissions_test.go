package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/infrastructure/logging"
	"github.com/hemanthshinoda2-dotcom/Tankoban-Max-sub000/internal/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.Store) {
	t.Helper()
	store, err := storage.New(t.TempDir(), logging.NewNop())
	require.NoError(t, err)
	return New(store, logging.NewNop(), nil), store
}

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"https://A.Test/path?q=1", "https://a.test"},
		{"http://a.test:8080/x", "http://a.test:8080"},
		{"ftp://a.test", ""},
		{"file:///etc/passwd", ""},
		{"not a url", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeOrigin(tt.in), "NormalizeOrigin(%q)", tt.in)
	}
}

func TestNormalizeDecision(t *testing.T) {
	assert.Equal(t, Allow, NormalizeDecision(" ALLOW "))
	assert.Equal(t, Deny, NormalizeDecision("deny"))
	assert.Equal(t, Ask, NormalizeDecision("maybe"))
	assert.Equal(t, Ask, NormalizeDecision(""))
}

func TestSetAndDecision(t *testing.T) {
	r, _ := newTestRegistry(t)

	rule, err := r.Set("https://a.test/page", "camera", "allow")
	require.NoError(t, err)
	assert.Equal(t, "https://a.test", rule.Origin)
	assert.Equal(t, Allow, rule.Decision)

	assert.Equal(t, Allow, r.Decision("https://a.test", "camera"))
	assert.True(t, r.ShouldAllow("https://a.test", "camera"))
	assert.Equal(t, Ask, r.Decision("https://a.test", "microphone"))
	assert.False(t, r.ShouldAllow("https://a.test", "microphone"), "ask does not allow")

	// Updating the same key replaces, not duplicates.
	_, err = r.Set("https://a.test", "camera", "deny")
	require.NoError(t, err)
	rules, _ := r.List()
	assert.Len(t, rules, 1)
	assert.False(t, r.ShouldAllow("https://a.test", "camera"))
}

func TestSetValidation(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Set("chrome://settings", "camera", "allow")
	assert.Error(t, err)
	_, err = r.Set("https://a.test", "  ", "allow")
	assert.Error(t, err)
}

func TestResetKeyRemovesRule(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Set("https://a.test", "camera", "allow")
	require.NoError(t, err)
	r.Reset("https://a.test", "camera")

	rules, _ := r.List()
	assert.Empty(t, rules)
	assert.Equal(t, Ask, r.Decision("https://a.test", "camera"))
}

func TestResetScopedToOrigin(t *testing.T) {
	r, _ := newTestRegistry(t)

	_, err := r.Set("https://a.test", "camera", "allow")
	require.NoError(t, err)
	_, err = r.Set("https://b.test", "camera", "deny")
	require.NoError(t, err)

	r.Reset("https://a.test", "")

	rules, _ := r.List()
	require.Len(t, rules, 1)
	assert.Equal(t, "https://b.test", rules[0].Origin)
	assert.Equal(t, "camera", rules[0].Permission)
	assert.Equal(t, Deny, rules[0].Decision)
}

func TestResetAllAndPersistence(t *testing.T) {
	r, store := newTestRegistry(t)

	_, err := r.Set("https://a.test", "camera", "allow")
	require.NoError(t, err)
	_, err = r.Set("https://b.test", "notifications", "deny")
	require.NoError(t, err)

	r.Reset("", "")
	rules, _ := r.List()
	assert.Empty(t, rules)

	// State survives a reload through the store.
	_, err = r.Set("https://c.test", "geolocation", "allow")
	require.NoError(t, err)
	store.FlushAll()

	reloaded := New(store, logging.NewNop(), nil)
	rules, _ = reloaded.List()
	require.Len(t, rules, 1)
	assert.Equal(t, "https://c.test", rules[0].Origin)
}
