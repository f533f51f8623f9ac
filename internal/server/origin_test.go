package server

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOriginPolicy_IsAllowed(t *testing.T) {
	policy := newOriginPolicy([]string{"http://localhost:8080", "HTTPS://Chat.Example.org", "not a url"}, testLogger())

	tests := []struct {
		name   string
		origin string
		want   bool
	}{
		{name: "exact match", origin: "http://localhost:8080", want: true},
		{name: "case insensitive", origin: "https://chat.example.org", want: true},
		{name: "path ignored", origin: "http://localhost:8080/app", want: true},
		{name: "other port", origin: "http://localhost:9090", want: false},
		{name: "other scheme", origin: "https://localhost:8080", want: false},
		{name: "missing origin", origin: "", want: false},
		{name: "garbage", origin: "::::", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}

			require.Equal(t, tt.want, policy.checkOrigin(r))
		})
	}
}

func TestOriginPolicy_Wildcard(t *testing.T) {
	req := require.New(t)
	policy := newOriginPolicy([]string{"*"}, testLogger())

	r := httptest.NewRequest("GET", "/ws", nil)
	req.True(policy.isAllowed(r))

	r.Header.Set("Origin", "http://anywhere.example")
	req.True(policy.isAllowed(r))
}

func TestOriginPolicy_Ignores_Invalid_Entries(t *testing.T) {
	policy := newOriginPolicy([]string{"", "  ", "localhost"}, testLogger())

	require.Empty(t, policy.allowed)
	require.False(t, policy.allowAll)
}
