//nolint:lll // readablity
package traefik

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		domain  string
		cert    string
		key     string
		wantErr error
	}{
		{
			name:   "found",
			data:   `{"le":{"Certificates":[{"domain":{"main":"club.example.com"}, "certificate": "cert1", "key": "key1"}]}}`,
			domain: "club.example.com",
			cert:   "cert1",
			key:    "key1",
		},
		{
			name:   "second resolver",
			data:   `{"le":{"Certificates":[]},"wild":{"Certificates":[{"domain":{"main":"*.example.com"}, "certificate": "cert2", "key": "key2"}]}}`,
			domain: "*.example.com",
			cert:   "cert2",
			key:    "key2",
		},
		{
			name:    "unknown domain",
			data:    `{"le":{"Certificates":[{"domain":{"main":"club.example.com"}, "certificate": "cert1", "key": "key1"}]}}`,
			domain:  "other.example.com",
			wantErr: ErrDomainNotFound,
		},
		{
			name:    "empty",
			data:    `{}`,
			domain:  "club.example.com",
			wantErr: ErrDomainNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lookup([]byte(tt.data), tt.domain)
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cert, got.Certificate)
			assert.Equal(t, tt.key, got.Key)
		})
	}
}

func TestParseCertificateInvalidBase64(t *testing.T) {
	_, err := ParseCertificate(
		[]byte(`{"le":{"Certificates":[{"domain":{"main":"a.b"}, "certificate": "%%%", "key": "key1"}]}}`),
		"a.b")
	assert.Error(t, err)
}

func TestParseCertificateInvalidJSON(t *testing.T) {
	_, err := ParseCertificate([]byte(`{`), "a.b")
	assert.Error(t, err)
}
