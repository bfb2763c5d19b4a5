package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateHostURL(t *testing.T) {
	tests := []struct {
		name    string
		host    string
		wantErr bool
	}{
		{name: "valid http", host: "http://127.0.0.1:8000"},
		{name: "valid https", host: "https://flight.example.com"},
		{name: "trailing slash", host: "http://localhost:8000/"},
		{name: "missing scheme", host: "localhost:8000", wantErr: true},
		{name: "bogus scheme", host: "://bad", wantErr: true},
		{name: "empty", host: "", wantErr: true},
		{name: "path not allowed", host: "http://localhost:8000/query", wantErr: true},
		{name: "query not allowed", host: "http://localhost:8000?x=1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateHostURL(tt.host)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestTrimHost(t *testing.T) {
	assert.Equal(t, "http://localhost:8000", trimHost(" http://localhost:8000/ "))
}
