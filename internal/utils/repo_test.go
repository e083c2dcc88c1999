package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRepoURL(t *testing.T) {
	tests := []struct {
		url       string
		wantOwner string
		wantName  string
		wantErr   bool
	}{
		{url: "https://github.com/acme/widgets", wantOwner: "acme", wantName: "widgets"},
		{url: "https://api.github.com/repos/acme/widgets", wantOwner: "acme", wantName: "widgets"},
		{url: "https://github.com/acme/widgets/", wantOwner: "acme", wantName: "widgets"},
		{url: "https://github.com/acme", wantErr: true},
		{url: "https://api.github.com/repos/acme", wantErr: true},
		{url: "", wantErr: true},
	}

	for _, tt := range tests {
		owner, name, err := ParseRepoURL(tt.url)
		if tt.wantErr {
			assert.Error(t, err, tt.url)
			continue
		}
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.wantOwner, owner, tt.url)
		assert.Equal(t, tt.wantName, name, tt.url)
	}
}
