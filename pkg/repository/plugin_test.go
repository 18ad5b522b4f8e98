package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/platinummonkey/lathe/pkg/version"
)

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "com.acme-1.2.0.jar", ArtifactName("com.acme", version.MustParse("1.2"), ""))
	assert.Equal(t, "com.acme-1.2.0.q.tgz", ArtifactName("com.acme", version.MustParse("1.2.0.q"), ".tgz"))
}

func TestParseArtifactName(t *testing.T) {
	tests := []struct {
		bsn, file string
		version   string
		ext       string
		ok        bool
	}{
		{"com.acme", "com.acme-1.2.0.jar", "1.2.0", ".jar", true},
		{"com.acme", "com.acme-1.2.0.RC1.tar.gz", "1.2.0.RC1", ".tar.gz", true},
		{"com.acme", "/some/dir/com.acme-2.0.0.lib", "2.0.0", ".lib", true},
		{"com.acme", "com.acme-util-1.0.0.jar", "", "", false},
		{"com.acme", "com.acme-1.0.0.jar.api.json", "", "", false},
		{"com.acme", "other-1.0.0.jar", "", "", false},
	}
	for _, tt := range tests {
		v, ext, ok := ParseArtifactName(tt.bsn, tt.file)
		assert.Equal(t, tt.ok, ok, tt.file)
		if tt.ok {
			assert.Equal(t, tt.version, v.String())
			assert.Equal(t, tt.ext, ext)
		}
	}
}

func TestPhase(t *testing.T) {
	assert.Equal(t, PhaseFinal, ParsePhase("FINAL"))
	assert.Equal(t, PhaseStaging, ParsePhase("staging"))
	assert.Equal(t, PhaseUnknown, ParsePhase("released"))
	assert.Equal(t, "staging", PhaseStaging.String())
}

func TestNormalizeDigest(t *testing.T) {
	assert.Equal(t, "abcd", NormalizeDigest(" SHA-256:ABCD "))
	assert.Equal(t, "abcd", NormalizeDigest("abcd"))
}
