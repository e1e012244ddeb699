package vocabulary

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	v := Default()
	require.True(t, v.IsValidCode("unit_type", "apartment"))
	require.True(t, v.IsValidCode("gender", " Female "))
	require.False(t, v.IsValidCode("unit_type", "castle"))
	require.False(t, v.IsValidCode("no_such_domain", "apartment"))
	require.Contains(t, v.Codes("claim_type"), "ownership")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\ndomains:\n  unit_type: [kiosk]\n"), 0o600))

	v, err := Load(path)
	require.NoError(t, err)
	require.True(t, v.IsValidCode("unit_type", "kiosk"))
	require.False(t, v.IsValidCode("unit_type", "apartment"))

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrVocabularyNotFound)
}

func TestLoad_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.toml")
	raw := "version = 1\n\n[domains]\nunit_type = [\"Kiosk\", \"garage\"]\n"
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))
	v, err := Load(path)
	require.NoError(t, err)
	require.True(t, v.IsValidCode("unit_type", "kiosk"))
	require.Equal(t, []string{"garage", "kiosk"}, v.Codes("unit_type"))

	_, err = ParseTOML([]byte("version = 3\n"))
	require.Error(t, err)
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("version: 2\ndomains: {}\n"))
	require.Error(t, err)
	_, err = Parse([]byte("version: 1\ndomains:\n  gender: ['']\n"))
	require.Error(t, err)
}
