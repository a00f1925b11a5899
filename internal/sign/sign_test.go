package sign

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeKeys generates a throwaway key pair and writes both halves armored.
func writeKeys(t *testing.T, dir string) (privPath, pubPath string) {
	t.Helper()
	entity, err := openpgp.NewEntity("mirror", "test", "mirror@example.com", nil)
	require.NoError(t, err)

	privPath = filepath.Join(dir, "private.asc")
	pf, err := os.Create(privPath)
	require.NoError(t, err)
	w, err := armor.Encode(pf, openpgp.PrivateKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.SerializePrivate(w, nil))
	require.NoError(t, w.Close())
	require.NoError(t, pf.Close())

	pubPath = filepath.Join(dir, "public.asc")
	uf, err := os.Create(pubPath)
	require.NoError(t, err)
	w, err = armor.Encode(uf, openpgp.PublicKeyType, nil)
	require.NoError(t, err)
	require.NoError(t, entity.Serialize(w))
	require.NoError(t, w.Close())
	require.NoError(t, uf.Close())
	return privPath, pubPath
}

func TestSignAndVerify(t *testing.T) {
	dir := t.TempDir()
	privPath, pubPath := writeKeys(t, dir)

	manifest := filepath.Join(dir, "version_manifest.json")
	require.NoError(t, os.WriteFile(manifest, []byte(`{"versions":[]}`), 0644))

	sigPath, err := SignFile(manifest, privPath, "")
	require.NoError(t, err)
	assert.Equal(t, manifest+SignatureExt, sigPath)

	sig, err := os.ReadFile(sigPath)
	require.NoError(t, err)
	assert.Contains(t, string(sig), "BEGIN PGP SIGNATURE")

	require.NoError(t, VerifyFile(manifest, sigPath, pubPath))

	require.NoError(t, os.WriteFile(manifest, []byte(`{"versions":[{}]}`), 0644))
	assert.ErrorIs(t, VerifyFile(manifest, sigPath, pubPath), ErrBadSignature)
}

func TestSignFileRequiresPrivateKey(t *testing.T) {
	dir := t.TempDir()
	_, pubPath := writeKeys(t, dir)
	target := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	_, err := SignFile(target, pubPath, "")
	assert.ErrorIs(t, err, ErrNoSigningKey)
}

func TestSignFileMissingKey(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "data")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0644))

	_, err := SignFile(target, filepath.Join(dir, "nope.asc"), "")
	assert.ErrorIs(t, err, os.ErrNotExist)
}
