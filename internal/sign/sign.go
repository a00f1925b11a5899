// Package sign produces and checks detached OpenPGP signatures for published
// files such as the version manifest.
package sign

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp"

	"github.com/hse-launcher/instance-builder/internal/utils/file"
	"github.com/hse-launcher/instance-builder/internal/utils/logger"
)

// SignatureExt is appended to the signed file name.
const SignatureExt = ".asc"

var (
	ErrNoSigningKey = errors.New("no private signing key in keyring")
	ErrBadSignature = errors.New("signature verification failed")
)

// SignFile writes an ASCII-armored detached signature of path to path+".asc"
// and returns the signature path. keyPath points at an armored private key;
// passphrase may be empty for unprotected keys.
func SignFile(path, keyPath, passphrase string) (string, error) {
	log := logger.Logger()

	signer, err := loadSigner(keyPath, passphrase)
	if err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	var sig bytes.Buffer
	if err := openpgp.ArmoredDetachSign(&sig, signer, bytes.NewReader(data), nil); err != nil {
		return "", fmt.Errorf("failed to sign %s: %w", path, err)
	}

	sigPath := path + SignatureExt
	if err := file.WriteFileAtomic(sigPath, sig.Bytes()); err != nil {
		return "", err
	}
	log.Infof("signed %s with key %X", path, signer.PrimaryKey.KeyId)
	return sigPath, nil
}

// VerifyFile checks the detached signature at sigPath against path using the
// armored public keys in pubKeyPath.
func VerifyFile(path, sigPath, pubKeyPath string) error {
	keyring, err := readKeyRing(pubKeyPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	sig, err := os.ReadFile(sigPath)
	if err != nil {
		return fmt.Errorf("failed to read signature %s: %w", sigPath, err)
	}
	if _, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(data), bytes.NewReader(sig), nil); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBadSignature, path, err)
	}
	return nil
}

func readKeyRing(path string) (openpgp.EntityList, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open key %s: %w", path, err)
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read key %s: %w", path, err)
	}
	return keyring, nil
}

func loadSigner(keyPath, passphrase string) (*openpgp.Entity, error) {
	keyring, err := readKeyRing(keyPath)
	if err != nil {
		return nil, err
	}
	for _, e := range keyring {
		if e.PrivateKey == nil {
			continue
		}
		if e.PrivateKey.Encrypted {
			if err := e.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
				return nil, fmt.Errorf("failed to unlock key %s: %w", keyPath, err)
			}
		}
		for _, sub := range e.Subkeys {
			if sub.PrivateKey != nil && sub.PrivateKey.Encrypted {
				if err := sub.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
					return nil, fmt.Errorf("failed to unlock subkey in %s: %w", keyPath, err)
				}
			}
		}
		return e, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoSigningKey, keyPath)
}
