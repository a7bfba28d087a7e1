package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

// ErrKeyEncrypted is returned when an encrypted private key is given
// without a passphrase.
var ErrKeyEncrypted = errors.New("private key is encrypted; provide --passphrase or ROSAC_PASSPHRASE")

// loadSigner reads the operator's private key at path.
func loadSigner(path, passphrase string) (ssh.Signer, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if _, _, _, _, perr := ssh.ParseAuthorizedKey(bytes.TrimSpace(b)); perr == nil {
		return nil, fmt.Errorf("%s holds a public key; pass the private key instead", path)
	}
	if passphrase != "" {
		s, err := ssh.ParsePrivateKeyWithPassphrase(b, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return s, nil
	}
	s, err := ssh.ParsePrivateKey(b)
	var missing *ssh.PassphraseMissingError
	switch {
	case err == nil:
		return s, nil
	case errors.As(err, &missing):
		return nil, ErrKeyEncrypted
	}
	return nil, fmt.Errorf("%s: %w", path, err)
}
