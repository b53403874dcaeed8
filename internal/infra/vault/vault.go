// Package vault resolves exchange credentials without putting them in the config file.
package vault

import (
	"errors"
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var ErrNotFound = errors.New("secret not found")

type SecretStore interface {
	Get(key string) (string, error)
}

// EnvStore reads secrets from dotenv files, falling back to the process
// environment. The files never modify os.Environ.
type EnvStore struct {
	values map[string]string
}

// NewEnvStore loads the given dotenv files; missing files are skipped.
func NewEnvStore(paths ...string) (*EnvStore, error) {
	s := &EnvStore{values: map[string]string{}}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		vals, err := godotenv.Read(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		for k, v := range vals {
			if _, ok := s.values[k]; !ok {
				s.values[k] = v
			}
		}
	}
	return s, nil
}

func (s *EnvStore) Get(key string) (string, error) {
	if v := os.Getenv(key); v != "" {
		return v, nil
	}
	if v := s.values[key]; v != "" {
		return v, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, key)
}

// Credentials returns the <prefix>_API_KEY and <prefix>_SECRET pair.
func Credentials(s SecretStore, prefix string) (key, secret string, err error) {
	if key, err = s.Get(prefix + "_API_KEY"); err != nil {
		return "", "", err
	}
	if secret, err = s.Get(prefix + "_SECRET"); err != nil {
		return "", "", err
	}
	return key, secret, nil
}
