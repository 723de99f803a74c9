// Package auth hashes and checks the operator password for basic auth.
package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters (OWASP recommended)
const (
	argon2Time    = 1
	argon2Memory  = 64 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
)

var ErrInvalidHash = errors.New("auth: invalid argon2id hash")

// HashPassword returns $argon2id$v=19$m=65536,t=1,p=4$salt$hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("auth: empty password")
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argon2Memory, argon2Time, argon2Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

type params struct {
	memory, time uint32
	threads      uint8
	salt, key    []byte
}

func parseHash(encoded string) (params, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return params{}, ErrInvalidHash
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return params{}, fmt.Errorf("%w: version %q", ErrInvalidHash, parts[2])
	}
	var p params
	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &threads); err != nil {
		return params{}, fmt.Errorf("%w: parameters: %v", ErrInvalidHash, err)
	}
	if threads == 0 || threads > 255 || p.time == 0 || p.memory == 0 {
		return params{}, fmt.Errorf("%w: parameters out of range", ErrInvalidHash)
	}
	p.threads = uint8(threads)
	var err error
	if p.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return params{}, fmt.Errorf("%w: salt: %v", ErrInvalidHash, err)
	}
	if p.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(p.key) == 0 {
		return params{}, fmt.Errorf("%w: key", ErrInvalidHash)
	}
	return p, nil
}

// VerifyPassword reports whether password matches encoded.
func VerifyPassword(password, encoded string) (bool, error) {
	p, err := parseHash(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(password), p.salt, p.time, p.memory, p.threads, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(p.key, computed) == 1, nil
}

// ValidateHash checks the format without hashing anything.
func ValidateHash(encoded string) error {
	_, err := parseHash(encoded)
	return err
}

// Credentials is a username with its password hash. The zero value
// disables auth.
type Credentials struct {
	Username     string
	PasswordHash string
}

func (c Credentials) Enabled() bool {
	return c.Username != "" && c.PasswordHash != ""
}

// Check compares the username in constant time and then the password.
func (c Credentials) Check(user, password string) bool {
	userMatch := subtle.ConstantTimeCompare([]byte(user), []byte(c.Username)) == 1
	if !userMatch {
		return false
	}
	ok, err := VerifyPassword(password, c.PasswordHash)
	return err == nil && ok
}
