package api

import (
	"bufio"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Authenticator validates intake API credentials.
type Authenticator interface {
	Authenticate(username, password string) bool
	Required() bool
}

// NoAuth accepts everything.
type NoAuth struct{}

func (NoAuth) Authenticate(string, string) bool { return true }
func (NoAuth) Required() bool                   { return false }

// HtpasswdAuth implements htpasswd-based authentication
type HtpasswdAuth struct {
	users    map[string]string // username -> hashed password
	mu       sync.RWMutex
	filePath string
}

// NewHtpasswdAuth creates a new htpasswd authenticator
func NewHtpasswdAuth(filePath string) (*HtpasswdAuth, error) {
	auth := &HtpasswdAuth{
		users:    make(map[string]string),
		filePath: filePath,
	}
	if err := auth.load(); err != nil {
		return nil, err
	}
	return auth, nil
}

// load reads the htpasswd file
func (a *HtpasswdAuth) load() error {
	f, err := os.Open(a.filePath)
	if err != nil {
		return fmt.Errorf("opening htpasswd file: %w", err)
	}
	defer f.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	a.users = make(map[string]string)
	scanner := bufio.NewScanner(f)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		a.users[parts[0]] = parts[1]
	}

	return scanner.Err()
}

// Reload reloads the htpasswd file
func (a *HtpasswdAuth) Reload() error {
	return a.load()
}

// Required reports that credentials must be presented.
func (a *HtpasswdAuth) Required() bool { return true }

// Authenticate checks a username/password pair against the htpasswd entries.
// Supports bcrypt ($2y$/$2a$/$2b$) and SHA1 ({SHA}) hashes.
func (a *HtpasswdAuth) Authenticate(username, password string) bool {
	a.mu.RLock()
	hashed, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return false
	}

	switch {
	case strings.HasPrefix(hashed, "$2y$"), strings.HasPrefix(hashed, "$2a$"), strings.HasPrefix(hashed, "$2b$"):
		return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(password)) == nil
	case strings.HasPrefix(hashed, "{SHA}"):
		h := sha1.Sum([]byte(password))
		expected := strings.TrimPrefix(hashed, "{SHA}")
		actual := base64.StdEncoding.EncodeToString(h[:])
		return subtle.ConstantTimeCompare([]byte(expected), []byte(actual)) == 1
	default:
		return false
	}
}
