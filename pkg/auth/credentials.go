package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Cookie names X uses for a logged-in web session
const (
	AuthTokenCookie = "auth_token"
	CSRFCookie      = "ct0"
)

// CookieDomain is the domain session cookies are installed on
const CookieDomain = ".x.com"

// Account is one logged-in X web session
type Account struct {
	Username     string    `json:"username"`
	AuthToken    string    `json:"auth_token"`
	CSRFToken    string    `json:"ct0"`
	UserAgent    string    `json:"user_agent,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Cookie is a browser cookie in a driver-neutral form
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
}

// Cookies returns the cookies a browser needs to resume the session
func (a *Account) Cookies() []Cookie {
	return []Cookie{
		{Name: AuthTokenCookie, Value: a.AuthToken, Domain: CookieDomain, Path: "/", Secure: true, HTTPOnly: true},
		{Name: CSRFCookie, Value: a.CSRFToken, Domain: CookieDomain, Path: "/", Secure: true},
	}
}

// Validate checks that every required field is set
func (a *Account) Validate() error {
	switch {
	case a == nil:
		return ErrInvalidCredentials
	case strings.TrimSpace(a.Username) == "":
		return errors.New("username is required")
	case strings.TrimSpace(a.AuthToken) == "":
		return errors.New("auth_token is required")
	case strings.TrimSpace(a.CSRFToken) == "":
		return errors.New("ct0 is required")
	}
	return nil
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	Store(account *Account) error
	Retrieve(username string) (*Account, error)
	List() ([]*Account, error)
	Delete(username string) error
	Exists(username string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
	// defaultFile holds the username picked by SetDefault; empty disables it
	defaultFile string
}

// NewManager creates a manager over the keyring, the encrypted file and the
// environment, in that order of preference
func NewManager() (*Manager, error) {
	configDir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return NewManagerIn(configDir, true)
}

// NewManagerIn creates a manager whose file-backed state lives in dir
func NewManagerIn(dir string, useKeyring bool) (*Manager, error) {
	var stores []CredentialStore

	if useKeyring {
		if keyringStore, err := NewKeyringStore(); err == nil {
			stores = append(stores, keyringStore)
		}
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores, defaultFile: filepath.Join(dir, "default_account")}, nil
}

// Store saves credentials using the first store that accepts them
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(username string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(username); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for user: %s", ErrCredentialsNotFound, username)
}

// RetrieveDefault resolves the account a crawl should use: the environment
// session if set, then the account picked with SetDefault, then the most
// recently modified stored account
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, store := range m.stores {
		if envStore, ok := store.(*EnvironmentStore); ok {
			if account, err := envStore.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	if name := m.DefaultUsername(); name != "" {
		if account, err := m.Retrieve(name); err == nil {
			return account, nil
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}

	return nil, ErrCredentialsNotFound
}

// SetDefault records username as the default account. The account must exist.
func (m *Manager) SetDefault(username string) error {
	if m.defaultFile == "" {
		return ErrStoreUnavailable
	}
	if _, err := m.Retrieve(username); err != nil {
		return err
	}
	if err := os.WriteFile(m.defaultFile, []byte(username+"\n"), 0600); err != nil {
		return fmt.Errorf("failed to save default account: %w", err)
	}
	return nil
}

// DefaultUsername returns the account picked with SetDefault, if any
func (m *Manager) DefaultUsername() string {
	if m.defaultFile == "" {
		return ""
	}
	data, err := os.ReadFile(m.defaultFile)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// List returns all stored accounts, newest first
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			if existing, ok := accountMap[account.Username]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Username] = account
			}
		}
	}

	result := make([]*Account, 0, len(accountMap))
	for _, account := range accountMap {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastModified.Equal(result[j].LastModified) {
			return result[i].LastModified.After(result[j].LastModified)
		}
		return result[i].Username < result[j].Username
	})

	return result, nil
}

// Delete removes credentials from every store
func (m *Manager) Delete(username string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(username); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted {
		if lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
			return fmt.Errorf("failed to delete credentials: %w", lastErr)
		}
		return fmt.Errorf("%w for user: %s", ErrCredentialsNotFound, username)
	}

	if m.DefaultUsername() == username {
		_ = os.Remove(m.defaultFile)
	}
	return nil
}

// DeleteAll removes all stored credentials
func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}

	for _, account := range accounts {
		_ = m.Delete(account.Username)
	}

	return nil
}

// ConfigDir returns the per-user directory for credential files
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "feedcrawler")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "feedcrawler")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "feedcrawler")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "feedcrawler")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeAccount returns a copy with the tokens masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	return &Account{
		Username:     account.Username,
		AuthToken:    maskString(account.AuthToken),
		CSRFToken:    maskString(account.CSRFToken),
		UserAgent:    account.UserAgent,
		LastModified: account.LastModified,
	}
}

// maskString keeps the first and last 4 characters
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// ParseCookieHeader pulls auth_token and ct0 out of a raw Cookie header
// copied from the browser's network tab
func ParseCookieHeader(header string) (authToken, csrf string) {
	for _, part := range strings.Split(header, ";") {
		name, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch strings.TrimSpace(name) {
		case AuthTokenCookie:
			authToken = strings.Trim(strings.TrimSpace(value), `"`)
		case CSRFCookie:
			csrf = strings.Trim(strings.TrimSpace(value), `"`)
		}
	}
	return authToken, csrf
}

var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
