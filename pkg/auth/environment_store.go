package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	EnvAuthToken = "FEEDCRAWLER_AUTH_TOKEN"
	EnvCSRF      = "FEEDCRAWLER_CT0"
	EnvUsername  = "FEEDCRAWLER_USERNAME"
	EnvUserAgent = "FEEDCRAWLER_USER_AGENT"
)

// EnvironmentStore exposes a session passed through the environment. It is
// read-only and holds at most one account, which suits containers and the
// queue worker.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(*Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment session. An empty username matches it;
// otherwise the name must equal FEEDCRAWLER_USERNAME when that is set.
func (e *EnvironmentStore) Retrieve(username string) (*Account, error) {
	token := os.Getenv(EnvAuthToken)
	csrf := os.Getenv(EnvCSRF)
	if token == "" || csrf == "" {
		return nil, ErrCredentialsNotFound
	}

	name := os.Getenv(EnvUsername)
	if name == "" {
		name = "env"
	}
	if username != "" && username != name {
		return nil, ErrCredentialsNotFound
	}

	return &Account{
		Username:     name,
		AuthToken:    token,
		CSRFToken:    csrf,
		UserAgent:    os.Getenv(EnvUserAgent),
		LastModified: time.Now(),
	}, nil
}

func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

func (e *EnvironmentStore) Delete(string) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Exists(username string) bool {
	_, err := e.Retrieve(username)
	return err == nil
}
