package auth

import "github.com/s3lite/s3lite/internal/errors"

// Account is an (access-key-id, secret-access-key, display-name) triple.
// Spec.md §3 provisions exactly one fixed dummy account by default
// ("S3RVER"/"S3RVER"); the registry below is kept open to more than one
// account so a deployment can preconfigure additional keys, the same way
// internal/backend/s3's getCredentials chains several credential sources
// instead of hard-coding a single one.
type Account struct {
	AccessKeyID     string
	SecretAccessKey SecretAccessKey
	DisplayName     string
}

// DefaultAccessKeyID and DefaultSecretKey are the emulator's built-in
// credentials, provisioned on every fresh registry.
const (
	DefaultAccessKeyID = "S3RVER"
	DefaultSecretKey   = "S3RVER"
)

// Registry holds the accounts the SigV4 verifier may authenticate against.
// It is populated once at startup and is read-only afterwards (spec.md §5),
// so no locking is needed on the read path.
type Registry struct {
	byKeyID map[string]Account
}

// NewRegistry returns a registry seeded with the default dummy account.
func NewRegistry() *Registry {
	r := &Registry{byKeyID: make(map[string]Account)}
	r.Add(Account{
		AccessKeyID:     DefaultAccessKeyID,
		SecretAccessKey: NewSecretAccessKey(DefaultSecretKey),
		DisplayName:     DefaultAccessKeyID,
	})
	return r
}

// Add registers (or replaces) an account.
func (r *Registry) Add(a Account) {
	r.byKeyID[a.AccessKeyID] = a
}

// Lookup returns the account for the given access key id.
func (r *Registry) Lookup(accessKeyID string) (Account, error) {
	a, ok := r.byKeyID[accessKeyID]
	if !ok {
		return Account{}, errors.Errorf("unknown access key id %q", accessKeyID)
	}
	return a, nil
}
