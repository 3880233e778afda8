// Package seed provides the clients and users a fresh server starts with,
// either built in or read from a YAML file.
package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/pilab-dev/shadow-auth/domain"
	"gopkg.in/yaml.v3"
)

// Hasher turns plaintext secrets into stored hashes.
type Hasher interface {
	Hash(secret string) (string, error)
}

// Data is a set of clients and users with hashed credentials.
type Data struct {
	Clients []*domain.Client
	Users   []*domain.User
}

type clientEntry struct {
	domain.Client `yaml:",inline"`
	Secret        string `yaml:"secret"`
}

type userEntry struct {
	domain.User `yaml:",inline"`
	Password    string `yaml:"password"`
}

type file struct {
	Clients []clientEntry `yaml:"clients"`
	Users   []userEntry   `yaml:"users"`
}

// Default returns the built-in demo clients and users.
func Default(hasher Hasher) (*Data, error) {
	return build(&file{
		Clients: []clientEntry{
			{
				Client: domain.Client{
					ID: "client",
					AllowedGrantTypes: []string{
						domain.GrantTypeAuthorizationCode,
						domain.GrantTypePassword,
						domain.GrantTypeRefreshToken,
					},
					Scopes:       []string{"read"},
					RedirectURIs: []string{"http://localhost:7000/home"},
					AutoApprove:  true,
				},
				Secret: "secret",
			},
			{
				Client: domain.Client{ID: "resourceserver"},
				Secret: "resourceserversecret",
			},
		},
		Users: []userEntry{
			{User: domain.User{Username: "john", Authorities: []string{"read"}}, Password: "12345"},
			{User: domain.User{Username: "bob", Authorities: []string{"read", "write"}}, Password: "12345"},
		},
	}, hasher)
}

// LoadFile reads a YAML seed file. Entries may carry a plaintext secret or
// password, which is hashed, or a ready-made secret_hash or password_hash.
func LoadFile(path string, hasher Hasher) (*Data, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}

	return Parse(raw, hasher)
}

// Parse decodes YAML seed data.
func Parse(raw []byte, hasher Hasher) (*Data, error) {
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("failed to parse seed data: %w", err)
	}

	return build(&f, hasher)
}

func build(f *file, hasher Hasher) (*Data, error) {
	data := &Data{}
	seen := make(map[string]struct{})

	for i := range f.Clients {
		e := f.Clients[i]
		if e.ID == "" {
			return nil, fmt.Errorf("client #%d has no id", i)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("client %s is defined twice", e.ID)
		}
		seen[e.ID] = struct{}{}

		if e.Secret != "" {
			hash, err := hasher.Hash(e.Secret)
			if err != nil {
				return nil, fmt.Errorf("failed to hash secret of client %s: %w", e.ID, err)
			}
			e.SecretHash = hash
		}
		if e.SecretHash == "" {
			return nil, fmt.Errorf("client %s has no secret", e.ID)
		}

		c := e.Client
		data.Clients = append(data.Clients, &c)
	}

	clear(seen)
	for i := range f.Users {
		e := f.Users[i]
		if e.Username == "" {
			return nil, fmt.Errorf("user #%d has no username", i)
		}
		if _, dup := seen[e.Username]; dup {
			return nil, fmt.Errorf("user %s is defined twice", e.Username)
		}
		seen[e.Username] = struct{}{}

		if e.Password != "" {
			hash, err := hasher.Hash(e.Password)
			if err != nil {
				return nil, fmt.Errorf("failed to hash password of user %s: %w", e.Username, err)
			}
			e.PasswordHash = hash
		}
		if e.PasswordHash == "" {
			return nil, fmt.Errorf("user %s has no password", e.Username)
		}

		u := e.User
		data.Users = append(data.Users, &u)
	}

	return data, nil
}

// ClientWriter stores clients, e.g. a database backed registry.
type ClientWriter interface {
	Upsert(ctx context.Context, c *domain.Client) error
}

// UserWriter stores users.
type UserWriter interface {
	Upsert(ctx context.Context, u *domain.User) error
}

// Apply writes data into persistent stores.
func (d *Data) Apply(ctx context.Context, clients ClientWriter, users UserWriter) error {
	for _, c := range d.Clients {
		if err := clients.Upsert(ctx, c); err != nil {
			return err
		}
	}

	for _, u := range d.Users {
		if err := users.Upsert(ctx, u); err != nil {
			return err
		}
	}

	return nil
}
