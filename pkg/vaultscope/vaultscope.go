// File: pkg/vaultscope/vaultscope.go
// Brief: Vault lease resource for scope stacks.

// Package vaultscope ties Vault leases to scope lifetimes: a secret read on
// enter has its lease revoked when the scope unwinds.
package vaultscope

import (
	"context"
	"fmt"
	"strings"

	vault "github.com/hashicorp/vault/api"
)

// Secret reads a secret on enter and revokes its lease on exit. Secrets
// without a lease (KV reads, for example) are left alone on exit.
type Secret struct {
	Client *vault.Client
	Path   string

	read    func(ctx context.Context, path string) (*vault.Secret, error)
	revoke  func(ctx context.Context, leaseID string) error
	leaseID string
}

func (s *Secret) Enter(ctx context.Context) (any, error) {
	path := strings.Trim(strings.TrimSpace(s.Path), "/")
	if path == "" {
		return nil, fmt.Errorf("vault secret path is required")
	}
	if s.read == nil {
		if s.Client == nil {
			return nil, fmt.Errorf("vault client is required")
		}
		s.read = s.Client.Logical().ReadWithContext
		s.revoke = s.Client.Sys().RevokeWithContext
	}

	secret, err := s.read(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("read vault secret %s: %w", path, err)
	}
	if secret == nil {
		return nil, fmt.Errorf("vault secret %s not found", path)
	}
	s.leaseID = secret.LeaseID
	return secret, nil
}

func (s *Secret) Exit(ctx context.Context, _ error) error {
	if s.leaseID == "" {
		return nil
	}
	if err := s.revoke(ctx, s.leaseID); err != nil {
		return fmt.Errorf("revoke vault lease %s: %w", s.leaseID, err)
	}
	return nil
}
