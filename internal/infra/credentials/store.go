// Package credentials resolves provider API keys from the environment and
// from the integration_tokens table.
package credentials

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"shortforge/internal/infra"
	"shortforge/internal/sqlinline"
)

const (
	ProviderGemini     = "gemini"
	ProviderVeo        = "veo"
	ProviderQwen       = "qwen"
	ProviderOpenAI     = "openai"
	ProviderElevenLabs = "elevenlabs"
	ProviderSynthetic  = "synthetic"
)

// KnownProviders lists every provider a token can be stored for.
var KnownProviders = []string{ProviderGemini, ProviderQwen, ProviderOpenAI, ProviderElevenLabs}

// Store looks tokens up in the environment first and in the database second.
// A nil executor disables the database lookup.
type Store struct {
	sql infra.SQLExecutor
	env map[string]string
}

// NewStore builds a store from statically configured tokens keyed by provider.
func NewStore(sql infra.SQLExecutor, env map[string]string) *Store {
	clean := make(map[string]string, len(env))
	for provider, token := range env {
		if token = strings.TrimSpace(token); token != "" {
			clean[provider] = token
		}
	}
	return &Store{sql: sql, env: clean}
}

// EnsureSchema creates the integration_tokens table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if s.sql == nil {
		return nil
	}
	_, err := s.sql.Exec(ctx, sqlinline.QCreateIntegrationTokensTable)
	return errors.Wrap(err, "credentials: create table")
}

// Token returns the key for provider, or "" when none is configured.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	if token, ok := s.env[provider]; ok {
		return token, nil
	}
	if s.sql == nil {
		return "", nil
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", errors.Wrapf(err, "credentials: load %s token", provider)
	}
	return strings.TrimSpace(token), nil
}

// SetToken persists token for provider.
func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	if s.sql == nil {
		return errors.New("credentials: no database configured")
	}
	provider = strings.ToLower(strings.TrimSpace(provider))
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.Newf("%s api key is required", provider)
	}
	if !known(provider) {
		return errors.Newf("credentials: unsupported provider %q", provider)
	}
	return s.upsert(ctx, provider, token, nil)
}

// ConfiguredProviders lists providers with a non-empty token, sorted. The
// Veo client shares the Gemini key.
func (s *Store) ConfiguredProviders(ctx context.Context) ([]string, error) {
	set := make(map[string]struct{}, len(s.env))
	for provider := range s.env {
		set[provider] = struct{}{}
	}
	if s.sql != nil {
		rows, err := s.sql.Query(ctx, sqlinline.QSelectConfiguredProviders)
		if err != nil {
			return nil, errors.Wrap(err, "credentials: list providers")
		}
		defer rows.Close()
		for rows.Next() {
			var provider string
			if err := rows.Scan(&provider); err != nil {
				return nil, errors.Wrap(err, "credentials: scan provider")
			}
			set[provider] = struct{}{}
		}
		if err := rows.Err(); err != nil {
			return nil, errors.Wrap(err, "credentials: list providers")
		}
	}
	if _, ok := set[ProviderGemini]; ok {
		set[ProviderVeo] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for provider := range set {
		out = append(out, provider)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

func known(provider string) bool {
	for _, p := range KnownProviders {
		if p == provider {
			return true
		}
	}
	return false
}
