package credentials

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExecutor struct {
	token     string
	err       error
	providers []string
	queried   bool
	exec      struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.CommandTag{}, s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.queried = true
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{values: s.providers, idx: -1}, nil
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

type stubRows struct {
	pgx.Rows
	values []string
	idx    int
}

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.values)
}

func (r *stubRows) Scan(dest ...any) error {
	*(dest[0].(*string)) = r.values[r.idx]
	return nil
}

func (r *stubRows) Err() error { return nil }
func (r *stubRows) Close()     {}

func TestTokenPrefersEnvironment(t *testing.T) {
	exec := &stubExecutor{token: "from-db"}
	store := NewStore(exec, map[string]string{ProviderGemini: " from-env "})
	key, err := store.Token(context.Background(), ProviderGemini)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "from-env" {
		t.Fatalf("expected from-env, got %q", key)
	}
	if exec.queried {
		t.Fatal("database should not be queried when the environment has the key")
	}
}

func TestTokenFallsBackToDatabase(t *testing.T) {
	store := NewStore(&stubExecutor{token: " abc123 "}, nil)
	key, err := store.Token(context.Background(), ProviderQwen)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows}, nil)
	key, err := store.Token(context.Background(), ProviderOpenAI)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestTokenWithoutDatabase(t *testing.T) {
	store := NewStore(nil, nil)
	key, err := store.Token(context.Background(), ProviderElevenLabs)
	if err != nil || key != "" {
		t.Fatalf("expected empty key and no error, got %q %v", key, err)
	}
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec, nil)
	if err := store.SetToken(context.Background(), " OpenAI ", "secret"); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderOpenAI {
		t.Fatalf("expected provider openai, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
}

func TestSetTokenRejects(t *testing.T) {
	store := NewStore(&stubExecutor{}, nil)
	if err := store.SetToken(context.Background(), ProviderGemini, " "); err == nil {
		t.Fatal("expected error for empty key")
	}
	if err := store.SetToken(context.Background(), "midjourney", "k"); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if err := NewStore(nil, nil).SetToken(context.Background(), ProviderGemini, "k"); err == nil {
		t.Fatal("expected error without database")
	}
}

func TestConfiguredProviders(t *testing.T) {
	exec := &stubExecutor{providers: []string{"qwen", "openai"}}
	store := NewStore(exec, map[string]string{
		ProviderGemini:     "g",
		ProviderElevenLabs: "  ",
		ProviderSynthetic:  "enabled",
	})
	got, err := store.ConfiguredProviders(context.Background())
	if err != nil {
		t.Fatalf("ConfiguredProviders error: %v", err)
	}
	want := []string{"gemini", "openai", "qwen", "synthetic", "veo"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestEnsureSchema(t *testing.T) {
	exec := &stubExecutor{}
	if err := NewStore(exec, nil).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema error: %v", err)
	}
	if !strings.Contains(exec.exec.query, "integration_tokens") {
		t.Fatalf("unexpected query %q", exec.exec.query)
	}
	if err := NewStore(nil, nil).EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema without database: %v", err)
	}
}
