package engine

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
)

type mockEngine struct {
	isRunning bool
	models    map[string]bool
	pulled    []string
}

func (m *mockEngine) Name() string { return "mock" }
func (m *mockEngine) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	return "", nil
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return m.isRunning }
func (m *mockEngine) ListModels(_ context.Context) ([]string, error) {
	var names []string
	for n := range m.models {
		names = append(names, n)
	}
	return names, nil
}
func (m *mockEngine) HasModel(_ context.Context, name string) bool { return m.models[name] }
func (m *mockEngine) PullModel(_ context.Context, name string, cb func(PullProgress)) error {
	m.pulled = append(m.pulled, name)
	if cb != nil {
		cb(PullProgress{Status: "success"})
	}
	return nil
}

// remoteEngine has no local model management.
type remoteEngine struct{ up bool }

func (r remoteEngine) Name() string { return "remote" }
func (r remoteEngine) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	return "", nil
}
func (r remoteEngine) IsRunning(_ context.Context) bool { return r.up }

func TestEnsureReady_ModelPresent(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{"llama3.1": true}}
	if err := EnsureReady(context.Background(), m, "llama3.1", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 0 {
		t.Errorf("expected no pulls, got %v", m.pulled)
	}
}

func TestEnsureReady_PullsMissing(t *testing.T) {
	m := &mockEngine{isRunning: true, models: map[string]bool{}}
	var out bytes.Buffer
	if err := EnsureReady(context.Background(), m, "llama3.1", &out); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if len(m.pulled) != 1 || m.pulled[0] != "llama3.1" {
		t.Errorf("expected pull of llama3.1, got %v", m.pulled)
	}
	if !strings.Contains(out.String(), "pulling") {
		t.Errorf("output = %q, want pull progress", out.String())
	}
}

func TestEnsureReady_EngineDown(t *testing.T) {
	m := &mockEngine{isRunning: false}
	err := EnsureReady(context.Background(), m, "llama3.1", io.Discard)
	if err == nil || !strings.Contains(err.Error(), "mock") {
		t.Fatalf("error = %v, want unreachable mock backend", err)
	}
}

func TestEnsureReady_RemoteBackendSkipsPull(t *testing.T) {
	if err := EnsureReady(context.Background(), remoteEngine{up: true}, "some/model", io.Discard); err != nil {
		t.Fatalf("EnsureReady: %v", err)
	}
	if err := EnsureReady(context.Background(), remoteEngine{}, "some/model", io.Discard); err == nil {
		t.Fatal("expected error for unreachable remote backend")
	}
}
