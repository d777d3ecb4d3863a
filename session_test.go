package reverie

import (
	"testing"
)

func TestRegistryCreatesOnFirstUse(t *testing.T) {
	opened := 0
	registry := NewRegistry(testConfig(), &mockExchangeProvider{}, nil, func(user string) (Store, error) {
		opened++
		return NewMemStore(user), nil
	})
	defer registry.Close()

	first, err := registry.Get("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := registry.Get("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first != second {
		t.Error("expected the same pipeline across requests")
	}
	if opened != 1 {
		t.Errorf("expected 1 store opened, got %d", opened)
	}
	if registry.Len() != 1 {
		t.Errorf("expected 1 live session, got %d", registry.Len())
	}
}

func TestRegistryIsolatesUsers(t *testing.T) {
	registry := NewRegistry(testConfig(), &mockExchangeProvider{}, nil, func(user string) (Store, error) {
		return NewMemStore(user), nil
	})
	defer registry.Close()

	alice, err := registry.Get("alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	bob, err := registry.Get("bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if alice == bob {
		t.Error("expected distinct pipelines per user")
	}
	if registry.Len() != 2 {
		t.Errorf("expected 2 live sessions, got %d", registry.Len())
	}
}

func TestRegistryRequiresUser(t *testing.T) {
	registry := NewRegistry(testConfig(), &mockExchangeProvider{}, nil, func(user string) (Store, error) {
		return NewMemStore(user), nil
	})
	defer registry.Close()

	if _, err := registry.Get(""); err == nil {
		t.Error("expected error for empty user")
	}
}

func TestRegistryClose(t *testing.T) {
	registry := NewRegistry(testConfig(), &mockExchangeProvider{}, nil, func(user string) (Store, error) {
		return NewMemStore(user), nil
	})

	if _, err := registry.Get("alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := registry.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if registry.Len() != 0 {
		t.Errorf("expected no sessions after close, got %d", registry.Len())
	}
	if _, err := registry.Get("alice"); err == nil {
		t.Error("expected error after close")
	}
}
