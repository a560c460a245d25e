package hosting_test

import (
	"testing"

	"github.com/Strob0t/IssueForge/internal/port/hosting"
	"github.com/Strob0t/IssueForge/internal/port/hosting/hostingtest"
)

func TestRegisterAndNew(t *testing.T) {
	var got hosting.Config
	hosting.Register("test-host", func(cfg hosting.Config) (hosting.Platform, error) {
		got = cfg
		return hostingtest.New("octo"), nil
	})

	p, err := hosting.New("test-host", hosting.Config{Binary: "gh-custom"})
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "fake" {
		t.Fatalf("expected fake, got %s", p.Name())
	}
	if got.Binary != "gh-custom" {
		t.Fatalf("factory config binary = %q", got.Binary)
	}
}

func TestNewUnknownPlatform(t *testing.T) {
	_, err := hosting.New("nonexistent", hosting.Config{})
	if err == nil {
		t.Fatal("expected error for unknown platform")
	}
}

func TestRegisterDuplicatePanics(t *testing.T) {
	hosting.Register("test-dup", func(hosting.Config) (hosting.Platform, error) { return nil, nil })
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	hosting.Register("test-dup", func(hosting.Config) (hosting.Platform, error) { return nil, nil })
}

func TestAvailable(t *testing.T) {
	hosting.Register("test-avail", func(hosting.Config) (hosting.Platform, error) { return nil, nil })
	found := false
	for _, n := range hosting.Available() {
		if n == "test-avail" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected test-avail in available platforms")
	}
}
