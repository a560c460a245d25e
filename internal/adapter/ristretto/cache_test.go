package ristretto

import (
	"testing"

	"github.com/Strob0t/IssueForge/internal/port/cache/cachetest"
)

func TestCacheCompliance(t *testing.T) {
	c, err := New(8 << 20)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	cachetest.Run(t, c)
}

func TestNewClampsTinyBudget(t *testing.T) {
	c, err := New(10)
	if err != nil {
		t.Fatalf("New with tiny budget: %v", err)
	}
	c.Close()
}
