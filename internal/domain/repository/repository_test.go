package repository

import "testing"

func TestParseReference(t *testing.T) {
	tests := []struct {
		raw    string
		kind   Kind
		owner  string
		name   string
		number int
		valid  bool
	}{
		{"https://github.com/acme/widgets/issues/42", KindIssue, "acme", "widgets", 42, true},
		{"https://github.com/acme/widgets/pull/7", KindPull, "acme", "widgets", 7, true},
		{"github.com/acme/widgets", KindRepository, "acme", "widgets", 0, true},
		{"https://github.com/acme/widgets.git/", KindRepository, "acme", "widgets", 0, true},
		{"https://github.com/acme", "", "", "", 0, false},
		{"https://github.com/acme/widgets/issues/abc", "", "", "", 0, false},
		{"https://github.com/acme/widgets/issues/0", "", "", "", 0, false},
		{"https://github.com/acme/widgets/tree/main", "", "", "", 0, false},
		{"", "", "", "", 0, false},
	}

	for _, tt := range tests {
		ref, err := ParseReference(tt.raw)
		if !tt.valid {
			if err == nil {
				t.Errorf("%q: expected error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error: %v", tt.raw, err)
			continue
		}
		if ref.Kind != tt.kind || ref.Repo.Owner != tt.owner || ref.Repo.Name != tt.name || ref.Number != tt.number {
			t.Errorf("%q: got %+v", tt.raw, ref)
		}
	}
}

func TestReferenceString(t *testing.T) {
	ref, err := ParseReference("https://github.com/acme/widgets/issues/42")
	if err != nil {
		t.Fatal(err)
	}
	if got := ref.String(); got != "https://github.com/acme/widgets/issues/42" {
		t.Fatalf("unexpected String(): %q", got)
	}
}

func TestHandleRemotes(t *testing.T) {
	h := &Handle{Upstream: Coordinates{Host: "github.com", Owner: "acme", Name: "widgets"}, DefaultBranch: "main"}
	if h.BaseRef() != "origin/main" {
		t.Errorf("expected origin/main, got %s", h.BaseRef())
	}
	if h.WriteCoordinates().Owner != "acme" {
		t.Errorf("expected writes to upstream without fork")
	}

	h.Fork = &Coordinates{Host: "github.com", Owner: "bot", Name: "widgets"}
	if h.BaseRef() != "upstream/main" {
		t.Errorf("expected upstream/main, got %s", h.BaseRef())
	}
	if h.WriteCoordinates().Owner != "bot" {
		t.Errorf("expected writes to fork")
	}
	if h.WriteRemote() != RemoteOrigin {
		t.Errorf("expected origin as write remote")
	}
}
