package resolve

import (
	"testing"

	"github.com/a-h/spm/reference"
)

func TestScopeExtendDoesNotMutateParent(t *testing.T) {
	root := NewScope()
	child := root.Extend("a", reference.Parse("1.0.0"))

	if _, ok := root.Lookup("a"); ok {
		t.Fatal("root scope should not see child's binding")
	}
	got, ok := child.Lookup("a")
	if !ok {
		t.Fatal("child scope should see its own binding")
	}
	if got.Raw != "1.0.0" {
		t.Errorf("got %q", got.Raw)
	}
}

func TestScopeShadowing(t *testing.T) {
	root := NewScope().Extend("a", reference.Parse("1.0.0"))
	inner := root.Extend("a", reference.Parse("2.0.0"))

	got, _ := inner.Lookup("a")
	if got.Raw != "2.0.0" {
		t.Errorf("inner scope got %q, want shadowed 2.0.0", got.Raw)
	}
	got, _ = root.Lookup("a")
	if got.Raw != "1.0.0" {
		t.Errorf("root scope got %q, want original 1.0.0 (unaffected by shadowing)", got.Raw)
	}
}

func TestScopeLookupMissing(t *testing.T) {
	s := NewScope().Extend("a", reference.Parse("1.0.0"))
	if _, ok := s.Lookup("b"); ok {
		t.Fatal("expected no binding for unrelated name")
	}
}
