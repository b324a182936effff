package library

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"vivagen/internal/domain"
)

func openTemp(t *testing.T) (*Library, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "prompts.json")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return l, path
}

func texts(prompts []SavedPrompt) []string {
	out := make([]string, len(prompts))
	for i, p := range prompts {
		out[i] = p.Text
	}
	return out
}

func TestAddPrependsAndPersists(t *testing.T) {
	l, path := openTemp(t)
	if _, err := l.Add("first"); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := l.Add("  second  "); err != nil {
		t.Fatalf("add: %v", err)
	}
	got := texts(l.List())
	if len(got) != 2 || got[0] != "second" || got[1] != "first" {
		t.Fatalf("order = %v, want newest first and trimmed", got)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if got := texts(reopened.List()); len(got) != 2 || got[0] != "second" {
		t.Fatalf("reopened order = %v, want persisted list", got)
	}
}

func TestAddRejectsEmptyText(t *testing.T) {
	l, _ := openTemp(t)
	if _, err := l.Add("   "); !errors.Is(err, domain.ErrEmptyPrompt) {
		t.Fatalf("err = %v, want ErrEmptyPrompt", err)
	}
}

func TestUpdateAndRemove(t *testing.T) {
	l, _ := openTemp(t)
	a, _ := l.Add("a")
	b, _ := l.Add("b")

	if err := l.Update(a.ID, "a2"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := texts(l.List()); got[1] != "a2" {
		t.Fatalf("update not applied: %v", got)
	}
	if err := l.Update("missing", "x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("update missing err = %v, want ErrNotFound", err)
	}

	if err := l.Remove(b.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := l.List(); len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("remove left %v", got)
	}
	if err := l.Remove(b.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("second remove err = %v, want ErrNotFound", err)
	}
}

func TestMoveReordersAndClamps(t *testing.T) {
	l, _ := openTemp(t)
	c, _ := l.Add("c")
	l.Add("b")
	a, _ := l.Add("a") // order now a b c

	if err := l.Move(a.ID, 2); err != nil {
		t.Fatalf("move: %v", err)
	}
	if got := texts(l.List()); got[0] != "b" || got[1] != "c" || got[2] != "a" {
		t.Fatalf("order after move = %v, want [b c a]", got)
	}

	if err := l.Move(c.ID, -5); err != nil {
		t.Fatalf("move with clamped index: %v", err)
	}
	if got := texts(l.List()); got[0] != "c" {
		t.Fatalf("order after clamped move = %v, want c first", got)
	}

	if err := l.Move("missing", 0); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("move missing err = %v, want ErrNotFound", err)
	}
}

func TestOpenToleratesCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prompts.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("seed corrupt file: %v", err)
	}
	l, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if len(l.List()) != 0 {
		t.Fatalf("corrupt library must start empty")
	}
}
