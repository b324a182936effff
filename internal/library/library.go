// Package library manages the user's saved prompt collection: an ordered
// list persisted as a single JSON file.
package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"vivagen/internal/domain"
)

// SavedPrompt is one reusable prompt entry.
type SavedPrompt struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Library holds the ordered prompt list. All mutations write through to disk.
type Library struct {
	path string

	mu      sync.Mutex
	prompts []SavedPrompt
}

// Open loads the library file, tolerating a missing or corrupt file by
// starting empty.
func Open(path string) (*Library, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("library: path is required")
	}
	l := &Library{path: path}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("library: read %s: %w", path, err)
	}
	var prompts []SavedPrompt
	if err := json.Unmarshal(raw, &prompts); err != nil {
		// A corrupt library is not worth refusing to start over.
		return l, nil
	}
	l.prompts = prompts
	return l, nil
}

// List returns a snapshot of the prompts in display order.
func (l *Library) List() []SavedPrompt {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]SavedPrompt, len(l.prompts))
	copy(out, l.prompts)
	return out
}

// Add saves a prompt at the top of the list.
func (l *Library) Add(text string) (SavedPrompt, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SavedPrompt{}, domain.ErrEmptyPrompt
	}
	entry := SavedPrompt{ID: uuid.NewString(), Text: text}
	l.mu.Lock()
	l.prompts = append([]SavedPrompt{entry}, l.prompts...)
	err := l.saveLocked()
	l.mu.Unlock()
	if err != nil {
		return SavedPrompt{}, err
	}
	return entry, nil
}

// Update replaces the text of an existing prompt.
func (l *Library) Update(id, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return domain.ErrEmptyPrompt
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.prompts {
		if l.prompts[i].ID == id {
			l.prompts[i].Text = text
			return l.saveLocked()
		}
	}
	return domain.ErrNotFound
}

// Remove deletes a prompt by id.
func (l *Library) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.prompts {
		if l.prompts[i].ID == id {
			l.prompts = append(l.prompts[:i], l.prompts[i+1:]...)
			return l.saveLocked()
		}
	}
	return domain.ErrNotFound
}

// Move repositions a prompt to the given index, shifting its neighbors.
func (l *Library) Move(id string, to int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	from := -1
	for i := range l.prompts {
		if l.prompts[i].ID == id {
			from = i
			break
		}
	}
	if from == -1 {
		return domain.ErrNotFound
	}
	if to < 0 {
		to = 0
	}
	if to >= len(l.prompts) {
		to = len(l.prompts) - 1
	}
	if to == from {
		return nil
	}
	entry := l.prompts[from]
	l.prompts = append(l.prompts[:from], l.prompts[from+1:]...)
	rest := append([]SavedPrompt{entry}, l.prompts[to:]...)
	l.prompts = append(l.prompts[:to], rest...)
	return l.saveLocked()
}

func (l *Library) saveLocked() error {
	raw, err := json.MarshalIndent(l.prompts, "", "  ")
	if err != nil {
		return fmt.Errorf("library: encode: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("library: create dir: %w", err)
	}
	if err := os.WriteFile(l.path, raw, 0o644); err != nil {
		return fmt.Errorf("library: write %s: %w", l.path, err)
	}
	return nil
}
