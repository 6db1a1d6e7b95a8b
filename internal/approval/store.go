// Package approval keeps the operator's answers to ask_user
// decisions. Each action (entity, tool, target) has one approval file.
package approval

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ppiankov/trustgate/internal/config"
)

// ErrNotFound is returned for a key with no approval file.
var ErrNotFound = errors.New("approval not found")

// validKey matches alphanumeric, dash, underscore, and dot characters only.
var validKey = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)

// validateKey rejects keys that could cause path traversal.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty")
	}
	if strings.Contains(key, "..") {
		return fmt.Errorf("key must not contain '..'")
	}
	if !validKey.MatchString(key) {
		return fmt.Errorf("key contains invalid characters: only alphanumeric, dash, underscore, and dot are allowed")
	}
	return nil
}

// Status represents the state of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusConsumed Status = "consumed"
	StatusExpired  Status = "expired"
)

// Approval is one action awaiting, or holding, an operator decision.
type Approval struct {
	Key        string     `json:"key"`
	Status     Status     `json:"status"`
	EntityID   string     `json:"entity_id"`
	ToolName   string     `json:"tool_name"`
	Target     *string    `json:"target"`
	RuleID     string     `json:"rule_id,omitempty"`
	Reason     string     `json:"reason"`
	SessionID  string     `json:"session_id,omitempty"`
	ActionID   string     `json:"action_id,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Key identifies an action for approval purposes. The same entity running
// the same tool on the same target always maps to the same key.
func Key(entityID, toolName string, target *string) string {
	h := sha256.New()
	h.Write([]byte(entityID))
	h.Write([]byte{0})
	h.Write([]byte(toolName))
	h.Write([]byte{0})
	if target != nil {
		h.Write([]byte{1})
		h.Write([]byte(*target))
	}
	return "ap-" + hex.EncodeToString(h.Sum(nil)[:6])
}

// Store manages approval files on disk.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a Store backed by the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create approval directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// DefaultDir returns the default approval store directory.
func DefaultDir() string {
	return filepath.Join(config.Dir(), "approvals")
}

// Request records a pending approval for a. An open request (pending,
// approved or denied) is left as it is; a consumed or expired one is
// reopened. The stored approval is returned.
func (s *Store) Request(a Approval, now time.Time) (Approval, error) {
	if err := validateKey(a.Key); err != nil {
		return Approval{}, fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.read(a.Key)
	switch {
	case err == nil && existing.Status != StatusConsumed && existing.Status != StatusExpired:
		return *existing, nil
	case err != nil && !errors.Is(err, ErrNotFound):
		return Approval{}, err
	}

	a.Status = StatusPending
	a.CreatedAt = now.UTC()
	a.ExpiresAt = nil
	a.ResolvedAt = nil
	return a, s.writeAtomic(a)
}

// Approve marks an approval as approved. If duration > 0, sets expiration.
// If duration == 0, the approval is one-time (consumed on first use).
func (s *Store) Approve(key string, duration time.Duration, now time.Time) error {
	return s.resolve(key, now, func(a *Approval) error {
		a.Status = StatusApproved
		a.ExpiresAt = nil
		if duration > 0 {
			exp := now.UTC().Add(duration)
			a.ExpiresAt = &exp
		}
		return nil
	})
}

// Deny marks an approval as denied.
func (s *Store) Deny(key string, now time.Time) error {
	return s.resolve(key, now, func(a *Approval) error {
		a.Status = StatusDenied
		return nil
	})
}

// Check returns the current status of an approval.
// Returns StatusExpired if the approval has passed its deadline.
func (s *Store) Check(key string, now time.Time) (Status, error) {
	if err := validateKey(key); err != nil {
		return "", fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(key)
	if err != nil {
		return "", err
	}

	if a.Status == StatusApproved && a.ExpiresAt != nil && now.After(*a.ExpiresAt) {
		a.Status = StatusExpired
		if err := s.writeAtomic(*a); err != nil {
			return "", err
		}
	}
	return a.Status, nil
}

// Use spends an approval on one action. One-time approvals become
// consumed; approvals with a validity period stay approved until they
// expire. It fails unless the approval is currently approved.
func (s *Store) Use(key string, now time.Time) error {
	return s.resolve(key, now, func(a *Approval) error {
		if a.Status != StatusApproved {
			return fmt.Errorf("approval %q is %s", key, a.Status)
		}
		if a.ExpiresAt != nil {
			if now.After(*a.ExpiresAt) {
				return fmt.Errorf("approval %q expired", key)
			}
			return nil
		}
		a.Status = StatusConsumed
		return nil
	})
}

// Granted reports whether the action behind key holds a usable approval.
// An unknown key is not granted.
func (s *Store) Granted(key string, now time.Time) (bool, error) {
	status, err := s.Check(key, now)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return status == StatusApproved, nil
}

// Settle closes the approval step of one held action. A granted approval
// is spent; otherwise a request for a is opened.
func (s *Store) Settle(a Approval, granted bool, now time.Time) (Approval, error) {
	if !granted {
		return s.Request(a, now)
	}
	if err := s.Use(a.Key, now); err != nil {
		return Approval{}, err
	}
	return s.Get(a.Key)
}

// Get returns one approval.
func (s *Store) Get(key string) (Approval, error) {
	if err := validateKey(key); err != nil {
		return Approval{}, fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(key)
	if err != nil {
		return Approval{}, err
	}
	return *a, nil
}

// List returns all approvals in the store, oldest first.
func (s *Store) List() ([]Approval, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var approvals []Approval
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		a, err := s.read(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			continue
		}
		approvals = append(approvals, *a)
	}

	sort.Slice(approvals, func(i, j int) bool {
		if !approvals[i].CreatedAt.Equal(approvals[j].CreatedAt) {
			return approvals[i].CreatedAt.Before(approvals[j].CreatedAt)
		}
		return approvals[i].Key < approvals[j].Key
	})
	return approvals, nil
}

// Cleanup removes all approval files in the store.
func (s *Store) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var errs []error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// resolve applies fn to a stored approval and stamps ResolvedAt.
func (s *Store) resolve(key string, now time.Time, fn func(*Approval) error) error {
	if err := validateKey(key); err != nil {
		return fmt.Errorf("invalid approval key: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, err := s.read(key)
	if err != nil {
		return err
	}
	if err := fn(a); err != nil {
		return err
	}
	t := now.UTC()
	a.ResolvedAt = &t
	return s.writeAtomic(*a)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".json")
}

func (s *Store) read(key string) (*Approval, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, err
	}

	var a Approval
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("approval %s: %w", key, err)
	}

	return &a, nil
}

func (s *Store) writeAtomic(a Approval) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}

	path := s.path(a.Key)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}
