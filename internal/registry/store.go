package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// workspaceLocks serializes writers per workspace path. Readers go lock-free:
// the store file is always replaced atomically, so a read sees either the old
// or the new contents, never a partial write.
var (
	workspaceLocks   = make(map[string]*sync.Mutex)
	workspaceLocksMu sync.Mutex
)

func lockFor(workspace string) *sync.Mutex {
	workspaceLocksMu.Lock()
	defer workspaceLocksMu.Unlock()
	if m, ok := workspaceLocks[workspace]; ok {
		return m
	}
	m := &sync.Mutex{}
	workspaceLocks[workspace] = m
	return m
}

// Store reads and writes the worker-state file for one workspace.
type Store struct {
	workspace string
}

// NewStore creates a store rooted at the workspace directory.
func NewStore(workspace string) *Store {
	return &Store{workspace: workspace}
}

func (s *Store) path() string {
	return filepath.Join(s.workspace, "state", "workers.json")
}

// Read returns the full registry. A missing file yields an empty registry.
func (s *Store) Read() (*File, error) {
	data, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			return &File{Projects: map[string]*Project{}}, nil
		}
		return nil, fmt.Errorf("failed to read worker state: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse worker state: %w", err)
	}
	if f.Projects == nil {
		f.Projects = map[string]*Project{}
	}
	return &f, nil
}

// Project returns one project from the registry.
func (s *Store) Project(slug string) (*Project, error) {
	f, err := s.Read()
	if err != nil {
		return nil, err
	}
	p, ok := f.Projects[slug]
	if !ok {
		return nil, fmt.Errorf("project %q not registered", slug)
	}
	return p, nil
}

// write replaces the store file atomically: temp file in the same directory,
// fsync, rename.
func (s *Store) write(f *File) error {
	dir := filepath.Dir(s.path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal worker state: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".workers-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// Update runs a read-modify-write cycle under the workspace write lock.
func (s *Store) Update(fn func(*File) error) error {
	mu := lockFor(s.workspace)
	mu.Lock()
	defer mu.Unlock()

	f, err := s.Read()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return s.write(f)
}

// EnsureProject registers a project once. Re-registering an existing slug
// refreshes metadata but never touches worker slots.
func (s *Store) EnsureProject(p *Project) error {
	if p.Slug == "" {
		return fmt.Errorf("project slug is required")
	}
	return s.Update(func(f *File) error {
		if existing, ok := f.Projects[p.Slug]; ok {
			existing.Name = p.Name
			existing.Repo = p.Repo
			existing.Remote = p.Remote
			existing.BaseBranch = p.BaseBranch
			existing.DeployBranch = p.DeployBranch
			existing.Provider = p.Provider
			existing.Channels = p.Channels
			return nil
		}
		cp := *p
		if cp.Workers == nil {
			cp.Workers = map[string]RoleWorker{}
		}
		f.Projects[p.Slug] = &cp
		return nil
	})
}

// ensureSlot grows the slot sequence so (role, level, index) exists.
func ensureSlot(p *Project, role, level string, index int) *Slot {
	if p.Workers == nil {
		p.Workers = map[string]RoleWorker{}
	}
	rw, ok := p.Workers[role]
	if !ok {
		rw = RoleWorker{}
		p.Workers[role] = rw
	}
	slots := rw[level]
	for len(slots) <= index {
		slots = append(slots, &Slot{})
	}
	rw[level] = slots
	return slots[index]
}

// UpdateSlot applies a mutation to one slot under the write lock, allocating
// the slot lazily if it does not exist yet.
func (s *Store) UpdateSlot(slug, role, level string, index int, fn func(*Slot)) error {
	return s.Update(func(f *File) error {
		p, ok := f.Projects[slug]
		if !ok {
			return fmt.Errorf("project %q not registered", slug)
		}
		fn(ensureSlot(p, role, level, index))
		return nil
	})
}

// Activation carries every field of a worker activation so it lands in one
// commit.
type Activation struct {
	IssueID       int
	Level         string
	SessionKey    string
	StartTime     time.Time
	SlotIndex     int
	PreviousLabel string
}

// ActivateWorker marks a slot active with all activation fields at once.
func (s *Store) ActivateWorker(slug, role string, a Activation) error {
	return s.UpdateSlot(slug, role, a.Level, a.SlotIndex, func(slot *Slot) {
		issueID := a.IssueID
		start := a.StartTime
		slot.Active = true
		slot.IssueID = &issueID
		slot.SessionKey = a.SessionKey
		slot.StartTime = &start
		slot.PreviousLabel = a.PreviousLabel
	})
}

// DeactivateSlot clears a slot's activation. The session key is cleared only
// when dropSession is set, so sessions can be reused across issues.
func (s *Store) DeactivateSlot(slug, role, level string, index int, dropSession bool) error {
	return s.UpdateSlot(slug, role, level, index, func(slot *Slot) {
		slot.Active = false
		slot.IssueID = nil
		slot.StartTime = nil
		slot.PreviousLabel = ""
		if dropSession {
			slot.SessionKey = ""
		}
	})
}
