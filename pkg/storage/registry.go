package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/enkf/pkg/log"
	"github.com/cuemby/enkf/pkg/subst"
)

const (
	// DefaultCase is selected when the ensemble path has no current case
	DefaultCase = "default"

	currentLink = "current"
	caseLogFile = "case.log"
)

// Registry manages the cases below one ensemble path. Exactly one case is
// current at a time; other cases can be opened alongside it as copy sources
// or smoother targets.
type Registry struct {
	mu       sync.Mutex
	ensPath  string
	vars     *subst.List
	current  *BoltStore
	caseName string
}

// NewRegistry creates a registry rooted at ensPath. vars receives the
// <ERT-CASE> and <ERTCASE> keys whenever the current case changes.
func NewRegistry(ensPath string, vars *subst.List) *Registry {
	return &Registry{ensPath: ensPath, vars: vars}
}

// EnsPath returns the root directory of all cases
func (r *Registry) EnsPath() string {
	return r.ensPath
}

// MountPoint returns the directory backing caseName. Absolute case names
// are used as-is.
func (r *Registry) MountPoint(caseName string) string {
	if filepath.IsAbs(caseName) {
		return caseName
	}
	return filepath.Join(r.ensPath, caseName)
}

// Exists reports whether caseName has been initialized
func (r *Registry) Exists(caseName string) bool {
	return Exists(r.MountPoint(caseName))
}

// Select makes caseName the current case, creating it if needed. The
// previous current store is closed, the current symlink is repointed and
// substitution variables are updated.
func (r *Registry) Select(caseName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.caseName == caseName {
		return nil
	}

	store, err := Mount(r.MountPoint(caseName), MountOptions{Create: true})
	if err != nil {
		return fmt.Errorf("failed to select case %s: %w", caseName, err)
	}

	if r.current != nil {
		if err := r.current.Close(); err != nil {
			logger := log.WithComponent("storage")
			logger.Warn().Err(err).Str("case", r.caseName).Msg("Failed to close previous case")
		}
	}
	r.current = store
	r.caseName = caseName

	if err := r.updateLink(caseName); err != nil {
		return err
	}

	if r.vars != nil {
		r.vars.Set("<ERT-CASE>", caseName, "Current case name")
		r.vars.Set("<ERTCASE>", caseName, "Current case name")
	}

	logger := log.WithCase(caseName)
	logger.Info().Str("mount_point", store.MountPoint()).Msg("Selected case")
	return nil
}

// SelectDefault selects the case the current symlink points to, falling
// back to DefaultCase
func (r *Registry) SelectDefault() error {
	target, err := os.Readlink(filepath.Join(r.ensPath, currentLink))
	if err != nil || target == "" {
		return r.Select(DefaultCase)
	}
	if !filepath.IsAbs(target) {
		target = filepath.Base(target)
	}
	return r.Select(target)
}

func (r *Registry) updateLink(caseName string) error {
	if filepath.IsAbs(caseName) {
		// Cases outside the ensemble path are never linked
		return nil
	}
	if err := os.MkdirAll(r.ensPath, 0755); err != nil {
		return fmt.Errorf("failed to create ensemble path: %w", err)
	}
	link := filepath.Join(r.ensPath, currentLink)
	if _, err := os.Lstat(link); err == nil {
		if err := os.Remove(link); err != nil {
			return fmt.Errorf("failed to remove current link: %w", err)
		}
	}
	if err := os.Symlink(caseName, link); err != nil {
		return fmt.Errorf("failed to link current case: %w", err)
	}
	return nil
}

// Current returns the store of the current case, or nil before Select
func (r *Registry) Current() Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	return r.current
}

// Case returns the name of the current case
func (r *Registry) Case() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.caseName
}

// Open mounts caseName alongside the current case. Opening the current case
// returns the current store; release it with Release, never Close.
func (r *Registry) Open(caseName string, create bool) (Store, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.MountPoint(caseName) == r.current.MountPoint() {
		return r.current, nil
	}
	store, err := Mount(r.MountPoint(caseName), MountOptions{Create: create})
	if err != nil {
		return nil, fmt.Errorf("failed to open case %s: %w", caseName, err)
	}
	return store, nil
}

// Release closes a store obtained from Open unless it is the current store
func (r *Registry) Release(s Store) error {
	if s == nil {
		return nil
	}
	r.mu.Lock()
	isCurrent := r.current != nil && s.MountPoint() == r.current.MountPoint()
	r.mu.Unlock()
	if isCurrent {
		return nil
	}
	return s.Close()
}

// Cases lists the initialized cases in the ensemble path
func (r *Registry) Cases() ([]string, error) {
	entries, err := os.ReadDir(r.ensPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list cases: %w", err)
	}
	var cases []string
	for _, e := range entries {
		if !e.IsDir() || e.Name() == currentLink {
			continue
		}
		if Exists(filepath.Join(r.ensPath, e.Name())) {
			cases = append(cases, e.Name())
		}
	}
	sort.Strings(cases)
	return cases, nil
}

// AppendCaseLog appends one audit line for the current case to case.log
func (r *Registry) AppendCaseLog() error {
	caseName := r.Case()
	if caseName == "" {
		return fmt.Errorf("no case selected")
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}

	if err := os.MkdirAll(r.ensPath, 0755); err != nil {
		return fmt.Errorf("failed to create ensemble path: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(r.ensPath, caseLogFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open case log: %w", err)
	}
	defer f.Close()

	_, err = fmt.Fprintf(f, "CASE:%-16s  PID:%-8d  HOST:%-16s  TIME:%s\n",
		caseName, os.Getpid(), host, time.Now().Format("02/01/2006-15.04.05"))
	if err != nil {
		return fmt.Errorf("failed to write case log: %w", err)
	}
	return nil
}

// Close closes the current store
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	r.caseName = ""
	return err
}
