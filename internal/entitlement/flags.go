package entitlement

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// FlagRule trips a kill switch. With no audience lists it applies to
// everyone; otherwise it applies to callers matching any list.
type FlagRule struct {
	Enabled bool     `yaml:"enabled"`
	Plans   []Plan   `yaml:"plans,omitempty"`
	Roles   []string `yaml:"roles,omitempty"`
	Users   []string `yaml:"users,omitempty"`
}

func (r FlagRule) applies(aud Audience) bool {
	if !r.Enabled {
		return false
	}
	if len(r.Plans) == 0 && len(r.Roles) == 0 && len(r.Users) == 0 {
		return true
	}
	for _, p := range r.Plans {
		if p == aud.Plan {
			return true
		}
	}
	for _, ro := range r.Roles {
		if Role(ro) == aud.Role {
			return true
		}
	}
	for _, u := range r.Users {
		if u == aud.UserID {
			return true
		}
	}
	return false
}

type flagFile struct {
	Flags map[string]FlagRule `yaml:"flags"`
}

var ErrFlagsNotLoaded = errors.New("flags not loaded")

// FileFlags reads kill switches from a YAML file. A failed reload keeps the
// last good rules; before the first successful load every lookup errors.
type FileFlags struct {
	path string

	mu     sync.RWMutex
	rules  map[string]FlagRule
	loaded bool
}

func NewFileFlags(path string) *FileFlags { return &FileFlags{path: path} }

func (f *FileFlags) Reload(context.Context) error {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read flags: %w", err)
	}
	rules, err := ParseFlags(b)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.rules = rules
	f.loaded = true
	f.mu.Unlock()
	return nil
}

func ParseFlags(b []byte) (map[string]FlagRule, error) {
	var ff flagFile
	if err := yaml.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	if ff.Flags == nil {
		ff.Flags = map[string]FlagRule{}
	}
	for name, r := range ff.Flags {
		for _, ro := range r.Roles {
			if _, err := ParseRole(ro); err != nil {
				return nil, fmt.Errorf("flag %s: %w", name, err)
			}
		}
	}
	return ff.Flags, nil
}

func (f *FileFlags) Enabled(_ context.Context, flag string, aud Audience) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.loaded {
		return false, ErrFlagsNotLoaded
	}
	return f.rules[flag].applies(aud), nil
}

// StaticFlags is a fixed set of globally tripped switches.
type StaticFlags map[string]bool

func (s StaticFlags) Enabled(_ context.Context, flag string, _ Audience) (bool, error) {
	return s[flag], nil
}
