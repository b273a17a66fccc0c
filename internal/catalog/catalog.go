// Package catalog implements the Action Catalog: the declarative,
// YAML-backed registry of action definitions loaded once at startup and
// validated against the Command Validator before anything else may use it.
package catalog

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/homelab/sentinel/internal/validator"
	"github.com/homelab/sentinel/pkg/types"
)

// Catalog is the read-only registry every other component consults to look
// up an action by name.
type Catalog interface {
	// Get returns an action definition by name, or false if unknown.
	Get(name string) (*types.ActionDefinition, bool)

	// ListAll returns every loaded action definition.
	ListAll() []*types.ActionDefinition

	// ListByTier returns every action definition at a given tier.
	ListByTier(tier types.Tier) []*types.ActionDefinition
}

// Reloader is implemented by catalogs that can re-read their definitions at
// runtime. Reload is all-or-nothing: a directory with any invalid definition
// leaves the previously loaded catalog untouched.
type Reloader interface {
	Reload(dir string, v validator.Validator) error
}

type catalog struct {
	mu      sync.RWMutex
	actions map[string]*types.ActionDefinition
}

// Load reads every *.yaml file in dir, parses each as one ActionDefinition,
// and validates its command template against v. The entire catalog is
// rejected — Load returns an error and loads nothing — on the first invalid
// definition, matching the fail-fast posture the rest of the core expects
// from configuration errors.
func Load(dir string, v validator.Validator) (Catalog, error) {
	actions, err := loadDir(dir, v)
	if err != nil {
		return nil, err
	}
	return &catalog{actions: actions}, nil
}

func loadDir(dir string, v validator.Validator) (map[string]*types.ActionDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("action catalog: read directory %q: %w", dir, err)
	}

	actions := make(map[string]*types.ActionDefinition)

	var files []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)

	for _, name := range files {
		path := filepath.Join(dir, name)
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("action catalog: read %q: %w", path, err)
		}

		var def types.ActionDefinition
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return nil, fmt.Errorf("action catalog: parse %q: %w", path, err)
		}

		if err := validateDefinition(&def, v); err != nil {
			return nil, fmt.Errorf("action catalog: %q: %w", path, err)
		}

		if _, exists := actions[def.Name]; exists {
			return nil, fmt.Errorf("action catalog: duplicate action name %q in %q", def.Name, path)
		}
		actions[def.Name] = &def
	}

	return actions, nil
}

// Reload re-reads dir and swaps the definition set atomically on success.
func (c *catalog) Reload(dir string, v validator.Validator) error {
	actions, err := loadDir(dir, v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.actions = actions
	c.mu.Unlock()
	return nil
}

// validateDefinition enforces the field-level invariants from the data
// model plus the one cross-cutting rule that ties catalog entries to the
// command validator: every command template must itself be an allowed
// command, and a Tier-3 (proactive) auto-executing action may never also
// require approval. Lower tiers may combine the two flags; the policy
// engine resolves that combination by requiring approval first.
func validateDefinition(def *types.ActionDefinition, v validator.Validator) error {
	if def.Name == "" {
		return fmt.Errorf("action definition missing name")
	}
	if def.Command == "" {
		return fmt.Errorf("action %q missing command", def.Name)
	}
	if def.Tier < types.TierDiagnose || def.Tier > types.TierProactive {
		return fmt.Errorf("action %q has invalid tier %d", def.Name, def.Tier)
	}
	if def.TimeoutSeconds <= 0 {
		return fmt.Errorf("action %q missing or invalid timeout_seconds", def.Name)
	}
	if def.Tier == types.TierProactive && def.AutoExecute && def.RequiresApproval {
		return fmt.Errorf("proactive action %q cannot both auto_execute and requires_approval", def.Name)
	}

	for _, p := range def.Preconditions {
		switch p.Type {
		case types.PreconditionDiskUsage, types.PreconditionServiceHealth,
			types.PreconditionScheduled, types.PreconditionMemory:
		default:
			return fmt.Errorf("action %q has unknown precondition type %q", def.Name, p.Type)
		}
	}
	for _, s := range def.SafetyChecks {
		switch s.Type {
		case types.SafetyReadOnly, types.SafetyPathWhitelist, types.SafetyRestartLimit:
		default:
			return fmt.Errorf("action %q has unknown safety check type %q", def.Name, s.Type)
		}
	}

	verdict := v.Validate(def.Command)
	if !verdict.Allowed {
		return fmt.Errorf("action %q command %q is not allowed by the command validator: %s", def.Name, def.Command, verdict.MatchedRule)
	}

	return nil
}

func (c *catalog) Get(name string) (*types.ActionDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.actions[name]
	return def, ok
}

func (c *catalog) ListAll() []*types.ActionDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*types.ActionDefinition, 0, len(c.actions))
	for _, def := range c.actions {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *catalog) ListByTier(tier types.Tier) []*types.ActionDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*types.ActionDefinition
	for _, def := range c.actions {
		if def.Tier == tier {
			out = append(out, def)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
