package template

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"

	"github.com/eimribar/stageflow/pkg/domain"
)

// StageDef is one stage entry in a workflow template. Key is a symbolic name
// unique within the template; DependsOn and ParallelWith reference other
// entries by key.
type StageDef struct {
	Key          string   `toml:"key"`
	Name         string   `toml:"name"`
	Category     string   `toml:"category"`
	Priority     string   `toml:"priority"`
	Deliverable  bool     `toml:"deliverable"`
	ClientFacing bool     `toml:"client_facing"`
	DurationDays int      `toml:"duration_days"`
	AssignedTo   string   `toml:"assigned_to"`
	DependsOn    []string `toml:"depends_on"`
	ParallelWith []string `toml:"parallel_with"`
}

// Template is a reusable workflow definition.
type Template struct {
	Name        string     `toml:"name"`
	Description string     `toml:"description"`
	Stages      []StageDef `toml:"stages"`
}

// Load parses a template file.
func Load(path string) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", path, err)
	}
	return Parse(data)
}

// LoadDir loads every .toml template in a directory, keyed by template name.
func LoadDir(dir string) (map[string]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read template dir %s: %w", dir, err)
	}

	templates := make(map[string]*Template)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		tpl, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		if _, exists := templates[tpl.Name]; exists {
			return nil, fmt.Errorf("duplicate template name %q in %s", tpl.Name, entry.Name())
		}
		templates[tpl.Name] = tpl
	}
	return templates, nil
}

// Parse decodes and validates template TOML.
func Parse(data []byte) (*Template, error) {
	var tpl Template
	if err := toml.Unmarshal(data, &tpl); err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	if err := tpl.validate(); err != nil {
		return nil, err
	}
	return &tpl, nil
}

func (t *Template) validate() error {
	if t.Name == "" {
		return fmt.Errorf("template has no name")
	}
	if len(t.Stages) == 0 {
		return fmt.Errorf("template %q defines no stages", t.Name)
	}

	keys := make(map[string]struct{}, len(t.Stages))
	for _, def := range t.Stages {
		if def.Key == "" {
			return fmt.Errorf("template %q: stage %q has no key", t.Name, def.Name)
		}
		if _, dup := keys[def.Key]; dup {
			return fmt.Errorf("template %q: duplicate stage key %q", t.Name, def.Key)
		}
		keys[def.Key] = struct{}{}
	}
	for _, def := range t.Stages {
		for _, ref := range def.DependsOn {
			if _, ok := keys[ref]; !ok {
				return fmt.Errorf("template %q: stage %q depends on unknown key %q", t.Name, def.Key, ref)
			}
		}
		for _, ref := range def.ParallelWith {
			if _, ok := keys[ref]; !ok {
				return fmt.Errorf("template %q: stage %q runs parallel with unknown key %q", t.Name, def.Key, ref)
			}
		}
	}
	return nil
}

// Materialize turns the template into stages for one project. Each stage gets
// a fresh id, a sequential number index in definition order, and dependency
// keys resolved to the generated ids.
func (t *Template) Materialize(projectID string) ([]*domain.Stage, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	ids := make(map[string]string, len(t.Stages))
	for _, def := range t.Stages {
		ids[def.Key] = uuid.New().String()
	}

	stages := make([]*domain.Stage, 0, len(t.Stages))
	for i, def := range t.Stages {
		deps := make([]string, len(def.DependsOn))
		for j, ref := range def.DependsOn {
			deps[j] = ids[ref]
		}
		parallel := make([]string, len(def.ParallelWith))
		for j, ref := range def.ParallelWith {
			parallel[j] = ids[ref]
		}

		stages = append(stages, &domain.Stage{
			ID:                ids[def.Key],
			ProjectID:         projectID,
			NumberIndex:       i + 1,
			Name:              def.Name,
			Category:          def.Category,
			BlockingPriority:  priorityOf(def.Priority),
			IsDeliverable:     def.Deliverable,
			ClientFacing:      def.ClientFacing,
			Dependencies:      deps,
			ParallelTracks:    parallel,
			Status:            domain.StatusNotStarted,
			AssignedTo:        def.AssignedTo,
			EstimatedDuration: def.DurationDays,
		})
	}
	return stages, nil
}

func priorityOf(s string) domain.Priority {
	switch domain.Priority(strings.ToLower(s)) {
	case domain.PriorityCritical, domain.PriorityHigh, domain.PriorityMedium, domain.PriorityLow:
		return domain.Priority(strings.ToLower(s))
	default:
		return domain.PriorityMedium
	}
}
