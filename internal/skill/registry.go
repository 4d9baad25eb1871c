package skill

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
)

// Stats holds running totals for a skill
type Stats struct {
	ExecutionCount    int64      `json:"execution_count"`
	SuccessRate       float64    `json:"success_rate"`
	AverageDurationMs float64    `json:"average_duration_ms"`
	LastExecutedAt    *time.Time `json:"last_executed_at,omitempty"`
}

// Entry is a snapshot of a registered skill
type Entry struct {
	Metadata
	Enabled bool  `json:"enabled"`
	Stats   Stats `json:"stats"`
}

type registration struct {
	skill   Skill
	enabled bool
	stats   Stats
}

// Registry manages the catalog of executable skills
type Registry struct {
	skills map[string]*registration
	mu     sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		skills: make(map[string]*registration),
	}
}

// Register adds an enabled skill. Names are unique.
func (r *Registry) Register(s Skill) error {
	name := s.Metadata().Name
	if name == "" {
		return fmt.Errorf("skill name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.skills[name]; exists {
		return fmt.Errorf("skill already registered: %s", name)
	}
	r.skills[name] = &registration{skill: s, enabled: true}
	return nil
}

// MustRegister is Register that panics on error
func (r *Registry) MustRegister(s Skill) {
	if err := r.Register(s); err != nil {
		panic(err)
	}
}

// Lookup returns an enabled skill by name
func (r *Registry) Lookup(name string) (Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.skills[name]
	if !ok {
		return nil, domain.NewError(domain.CodeSkillNotFound, fmt.Sprintf("skill not found: %s", name), false)
	}
	if !reg.enabled {
		return nil, domain.NewError(domain.CodeSkillNotFound, fmt.Sprintf("skill is disabled: %s", name), false)
	}
	return reg.skill, nil
}

// Enable marks a skill executable
func (r *Registry) Enable(name string) error {
	return r.setEnabled(name, true)
}

// Disable hides a skill from execution; it stays listed
func (r *Registry) Disable(name string) error {
	return r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.skills[name]
	if !ok {
		return fmt.Errorf("skill not found: %s", name)
	}
	reg.enabled = enabled
	return nil
}

// Get returns a snapshot of one skill
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.skills[name]
	if !ok {
		return Entry{}, false
	}
	return reg.entry(), true
}

// List returns every registered skill sorted by name
func (r *Registry) List() []Entry {
	return r.filter(func(Entry) bool { return true })
}

// ByCategory returns skills in the given category
func (r *Registry) ByCategory(category string) []Entry {
	return r.filter(func(e Entry) bool {
		return strings.EqualFold(e.Category, category)
	})
}

// Search matches query against name, description and tags, case-insensitively
func (r *Registry) Search(query string) []Entry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return r.List()
	}

	return r.filter(func(e Entry) bool {
		if strings.Contains(strings.ToLower(e.Name), q) ||
			strings.Contains(strings.ToLower(e.Description), q) {
			return true
		}
		for _, tag := range e.Tags {
			if strings.Contains(strings.ToLower(tag), q) {
				return true
			}
		}
		return false
	})
}

func (r *Registry) filter(keep func(Entry) bool) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]Entry, 0, len(r.skills))
	for _, reg := range r.skills {
		if e := reg.entry(); keep(e) {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// RecordExecution folds one finished execution into the running statistics
func (r *Registry) RecordExecution(name string, success bool, duration time.Duration, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.skills[name]
	if !ok {
		return
	}

	s := &reg.stats
	n := float64(s.ExecutionCount)
	outcome := 0.0
	if success {
		outcome = 1
	}
	s.SuccessRate = (s.SuccessRate*n + outcome) / (n + 1)
	s.AverageDurationMs = (s.AverageDurationMs*n + float64(duration.Milliseconds())) / (n + 1)
	s.ExecutionCount++
	ts := at
	s.LastExecutedAt = &ts
}

func (reg *registration) entry() Entry {
	e := Entry{
		Metadata: reg.skill.Metadata(),
		Enabled:  reg.enabled,
		Stats:    reg.stats,
	}
	if reg.stats.LastExecutedAt != nil {
		ts := *reg.stats.LastExecutedAt
		e.Stats.LastExecutedAt = &ts
	}
	return e
}
