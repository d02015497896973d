package config

import (
	"sort"
	"sync"

	"github.com/evmts/agentcore/pkg/types"
)

// FeatureStage is the development stage of a feature.
type FeatureStage string

const (
	StageExperimental FeatureStage = "experimental"
	StageBeta         FeatureStage = "beta"
	StageStable       FeatureStage = "stable"
)

// Feature flag names.
const (
	FeatureGhostCommit       = "ghost_commit"
	FeatureDoomLoopDetection = "doom_loop_detection"
)

// FeatureFlag is the definition of a feature flag.
type FeatureFlag struct {
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Stage       FeatureStage `json:"stage"`
	Default     bool         `json:"default"`
}

// FeatureFlags is the registry of known flags.
var FeatureFlags = map[string]FeatureFlag{
	FeatureGhostCommit: {
		Name:        FeatureGhostCommit,
		Description: "Create a ghost commit in the working repository after each turn",
		Stage:       StageExperimental,
		Default:     false,
	},
	FeatureDoomLoopDetection: {
		Name:        FeatureDoomLoopDetection,
		Description: "Escalate repeated identical tool calls to an approval prompt",
		Stage:       StageStable,
		Default:     true,
	},
}

// FeatureState is a flag definition with its effective value.
type FeatureState struct {
	FeatureFlag
	Enabled    bool `json:"enabled"`
	Overridden bool `json:"overridden"`
}

// FeatureManager evaluates feature flags with runtime overrides.
type FeatureManager struct {
	mu        sync.RWMutex
	overrides map[string]bool
}

// NewFeatureManager creates a manager with no overrides.
func NewFeatureManager() *FeatureManager {
	return &FeatureManager{overrides: make(map[string]bool)}
}

// LoadFromConfig applies the config's feature overrides. Unknown names are ignored.
func (m *FeatureManager) LoadFromConfig(cfg *types.Config) {
	if cfg == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, value := range cfg.Features {
		if _, ok := FeatureFlags[name]; ok {
			m.overrides[name] = value
		}
	}
}

// Enable turns a feature on.
func (m *FeatureManager) Enable(name string) { m.set(name, true) }

// Disable turns a feature off.
func (m *FeatureManager) Disable(name string) { m.set(name, false) }

func (m *FeatureManager) set(name string, value bool) {
	if _, ok := FeatureFlags[name]; !ok {
		return
	}
	m.mu.Lock()
	m.overrides[name] = value
	m.mu.Unlock()
}

// IsEnabled reports whether a feature is on. Unknown features are off.
func (m *FeatureManager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if v, ok := m.overrides[name]; ok {
		return v
	}
	return FeatureFlags[name].Default
}

// List returns every flag with its effective state, sorted by name.
func (m *FeatureManager) List() []FeatureState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	states := make([]FeatureState, 0, len(FeatureFlags))
	for name, flag := range FeatureFlags {
		v, overridden := m.overrides[name]
		if !overridden {
			v = flag.Default
		}
		states = append(states, FeatureState{FeatureFlag: flag, Enabled: v, Overridden: overridden})
	}
	sort.Slice(states, func(i, j int) bool { return states[i].Name < states[j].Name })
	return states
}
