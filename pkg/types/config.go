package types

// Config represents the agent core configuration.
type Config struct {
	// Schema reference (for editor support)
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// LogLevel is one of DEBUG, INFO, WARN, ERROR.
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`

	// Permission holds the default permission levels for new sessions.
	Permission *PermissionConfig `json:"permission,omitempty" yaml:"permission,omitempty"`

	// Snapshot controls per-turn file state tracking.
	Snapshot *SnapshotConfig `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`

	// Ghost controls per-turn ghost commits in the user's repository.
	Ghost *GhostConfig `json:"ghost,omitempty" yaml:"ghost,omitempty"`

	// Features overrides feature flag defaults by name.
	Features map[string]bool `json:"features,omitempty" yaml:"features,omitempty"`
}

// PermissionConfig holds permission levels ("ask" | "allow" | "deny").
type PermissionConfig struct {
	Edit     string              `json:"edit,omitempty" yaml:"edit,omitempty"`
	Bash     *BashPermissionSpec `json:"bash,omitempty" yaml:"bash,omitempty"`
	WebFetch string              `json:"webfetch,omitempty" yaml:"webfetch,omitempty"`

	// Timeout is the approval window in seconds.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// BashPermissionSpec is the bash section of PermissionConfig.
type BashPermissionSpec struct {
	Default  string            `json:"default,omitempty" yaml:"default,omitempty"`
	Patterns map[string]string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
}

// SnapshotConfig configures the snapshot service.
type SnapshotConfig struct {
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	// Dir overrides where shadow snapshot repositories are stored.
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// GhostConfig configures ghost commits.
type GhostConfig struct {
	SquashOnCleanup bool `json:"squashOnCleanup,omitempty" yaml:"squashOnCleanup,omitempty"`
	// Timeout is the per-git-call timeout in seconds.
	Timeout int `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}
