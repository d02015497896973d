// Package config provides configuration loading, merging, feature flags and
// path management for the agent core.
//
// # Configuration Loading
//
// Load searches for and merges configuration from multiple sources in
// priority order:
//
//  1. Global config ($XDG_CONFIG_HOME/agentcore/)
//  2. Project config (<dir>/agentcore.json[c], <dir>/.agentcore/)
//  3. AGENTCORE_CONFIG file
//  4. AGENTCORE_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// # Supported Formats
//
//   - agentcore.json  - Standard JSON configuration
//   - agentcore.jsonc - JSON with comments, processed using tidwall/jsonc
//   - agentcore.yaml  - YAML, decoded with gopkg.in/yaml.v3
//
// # Variable Interpolation
//
// String values may reference the environment or other files:
//
//	{
//	  "permission": {
//	    "bash": {"default": "{env:AGENT_BASH_DEFAULT}"}
//	  }
//	}
//
// # Permission Section
//
//	{
//	  "permission": {
//	    "edit": "ask",
//	    "webfetch": "allow",
//	    "timeout": 300,
//	    "bash": {
//	      "default": "ask",
//	      "patterns": {"git status": "allow", "rm *": "deny"}
//	    }
//	  }
//	}
//
// Bash pattern tables are merged key by key across sources; scalar levels
// are replaced by the more specific source.
//
// # Feature Flags
//
// FeatureManager evaluates the FeatureFlags registry with overrides from the
// "features" section. ghost_commit is experimental and off by default.
package config
