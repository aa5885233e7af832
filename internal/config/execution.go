package config

// ExecutionConfig configures the tactile interface.
type ExecutionConfig struct {
	// Environment variables passed through to CASA
	AllowedEnvVars []string `yaml:"allowed_env_vars" json:"allowed_env_vars,omitempty"`

	// Cap on captured stdout+stderr per task
	MaxOutputBytes int64 `yaml:"max_output_bytes" json:"max_output_bytes,omitempty"`

	// JSON-lines audit trail of every CASA invocation; empty disables it
	AuditFile string `yaml:"audit_file" json:"audit_file,omitempty"`
}
