package slo

// SLO represents a parsed operation SLO file
type SLO struct {
	APIVersion string   `yaml:"apiVersion"`
	Kind       string   `yaml:"kind"`
	Metadata   Metadata `yaml:"metadata"`
	Spec       Spec     `yaml:"spec"`
}

// Metadata identifies the monitored operation
type Metadata struct {
	Operation   string `yaml:"operation"`
	DisplayName string `yaml:"displayName,omitempty"`
	Owner       string `yaml:"owner,omitempty"`
	Description string `yaml:"description,omitempty"`
}

// Spec holds the latency and error thresholds
type Spec struct {
	P50TargetMs     float64 `yaml:"p50TargetMs"`
	P95TargetMs     float64 `yaml:"p95TargetMs"`
	P99TargetMs     float64 `yaml:"p99TargetMs"`
	ErrorRateTarget float64 `yaml:"errorRateTarget"`

	// Key marks operations shown on trend and violation views.
	Key bool `yaml:"key,omitempty"`
}

// Definition is the flattened, immutable form used by the engine
type Definition struct {
	Operation       string  `json:"operation"`
	DisplayName     string  `json:"displayName"`
	P50Target       float64 `json:"p50Target"`
	P95Target       float64 `json:"p95Target"`
	P99Target       float64 `json:"p99Target"`
	ErrorRateTarget float64 `json:"errorRateTarget"`
	Key             bool    `json:"key"`
}

// Definition flattens the SLO file into an engine Definition
func (s *SLO) Definition() Definition {
	return Definition{
		Operation:       s.Metadata.Operation,
		DisplayName:     s.Metadata.DisplayName,
		P50Target:       s.Spec.P50TargetMs,
		P95Target:       s.Spec.P95TargetMs,
		P99Target:       s.Spec.P99TargetMs,
		ErrorRateTarget: s.Spec.ErrorRateTarget,
		Key:             s.Spec.Key,
	}
}

// SLOWithFile pairs an SLO with its source file path
type SLOWithFile struct {
	SLO  *SLO
	File string

	// raw is the generic decoded document used for schema validation
	raw any
}

// ValidationError represents a validation error for a specific file
type ValidationError struct {
	File    string
	Path    string
	Message string
}

// Error implements the error interface
func (e ValidationError) Error() string {
	if e.Path != "" {
		return e.File + ": " + e.Path + ": " + e.Message
	}
	return e.File + ": " + e.Message
}
