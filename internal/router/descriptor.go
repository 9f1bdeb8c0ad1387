package router

import "strings"

// Latency classes map to fixed score bonuses during selection.
const (
	LatencyLow    = "low"
	LatencyMedium = "medium"
	LatencyHigh   = "high"
)

// Descriptor is the static, read-only metadata for one routable model.
// The table is built once at startup; declaration order doubles as the
// deterministic tie-break order for equal scores.
type Descriptor struct {
	Model         string
	Provider      string
	Cost          float64
	Specialties   []TaskType
	ContextWindow int
	Latency       string
	APIKey        string
}

// Credentialed reports whether this descriptor has a present,
// non-placeholder API key. Placeholder keys from env templates start with
// "your-".
func (d Descriptor) Credentialed() bool {
	key := strings.TrimSpace(d.APIKey)
	return key != "" && !strings.HasPrefix(key, "your-")
}

func (d Descriptor) hasSpecialty(task TaskType) bool {
	for _, s := range d.Specialties {
		if s == task {
			return true
		}
	}
	return false
}

// DefaultDescriptors is the production model table. Cost factors are
// relative, not dollar prices.
func DefaultDescriptors(deepseekKey, glmKey, qwenKey string) []Descriptor {
	return []Descriptor{
		{
			Model:         "deepseek-chat",
			Provider:      "deepseek",
			Cost:          0.5,
			Specialties:   []TaskType{TaskCode, TaskMath, TaskTechnical},
			ContextWindow: 128000,
			Latency:       LatencyMedium,
			APIKey:        deepseekKey,
		},
		{
			Model:         "glm-4.5",
			Provider:      "glm",
			Cost:          0.4,
			Specialties:   []TaskType{TaskGeneral, TaskTechnical},
			ContextWindow: 128000,
			Latency:       LatencyLow,
			APIKey:        glmKey,
		},
		{
			Model:         "qwen3-235b-a22b",
			Provider:      "qwen",
			Cost:          0.38,
			Specialties:   []TaskType{TaskGeneral, TaskMultilingual},
			ContextWindow: 32000,
			Latency:       LatencyMedium,
			APIKey:        qwenKey,
		},
	}
}
