package packs

// Pack defines a knowledge pack metadata file.
type Pack struct {
	Name        string         `yaml:"name" json:"name"`
	Version     string         `yaml:"version" json:"version"`
	Description string         `yaml:"description" json:"description"`
	Documents   []PackDocument `yaml:"documents" json:"documents"`
}

// Priority controls whether a knowledge chunk is always included in a
// prompt (subject only to a tie-break on budget) or merely eligible for
// inclusion when it scores as relevant to the current user message.
type Priority string

const (
	PriorityAlways   Priority = "always"
	PriorityRelevant Priority = "relevant"
)

// PackDocument describes a document within a pack.
type PackDocument struct {
	Name        string   `yaml:"name" json:"name"`
	Path        string   `yaml:"path" json:"path"`
	ContentType string   `yaml:"content_type" json:"content_type"`
	Tags        []string `yaml:"tags" json:"tags"`
	Source      string   `yaml:"source" json:"source"`

	// Priority governs selection: PriorityAlways chunks bypass relevance
	// scoring entirely. Defaults to PriorityRelevant when empty.
	Priority Priority `yaml:"priority,omitempty" json:"priority,omitempty"`

	// Content is the chunk body selected into a prompt's <knowledge> block.
	Content string `yaml:"-" json:"-"`

	// Embedding is the chunk's precomputed vector, used for cosine
	// similarity scoring when available. Nil falls back to tag matching.
	Embedding []float32 `yaml:"-" json:"-"`
}

func (d PackDocument) priority() Priority {
	if d.Priority == "" {
		return PriorityRelevant
	}
	return d.Priority
}
