package domain

// SceneResult records the outcome of one scene within a stage. It is created
// once and never mutated afterwards.
type SceneResult struct {
	Index     int       `json:"index"`
	Success   bool      `json:"success"`
	Provider  string    `json:"provider,omitempty"`
	Artifact  *Artifact `json:"-"`
	Error     string    `json:"error,omitempty"`
	ErrorKind ErrorKind `json:"error_kind,omitempty"`
}

// SceneStats summarises a batch of scene results.
type SceneStats struct {
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	ByProvider map[string]int `json:"by_provider"`
}

// SceneDescriptor is the stage-independent description of a scene handed to
// the PromptBuilder.
type SceneDescriptor struct {
	Index       int
	Title       string
	Narration   string
	ImagePrompt string
	VideoPrompt string
	DurationSec float64
	// SceneCount is only read for script requests.
	SceneCount int
}

// StyleConfig carries the run-wide look and sound preferences.
type StyleConfig struct {
	VisualStyle string `json:"visual_style,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	Voice       string `json:"voice,omitempty"`
	Language    string `json:"language,omitempty"`
	MusicMood   string `json:"music_mood,omitempty"`
}
