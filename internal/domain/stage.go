package domain

import "strings"

// StageName identifies one pipeline stage.
type StageName string

const (
	StageScript   StageName = "script"
	StageImage    StageName = "image"
	StageAudio    StageName = "audio"
	StageSubtitle StageName = "subtitle"
	StageVideo    StageName = "video"
	StageRender   StageName = "render"
)

// StageOrder is the dependency order the sequencer runs stages in.
var StageOrder = []StageName{StageScript, StageImage, StageAudio, StageSubtitle, StageVideo, StageRender}

// ParseStageName normalises user input into a known stage.
func ParseStageName(s string) (StageName, bool) {
	name := StageName(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range StageOrder {
		if known == name {
			return name, true
		}
	}
	return "", false
}

// File is a named blob under a folder token.
type File struct {
	Name string
	Data []byte
}

// StageResult is what a stage hands back to the sequencer: the per-scene
// outcomes plus the files to persist when the stage is not a hard failure.
type StageResult struct {
	Stage   StageName
	Results []SceneResult
	Stats   SceneStats
	Files   []File
}

// HardFailure reports whether no scene in the stage succeeded.
func (r StageResult) HardFailure() bool {
	return r.Stats.Succeeded == 0
}

// SceneError is a failed scene as reported to users.
type SceneError struct {
	Index   int       `json:"index"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// StageSummary is the machine-readable report of one stage run.
type StageSummary struct {
	Stage      StageName      `json:"stage"`
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	ByProvider map[string]int `json:"by_provider,omitempty"`
	Errors     []SceneError   `json:"errors,omitempty"`
	Files      []string       `json:"files,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// PipelineRequest starts a run.
type PipelineRequest struct {
	Title      string      `json:"title"`
	Topic      string      `json:"topic"`
	SceneCount int         `json:"scene_count"`
	Style      StyleConfig `json:"style"`
}

// PipelinePhase enumerates the sequencer state machine phases.
type PipelinePhase string

const (
	PhaseIdle        PipelinePhase = "idle"
	PhaseRunning     PipelinePhase = "running"
	PhaseStageFailed PipelinePhase = "stage_failed"
	PhaseComplete    PipelinePhase = "complete"
)

// PipelineState is the sequencer state: a phase plus the stage it refers to
// for Running and StageFailed.
type PipelineState struct {
	Phase PipelinePhase `json:"phase"`
	Stage StageName     `json:"stage,omitempty"`
}

func (s PipelineState) String() string {
	if s.Stage == "" {
		return string(s.Phase)
	}
	return string(s.Phase) + "(" + string(s.Stage) + ")"
}

// PipelineResult is returned by a full pipeline run.
type PipelineResult struct {
	Folder      string         `json:"folder"`
	State       PipelineState  `json:"state"`
	Stages      []StageSummary `json:"stages"`
	FailedStage StageName      `json:"failed_stage,omitempty"`
}

// ExitCode maps the terminal state onto a process exit status.
func (r PipelineResult) ExitCode() int {
	if r.State.Phase == PhaseComplete {
		return 0
	}
	return 1
}
