package domain

import "time"

// JobKind enumerates the generation capabilities a provider may offer.
type JobKind string

const (
	JobKindText   JobKind = "text"
	JobKindImage  JobKind = "image"
	JobKindSpeech JobKind = "speech"
	JobKindVideo  JobKind = "video"
	JobKindMusic  JobKind = "music"
)

// JobKinds lists every kind in a stable order.
var JobKinds = []JobKind{JobKindText, JobKindImage, JobKindSpeech, JobKindVideo, JobKindMusic}

// SourceImage conditions image-to-video requests.
type SourceImage struct {
	Data []byte
	MIME string
	URL  string
}

// JobRequest is the provider-neutral description of one unit of generation
// work. It is passed by value and never modified after submission.
type JobRequest struct {
	Kind           JobKind
	RequestID      string
	SceneIndex     int
	Prompt         string
	NegativePrompt string
	AspectRatio    string
	Voice          string
	Language       string
	DurationSec    float64
	SourceImage    *SourceImage
	Extras         map[string]string

	// DurationBudget and PollInterval override the client's poll policy when
	// non-zero.
	DurationBudget time.Duration
	PollInterval   time.Duration
}

// Extra returns an opaque provider-specific value.
func (r JobRequest) Extra(key string) string {
	if r.Extras == nil {
		return ""
	}
	return r.Extras[key]
}

// JobHandle identifies a submitted job. It is only valid for the provider
// that issued it.
type JobHandle struct {
	ID       string
	Provider string
}

// Artifact is what a successful job produces. Binary outputs populate Data,
// text outputs populate Text.
type Artifact struct {
	Data        []byte
	URL         string
	MIME        string
	Text        string
	DurationSec float64
}

// JobState enumerates the states a job moves through.
type JobState string

const (
	JobPending   JobState = "pending"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
	JobTimedOut  JobState = "timed_out"
)

// JobStatus is a tagged variant: Artifact is set only for JobSucceeded,
// ErrorKind and Message only for JobFailed and JobTimedOut.
type JobStatus struct {
	State     JobState
	Artifact  *Artifact
	ErrorKind ErrorKind
	Message   string
}

// Terminal reports whether the status ends the poll loop.
func (s JobStatus) Terminal() bool {
	return s.State != JobPending && s.State != ""
}

func Pending() JobStatus {
	return JobStatus{State: JobPending}
}

func Succeeded(a *Artifact) JobStatus {
	return JobStatus{State: JobSucceeded, Artifact: a}
}

func Failed(kind ErrorKind, message string) JobStatus {
	return JobStatus{State: JobFailed, ErrorKind: kind, Message: message}
}

func TimedOut(message string) JobStatus {
	return JobStatus{State: JobTimedOut, ErrorKind: KindTimedOut, Message: message}
}
