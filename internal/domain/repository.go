package domain

import "context"

// ObjectStore is the shared state of a run. Artifacts are addressed by folder
// token and filename; listing folders is the only way to discover runs.
type ObjectStore interface {
	// Write stores data and returns a URL or key the artifact can be fetched by.
	Write(ctx context.Context, folder, filename string, data []byte) (string, error)
	// Read returns every file in folder whose name matches glob (path.Match syntax).
	Read(ctx context.Context, folder, glob string) ([]File, error)
	// ListFolders returns folder tokens, most recent first.
	ListFolders(ctx context.Context) ([]string, error)
}

// PromptBuilder turns a scene into a provider request. It performs no I/O.
type PromptBuilder interface {
	BuildRequest(kind JobKind, scene SceneDescriptor, style StyleConfig) JobRequest
}

// CredentialResolver reports which providers have credentials configured.
type CredentialResolver interface {
	ConfiguredProviders(ctx context.Context) ([]string, error)
}
