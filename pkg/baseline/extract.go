package baseline

import (
	"context"
)

// Extractor obtains the exported API of an artifact
type Extractor interface {
	Extract(ctx context.Context, artifact string) (*API, error)
}

// SidecarExtractor reads the API document written next to an artifact
type SidecarExtractor struct{}

// Extract reads <artifact>.api.json
func (SidecarExtractor) Extract(_ context.Context, artifact string) (*API, error) {
	return LoadAPI(artifact + APISuffix)
}
