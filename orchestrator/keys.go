package orchestrator

import (
	"fmt"

	"github.com/c360/windowcache/types"
)

// dirOf returns the store prefix that holds an artifact type.
func dirOf(t types.ArtifactType) string {
	return string(t) + "/"
}

// artifactKey returns the store key of an artifact. Verification has no file.
func artifactKey(id types.ItemID, t types.ArtifactType) (string, bool) {
	switch t {
	case types.ArtifactSegments:
		return fmt.Sprintf("segments/segments_%s.json", id.Padded()), true
	case types.ArtifactPlots:
		return fmt.Sprintf("plots/plots_meta_%s.json", id.Padded()), true
	default:
		return "", false
	}
}
