package pipeline

import "github.com/dyluth/bazaar/pkg/registry"

// transitions lists the stages reachable from each non-terminal stage.
// Every non-terminal stage may fail; success advances one stage at a time.
var transitions = map[registry.Stage][]registry.Stage{
	registry.StagePending:           {registry.StageNamespaceCreated, registry.StageFailed},
	registry.StageNamespaceCreated:  {registry.StageFunded, registry.StageFailed},
	registry.StageFunded:            {registry.StageArtifactInstalled, registry.StageFailed},
	registry.StageArtifactInstalled: {registry.StageInitialized, registry.StageFailed},
	registry.StageInitialized:       {registry.StageConfirmed, registry.StageFailed},
}

// CanTransition reports whether a pipeline may move from one stage to another.
func CanTransition(from, to registry.Stage) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
