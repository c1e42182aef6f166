package pipeline

import (
	"context"

	"github.com/BryanOwens012/dogwalker/internal/forge"
)

// forgeMediaStore adapts forge.Client's UploadToMediaBranch to the Visual
// Diff component's MediaStore interface (spec §9 redesign note: the forge's
// dedicated branch is one implementation behind that interface, not a
// hardcoded assumption).
type forgeMediaStore struct {
	client      forge.Client
	owner, repo string
	mediaBranch string
	baseBranch  string
}

func (m *forgeMediaStore) Upload(ctx context.Context, repoPath string, data []byte) (string, error) {
	return m.client.UploadToMediaBranch(ctx, m.owner, m.repo, m.mediaBranch, m.baseBranch, repoPath, data)
}
