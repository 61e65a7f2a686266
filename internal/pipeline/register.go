package pipeline

import (
	"github.com/praxiscrm/praxis/internal/retrieval"
	"github.com/praxiscrm/praxis/internal/runner"
	"github.com/praxiscrm/praxis/internal/storage"
)

// Deps bundles the collaborators the stage handlers close over.
type Deps struct {
	Store    *storage.Store
	Vectors  retrieval.EmbeddingStore
	Embedder BatchEmbedder
	Queue    Enqueuer
}

// Register binds all pipeline stages into the runner's registry.
func Register(reg *runner.Registry, deps Deps) {
	reg.Register(JobNormalize, NormalizeHandler(deps.Store, deps.Queue))
	reg.Register(JobExtractContacts, ExtractContactsHandler(deps.Store, deps.Queue))
	reg.Register(JobEmbed, EmbedHandler(deps.Store, deps.Vectors, deps.Embedder))
}
