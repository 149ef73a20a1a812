package pollregistry

import (
	"log/slog"
	"time"

	httpadapter "agora/contexts/governance/poll-registry/adapters/http"
	"agora/contexts/governance/poll-registry/adapters/memory"
	"agora/contexts/governance/poll-registry/application/commands"
	"agora/contexts/governance/poll-registry/application/queries"
	"agora/contexts/governance/poll-registry/domain/services"
	"agora/contexts/governance/poll-registry/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Store   *memory.Store
	Assets  *memory.AssetBook
}

type Dependencies struct {
	Ledger         ports.Ledger
	Assets         ports.AssetGateway
	Projections    ports.TallyProjectionStore
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	Rules          services.PollRules
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	pollUseCase := commands.PollUseCase{
		Ledger:         deps.Ledger,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		Rules:          deps.Rules,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	voteUseCase := commands.VoteUseCase{
		Ledger:         deps.Ledger,
		Assets:         deps.Assets,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Polls:       pollUseCase,
			Votes:       voteUseCase,
			Queries:     queries.PollQueries{Ledger: deps.Ledger},
			Projections: queries.ProjectionQueries{Projections: deps.Projections},
			Logger:      deps.Logger,
		},
	}
}

// NewInMemoryModule wires the module to an in-process ledger and asset book.
// The returned Store and Assets are exposed for seeding and inspection.
func NewInMemoryModule(rules services.PollRules, logger *slog.Logger) Module {
	store := memory.NewStore()
	assets := memory.NewAssetBook("")
	module := NewModule(Dependencies{
		Ledger:         store,
		Assets:         assets,
		Projections:    store,
		Clock:          store,
		IDGen:          store,
		Rules:          rules,
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	module.Assets = assets
	return module
}
