package marketplace

import (
	"github.com/smajobb/marketplace/internal/marketplace/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("marketplace.repository",
	fx.Provide(repository.Provide),
)
