package pdf

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("providers.pdf",
	fx.Provide(New),
)

// Provider renders payment documents.
type Provider interface {
	GenerateReceipt(ctx context.Context, data ReceiptData) ([]byte, error)
}

type PDFProvider struct{}

func New() Provider {
	return &PDFProvider{}
}
