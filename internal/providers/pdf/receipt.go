package pdf

import (
	"context"
	"fmt"
	"strings"

	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// ReceiptData holds display-ready values; amounts are already formatted.
type ReceiptData struct {
	ReceiptNumber string
	BookingNumber string
	DatePaid      string
	Status        string
	TransactionID string

	PayerName string
	PayeeName string

	Amount     string
	Commission string
	Net        string
	Refunded   string
}

func (p *PDFProvider) GenerateReceipt(ctx context.Context, receipt ReceiptData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(receipt.ReceiptNumber) == "" {
		return nil, fmt.Errorf("receipt number is required")
	}

	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Sida {current} av {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(30,
		text.NewCol(8, "Kvitto", props.Text{
			Size:  20,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Småjobb", props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Kvittonummer: "+receipt.ReceiptNumber, props.Text{Top: 0}),
			text.New("Bokning: "+receipt.BookingNumber, props.Text{Top: 5}),
			text.New("Betald: "+receipt.DatePaid, props.Text{Top: 10}),
			text.New("Status: "+receipt.Status, props.Text{Top: 15}),
		),
		col.New(6).Add(
			text.New("Transaktions-ID", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(receipt.TransactionID, props.Text{Top: 5, Align: align.Right}),
		),
	)

	m.AddRow(24,
		col.New(6).Add(
			text.New("Betalare", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.PayerName, props.Text{Top: 5}),
		),
		col.New(6).Add(
			text.New("Utförare", props.Text{Style: fontstyle.Bold}),
			text.New(receipt.PayeeName, props.Text{Top: 5}),
		),
	)

	m.AddRow(15,
		text.NewCol(12, receipt.Amount+" betalt "+receipt.DatePaid, props.Text{
			Size:  14,
			Style: fontstyle.Bold,
			Top:   5,
		}),
	)

	m.AddRow(10,
		text.NewCol(8, "Beskrivning", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(4, "Belopp", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	lines := []struct{ label, amount string }{
		{"Uppdrag enligt bokning " + receipt.BookingNumber, receipt.Amount},
		{"Varav plattformsavgift", receipt.Commission},
		{"Till utförare", receipt.Net},
	}
	if receipt.Refunded != "" {
		lines = append(lines, struct{ label, amount string }{"Återbetalt", receipt.Refunded})
	}
	for _, line := range lines {
		m.AddRow(8,
			text.NewCol(8, line.label, props.Text{Size: 9}),
			text.NewCol(4, line.amount, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(10,
		col.New(8),
		text.NewCol(2, "Totalt", props.Text{Size: 9, Style: fontstyle.Bold}),
		text.NewCol(2, receipt.Amount, props.Text{Size: 9, Style: fontstyle.Bold, Align: align.Right}),
	)

	doc, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return doc.GetBytes(), nil
}

// FormatAmount renders minor units the Swedish way, e.g. "1 234,50 SEK".
func FormatAmount(minorUnits int64, currency string) string {
	sign := ""
	if minorUnits < 0 {
		sign = "-"
		minorUnits = -minorUnits
	}
	whole := groupThousands(minorUnits / 100)
	return fmt.Sprintf("%s%s,%02d %s", sign, whole, minorUnits%100, strings.ToUpper(currency))
}

func groupThousands(n int64) string {
	digits := fmt.Sprintf("%d", n)
	if len(digits) <= 3 {
		return digits
	}
	var b strings.Builder
	lead := len(digits) % 3
	if lead > 0 {
		b.WriteString(digits[:lead])
	}
	for i := lead; i < len(digits); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(digits[i : i+3])
	}
	return b.String()
}
