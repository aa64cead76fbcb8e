package trade

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vtornik/listing-sniper/internal/domain"
	"github.com/vtornik/listing-sniper/pkg/utils/decimalutils"
)

// ComposeOrderReport renders a filled order for the chat, e.g.
// "BUY MANABTC 1500@0.00001234 for 0.01851".
func ComposeOrderReport(side domain.OrderSide, pair string, qty, price, total decimal.Decimal) string {
	return fmt.Sprintf("%s %s %s@%s for %s",
		side, pair, decimalutils.Norm(qty), decimalutils.Norm(price), decimalutils.Norm(total))
}
