package basket

import "fmt"

// FormatPrice renders cents with the configured currency symbol: "$25.50".
func FormatPrice(symbol string, cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%s%d.%02d", sign, symbol, cents/100, cents%100)
}
