package integration

import "github.com/meridian-pos/meridian/internal/stock"

// mappingKey translates an account hint into the key stored in
// account_mappings.
func mappingKey(hint stock.AccountHint) string {
	return string(hint)
}

// offsetKey names the balancing account for one-sided movements. Transfer
// lines arrive in balanced pairs and need no offset.
func offsetKey(hint stock.AccountHint) string {
	switch hint {
	case stock.HintStockIn:
		return "stock.in.offset"
	case stock.HintStockOut:
		return "stock.out.offset"
	default:
		return ""
	}
}
