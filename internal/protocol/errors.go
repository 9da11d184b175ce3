package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"

	// Calculation.
	ErrCycle               = "E_CYCLE"
	ErrMissingCatalogEntry = "E_MISSING_CATALOG_ENTRY"

	// Edit layer.
	ErrBadRequest = "E_BAD_REQUEST"
	ErrRateLimit  = "E_RATE_LIMIT"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:     {},
	ErrCycle:               {},
	ErrMissingCatalogEntry: {},
	ErrBadRequest:          {},
	ErrRateLimit:           {},
	ErrInternal:            {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
