package ingest

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/nicktill/marketpulse/pkg/config"
	"github.com/nicktill/marketpulse/pkg/storage"
)

// Validation limits
const (
	MaxLevelsPerSide = config.IngestMaxLevelsPerSide
	MaxSymbolLength  = 32
)

var (
	// ErrEmptySymbol is returned when a request names no symbol
	ErrEmptySymbol = errors.New("symbol cannot be empty")

	// ErrSymbolTooLong is returned when a symbol exceeds MaxSymbolLength
	ErrSymbolTooLong = fmt.Errorf("symbol too long (max %d chars)", MaxSymbolLength)

	// ErrInvalidSymbol is returned for symbols with characters other than A-Z and 0-9
	ErrInvalidSymbol = errors.New("symbol must be alphanumeric")

	// ErrTooManyLevels is returned when one side of the book has too many levels
	ErrTooManyLevels = fmt.Errorf("too many levels per side (max %d)", MaxLevelsPerSide)

	// ErrInvalidLevel is returned for a non-positive price or a negative quantity
	ErrInvalidLevel = storage.ErrInvalidLevel
)

// NormalizeSymbol trims and upper-cases a symbol and validates it.
func NormalizeSymbol(raw string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(raw))
	if sym == "" {
		return "", ErrEmptySymbol
	}
	if len(sym) > MaxSymbolLength {
		return "", fmt.Errorf("%w: %q has %d chars", ErrSymbolTooLong, sym, len(sym))
	}
	for _, r := range sym {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') {
			return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, sym)
		}
	}
	return sym, nil
}

// ValidateRequest checks a tick against the ingestion limits and normalizes
// its symbol in place.
func ValidateRequest(req *IngestRequest) error {
	sym, err := NormalizeSymbol(req.Symbol)
	if err != nil {
		return err
	}
	req.Symbol = sym

	if req.Timestamp < 0 {
		return fmt.Errorf("timestamp must not be negative: %d", req.Timestamp)
	}
	if err := validateSide("bids", req.Bids); err != nil {
		return err
	}
	return validateSide("asks", req.Asks)
}

func validateSide(side string, levels []storage.Level) error {
	if len(levels) > MaxLevelsPerSide {
		return fmt.Errorf("%w: %s has %d", ErrTooManyLevels, side, len(levels))
	}
	for i, l := range levels {
		if !(l.Price > 0) || math.IsInf(l.Price, 0) {
			return fmt.Errorf("%w: %s[%d] price %v", ErrInvalidLevel, side, i, l.Price)
		}
		if !(l.Qty >= 0) || math.IsInf(l.Qty, 0) {
			return fmt.Errorf("%w: %s[%d] qty %v", ErrInvalidLevel, side, i, l.Qty)
		}
	}
	return nil
}
