// Package units converts between base-unit integers and decimal amounts.
package units

import (
	"fmt"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	clierr "github.com/ggonzalez94/solagent/internal/errors"
)

// NativeDecimals is the precision of the native asset (lamports per SOL).
const NativeDecimals = 9

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// NormalizeAmount accepts exactly one of a base-unit integer string or a
// decimal string and returns both forms.
func NormalizeAmount(baseUnits, decimal string, decimals int) (string, string, error) {
	if baseUnits != "" && decimal != "" {
		return "", "", clierr.New(clierr.CodeUsage, "use either --amount or --amount-decimal, not both")
	}
	if baseUnits == "" && decimal == "" {
		return "", "", clierr.New(clierr.CodeUsage, "amount is required")
	}
	if decimals < 0 {
		return "", "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}

	if baseUnits != "" {
		if strings.HasPrefix(baseUnits, "-") {
			return "", "", clierr.New(clierr.CodeUsage, "--amount must be non-negative")
		}
		if _, ok := new(big.Int).SetString(baseUnits, 10); !ok {
			return "", "", clierr.New(clierr.CodeUsage, "--amount must be a positive integer string")
		}
		return baseUnits, formatDecimal(baseUnits, decimals), nil
	}

	if !decimalPattern.MatchString(decimal) {
		return "", "", clierr.New(clierr.CodeUsage, "--amount-decimal must be in decimal form like 1.23")
	}
	base, err := decimalToBaseUnits(decimal, decimals)
	if err != nil {
		return "", "", err
	}
	return base, normalizeDecimal(decimal), nil
}

// ParseLamports resolves --amount / --amount-decimal into lamports.
func ParseLamports(baseUnits, decimal string) (uint64, error) {
	base, _, err := NormalizeAmount(baseUnits, decimal, NativeDecimals)
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(base, 10, 64)
	if err != nil {
		return 0, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount %s does not fit in 64 bits", base))
	}
	return v, nil
}

// FormatLamports renders lamports as a decimal SOL string.
func FormatLamports(lamports uint64) string {
	return formatDecimal(strconv.FormatUint(lamports, 10), NativeDecimals)
}

// LamportsToNative is the float view used for fiat valuation.
func LamportsToNative(lamports uint64) float64 {
	return float64(lamports) / 1e9
}

func formatDecimal(baseUnits string, decimals int) string {
	n := new(big.Int)
	n.SetString(baseUnits, 10)
	if decimals == 0 {
		return n.String()
	}

	s := n.String()
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

func decimalToBaseUnits(decimal string, decimals int) (string, error) {
	intPart, fracPart, _ := strings.Cut(decimal, ".")
	if len(fracPart) > decimals {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds asset decimals (%d)", decimals))
	}

	fracPart += strings.Repeat("0", decimals-len(fracPart))
	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return "0", nil
	}
	if _, ok := new(big.Int).SetString(combined, 10); !ok {
		return "", clierr.New(clierr.CodeUsage, "invalid decimal amount")
	}
	return combined, nil
}

func normalizeDecimal(v string) string {
	intPart, fracPart, hasFrac := strings.Cut(v, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if !hasFrac {
		return intPart
	}
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
