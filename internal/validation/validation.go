package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/ethereum/go-ethereum/common"

	"apx-claims-api/internal/claims"
	"apx-claims-api/internal/models"
	"apx-claims-api/internal/units"
)

const (
	maxTiers       = 64
	maxHistorySize = 500
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateAddress checks a wallet address and returns its canonical,
// lowercased 0x form, which is the key every store uses.
func ValidateAddress(address, fieldName string) (string, error) {
	address = SanitizeString(address)
	if address == "" {
		return "", &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	if !strings.HasPrefix(address, "0x") && !strings.HasPrefix(address, "0X") {
		return "", &ValidationError{
			Field:   fieldName,
			Message: "must start with 0x",
		}
	}

	if !common.IsHexAddress(address) {
		return "", &ValidationError{
			Field:   fieldName,
			Message: "must be a 20-byte hex address",
		}
	}

	return strings.ToLower(common.HexToAddress(address).Hex()), nil
}

// ValidateProgram checks a program definition coming from the programs file
// or the admin API and converts it to the engine's representation.
func ValidateProgram(p models.Program) (claims.Program, error) {
	cadence, ok := claims.ParseCadence(SanitizeString(p.Cadence))
	if !ok {
		return claims.Program{}, &ValidationError{
			Field:   "cadence",
			Message: fmt.Sprintf("unknown cadence %q", p.Cadence),
		}
	}

	cooldown, err := parseDuration(p.Cooldown, "cooldown")
	if err != nil {
		return claims.Program{}, err
	}

	grace, err := parseDuration(p.GracePeriod, "grace_period")
	if err != nil {
		return claims.Program{}, err
	}

	base, err := units.Parse(SanitizeString(p.BaseAmount))
	if err != nil {
		return claims.Program{}, &ValidationError{
			Field:   "base_amount",
			Message: err.Error(),
		}
	}

	if len(p.Tiers) > maxTiers {
		return claims.Program{}, &ValidationError{
			Field:   "tiers",
			Message: fmt.Sprintf("cannot contain more than %d tiers", maxTiers),
		}
	}

	tiers := make(claims.BonusTierTable, 0, len(p.Tiers))
	for i, tier := range p.Tiers {
		multiplier, err := units.ParseDecimal(SanitizeString(tier.Multiplier))
		if err != nil {
			message := "must be a decimal number"
			if errors.Is(err, units.ErrOutOfRange) {
				message = "is out of range"
			}
			return claims.Program{}, &ValidationError{
				Field:   fmt.Sprintf("tiers[%d].multiplier", i),
				Message: message,
			}
		}
		tiers = append(tiers, claims.BonusTier{Threshold: tier.Threshold, Multiplier: multiplier})
	}

	program := claims.Program{
		Cadence:    cadence,
		Policy:     claims.CooldownPolicy{Duration: cooldown, GracePeriod: grace},
		Tiers:      tiers,
		BaseAmount: base,
	}
	if err := program.Validate(); err != nil {
		return claims.Program{}, &ValidationError{
			Field:   "program",
			Message: strings.TrimPrefix(err.Error(), claims.ErrInvalidProgram.Error()+": "),
		}
	}

	return program, nil
}

// ValidateLimit parses an optional page size, falling back to def.
func ValidateLimit(raw string, def int) (int, error) {
	raw = SanitizeString(raw)
	if raw == "" {
		return def, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, &ValidationError{
			Field:   "limit",
			Message: "must be a positive integer",
		}
	}

	if limit > maxHistorySize {
		return 0, &ValidationError{
			Field:   "limit",
			Message: fmt.Sprintf("cannot exceed %d", maxHistorySize),
		}
	}

	return limit, nil
}

func parseDuration(raw, fieldName string) (time.Duration, error) {
	raw = SanitizeString(raw)
	if raw == "" {
		return 0, &ValidationError{
			Field:   fieldName,
			Message: "is required",
		}
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, &ValidationError{
			Field:   fieldName,
			Message: "must be a duration such as 24h",
		}
	}

	// Programs are stored with millisecond precision.
	if d%time.Millisecond != 0 {
		return 0, &ValidationError{
			Field:   fieldName,
			Message: "must be a whole number of milliseconds",
		}
	}

	return d, nil
}

func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	return strings.TrimSpace(s)
}

func ValidateTimeString(timeStr string) (time.Time, error) {
	if timeStr == "" {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "is required",
		}
	}

	t, err := time.Parse(time.RFC3339, timeStr)
	if err != nil {
		return time.Time{}, &ValidationError{
			Field:   "time",
			Message: "must be a valid RFC3339 timestamp",
		}
	}

	return t, nil
}

// IsValidationError reports whether err carries a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
