package facade

import (
	"regexp"

	"github.com/shopspring/decimal"
)

var playerIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,50}$`)

func validatePlayerID(id string) error {
	if !playerIDPattern.MatchString(id) {
		return errValidation("player id must be 3-50 chars of [A-Za-z0-9_-]")
	}
	return nil
}

func validatePlayerName(name string) error {
	if len(name) < 3 || len(name) > 20 {
		return errValidation("name must be 3-20 characters")
	}
	return nil
}

func validateStake(stake decimal.Decimal, min, max decimal.Decimal) error {
	if stake.LessThanOrEqual(decimal.Zero) {
		return errValidation("stake must be positive")
	}
	if stake.LessThan(min) {
		return errValidation("stake is below the minimum")
	}
	if stake.GreaterThan(max) {
		return errValidation("stake exceeds the maximum")
	}
	return nil
}

func validateAsset(asset string, supported map[string]bool) error {
	if !supported[asset] {
		return errValidation("unsupported asset tag")
	}
	return nil
}

func validatePositiveAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return errValidation("amount must be positive")
	}
	return nil
}
