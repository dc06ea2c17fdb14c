package game

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"econfair/internal/model"
)

const maxSessionIDLen = 64

func validateSessionID(id string) error {
	if id == "" {
		return model.Validation("session id is required")
	}
	if utf8.RuneCountInString(id) > maxSessionIDLen {
		return model.Validation("session id must be at most %d characters", maxSessionIDLen)
	}
	if strings.ContainsAny(id, "/_") {
		return model.Validation("session id must not contain '/' or '_'")
	}
	return nil
}

// payout is floor(principal * multiplier) computed in decimal.
func payout(principal int64, multiplier decimal.Decimal) int64 {
	return decimal.NewFromInt(principal).Mul(multiplier).Floor().IntPart()
}

// gradeQuest marks each trimmed answer against its slot and sums the
// rewards of the correct ones.
func gradeQuest(answers, key []string, rewards []int64) ([]bool, int64) {
	correct := make([]bool, len(answers))
	var total int64
	for i, a := range answers {
		if i >= len(key) || i >= len(rewards) {
			break
		}
		if strings.TrimSpace(a) == key[i] {
			correct[i] = true
			total += rewards[i]
		}
	}
	return correct, total
}
