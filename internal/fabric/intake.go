package fabric

import (
	"strings"

	"github.com/shopspring/decimal"

	"cutledger/pkg/domain"
)

// PrepareIntake validates a newly received roll against the article's
// ledger and returns it with derived fields initialised: nothing reserved,
// everything available.
func PrepareIntake(ledger Ledger, roll domain.FabricRoll) (domain.FabricRoll, error) {
	roll.RollNumber = strings.TrimSpace(roll.RollNumber)
	if roll.RollNumber == "" {
		return domain.FabricRoll{}, invalid(ReasonMissingRollNumber, "Roll number is required.", "Broj rolne je obavezan.")
	}
	if roll.Article == "" {
		return domain.FabricRoll{}, invalid(ReasonMissingArticle,
			"Roll %s has no fabric article.", "Rolna %s nema artikal materijala.", roll.RollNumber)
	}
	if roll.TotalMeters.IsNegative() {
		return domain.FabricRoll{}, invalid(ReasonInvalidMeters,
			"Roll %s cannot have negative meters (got %s).", "Rolna %s ne može imati negativnu metražu (uneto %s).", roll.RollNumber, roll.TotalMeters.String())
	}
	if _, exists := ledger.Find(roll.RollNumber); exists {
		return domain.FabricRoll{}, invalid(ReasonDuplicateRoll,
			"Roll %s already exists for article %s.", "Rolna %s već postoji za artikal %s.", roll.RollNumber, ledger.Article)
	}
	roll.TotalMeters = domain.RoundMeters(roll.TotalMeters)
	return Derive(roll, decimal.Zero), nil
}
