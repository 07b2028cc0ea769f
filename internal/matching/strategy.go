package matching

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/credeo/lendmarket-backend/pkg/db/models"
)

// ltvScale is the stored precision of LTV ratios.
const ltvScale = 8

// CandidatePair is one proposed application/offer match.
type CandidatePair struct {
	ApplicationID       uuid.UUID
	OfferID             uuid.UUID
	PrincipalAmount     decimal.Decimal
	LtvRatio            decimal.Decimal
	CollateralValuation decimal.Decimal
}

// MatchCriteria carries externally resolved facts the strategy needs.
// CollateralValuations maps application id to the current valuation of its
// collateral in principal smallest units.
type MatchCriteria struct {
	CollateralValuations map[uuid.UUID]decimal.Decimal
}

// Strategy selects candidate pairs from published offers and applications.
// Implementations are pure: no I/O and no mutation of the inputs.
type Strategy interface {
	Name() string
	Match(offers []models.LoanOffer, applications []models.LoanApplication, criteria MatchCriteria) []CandidatePair
}

// NewStrategy resolves a strategy by its configured name.
func NewStrategy(name string) (Strategy, error) {
	switch name {
	case "", LowestRateStrategyName:
		return LowestRateStrategy{}, nil
	default:
		return nil, fmt.Errorf("unknown matching strategy %q", name)
	}
}

// LowestRateStrategyName selects LowestRateStrategy in configuration.
const LowestRateStrategyName = "lowest_rate"

// LowestRateStrategy matches each application against the cheapest eligible
// offer, first-come-first-served on the lender side for equal rates.
type LowestRateStrategy struct{}

func (LowestRateStrategy) Name() string { return LowestRateStrategyName }

func (LowestRateStrategy) Match(offers []models.LoanOffer, applications []models.LoanApplication, criteria MatchCriteria) []CandidatePair {
	ranked := make([]models.LoanOffer, len(offers))
	copy(ranked, offers)
	sort.SliceStable(ranked, func(i, j int) bool {
		if !ranked[i].InterestRate.Equal(ranked[j].InterestRate) {
			return ranked[i].InterestRate.LessThan(ranked[j].InterestRate)
		}
		pi, pj := ranked[i].PublishedAt, ranked[j].PublishedAt
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return pi.Before(*pj)
		}
	})

	// remaining capacity is tracked across pairs within this pass so two
	// applications cannot both claim the same principal
	remaining := make(map[uuid.UUID]decimal.Decimal, len(ranked))
	for _, offer := range ranked {
		remaining[offer.ID] = offer.AvailablePrincipalAmount()
	}

	var pairs []CandidatePair
	for _, app := range applications {
		valuation, ok := criteria.CollateralValuations[app.ID]
		if !ok || !valuation.IsPositive() {
			continue
		}
		ltv := app.PrincipalAmount.Div(valuation).Round(ltvScale)
		if ltv.LessThan(app.MinLtvRatio) || ltv.GreaterThan(app.MaxLtvRatio) {
			continue
		}

		for _, offer := range ranked {
			if !eligible(offer, app, remaining[offer.ID]) {
				continue
			}
			remaining[offer.ID] = remaining[offer.ID].Sub(app.PrincipalAmount)
			pairs = append(pairs, CandidatePair{
				ApplicationID:       app.ID,
				OfferID:             offer.ID,
				PrincipalAmount:     app.PrincipalAmount,
				LtvRatio:            ltv,
				CollateralValuation: valuation,
			})
			break
		}
	}
	return pairs
}

func eligible(offer models.LoanOffer, app models.LoanApplication, available decimal.Decimal) bool {
	if offer.LenderUserID == app.BorrowerUserID {
		return false
	}
	if offer.PrincipalCurrencyID != app.PrincipalCurrencyID {
		return false
	}
	if app.PrincipalAmount.LessThan(offer.MinLoanAmount) || app.PrincipalAmount.GreaterThan(offer.MaxLoanAmount) {
		return false
	}
	if app.PrincipalAmount.GreaterThan(available) {
		return false
	}
	if app.MaxInterestRate.LessThan(offer.InterestRate) {
		return false
	}
	if !offer.TermMonthsOptions.Contains(app.TermMonths) {
		return false
	}
	return true
}
