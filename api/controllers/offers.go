package controllers

import (
	"errors"
	"net/http"
	"time"

	"gorm.io/gorm"

	"github.com/credeo/lendmarket-backend/api/responses"
	"github.com/credeo/lendmarket-backend/api/validators"
	"github.com/credeo/lendmarket-backend/internal/marketplace"
	pkgerrors "github.com/credeo/lendmarket-backend/pkg/errors"
	"github.com/credeo/lendmarket-backend/pkg/logger"
)

type offerResponse struct {
	ID                       string     `json:"id"`
	LenderUserID             string     `json:"lender_user_id"`
	PrincipalCurrencyID      string     `json:"principal_currency_id"`
	Status                   string     `json:"status"`
	OfferedPrincipalAmount   string     `json:"offered_principal_amount"`
	ReservedPrincipalAmount  string     `json:"reserved_principal_amount"`
	DisbursedPrincipalAmount string     `json:"disbursed_principal_amount"`
	AvailablePrincipalAmount string     `json:"available_principal_amount"`
	InterestRate             string     `json:"interest_rate"`
	TermMonthsOptions        []int      `json:"term_months_options"`
	MinLoanAmount            string     `json:"min_loan_amount"`
	MaxLoanAmount            string     `json:"max_loan_amount"`
	PublishedAt              *time.Time `json:"published_at,omitempty"`
	ExpiresAt                *time.Time `json:"expires_at,omitempty"`
}

func GetOffer(repo marketplace.OfferRepository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		offerID, err := validators.ParsePathUUID(r, "offerId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithOfferID(ctx, offerID.String())

		offer, err := repo.FindByID(ctx, offerID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "offer not found"))
			return
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccess(w, offerResponse{
			ID:                       offer.ID.String(),
			LenderUserID:             offer.LenderUserID.String(),
			PrincipalCurrencyID:      offer.PrincipalCurrencyID.String(),
			Status:                   string(offer.Status),
			OfferedPrincipalAmount:   offer.OfferedPrincipalAmount.String(),
			ReservedPrincipalAmount:  offer.ReservedPrincipalAmount.String(),
			DisbursedPrincipalAmount: offer.DisbursedPrincipalAmount.String(),
			AvailablePrincipalAmount: offer.AvailablePrincipalAmount().String(),
			InterestRate:             offer.InterestRate.String(),
			TermMonthsOptions:        []int(offer.TermMonthsOptions),
			MinLoanAmount:            offer.MinLoanAmount.String(),
			MaxLoanAmount:            offer.MaxLoanAmount.String(),
			PublishedAt:              offer.PublishedAt,
			ExpiresAt:                offer.ExpiresAt,
		})
	}
}
