package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/credeo/lendmarket-backend/api/responses"
	"github.com/credeo/lendmarket-backend/api/validators"
	"github.com/credeo/lendmarket-backend/internal/loans"
	"github.com/credeo/lendmarket-backend/pkg/db/models"
	"github.com/credeo/lendmarket-backend/pkg/enums"
	"github.com/credeo/lendmarket-backend/pkg/logger"
)

const (
	defaultLoanPageSize = 50
	maxLoanPageSize     = 200
)

type loanResponse struct {
	ID                   string     `json:"id"`
	LoanOfferID          string     `json:"loan_offer_id"`
	LoanApplicationID    string     `json:"loan_application_id"`
	LenderUserID         string     `json:"lender_user_id"`
	BorrowerUserID       string     `json:"borrower_user_id"`
	Status               string     `json:"status"`
	PrincipalCurrencyID  string     `json:"principal_currency_id"`
	PrincipalAmount      string     `json:"principal_amount"`
	InterestAmount       string     `json:"interest_amount"`
	RepaymentAmount      string     `json:"repayment_amount"`
	OriginationFeeAmount string     `json:"origination_fee_amount"`
	CollateralCurrencyID string     `json:"collateral_currency_id"`
	CollateralAmount     string     `json:"collateral_amount"`
	McLtvRatio           string     `json:"mc_ltv_ratio"`
	CurrentLtvRatio      *string    `json:"current_ltv_ratio,omitempty"`
	OriginationDate      time.Time  `json:"origination_date"`
	DisbursementDate     *time.Time `json:"disbursement_date,omitempty"`
	MaturityDate         time.Time  `json:"maturity_date"`
	AgreementRef         *string    `json:"agreement_ref,omitempty"`
}

type loanListResponse struct {
	Loans []loanResponse `json:"loans"`
}

type loanListFilter struct {
	Status string `json:"status" validate:"omitempty,oneof=originated active repaid liquidated defaulted"`
	Limit  int    `json:"limit" validate:"min=1,max=200"`
	Offset int    `json:"offset" validate:"min=0"`
}

func ListLoans(svc loans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit, err := validators.ParseQueryInt(r, "limit", defaultLoanPageSize, 1, maxLoanPageSize)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		offset, err := validators.ParseQueryInt(r, "offset", 0, 0, 1<<30)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		filter := loanListFilter{
			Status: strings.TrimSpace(r.URL.Query().Get("status")),
			Limit:  limit,
			Offset: offset,
		}
		if err := validators.ValidateStruct(filter); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		listFilter := loans.ListFilter{Limit: filter.Limit, Offset: filter.Offset}
		if filter.Status != "" {
			status := enums.LoanStatus(filter.Status)
			listFilter.Status = &status
		}
		lenderID, err := validators.ParseQueryUUID(r, "lender_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		listFilter.LenderUserID = lenderID
		borrowerID, err := validators.ParseQueryUUID(r, "borrower_id")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		listFilter.BorrowerUserID = borrowerID

		result, err := svc.ListLoans(ctx, listFilter)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload := loanListResponse{Loans: make([]loanResponse, len(result))}
		for i, loan := range result {
			payload.Loans[i] = toLoanResponse(loan)
		}
		responses.WriteSuccess(w, payload)
	}
}

func GetLoan(svc loans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		loanID, err := validators.ParsePathUUID(r, "loanId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithLoanID(ctx, loanID.String())

		loan, err := svc.GetLoan(ctx, loanID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toLoanResponse(*loan))
	}
}

type loanValuationResponse struct {
	ID                        string    `json:"id"`
	ExchangeRateID            string    `json:"exchange_rate_id"`
	CollateralValuationAmount string    `json:"collateral_valuation_amount"`
	LtvRatio                  string    `json:"ltv_ratio"`
	ValuationDate             time.Time `json:"valuation_date"`
}

type loanValuationsResponse struct {
	LoanID     string                  `json:"loan_id"`
	Valuations []loanValuationResponse `json:"valuations"`
}

func LoanValuations(svc loans.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		loanID, err := validators.ParsePathUUID(r, "loanId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		ctx = logg.WithLoanID(ctx, loanID.String())

		// a 404 for unknown loans rather than an empty list
		if _, err := svc.GetLoan(ctx, loanID); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		valuations, err := svc.ListValuations(ctx, loanID)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		payload := loanValuationsResponse{
			LoanID:     loanID.String(),
			Valuations: make([]loanValuationResponse, len(valuations)),
		}
		for i, valuation := range valuations {
			payload.Valuations[i] = loanValuationResponse{
				ID:                        valuation.ID.String(),
				ExchangeRateID:            valuation.ExchangeRateID.String(),
				CollateralValuationAmount: valuation.CollateralValuationAmount.String(),
				LtvRatio:                  valuation.LtvRatio.String(),
				ValuationDate:             valuation.ValuationDate,
			}
		}
		responses.WriteSuccess(w, payload)
	}
}

func toLoanResponse(loan models.Loan) loanResponse {
	resp := loanResponse{
		ID:                   loan.ID.String(),
		LoanOfferID:          loan.LoanOfferID.String(),
		LoanApplicationID:    loan.LoanApplicationID.String(),
		LenderUserID:         loan.LenderUserID.String(),
		BorrowerUserID:       loan.BorrowerUserID.String(),
		Status:               string(loan.Status),
		PrincipalCurrencyID:  loan.PrincipalCurrencyID.String(),
		PrincipalAmount:      loan.PrincipalAmount.String(),
		InterestAmount:       loan.InterestAmount.String(),
		RepaymentAmount:      loan.RepaymentAmount.String(),
		OriginationFeeAmount: loan.OriginationFeeAmount.String(),
		CollateralCurrencyID: loan.CollateralCurrencyID.String(),
		CollateralAmount:     loan.CollateralAmount.String(),
		McLtvRatio:           loan.McLtvRatio.String(),
		OriginationDate:      loan.OriginationDate,
		DisbursementDate:     loan.DisbursementDate,
		MaturityDate:         loan.MaturityDate,
		AgreementRef:         loan.AgreementRef,
	}
	if loan.CurrentLtvRatio != nil {
		current := loan.CurrentLtvRatio.String()
		resp.CurrentLtvRatio = &current
	}
	return resp
}
