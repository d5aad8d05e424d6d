package main

import (
	"fmt"
	"net/http"

	"github.com/mcclellann/loanledger/pkg/invoice"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
)

type loanRequest struct {
	DebtorName        string          `json:"debtor_name" validate:"required,max=255"`
	OriginalPrincipal decimal.Decimal `json:"original_principal" validate:"gt=0"`
	InterestRate      decimal.Decimal `json:"interest_rate" validate:"gte=0"`
	StartDate         models.Date     `json:"start_date" validate:"required"`
	Destiny           string          `json:"destiny" validate:"max=255"`
}

func (req loanRequest) toLedger() ledger.LoanRequest {
	return ledger.LoanRequest{
		DebtorName:   req.DebtorName,
		Principal:    req.OriginalPrincipal,
		InterestRate: req.InterestRate,
		StartDate:    req.StartDate,
		Destiny:      req.Destiny,
	}
}

type paymentRequest struct {
	Amount         decimal.Decimal `json:"amount" validate:"gt=0"`
	Date           models.Date     `json:"date"` // Defaults to today
	LoanID         *int            `json:"loan_id" validate:"omitempty,gt=0"`
	AllowBackdated bool            `json:"allow_backdated"`
	Description    string          `json:"description" validate:"max=255"`
}

type transactionRequest struct {
	Type          models.TransactionType `json:"transaction_type" validate:"required,oneof=deposit withdrawal"`
	Amount        decimal.Decimal        `json:"transaction_amount" validate:"gt=0"`
	RelatedLoanID *int                   `json:"related_loan_id" validate:"omitempty,gt=0"`
	Description   string                 `json:"description" validate:"max=255"`
	Date          models.Date            `json:"date"` // Defaults to today
}

func (s *Server) createLoanHandler(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ledger.CreateLoan(r.Context(), req.toLedger())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) getLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	loan, err := s.ledger.GetLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loan)
}

func (s *Server) listLoansHandler(w http.ResponseWriter, r *http.Request) {
	loans, err := s.ledger.Loans(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (s *Server) updateLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req loanRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ledger.EditLoan(r.Context(), id, req.toLedger())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) deleteLoanHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.DeleteLoan(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// loanInterestHandler replays a loan's interest up to ?date=, today by default.
func (s *Server) loanInterestHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	asOf := s.ledger.Today()
	if raw := r.URL.Query().Get("date"); raw != "" {
		if asOf, err = models.ParseDate(raw); err != nil {
			s.writeError(w, r, models.NewValidationError("date", "%v", err))
			return
		}
	}
	acc, err := s.ledger.LoanInterest(r.Context(), id, asOf)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, acc)
}

func (s *Server) listPaymentsHandler(w http.ResponseWriter, r *http.Request) {
	payments, err := s.ledger.Payments(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

func (s *Server) recordPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		req.Date = s.ledger.Today()
	}
	res, err := s.ledger.ProcessPayment(r.Context(), ledger.PaymentRequest{
		Amount:         req.Amount,
		Date:           req.Date,
		LoanID:         req.LoanID,
		AllowBackdated: req.AllowBackdated,
		Description:    req.Description,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) deletePaymentHandler(w http.ResponseWriter, r *http.Request) {
	id, err := intVar(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.ledger.DeletePayment(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) listInterestEventsHandler(w http.ResponseWriter, r *http.Request) {
	events, err := s.ledger.InterestEvents(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) listTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	txs, err := s.ledger.Transactions(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, txs)
}

func (s *Server) recordTransactionHandler(w http.ResponseWriter, r *http.Request) {
	var req transactionRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Date.IsZero() {
		req.Date = s.ledger.Today()
	}
	tx, err := s.ledger.RecordTransaction(r.Context(), ledger.TransactionRequest{
		Type:          req.Type,
		Amount:        req.Amount,
		RelatedLoanID: req.RelatedLoanID,
		Description:   req.Description,
		Date:          req.Date,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

// balanceHandler returns the cached balance together with the summation check.
func (s *Server) balanceHandler(w http.ResponseWriter, r *http.Request) {
	check, err := s.ledger.VerifyBalance(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"balance":  check.Cached,
		"verified": check,
	})
}

func (s *Server) listInvoicesHandler(w http.ResponseWriter, r *http.Request) {
	invoices, err := s.ledger.Invoices().List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (s *Server) backfillHandler(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	res, err := s.ledger.Invoices().Backfill(r.Context(), force)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) generationStatusHandler(w http.ResponseWriter, r *http.Request) {
	st, err := s.ledger.Invoices().GenerationStatus(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) getInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	month, year, err := period(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.ledger.Invoices().Get(r.Context(), month, year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) regenerateInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	month, year, err := period(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.ledger.Invoices().Generate(r.Context(), month, year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (s *Server) deleteInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	month, year, err := period(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.ledger.Invoices().DeleteInvoice(r.Context(), month, year); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) validateInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	month, year, err := period(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	report, err := s.ledger.Invoices().Validate(r.Context(), month, year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) exportInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	month, year, err := period(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	inv, err := s.ledger.Invoices().Get(r.Context(), month, year)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", inv.ID+".xlsx"))
	if err := invoice.WriteXLSX(w, inv); err != nil {
		s.logger.WithField("invoice", inv.ID).WithError(err).Error("export failed")
	}
}

func (s *Server) dashboardHandler(w http.ResponseWriter, r *http.Request) {
	sum, err := s.ledger.Summary(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
