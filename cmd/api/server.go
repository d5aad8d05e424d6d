package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mcclellann/loanledger/pkg/ledger"
	"github.com/mcclellann/loanledger/pkg/lock"
	"github.com/mcclellann/loanledger/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Server holds the ledger instance.
type Server struct {
	ledger   *ledger.Ledger
	logger   logrus.FieldLogger
	validate *validator.Validate
}

func NewServer(l *ledger.Ledger, logger logrus.FieldLogger) *Server {
	return &Server{
		ledger:   l,
		logger:   logger,
		validate: newValidator(),
	}
}

// newValidator lets struct tags like gt=0 and required apply to decimals and
// dates.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		if name := jsonName(f); name != "" {
			return name
		}
		return f.Name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(models.Date); ok {
			return d.String()
		}
		return nil
	}, models.Date{})
	return v
}

func jsonName(f reflect.StructField) string {
	tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	if tag == "-" {
		return ""
	}
	return tag
}

func (s *Server) Routes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.requestLogger)

	router.HandleFunc("/loans", s.listLoansHandler).Methods("GET")
	router.HandleFunc("/loans", s.createLoanHandler).Methods("POST")
	router.HandleFunc("/loans/{id:[0-9]+}", s.getLoanHandler).Methods("GET")
	router.HandleFunc("/loans/{id:[0-9]+}", s.updateLoanHandler).Methods("PUT")
	router.HandleFunc("/loans/{id:[0-9]+}", s.deleteLoanHandler).Methods("DELETE")
	router.HandleFunc("/loans/{id:[0-9]+}/interest", s.loanInterestHandler).Methods("GET")

	router.HandleFunc("/payments", s.listPaymentsHandler).Methods("GET")
	router.HandleFunc("/payments", s.recordPaymentHandler).Methods("POST")
	router.HandleFunc("/payments/{id:[0-9]+}", s.deletePaymentHandler).Methods("DELETE")
	router.HandleFunc("/interest-events", s.listInterestEventsHandler).Methods("GET")

	router.HandleFunc("/account/transactions", s.listTransactionsHandler).Methods("GET")
	router.HandleFunc("/account/transactions", s.recordTransactionHandler).Methods("POST")
	router.HandleFunc("/account/balance", s.balanceHandler).Methods("GET")

	router.HandleFunc("/invoices", s.listInvoicesHandler).Methods("GET")
	router.HandleFunc("/invoices/backfill", s.backfillHandler).Methods("POST")
	router.HandleFunc("/invoices/status", s.generationStatusHandler).Methods("GET")
	router.HandleFunc("/invoices/{year:[0-9]{4}}/{month:[0-9]{1,2}}", s.getInvoiceHandler).Methods("GET")
	router.HandleFunc("/invoices/{year:[0-9]{4}}/{month:[0-9]{1,2}}", s.deleteInvoiceHandler).Methods("DELETE")
	router.HandleFunc("/invoices/{year:[0-9]{4}}/{month:[0-9]{1,2}}/regenerate", s.regenerateInvoiceHandler).Methods("POST")
	router.HandleFunc("/invoices/{year:[0-9]{4}}/{month:[0-9]{1,2}}/validate", s.validateInvoiceHandler).Methods("GET")
	router.HandleFunc("/invoices/{year:[0-9]{4}}/{month:[0-9]{1,2}}/export", s.exportInvoiceHandler).Methods("GET")

	router.HandleFunc("/dashboard", s.dashboardHandler).Methods("GET")
	return router
}

// requestLogger tags every request with an id and logs its outcome.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.WithFields(logrus.Fields{
			"request_id": id,
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"duration":   time.Since(start).String(),
		}).Info("request handled")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

type errorResponse struct {
	Error  string            `json:"error"`
	Field  string            `json:"field,omitempty"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the ledger's error types onto status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *models.ValidationError
		ce *models.ConsistencyError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), Field: ve.Field})
	case models.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.As(err, &ce), errors.Is(err, lock.ErrBusy):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	default:
		s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
			"error":  err.Error(),
		}).Error("request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
}

// decode reads a JSON body into dst and runs the struct validations.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: ProcessValidationErrors(fieldErrs)})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return false
	}
	return true
}

// ProcessValidationErrors flattens validator errors to field -> failed tag.
func ProcessValidationErrors(errs validator.ValidationErrors) map[string]string {
	out := make(map[string]string, len(errs))
	for _, fe := range errs {
		out[fe.Field()] = fe.Tag()
	}
	return out
}

func intVar(r *http.Request, name string) (int, error) {
	v, err := strconv.Atoi(mux.Vars(r)[name])
	if err != nil {
		return 0, models.NewValidationError(name, "invalid %s", name)
	}
	return v, nil
}

func period(r *http.Request) (month, year int, err error) {
	if month, err = intVar(r, "month"); err != nil {
		return
	}
	year, err = intVar(r, "year")
	return
}
