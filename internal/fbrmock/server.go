// Package fbrmock emulates the FBR digital invoicing gateway for local development and tests.
package fbrmock

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"einvoice/internal/fbr"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var tolerance = decimal.RequireFromString("0.01")

type failure struct {
	status int
	left   int
}

// Server is an in-memory gateway. It checks the bearer token, applies a subset of the
// gateway's field rules and hands out invoice numbers on post.
type Server struct {
	router *mux.Router
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time

	mu       sync.Mutex
	seq      int
	posted   map[string]string // invoiceRefNo -> invoice number
	calls    map[fbr.Operation]int
	failures map[fbr.Operation]*failure
}

// NewServer creates a gateway emulator.
func NewServer(cfg Config, log zerolog.Logger) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		cfg:      cfg,
		log:      log,
		now:      time.Now,
		posted:   make(map[string]string),
		calls:    make(map[fbr.Operation]int),
		failures: make(map[fbr.Operation]*failure),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	for _, suffix := range []string{"", "_sb"} {
		s.router.HandleFunc("/di_data/v1/di/validateinvoicedata"+suffix, s.handle(fbr.OpValidate)).Methods(http.MethodPost)
		s.router.HandleFunc("/di_data/v1/di/postinvoicedata"+suffix, s.handle(fbr.OpPost)).Methods(http.MethodPost)
	}
	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
	}).Methods(http.MethodGet)
	s.router.Use(s.loggingMiddleware)
}

// Start listens on port until the server fails.
func (s *Server) Start(port int) error {
	s.log.Info().
		Int("port", port).
		Strs("reject_scenarios", s.cfg.RejectScenarios).
		Dur("latency", s.cfg.Latency).
		Msg("FBR sandbox emulator listening")

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// FailNext makes the next n calls to op answer with the given HTTP status.
func (s *Server) FailNext(op fbr.Operation, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{status: status, left: n}
}

// Calls returns how many requests reached op, including failed ones.
func (s *Server) Calls(op fbr.Operation) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// Posted returns the number of distinct invoices accepted by post.
func (s *Server) Posted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posted)
}

func (s *Server) handle(op fbr.Operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Latency > 0 {
			time.Sleep(s.cfg.Latency)
		}

		s.mu.Lock()
		s.calls[op]++
		if f := s.failures[op]; f != nil && f.left > 0 {
			f.left--
			s.mu.Unlock()
			http.Error(w, http.StatusText(f.status), f.status)
			return
		}
		s.mu.Unlock()

		if !s.authorized(r) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var payload fbr.InvoicePayload
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			writeJSON(w, http.StatusBadRequest, invalid("0001", "malformed request: "+err.Error(), nil))
			return
		}

		if resp := s.check(&payload); resp != nil {
			writeJSON(w, http.StatusOK, resp)
			return
		}

		resp := &fbr.Response{
			Dated: s.now().Format("2006-01-02 15:04:05"),
			ValidationResponse: fbr.ValidationResponse{
				StatusCode: "00",
				Status:     "Valid",
			},
		}
		for i := range payload.Items {
			resp.ValidationResponse.InvoiceStatuses = append(resp.ValidationResponse.InvoiceStatuses, fbr.ItemStatus{
				ItemSNo:    fmt.Sprint(i + 1),
				StatusCode: "00",
				Status:     "Valid",
			})
		}

		if op == fbr.OpPost {
			number := s.assignNumber(&payload)
			resp.InvoiceNumber = number
			for i := range resp.ValidationResponse.InvoiceStatuses {
				resp.ValidationResponse.InvoiceStatuses[i].InvoiceNo = fmt.Sprintf("%s-%d", number, i+1)
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.cfg.Token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.cfg.Token
}

// assignNumber is idempotent per invoiceRefNo.
func (s *Server) assignNumber(p *fbr.InvoicePayload) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.posted[p.InvoiceRefNo]; ok && p.InvoiceRefNo != "" {
		return n
	}
	s.seq++
	n := fmt.Sprintf("%sDI%d%04d", p.SellerNTNCNIC, s.now().Unix(), s.seq)
	s.posted[p.InvoiceRefNo] = n
	return n
}

// check returns an Invalid response for the first rule the payload breaks, or nil.
func (s *Server) check(p *fbr.InvoicePayload) *fbr.Response {
	for _, id := range s.cfg.RejectScenarios {
		if strings.EqualFold(id, p.ScenarioID) {
			return invalid("0052", fmt.Sprintf("scenario %s is not enabled for this taxpayer", p.ScenarioID), nil)
		}
	}

	switch p.InvoiceType {
	case "Sale Invoice", "Debit Note", "Credit Note":
	default:
		return invalid("0011", "Provide valid invoice type", nil)
	}
	if _, err := time.Parse("2006-01-02", p.InvoiceDate); err != nil {
		return invalid("0043", "Provide valid invoice date", nil)
	}
	if !validID(p.SellerNTNCNIC) {
		return invalid("0401", "Provide valid seller NTN/CNIC", nil)
	}
	if p.BuyerRegistrationType == "Registered" && !validID(p.BuyerNTNCNIC) {
		return invalid("0002", "Provide valid buyer NTN/CNIC for registered buyer", nil)
	}
	if p.SellerProvince == "" || p.BuyerProvince == "" {
		return invalid("0073", "Provide seller and buyer province", nil)
	}
	if len(p.Items) == 0 {
		return invalid("0021", "Invoice must contain at least one item", nil)
	}

	var items []fbr.ItemStatus
	for i, it := range p.Items {
		if msg := checkItem(it); msg != "" {
			items = append(items, fbr.ItemStatus{
				ItemSNo:    fmt.Sprint(i + 1),
				StatusCode: "01",
				Status:     "Invalid",
				ErrorCode:  "0102",
				Error:      msg,
			})
		}
	}
	if len(items) > 0 {
		return invalid("", "", items)
	}
	return nil
}

func checkItem(it fbr.PayloadItem) string {
	if it.HSCode == "" {
		return "Provide HS Code"
	}
	if it.UoM == "" {
		return "Provide UoM"
	}
	if !it.Quantity.IsPositive() {
		return "Quantity must be greater than zero"
	}
	rate, err := parseRate(it.Rate)
	if err != nil {
		return "Provide valid rate"
	}
	expected := it.ValueSalesExcludingST.Mul(rate).Div(decimal.NewFromInt(100))
	if expected.Sub(it.SalesTaxApplicable.Decimal).Abs().GreaterThan(tolerance) {
		return fmt.Sprintf("Calculated sales tax not matched with provided sales tax (expected %s)", expected.StringFixed(2))
	}
	return ""
}

func parseRate(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "Exempt") {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(strings.TrimSuffix(s, "%"))
}

func validID(id string) bool {
	if len(id) != fbr.NTNLength && len(id) != fbr.CNICLength {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func invalid(code, msg string, items []fbr.ItemStatus) *fbr.Response {
	return &fbr.Response{
		ValidationResponse: fbr.ValidationResponse{
			StatusCode:      "01",
			Status:          "Invalid",
			ErrorCode:       code,
			Error:           msg,
			InvoiceStatuses: items,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
