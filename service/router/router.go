package router

import (
	"net/http"
	"strconv"
	"time"

	"github.com/antinvestor/service-chama/service/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chama_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chama_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"method", "endpoint"})
)

func NewRouter(cs *handlers.ChamaServer) *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(instrument)

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", handlers.HealthHandler).Methods("GET")

	mpesa := router.PathPrefix("/api/mpesa").Subrouter()
	mpesa.HandleFunc("/initiate-contribution", cs.InitiateContribution).Methods("POST")
	mpesa.HandleFunc("/contribute", cs.InitiateContribution).Methods("POST")
	mpesa.HandleFunc("/initiate-loan-repayment", cs.InitiateLoanRepayment).Methods("POST")
	mpesa.HandleFunc("/repay-loan", cs.InitiateLoanRepayment).Methods("POST")
	mpesa.HandleFunc("/callback", cs.HandleMpesaCallback).Methods("POST")
	mpesa.HandleFunc("/payment-status/{checkout_request_id}", cs.PaymentStatus).Methods("GET")
	mpesa.HandleFunc("/pending", cs.PendingPayments).Methods("GET")
	mpesa.HandleFunc("/simulate-callback", cs.SimulateCallback).Methods("POST")
	mpesa.HandleFunc("/config-status", cs.ConfigStatus).Methods("GET")

	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.HandleFunc("/overpayments", cs.ListOverpayments).Methods("GET")
	admin.HandleFunc("/overpayments/{id}/allocate", cs.AllocateOverpayment).Methods("POST")
	admin.HandleFunc("/loans/{id}/approve", cs.ApproveLoan).Methods("POST")
	admin.HandleFunc("/loans/{id}/reject", cs.RejectLoan).Methods("POST")
	admin.HandleFunc("/payments/sweep", cs.SweepPayments).Methods("POST")
	admin.HandleFunc("/payments/cleanup", cs.CleanupPayments).Methods("POST")
	admin.HandleFunc("/unmatched", cs.ListUnmatched).Methods("GET")
	admin.HandleFunc("/unmatched/{id}/dismiss", cs.DismissUnmatched).Methods("POST")

	return router
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (sr *statusRecorder) WriteHeader(status int) {
	sr.status = status
	sr.ResponseWriter.WriteHeader(status)
}

// instrument labels requests by route template so ids do not explode cardinality.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)

		httpLatency.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpReqTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(recorder.status)).Inc()
	})
}
