package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/heartlinehq/patientflow/internal/http/handlers"
	httpmiddleware "github.com/heartlinehq/patientflow/internal/http/middleware"
	"github.com/heartlinehq/patientflow/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	ScheduleHandler    *handlers.ScheduleHandler
	PaymentsHandler    *handlers.PaymentsHandler
	PatientAuthSecret  string
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// OTP confirm rate limit per client IP (0 disables).
	ConfirmRatePerSec float64
	ConfirmBurst      int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Get("/health", healthCheck)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	// Patient-facing flow endpoints
	r.Route("/api", func(api chi.Router) {
		api.Use(httpmiddleware.PatientJWT(cfg.PatientAuthSecret))

		if cfg.ScheduleHandler != nil {
			api.Route("/schedule", func(s chi.Router) {
				s.Post("/sessions", cfg.ScheduleHandler.StartSession)
				s.Route("/sessions/{sessionID}", func(sess chi.Router) {
					sess.Get("/", cfg.ScheduleHandler.GetSession)
					sess.Delete("/", cfg.ScheduleHandler.AbandonSession)
					sess.Post("/specialization", cfg.ScheduleHandler.ChooseSpecialization)
					sess.Post("/doctor", cfg.ScheduleHandler.SelectDoctor)
					sess.Post("/date", cfg.ScheduleHandler.SelectDate)
					sess.Post("/slot", cfg.ScheduleHandler.SelectSlot)
					sess.Post("/advance", cfg.ScheduleHandler.Advance)
					sess.Post("/back", cfg.ScheduleHandler.Back)
					sess.Post("/notes", cfg.ScheduleHandler.SetNotes)
					sess.Post("/confirm", cfg.ScheduleHandler.Confirm)
				})
				s.Post("/reschedules", cfg.ScheduleHandler.OpenReschedule)
				s.Route("/reschedules/{sessionID}", func(rs chi.Router) {
					rs.Get("/", cfg.ScheduleHandler.GetReschedule)
					rs.Delete("/", cfg.ScheduleHandler.CloseReschedule)
					rs.Post("/date", cfg.ScheduleHandler.RescheduleDate)
					rs.Post("/slot", cfg.ScheduleHandler.RescheduleSlot)
					rs.Post("/confirm", cfg.ScheduleHandler.RescheduleConfirm)
				})
			})
			api.Delete("/appointments/{appointmentID}", cfg.ScheduleHandler.CancelAppointment)
		}

		if cfg.PaymentsHandler != nil {
			api.Route("/payments", func(p chi.Router) {
				p.Get("/me", cfg.PaymentsHandler.ListMyPayments)
				p.Post("/sessions", cfg.PaymentsHandler.Initiate)
				p.Route("/sessions/{sessionID}", func(sess chi.Router) {
					sess.Get("/", cfg.PaymentsHandler.GetChallenge)
					sess.Get("/countdown", cfg.PaymentsHandler.StreamCountdown)
					sess.Delete("/", cfg.PaymentsHandler.Abandon)
					sess.Post("/restart", cfg.PaymentsHandler.Restart)
					// OTP guessing is the abuse vector here; confirm gets a
					// per-IP rate limit on top of the attempt counter.
					confirm := sess.With()
					if cfg.ConfirmRatePerSec > 0 {
						confirm = sess.With(httpmiddleware.RateLimit(cfg.ConfirmRatePerSec, cfg.ConfirmBurst))
					}
					confirm.Post("/confirm", cfg.PaymentsHandler.Confirm)
				})
				p.Get("/{paymentID}", cfg.PaymentsHandler.GetPayment)
			})
		}
	})

	return r
}

func healthCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
