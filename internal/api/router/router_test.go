package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/heartlinehq/patientflow/internal/clinicapi"
	"github.com/heartlinehq/patientflow/internal/http/handlers"
	"github.com/heartlinehq/patientflow/internal/payment"
	"github.com/heartlinehq/patientflow/internal/schedule"
	"github.com/heartlinehq/patientflow/internal/timefmt"
	"github.com/heartlinehq/patientflow/pkg/logging"
)

const testAuthSecret = "router-test-secret"

// newClinicBackend serves the minimal slice of the clinical API the flows
// touch: one cardiologist with one open slot, and a payment gateway that
// accepts code 123456.
func newClinicBackend(t *testing.T) *httptest.Server {
	t.Helper()
	slotStart := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /users", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, []clinicapi.DoctorSummary{
			{ID: "doc_1", Name: "Dr. Silva", Specialization: "Cardiologist"},
		})
	})
	mux.HandleFunc("GET /appointments/slots", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, map[string]any{
			"date":        r.URL.Query().Get("date"),
			"slotMinutes": 30,
			"slots": []clinicapi.Slot{
				{Start: slotStart, End: slotStart.Add(30 * time.Minute), Available: true},
			},
		})
	})
	mux.HandleFunc("POST /appointments", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		writeBody(w, map[string]any{"appointment": clinicapi.Appointment{
			AppointmentID: "apt_1",
			Start:         slotStart,
			End:           slotStart.Add(30 * time.Minute),
			Status:        clinicapi.StatusPending,
		}})
	})
	mux.HandleFunc("POST /payments/card/initiate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		writeBody(w, clinicapi.PaymentChallenge{
			PaymentID: "pay_1",
			OTPRefID:  "otp_1",
			OTPSentTo: "a***@example.com",
			ExpiresAt: time.Now().Add(5 * time.Minute),
		})
	})
	mux.HandleFunc("POST /payments/card/pay_1/confirm", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			OTPCode string `json:"otpCode"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.OTPCode != "123456" {
			w.WriteHeader(http.StatusBadRequest)
			writeBody(w, map[string]string{"message": "wrong code", "code": "OTP_INVALID"})
			return
		}
		writeBody(w, map[string]any{"payment": clinicapi.Payment{
			PaymentID: "pay_1",
			Status:    "CAPTURED",
			Currency:  "LKR",
		}})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeBody(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()

	logger := logging.Default()
	backend := newClinicBackend(t)
	clinic := clinicapi.NewClient(backend.URL, "test-token", logger)

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = redisClient.Close() })

	zone := timefmt.MustLoadZone("")
	store := schedule.NewStore(redisClient, time.Minute)
	wizard := schedule.NewWizard(clinic, store, zone, 30, logger, nil)
	rescheduler := schedule.NewRescheduler(clinic, store, zone, 30, logger, nil)
	machine := payment.NewMachine(clinic, payment.NewStore(redisClient, time.Minute), time.Now, logger, nil)

	cfg := &Config{
		Logger:            logger,
		ScheduleHandler:   handlers.NewScheduleHandler(wizard, rescheduler, zone, logger),
		PaymentsHandler:   handlers.NewPaymentsHandler(machine, time.Second, logger),
		PatientAuthSecret: testAuthSecret,
	}
	return New(cfg)
}

func patientToken(t *testing.T) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "patient_1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testAuthSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func doJSON(t *testing.T, router http.Handler, method, path, token string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func TestRouterHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode health response: %v", err)
	}

	if resp["status"] != "ok" {
		t.Errorf("expected status 'ok', got %q", resp["status"])
	}
}

func TestRouterRejectsMissingToken(t *testing.T) {
	router := newTestRouter(t)

	rr := doJSON(t, router, http.MethodPost, "/api/schedule/sessions", "", nil)
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestRouterBookingFlow(t *testing.T) {
	router := newTestRouter(t)
	token := patientToken(t)

	rr := doJSON(t, router, http.MethodPost, "/api/schedule/sessions", token, nil)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rr.Code, rr.Body.String())
	}
	var created struct {
		Session struct {
			ID string `json:"id"`
		} `json:"session"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode session: %v", err)
	}
	base := "/api/schedule/sessions/" + created.Session.ID

	rr = doJSON(t, router, http.MethodPost, base+"/specialization", token, map[string]string{"specialization": "Cardiologist"})
	if rr.Code != http.StatusOK {
		t.Fatalf("specialization step failed: %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), "Dr. Silva") {
		t.Errorf("expected doctors in response, got %s", rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodPost, base+"/doctor", token, map[string]any{
		"doctor": map[string]string{"id": "doc_1", "name": "Dr. Silva", "specialization": "Cardiologist"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("doctor step failed: %d %s", rr.Code, rr.Body.String())
	}

	slotStart := time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)
	rr = doJSON(t, router, http.MethodPost, base+"/slot", token, map[string]any{
		"start": slotStart,
		"end":   slotStart.Add(30 * time.Minute),
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("slot step failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodPost, base+"/advance", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("advance failed: %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, router, http.MethodPost, base+"/notes", token, map[string]string{"reason": "checkup"})
	if rr.Code != http.StatusOK {
		t.Fatalf("notes step failed: %d %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodPost, base+"/confirm", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm failed: %d %s", rr.Code, rr.Body.String())
	}
	var confirmed struct {
		Session struct {
			Stage     string `json:"stage"`
			Committed *clinicapi.Appointment
		} `json:"session"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&confirmed); err != nil {
		t.Fatalf("failed to decode confirm response: %v", err)
	}
	if confirmed.Session.Stage != "DONE" {
		t.Errorf("expected stage DONE, got %s", confirmed.Session.Stage)
	}
	if confirmed.Session.Committed == nil || confirmed.Session.Committed.Status != clinicapi.StatusPending {
		t.Errorf("expected committed PENDING appointment, got %+v", confirmed.Session.Committed)
	}
}

func TestRouterPaymentFlow(t *testing.T) {
	router := newTestRouter(t)
	token := patientToken(t)

	initiate := map[string]any{
		"breakdown": map[string]int64{"consultationFee": 150000, "processingFee": 5000},
		"currency":  "LKR",
		"card": map[string]any{
			"number":     "4111111111111111",
			"expMonth":   12,
			"expYear":    2030,
			"cvv":        "123",
			"holderName": "N Fernando",
		},
	}
	rr := doJSON(t, router, http.MethodPost, "/api/payments/sessions", token, initiate)
	if rr.Code != http.StatusCreated {
		t.Fatalf("initiate failed: %d %s", rr.Code, rr.Body.String())
	}
	var challenge struct {
		Session struct {
			ID    string `json:"id"`
			State string `json:"state"`
		} `json:"session"`
		RemainingSeconds int64 `json:"remainingSeconds"`
	}
	if err := json.NewDecoder(rr.Body).Decode(&challenge); err != nil {
		t.Fatalf("failed to decode challenge: %v", err)
	}
	if challenge.Session.State != "CHALLENGED" {
		t.Fatalf("expected CHALLENGED, got %s", challenge.Session.State)
	}
	if challenge.RemainingSeconds <= 0 {
		t.Fatalf("expected positive countdown, got %d", challenge.RemainingSeconds)
	}
	base := "/api/payments/sessions/" + challenge.Session.ID

	// Wrong code: 422 with the session still retryable.
	rr = doJSON(t, router, http.MethodPost, base+"/confirm", token, map[string]string{"otpCode": "999999"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status %d for wrong code, got %d: %s", http.StatusUnprocessableEntity, rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"attemptsUsed":1`) {
		t.Errorf("expected attemptsUsed 1 in response, got %s", rr.Body.String())
	}

	rr = doJSON(t, router, http.MethodPost, base+"/confirm", token, map[string]string{"otpCode": "123456"})
	if rr.Code != http.StatusOK {
		t.Fatalf("confirm failed: %d %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"state":"CAPTURED"`) {
		t.Errorf("expected captured state, got %s", rr.Body.String())
	}
}
