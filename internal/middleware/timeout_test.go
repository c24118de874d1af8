package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/logging"
)

func TestTimeoutPassesThroughFastHandler(t *testing.T) {
	log := logging.New("test", "error", "json")
	h := Timeout(time.Second, log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a handler well within the deadline", rec.Code)
	}
}

func TestTimeoutReturns504ForSlowHandler(t *testing.T) {
	log := logging.New("test", "error", "json")
	unblock := make(chan struct{})
	h := Timeout(5*time.Millisecond, log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-unblock
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(func() { close(unblock) })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("status = %d, want 504 once the deadline elapses", rec.Code)
	}
}
