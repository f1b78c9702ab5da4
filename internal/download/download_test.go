package download

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/KarelPeeters/DigitalMeter/internal/sample"
	"github.com/KarelPeeters/DigitalMeter/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *store.Store) {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	st, err := store.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewHandler("sqlite", dsn), st
}

func ts(v int64) *int64 { return &v }

func TestCSVBitExactSingleRow(t *testing.T) {
	h, st := newTestHandler(t)

	ts0 := int64(1_700_000_000)
	// p2 and p3 stay NaN (missing), so their CSV fields are empty.
	smp := sample.NewMeterSample()
	smp.Timestamp, smp.InstantPower1 = &ts0, 0.123
	if _, err := st.Insert(smp); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet,
		"/download/samples_power.csv?quantity=power&bucket_size=1&oldest=1700000000&newest=1700000001", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	want := "timestamp,instant_power_1,instant_power_2,instant_power_3\n1700000000,0.123,,\n"
	if string(body) != want {
		t.Fatalf("got:\n%q\nwant:\n%q", string(body), want)
	}
}

func TestCSVBackendFormatUsesTabAndComma(t *testing.T) {
	h, st := newTestHandler(t)

	ts0 := int64(1_700_000_000)
	// p2 and p3 stay NaN (missing), so their CSV fields are empty.
	smp := sample.NewMeterSample()
	smp.Timestamp, smp.InstantPower1 = &ts0, 0.123
	if _, err := st.Insert(smp); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet,
		"/download/samples_power.csv?quantity=power&bucket_size=1&oldest=1700000000&newest=1700000001&format=csv-be", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	want := "timestamp,instant_power_1,instant_power_2,instant_power_3\n1700000000\t0,123\t\t\n"
	if string(body) != want {
		t.Fatalf("got:\n%q\nwant:\n%q", string(body), want)
	}
}

func TestJSONRejectsUnboundedRequest(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/download/samples_power.json?quantity=power", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	if !contains(string(body), `"error":"too many items requested"`) {
		t.Fatalf("expected too-many-items error, got %q", string(body))
	}
}

func TestMissingQuantityReturnsHTMLError(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/download/samples_power.csv", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	body, _ := io.ReadAll(rec.Result().Body)
	if !contains(string(body), "Missing parameter") {
		t.Fatalf("expected a missing-parameter message, got %q", string(body))
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && (func() bool {
		for i := 0; i+len(substr) <= len(s); i++ {
			if s[i:i+len(substr)] == substr {
				return true
			}
		}
		return false
	})()
}
