package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestRequestID_Generates(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := RequestID()(func(c echo.Context) error { return nil })(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	rid, _ := c.Get("request_id").(string)
	if rid == "" {
		t.Error("expected generated request id")
	}
	if rec.Header().Get(requestIDHeader) != rid {
		t.Error("expected request id echoed in response header")
	}
}

func TestRequestID_HonorsIncoming(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	c := e.NewContext(req, httptest.NewRecorder())

	_ = RequestID()(func(c echo.Context) error { return nil })(c)
	if rid, _ := c.Get("request_id").(string); rid != "abc-123" {
		t.Errorf("expected incoming id kept, got %q", rid)
	}
}

func TestRecovery_Panic(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	logger := zerolog.New(os.Stderr)
	err := Recovery(logger)(func(c echo.Context) error {
		panic("boom")
	})(c)
	if err == nil {
		t.Fatal("expected error from recovered panic")
	}
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusInternalServerError {
		t.Errorf("expected 500 HTTPError, got %v", err)
	}
}

func TestLogger_PassesError(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	logger := zerolog.New(os.Stderr)
	wantErr := echo.NewHTTPError(http.StatusBadRequest, "bad")
	err := Logger(logger)(func(c echo.Context) error { return wantErr })(c)
	if err != wantErr {
		t.Errorf("expected error passed through, got %v", err)
	}
}

func TestLogger_TagsRequestScope(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	c.Set("request_id", "req-7")
	c.Set("tenant_id", "citycare")
	c.SetParamNames("pharmacyId")
	c.SetParamValues("ph-42")

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	if err := Logger(logger)(func(c echo.Context) error { return nil })(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not JSON: %v", err)
	}
	if line["request_id"] != "req-7" || line["tenant"] != "citycare" || line["pharmacy_id"] != "ph-42" {
		t.Errorf("scope fields missing from log line: %v", line)
	}
}

func TestLogger_ClientErrorsLogAtWarn(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	_ = Logger(logger)(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusNotFound, "missing")
	})(c)

	var line map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("log line not JSON: %v", err)
	}
	if line["level"] != "warn" {
		t.Errorf("level = %v, want warn", line["level"])
	}
	if line["status"] != float64(http.StatusNotFound) {
		t.Errorf("status = %v, want 404", line["status"])
	}
}
