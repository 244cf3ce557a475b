package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/estuarylab/knowledged/internal/ask"
)

type stubAsker struct {
	resp    ask.Response
	err     error
	lastReq ask.Request
	calls   int
}

func (s *stubAsker) Ask(ctx context.Context, req ask.Request) (ask.Response, error) {
	s.calls++
	s.lastReq = req
	return s.resp, s.err
}

func doAsk(t *testing.T, h *AskHandler, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := newEcho()
	h.Register(e.Group("/api"))
	req := httptest.NewRequest(http.MethodPost, "/api/ask", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAskHandlerSuccess(t *testing.T) {
	stub := &stubAsker{resp: ask.Response{Answer: "use the vpn [doc-net]", Citations: []string{"doc-net"}}}
	rec := doAsk(t, &AskHandler{Asker: stub},
		`{"query":"how do I reach the vpn?","user_groups":["slack:public"],"top_k":4}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp ask.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Answer != "use the vpn [doc-net]" || len(resp.Citations) != 1 {
		t.Fatalf("resp = %+v", resp)
	}
	if stub.lastReq.TopK != 4 || len(stub.lastReq.UserGroups) != 1 {
		t.Fatalf("bound request = %+v", stub.lastReq)
	}
}

func TestAskHandlerRejectsBlankQuery(t *testing.T) {
	stub := &stubAsker{}
	rec := doAsk(t, &AskHandler{Asker: stub}, `{"query":"  "}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if stub.calls != 0 {
		t.Fatal("service called for a blank query")
	}
}

func TestAskHandlerRejectsBadPayload(t *testing.T) {
	rec := doAsk(t, &AskHandler{Asker: &stubAsker{}}, `{"query":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAskHandlerHidesInternalErrors(t *testing.T) {
	stub := &stubAsker{err: errors.New("pinecone host unreachable at 10.1.2.3")}
	rec := doAsk(t, &AskHandler{Asker: stub}, `{"query":"q"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "pinecone") {
		t.Fatalf("backend detail leaked to the caller: %s", rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "internal error" {
		t.Fatalf("error = %q", body["error"])
	}
}

func TestHealthz(t *testing.T) {
	e := newEcho()
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("status = %d, body = %q", rec.Code, rec.Body.String())
	}
}
