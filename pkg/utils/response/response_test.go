package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeduel/pkg/errors"
	"codeduel/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

func serve(t *testing.T, h gin.HandlerFunc) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/", func(c *gin.Context) {
		c.Set("trace_id", "trace-1")
		h(c)
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	var body response.Response
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return rec, body
}

func TestSuccessEnvelope(t *testing.T) {
	rec, body := serve(t, func(c *gin.Context) { response.Created(c, map[string]string{"duel_id": "d1"}) })
	if rec.Code != http.StatusCreated || body.Code != errors.Success || body.TraceID != "trace-1" {
		t.Fatalf("unexpected envelope: %d %+v", rec.Code, body)
	}
	if data, ok := body.Data.(map[string]interface{}); !ok || data["duel_id"] != "d1" {
		t.Fatalf("unexpected data: %#v", body.Data)
	}
}

func TestErrorEnvelopeUsesCodeStatus(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   errors.ErrorCode
	}{
		{name: "conflict", err: errors.New(errors.DuelFull), status: http.StatusConflict, code: errors.DuelFull},
		{name: "busy", err: errors.New(errors.JudgeQueueFull), status: http.StatusServiceUnavailable, code: errors.JudgeQueueFull},
		{name: "plain error", err: http.ErrHandlerTimeout, status: http.StatusInternalServerError, code: errors.InternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := serve(t, func(c *gin.Context) { response.AbortWithError(c, tc.err) })
			if rec.Code != tc.status || body.Code != tc.code {
				t.Fatalf("expected %d/%d, got %d/%d", tc.status, tc.code, rec.Code, body.Code)
			}
		})
	}
}

func TestBadRequestKeepsMessage(t *testing.T) {
	rec, body := serve(t, func(c *gin.Context) { response.BadRequest(c, "task_id is required") })
	if rec.Code != http.StatusBadRequest || body.Message != "task_id is required" {
		t.Fatalf("unexpected response: %d %+v", rec.Code, body)
	}
}
