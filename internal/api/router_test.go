package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"whatsapp-automation/internal/autoreply"
	"whatsapp-automation/internal/contacts"
	"whatsapp-automation/internal/followup"
	"whatsapp-automation/internal/gateway"
	"whatsapp-automation/internal/messages"
	"whatsapp-automation/internal/scheduler"
	"whatsapp-automation/internal/testutil"
	"whatsapp-automation/internal/whatsapp"
	apperrors "whatsapp-automation/pkg/errors"

	"github.com/gin-gonic/gin"
)

type offlineSession struct{}

func (offlineSession) Connect(ctx context.Context, phone string) (string, error) {
	return "", apperrors.PairingFailed
}
func (offlineSession) Disconnect(ctx context.Context) error { return apperrors.NotConnected }
func (offlineSession) Status() whatsapp.Status {
	return whatsapp.Status{State: whatsapp.StateDisconnected}
}
func (offlineSession) IsConnected() bool { return false }
func (offlineSession) Send(ctx context.Context, to string, p whatsapp.Payload) error {
	return apperrors.NotConnected
}
func (offlineSession) SendStatus(ctx context.Context, p whatsapp.Payload) error {
	return apperrors.NotConnected
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := testutil.NewDB(t)
	log := testutil.Logger()
	gw := gateway.New(gateway.Deps{
		Session:   offlineSession{},
		Contacts:  contacts.NewDirectory(db, 0, log),
		Messages:  messages.NewLog(db),
		Scheduler: scheduler.NewService(db, log),
		FollowUps: followup.NewEngine(db, log),
		Replies:   autoreply.NewEngine(db, log),
	}, log)
	return NewRouter(gw, Options{}, log)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestStatusEndpoint(t *testing.T) {
	r := newTestRouter(t)
	w := do(r, http.MethodGet, "/api/whatsapp/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code = %d", w.Code)
	}
	if got := decode(t, w)["state"]; got != "disconnected" {
		t.Fatalf("state = %v", got)
	}
}

func TestSendWhileDisconnectedIsConflict(t *testing.T) {
	r := newTestRouter(t)
	w := do(r, http.MethodPost, "/api/whatsapp/send", `{"to":"22670000000","message":"Bonjour"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["code"]; got != apperrors.NotConnected.Code {
		t.Fatalf("error code = %v", got)
	}
}

func TestSchedulePastTimeIsBadRequest(t *testing.T) {
	r := newTestRouter(t)
	past := time.Now().Add(-time.Hour).UTC().Format(time.RFC3339)
	body := `{"kind":"TEXT","message":"Promo","scheduled_at":"` + past + `","recipients":[{"recipient":"22670000000"}]}`
	w := do(r, http.MethodPost, "/api/schedules", body)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code = %d body = %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["code"]; got != apperrors.InvalidSchedule.Code {
		t.Fatalf("error code = %v", got)
	}

	future := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	body = `{"kind":"TEXT","message":"Promo","scheduled_at":"` + future + `","recipients":[{"recipient":"22670000000"}]}`
	if w := do(r, http.MethodPost, "/api/schedules", body); w.Code != http.StatusCreated {
		t.Fatalf("offline schedule code = %d body = %s", w.Code, w.Body.String())
	}
}

func TestUnknownContactIsNotFound(t *testing.T) {
	r := newTestRouter(t)
	w := do(r, http.MethodGet, "/api/contacts/nobody@s.whatsapp.net", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("code = %d", w.Code)
	}
}

func TestRuleLifecycle(t *testing.T) {
	r := newTestRouter(t)
	w := do(r, http.MethodPost, "/api/automation/rules", `{"keyword":"horaires","response":"Ouvert 8h-18h","priority":5}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create code = %d body = %s", w.Code, w.Body.String())
	}
	id := decode(t, w)["id"].(float64)

	w = do(r, http.MethodPost, "/api/automation/rules/"+formatID(id)+"/toggle", "")
	if w.Code != http.StatusOK || decode(t, w)["is_active"] != false {
		t.Fatalf("toggle code = %d body = %s", w.Code, w.Body.String())
	}

	w = do(r, http.MethodDelete, "/api/automation/rules/999", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("delete missing code = %d", w.Code)
	}
	w = do(r, http.MethodPut, "/api/automation/rules/abc", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad id code = %d", w.Code)
	}
}

func formatID(id float64) string {
	b, _ := json.Marshal(int64(id))
	return string(b)
}
