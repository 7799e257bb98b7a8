package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oakline/venturesim/internal/services/game/orchestrator"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServer(Config{
		HTTPAddr:    "127.0.0.1:0",
		StoragePath: filepath.Join(t.TempDir(), "game.db"),
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(server.Close)
	return server
}

func doJSON(t *testing.T, server *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader([]byte("{}"))
	} else {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var value T
	if err := json.Unmarshal(rr.Body.Bytes(), &value); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return value
}

func createTestSession(t *testing.T, server *Server) orchestrator.SessionRecord {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/api/sessions", map[string]string{"name": "spring cohort"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create session status = %d, body %s", rr.Code, rr.Body.String())
	}
	return decodeResponse[orchestrator.SessionRecord](t, rr)
}

func joinTestParticipant(t *testing.T, server *Server, sessionID, userID string) participantRecord {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/api/sessions/"+sessionID+"/join", map[string]string{
		"userId": userID,
		"name":   userID,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("join status = %d, body %s", rr.Code, rr.Body.String())
	}
	return decodeResponse[participantRecord](t, rr)
}

func advanceTo(t *testing.T, server *Server, sessionID, wantTask string) {
	t.Helper()
	rr := doJSON(t, server, http.MethodPost, "/api/sessions/"+sessionID+"/start", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rr.Code, rr.Body.String())
	}
	record := decodeResponse[orchestrator.SessionRecord](t, rr)
	for record.CurrentTask != wantTask {
		rr = doJSON(t, server, http.MethodPost, "/api/sessions/"+sessionID+"/advance", nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("advance status = %d, body %s", rr.Code, rr.Body.String())
		}
		next := decodeResponse[orchestrator.SessionRecord](t, rr)
		if next.CurrentTask == record.CurrentTask {
			t.Fatalf("advance stalled at %q before reaching %q", record.CurrentTask, wantTask)
		}
		record = next
	}
}

func TestNewServerRequiresHTTPAddr(t *testing.T) {
	if _, err := NewServer(Config{StoragePath: "game.db"}); err == nil {
		t.Fatal("expected error for empty HTTP address")
	}
}

func TestNewServerRequiresStoragePath(t *testing.T) {
	if _, err := NewServer(Config{HTTPAddr: "127.0.0.1:0"}); err == nil {
		t.Fatal("expected error for empty storage path")
	}
}

func TestListenAndServeNilServer(t *testing.T) {
	var s *Server
	if err := s.ListenAndServe(context.Background()); err == nil {
		t.Fatal("expected error for nil server")
	}
}

func TestUpEndpoint(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/up", nil)
	rr := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusOK)
	}
	if strings.TrimSpace(rr.Body.String()) != "OK" {
		t.Fatalf("body = %q, want OK", rr.Body.String())
	}
}

func TestWSEndpointRejectsPost(t *testing.T) {
	server := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/ws", nil)
	rr := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status code = %d, want %d", rr.Code, http.StatusMethodNotAllowed)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	server := newTestServer(t)

	created := createTestSession(t, server)
	if created.Name != "spring cohort" {
		t.Errorf("name = %q, want spring cohort", created.Name)
	}
	if created.Status != "pending" {
		t.Errorf("status = %q, want pending", created.Status)
	}
	if created.CurrentTask != "lobby" {
		t.Errorf("current task = %q, want lobby", created.CurrentTask)
	}

	rr := doJSON(t, server, http.MethodGet, "/api/sessions/"+created.ID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	got := decodeResponse[orchestrator.SessionRecord](t, rr)
	if got.ID != created.ID {
		t.Errorf("id = %q, want %q", got.ID, created.ID)
	}
}

func TestCreateSessionRequiresName(t *testing.T) {
	server := newTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/api/sessions", map[string]string{"name": "  "})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusBadRequest)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	server := newTestServer(t)

	rr := doJSON(t, server, http.MethodGet, "/api/sessions/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusNotFound)
	}
}

func TestJoinSession(t *testing.T) {
	server := newTestServer(t)
	session := createTestSession(t, server)

	participant := joinTestParticipant(t, server, session.ID, "usr-1")
	if participant.SessionID != session.ID {
		t.Errorf("session id = %q, want %q", participant.SessionID, session.ID)
	}

	// Same user joining twice conflicts.
	rr := doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/join", map[string]string{"userId": "usr-1"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("duplicate join status = %d, want %d", rr.Code, http.StatusConflict)
	}

	rr = doJSON(t, server, http.MethodGet, "/api/sessions/"+session.ID+"/participants", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list status = %d", rr.Code)
	}
	listing := decodeResponse[map[string][]participantRecord](t, rr)
	if len(listing["participants"]) != 1 {
		t.Errorf("participants = %d, want 1", len(listing["participants"]))
	}
}

func TestJoinClosedAfterStart(t *testing.T) {
	server := newTestServer(t)
	session := createTestSession(t, server)

	rr := doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/start", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/join", map[string]string{"userId": "usr-late"})
	if rr.Code != http.StatusConflict {
		t.Fatalf("late join status = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestStartSimulationFlow(t *testing.T) {
	server := newTestServer(t)
	session := createTestSession(t, server)

	rr := doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/start", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d, body %s", rr.Code, rr.Body.String())
	}
	record := decodeResponse[orchestrator.SessionRecord](t, rr)
	if record.CurrentTask != "route_optimization" {
		t.Errorf("current task = %q, want route_optimization", record.CurrentTask)
	}
	if record.Status != "running" {
		t.Errorf("status = %q, want running", record.Status)
	}
	if record.TaskEndsAt == nil {
		t.Error("task ends at is nil, want deadline")
	}

	// A second start is rejected.
	rr = doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/start", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("restart status = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestGroupsFormedForMarketSelection(t *testing.T) {
	server := newTestServer(t)
	session := createTestSession(t, server)
	for i := 0; i < 6; i++ {
		joinTestParticipant(t, server, session.ID, fmt.Sprintf("usr-%d", i+1))
	}

	advanceTo(t, server, session.ID, "market_selection")

	rr := doJSON(t, server, http.MethodGet, "/api/sessions/"+session.ID+"/groups", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("list groups status = %d", rr.Code)
	}
	listing := decodeResponse[map[string][]groupRecord](t, rr)
	groups := listing["groups"]
	// 6 participants in chunks of 4 gives 4+2.
	if len(groups) != 2 {
		t.Fatalf("groups = %d, want 2", len(groups))
	}
	for _, group := range groups {
		if group.TaskType != "market_selection" {
			t.Errorf("task type = %q, want market_selection", group.TaskType)
		}
	}
}

func TestCrisisSubmissionFlow(t *testing.T) {
	server := newTestServer(t)
	session := createTestSession(t, server)
	participant := joinTestParticipant(t, server, session.ID, "usr-1")

	// Submitting before the crisis task opens is rejected.
	rr := doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/submissions/crisis", map[string]any{
		"participantId":    participant.ID,
		"selectedAdvisors": []string{"security"},
		"selectedActions":  []string{"audit"},
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("early submit status = %d, want %d", rr.Code, http.StatusConflict)
	}

	advanceTo(t, server, session.ID, "crisis_response")

	rr = doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/submissions/crisis", map[string]any{
		"participantId":    participant.ID,
		"selectedAdvisors": []string{"security"},
		"selectedActions":  []string{"audit", "insurance_claim"},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, body %s", rr.Code, rr.Body.String())
	}
	var response struct {
		SubmissionID string `json:"submissionId"`
		Result       struct {
			IsValid         bool   `json:"isValid"`
			TotalCost       int    `json:"totalCost"`
			RemainingPoints int    `json:"remainingPoints"`
			RiskLevel       string `json:"riskLevel"`
		} `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if response.SubmissionID == "" {
		t.Error("submission id is empty")
	}
	if !response.Result.IsValid {
		t.Error("result is invalid, want valid")
	}
	if response.Result.TotalCost != 4 {
		t.Errorf("total cost = %d, want 4", response.Result.TotalCost)
	}
	if response.Result.RemainingPoints != 2 {
		t.Errorf("remaining points = %d, want 2", response.Result.RemainingPoints)
	}

	// Submissions are write-once.
	rr = doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/submissions/crisis", map[string]any{
		"participantId":    participant.ID,
		"selectedAdvisors": []string{"security"},
		"selectedActions":  []string{"audit"},
	})
	if rr.Code != http.StatusConflict {
		t.Fatalf("resubmit status = %d, want %d", rr.Code, http.StatusConflict)
	}
}

func TestReactivationSubmissionFlow(t *testing.T) {
	server := newTestServer(t)
	session := createTestSession(t, server)
	participant := joinTestParticipant(t, server, session.ID, "usr-1")

	advanceTo(t, server, session.ID, "reactivation_sequence")

	rr := doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/submissions/reactivation", map[string]any{
		"participantId": participant.ID,
		"sequence": []map[string]any{
			{"nodeId": "E"},
			{"nodeId": "B"},
			{"nodeId": "A"},
		},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("submit status = %d, body %s", rr.Code, rr.Body.String())
	}
	var response struct {
		Result struct {
			IsValid          bool    `json:"isValid"`
			TotalDuration    float64 `json:"totalDuration"`
			CriticalPathTime float64 `json:"criticalPathTime"`
		} `json:"result"`
		RiskScore float64 `json:"riskScore"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !response.Result.IsValid {
		t.Error("result is invalid, want valid")
	}
	if response.Result.TotalDuration != 12 {
		t.Errorf("total duration = %v, want 12", response.Result.TotalDuration)
	}
	if response.Result.CriticalPathTime != 6 {
		t.Errorf("critical path time = %v, want 6", response.Result.CriticalPathTime)
	}
	// E, B and A restored halves their base risk: (5+4+4.5+7+6+5)/45.
	if response.RiskScore != 0.7 {
		t.Errorf("risk score = %v, want 0.7", response.RiskScore)
	}
}

func TestValidateEndpointsAreSideEffectFree(t *testing.T) {
	server := newTestServer(t)

	rr := doJSON(t, server, http.MethodPost, "/api/validate/crisis", map[string]any{
		"selectedAdvisors": []string{"legal", "finance"},
		"selectedActions":  []string{"press_release", "hotline", "audit"},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("validate crisis status = %d", rr.Code)
	}
	var crisis struct {
		IsValid   bool `json:"isValid"`
		TotalCost int  `json:"totalCost"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &crisis); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if crisis.IsValid {
		t.Error("over-budget selection validated, want invalid")
	}
	if crisis.TotalCost != 12 {
		t.Errorf("total cost = %d, want 12", crisis.TotalCost)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/validate/reactivation", map[string]any{
		"sequence": []map[string]any{{"nodeId": "B"}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("validate reactivation status = %d", rr.Code)
	}
	var reactivation struct {
		IsValid bool `json:"isValid"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &reactivation); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if reactivation.IsValid {
		t.Error("sequence missing prerequisites validated, want invalid")
	}
}

func TestPauseAndComplete(t *testing.T) {
	server := newTestServer(t)
	session := createTestSession(t, server)

	rr := doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/start", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("start status = %d", rr.Code)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/pause", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rr.Code)
	}
	record := decodeResponse[orchestrator.SessionRecord](t, rr)
	if record.Status != "paused" {
		t.Errorf("status = %q, want paused", record.Status)
	}

	rr = doJSON(t, server, http.MethodPost, "/api/sessions/"+session.ID+"/complete", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("complete status = %d", rr.Code)
	}
	record = decodeResponse[orchestrator.SessionRecord](t, rr)
	if record.Status != "completed" {
		t.Errorf("status = %q, want completed", record.Status)
	}
	if record.CurrentTask != "completed" {
		t.Errorf("current task = %q, want completed", record.CurrentTask)
	}
}

func TestAuthRequiredWhenConfigured(t *testing.T) {
	server, err := NewServer(Config{
		HTTPAddr:      "127.0.0.1:0",
		StoragePath:   filepath.Join(t.TempDir(), "game.db"),
		TokenIssuer:   "venturesim",
		TokenAudience: "game",
		TokenSecret:   "test-secret",
	})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	t.Cleanup(server.Close)

	// No token: rejected.
	rr := doJSON(t, server, http.MethodPost, "/api/sessions", map[string]string{"name": "cohort"})
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", rr.Code, http.StatusUnauthorized)
	}

	// Participant token on a facilitator route: forbidden.
	participantToken, err := IssueToken(Identity{UserID: "usr-1", Role: RoleParticipant}, time.Hour, server.tokens)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte(`{"name":"cohort"}`)))
	req.Header.Set("Authorization", "Bearer "+participantToken)
	recorder := httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", recorder.Code, http.StatusForbidden)
	}

	// Facilitator token: allowed.
	facilitatorToken, err := IssueToken(Identity{UserID: "usr-2", Role: RoleFacilitator}, time.Hour, server.tokens)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	req = httptest.NewRequest(http.MethodPost, "/api/sessions", bytes.NewReader([]byte(`{"name":"cohort"}`)))
	req.Header.Set("Authorization", "Bearer "+facilitatorToken)
	recorder = httptest.NewRecorder()
	server.httpServer.Handler.ServeHTTP(recorder, req)
	if recorder.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d, body %s", recorder.Code, http.StatusCreated, recorder.Body.String())
	}
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := newTestServer(t)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(ctx)
	}()

	time.Sleep(25 * time.Millisecond)
	cancel()

	select {
	case err := <-serveErr:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop on cancel")
	}
}
