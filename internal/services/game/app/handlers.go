package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/oakline/venturesim/internal/services/game/domain"
	"github.com/oakline/venturesim/internal/services/game/orchestrator"
	"github.com/oakline/venturesim/internal/services/game/storage"
	"github.com/oakline/venturesim/internal/services/game/validator"
)

const maxRequestBodyBytes = 64 * 1024

type identityContextKey struct{}

type apiError struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("game: encode response failed err=%v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiError{Error: message})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func identityFromRequest(r *http.Request) (Identity, bool) {
	identity, ok := r.Context().Value(identityContextKey{}).(Identity)
	return identity, ok
}

func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.tokens.enabled() {
			next(w, r)
			return
		}
		identity, err := ValidateToken(accessTokenFromRequest(r), s.tokens)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		ctx := context.WithValue(r.Context(), identityContextKey{}, identity)
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) requireRole(role string, next http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		if s.tokens.enabled() {
			identity, ok := identityFromRequest(r)
			if !ok || identity.Role != role {
				writeError(w, http.StatusForbidden, role+" access required")
				return
			}
		}
		next(w, r)
	})
}

type createSessionRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	session, err := domain.CreateSession(domain.CreateSessionInput{Name: req.Name}, nil, nil)
	if err != nil {
		if errors.Is(err, domain.ErrEmptySessionName) {
			writeError(w, http.StatusBadRequest, "name is required")
			return
		}
		log.Printf("game: create session failed err=%v", err)
		writeError(w, http.StatusInternalServerError, "create session failed")
		return
	}
	if err := s.store.PutSession(r.Context(), session); err != nil {
		log.Printf("game: persist session failed session=%q err=%v", session.ID, err)
		writeError(w, http.StatusInternalServerError, "create session failed")
		return
	}

	s.hub.BroadcastToAdmins(orchestrator.Event{
		Type:    orchestrator.EventSessionUpdated,
		Payload: orchestrator.NewSessionRecord(session),
	})
	writeJSON(w, http.StatusCreated, orchestrator.NewSessionRecord(session))
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, orchestrator.NewSessionRecord(session))
}

type joinSessionRequest struct {
	UserID string `json:"userId,omitempty"`
	Name   string `json:"name,omitempty"`
}

func (s *Server) handleJoinSession(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	if session.CurrentStage != domain.StageLobby {
		writeError(w, http.StatusConflict, "session is no longer accepting participants")
		return
	}

	var req joinSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}

	userID := strings.TrimSpace(req.UserID)
	name := strings.TrimSpace(req.Name)
	if identity, authed := identityFromRequest(r); authed {
		userID = identity.UserID
		if name == "" {
			name = identity.Name
		}
	}

	participant, err := domain.CreateParticipant(domain.CreateParticipantInput{
		SessionID: session.ID,
		UserID:    userID,
		Name:      name,
	}, nil, nil)
	if err != nil {
		if errors.Is(err, domain.ErrEmptyUserID) {
			writeError(w, http.StatusBadRequest, "userId is required")
			return
		}
		log.Printf("game: create participant failed session=%q err=%v", session.ID, err)
		writeError(w, http.StatusInternalServerError, "join session failed")
		return
	}
	if err := s.store.PutParticipant(r.Context(), participant); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "already joined")
			return
		}
		log.Printf("game: persist participant failed session=%q err=%v", session.ID, err)
		writeError(w, http.StatusInternalServerError, "join session failed")
		return
	}

	writeJSON(w, http.StatusCreated, newParticipantRecord(participant))
}

type participantRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	JoinedAt  time.Time `json:"joinedAt"`
}

func newParticipantRecord(participant domain.Participant) participantRecord {
	return participantRecord{
		ID:        participant.ID,
		SessionID: participant.SessionID,
		UserID:    participant.UserID,
		Name:      participant.Name,
		JoinedAt:  participant.JoinedAt,
	}
}

func (s *Server) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	participants, err := s.store.ListJoinedParticipants(r.Context(), session.ID)
	if err != nil {
		log.Printf("game: list participants failed session=%q err=%v", session.ID, err)
		writeError(w, http.StatusInternalServerError, "list participants failed")
		return
	}
	records := make([]participantRecord, len(participants))
	for i, participant := range participants {
		records[i] = newParticipantRecord(participant)
	}
	writeJSON(w, http.StatusOK, map[string]any{"participants": records})
}

type groupRecord struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	Name      string    `json:"name"`
	TaskType  string    `json:"taskType"`
	LeaderID  string    `json:"leaderId"`
	MemberIDs []string  `json:"memberIds"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s *Server) handleListGroups(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	groups, err := s.store.ListGroupsBySession(r.Context(), session.ID)
	if err != nil {
		log.Printf("game: list groups failed session=%q err=%v", session.ID, err)
		writeError(w, http.StatusInternalServerError, "list groups failed")
		return
	}
	records := make([]groupRecord, len(groups))
	for i, group := range groups {
		records[i] = groupRecord{
			ID:        group.ID,
			SessionID: group.SessionID,
			Name:      group.Name,
			TaskType:  string(group.TaskType),
			LeaderID:  group.LeaderID,
			MemberIDs: group.MemberIDs,
			CreatedAt: group.CreatedAt,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": records})
}

func (s *Server) handleStartSimulation(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	session, err := s.engine.StartSimulation(r.Context(), sessionID)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrSimulationAlreadyStarted):
			writeError(w, http.StatusConflict, "simulation already started")
		case errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		default:
			log.Printf("game: start simulation failed session=%q err=%v", sessionID, err)
			writeError(w, http.StatusInternalServerError, "start simulation failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, orchestrator.NewSessionRecord(session))
}

func (s *Server) handleAdvanceStage(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	session, err := s.engine.AdvanceStage(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("game: advance stage failed session=%q err=%v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "advance stage failed")
		return
	}
	writeJSON(w, http.StatusOK, orchestrator.NewSessionRecord(session))
}

func (s *Server) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	session, err := s.engine.PauseSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("game: pause session failed session=%q err=%v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "pause session failed")
		return
	}
	writeJSON(w, http.StatusOK, orchestrator.NewSessionRecord(session))
}

func (s *Server) handleCompleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	session, err := s.engine.CompleteSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("game: complete session failed session=%q err=%v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "complete session failed")
		return
	}
	writeJSON(w, http.StatusOK, orchestrator.NewSessionRecord(session))
}

func (s *Server) handleForceSubmissions(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if err := s.engine.ForceSubmissions(r.Context(), sessionID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		log.Printf("game: force submissions failed session=%q err=%v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "force submissions failed")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

type crisisSubmissionRequest struct {
	ParticipantID    string   `json:"participantId,omitempty"`
	SelectedAdvisors []string `json:"selectedAdvisors"`
	SelectedActions  []string `json:"selectedActions"`
}

func (s *Server) handleCrisisSubmission(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	if session.CurrentStage != domain.StageCrisisResponse {
		writeError(w, http.StatusConflict, "crisis response is not the current task")
		return
	}

	var req crisisSubmissionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	participant, ok := s.resolveParticipant(w, r, session.ID, req.ParticipantID)
	if !ok {
		return
	}

	result := validator.ValidateCrisisSelection(req.SelectedAdvisors, req.SelectedActions)
	submission, err := domain.CreateSubmission(domain.CreateSubmissionInput{
		SessionID:     session.ID,
		ParticipantID: participant.ID,
		Stage:         domain.StageCrisisResponse,
	}, nil, nil)
	if err != nil {
		log.Printf("game: create submission failed session=%q err=%v", session.ID, err)
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}
	submission.SelectedAdvisors = req.SelectedAdvisors
	submission.SelectedActions = req.SelectedActions
	submission.TotalCost = result.TotalCost
	submission.RemainingPoints = result.RemainingPoints
	submission.Effectiveness = result.Effectiveness
	submission.RiskLevel = result.RiskLevel

	if err := s.store.PutSubmission(r.Context(), submission); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "already submitted for this task")
			return
		}
		log.Printf("game: persist submission failed session=%q err=%v", session.ID, err)
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"submissionId": submission.ID,
		"result":       result,
	})
}

type reactivationSubmissionRequest struct {
	ParticipantID string                    `json:"participantId,omitempty"`
	Sequence      []reactivationEntryRecord `json:"sequence"`
}

type reactivationEntryRecord struct {
	NodeID string `json:"nodeId"`
	Phases int    `json:"phases,omitempty"`
}

func toSequenceEntries(records []reactivationEntryRecord) []validator.SequenceEntry {
	entries := make([]validator.SequenceEntry, len(records))
	for i, record := range records {
		entries[i] = validator.SequenceEntry{NodeID: record.NodeID, Phases: record.Phases}
	}
	return entries
}

func (s *Server) handleReactivationSubmission(w http.ResponseWriter, r *http.Request) {
	session, ok := s.sessionFromPath(w, r)
	if !ok {
		return
	}
	if session.CurrentStage != domain.StageReactivationSequence {
		writeError(w, http.StatusConflict, "reactivation sequencing is not the current task")
		return
	}

	var req reactivationSubmissionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	participant, ok := s.resolveParticipant(w, r, session.ID, req.ParticipantID)
	if !ok {
		return
	}

	entries := toSequenceEntries(req.Sequence)
	result := validator.ValidateReactivationSequence(entries, validator.ReactivationConfig{})
	riskScore := validator.ReactivationRiskScore(entries)

	submission, err := domain.CreateSubmission(domain.CreateSubmissionInput{
		SessionID:     session.ID,
		ParticipantID: participant.ID,
		Stage:         domain.StageReactivationSequence,
	}, nil, nil)
	if err != nil {
		log.Printf("game: create submission failed session=%q err=%v", session.ID, err)
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}
	nodeIDs := make([]string, len(entries))
	for i, entry := range entries {
		nodeIDs[i] = entry.NodeID
	}
	submission.SequenceNodeIDs = nodeIDs
	submission.TotalDuration = result.TotalDuration
	submission.CriticalPathTime = result.CriticalPathTime
	submission.ResourceConflicts = result.ResourceConflicts
	submission.RiskScore = riskScore

	if err := s.store.PutSubmission(r.Context(), submission); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			writeError(w, http.StatusConflict, "already submitted for this task")
			return
		}
		log.Printf("game: persist submission failed session=%q err=%v", session.ID, err)
		writeError(w, http.StatusInternalServerError, "submit failed")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"submissionId": submission.ID,
		"result":       result,
		"riskScore":    riskScore,
	})
}

type validateCrisisRequest struct {
	SelectedAdvisors []string `json:"selectedAdvisors"`
	SelectedActions  []string `json:"selectedActions"`
}

func (s *Server) handleValidateCrisis(w http.ResponseWriter, r *http.Request) {
	var req validateCrisisRequest
	if !decodeBody(w, r, &req) {
		return
	}
	writeJSON(w, http.StatusOK, validator.ValidateCrisisSelection(req.SelectedAdvisors, req.SelectedActions))
}

type validateReactivationRequest struct {
	Sequence []reactivationEntryRecord `json:"sequence"`
}

func (s *Server) handleValidateReactivation(w http.ResponseWriter, r *http.Request) {
	var req validateReactivationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entries := toSequenceEntries(req.Sequence)
	result := validator.ValidateReactivationSequence(entries, validator.ReactivationConfig{})
	writeJSON(w, http.StatusOK, map[string]any{
		"isValid":           result.IsValid,
		"violations":        result.Violations,
		"totalDuration":     result.TotalDuration,
		"criticalPathTime":  result.CriticalPathTime,
		"resourceConflicts": result.ResourceConflicts,
		"riskScore":         validator.ReactivationRiskScore(entries),
	})
}

func (s *Server) sessionFromPath(w http.ResponseWriter, r *http.Request) (domain.Session, bool) {
	sessionID := strings.TrimSpace(r.PathValue("id"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return domain.Session{}, false
	}
	session, err := s.store.GetSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return domain.Session{}, false
		}
		log.Printf("game: read session failed session=%q err=%v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "read session failed")
		return domain.Session{}, false
	}
	return session, true
}

// resolveParticipant maps the caller to their participant record. An
// authenticated caller is matched by user id; with auth disabled the request
// must name the participant directly.
func (s *Server) resolveParticipant(w http.ResponseWriter, r *http.Request, sessionID, participantID string) (domain.Participant, bool) {
	participants, err := s.store.ListJoinedParticipants(r.Context(), sessionID)
	if err != nil {
		log.Printf("game: list participants failed session=%q err=%v", sessionID, err)
		writeError(w, http.StatusInternalServerError, "resolve participant failed")
		return domain.Participant{}, false
	}

	if identity, authed := identityFromRequest(r); authed {
		for _, participant := range participants {
			if participant.UserID == identity.UserID {
				return participant, true
			}
		}
		writeError(w, http.StatusForbidden, "participant access required for session")
		return domain.Participant{}, false
	}

	participantID = strings.TrimSpace(participantID)
	if participantID == "" {
		writeError(w, http.StatusBadRequest, "participantId is required")
		return domain.Participant{}, false
	}
	for _, participant := range participants {
		if participant.ID == participantID {
			return participant, true
		}
	}
	writeError(w, http.StatusNotFound, "participant not found")
	return domain.Participant{}, false
}
