package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/voxprep/voxprep/internal/flow"
	"github.com/voxprep/voxprep/internal/interrupt"
)

// ─── flow lifecycle ───

type createFlowRequest struct {
	SessionID      string   `json:"sessionId"`
	Role           string   `json:"role"`
	TechStack      []string `json:"techStack"`
	BaseDifficulty int      `json:"baseDifficulty"`
	TotalQuestions int      `json:"totalQuestions"`
}

type createFlowResponse struct {
	FlowState        flow.State `json:"flowState"`
	InitialQuestions []string   `json:"initialQuestions"`
}

func (s *Server) createFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(ctx, w, "invalid JSON body")
		return
	}

	state, questions, err := s.orch.Initialize(ctx, flow.InitializeRequest{
		SessionID:      req.SessionID,
		Role:           req.Role,
		TechStack:      req.TechStack,
		BaseDifficulty: req.BaseDifficulty,
		TotalQuestions: req.TotalQuestions,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, createFlowResponse{
		FlowState:        state,
		InitialQuestions: questions,
	})
}

type nextQuestionRequest struct {
	UserResponse    string `json:"userResponse"`
	CurrentQuestion string `json:"currentQuestion"`
}

type nextQuestionResponse struct {
	ShouldContinue bool          `json:"shouldContinue"`
	NextQuestion   string        `json:"nextQuestion,omitempty"`
	Analysis       flow.Analysis `json:"analysis"`
	FlowState      flow.State    `json:"flowState"`
	Summary        string        `json:"summary,omitempty"`
}

func (s *Server) nextQuestion(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req nextQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(ctx, w, "invalid JSON body")
		return
	}

	res, err := s.orch.NextQuestion(ctx, flow.NextQuestionRequest{
		SessionID:       r.PathValue("sessionID"),
		UserResponse:    req.UserResponse,
		CurrentQuestion: req.CurrentQuestion,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	resp := nextQuestionResponse{
		ShouldContinue: res.State.ShouldContinue(),
		Analysis:       res.Analysis,
		FlowState:      res.State,
	}
	if resp.ShouldContinue {
		resp.NextQuestion = res.Question
	} else {
		resp.Summary = flow.Summarize(res.State)
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

type getFlowResponse struct {
	FlowState      flow.State `json:"flowState"`
	ShouldContinue bool       `json:"shouldContinue"`
	Summary        string     `json:"summary"`
}

func (s *Server) getFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	state, err := s.orch.Status(ctx, r.PathValue("sessionID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, getFlowResponse{
		FlowState:      state,
		ShouldContinue: state.ShouldContinue(),
		Summary:        flow.Summarize(state),
	})
}

func (s *Server) deleteFlow(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.orch.Delete(ctx, r.PathValue("sessionID")); err != nil {
		writeError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ─── standalone analysis ───

type analyzeRequest struct {
	UserResponse      string   `json:"userResponse"`
	CurrentQuestion   string   `json:"currentQuestion"`
	Role              string   `json:"role"`
	TechStack         []string `json:"techStack"`
	CurrentDifficulty int      `json:"currentDifficulty"`
}

type analyzeResponse struct {
	Analysis flow.Analysis `json:"analysis"`
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(ctx, w, "invalid JSON body")
		return
	}

	analysis, err := s.orch.Analyze(ctx, flow.AnalyzeRequest{
		Answer:            req.UserResponse,
		Question:          req.CurrentQuestion,
		Role:              req.Role,
		TechStack:         req.TechStack,
		CurrentDifficulty: req.CurrentDifficulty,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, analyzeResponse{Analysis: analysis})
}

// ─── voice calls ───

type startCallResponse struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
}

type stopCallResponse struct {
	SessionID     string            `json:"sessionId"`
	Interruptions interruptionStats `json:"interruptions"`
}

// interruptionStats is the wire rendering of [interrupt.Stats], with
// durations in milliseconds.
type interruptionStats struct {
	Total                   int     `json:"total"`
	AverageDelayMs          int64   `json:"averageDelayMs"`
	FastestDelayMs          int64   `json:"fastestDelayMs"`
	SlowestDelayMs          int64   `json:"slowestDelayMs"`
	SuccessfulCancellations int     `json:"successfulCancellations"`
	FailedCancellations     int     `json:"failedCancellations"`
	SuccessRate             float64 `json:"successRate"`
}

func renderStats(s interrupt.Stats) interruptionStats {
	fastest := s.Fastest
	if s.Total == 0 {
		fastest = time.Duration(0)
	}
	return interruptionStats{
		Total:                   s.Total,
		AverageDelayMs:          s.Average.Milliseconds(),
		FastestDelayMs:          fastest.Milliseconds(),
		SlowestDelayMs:          s.Slowest.Milliseconds(),
		SuccessfulCancellations: s.SuccessfulCancellations,
		FailedCancellations:     s.FailedCancellations,
		SuccessRate:             s.SuccessRate,
	}
}

func (s *Server) startCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.calls == nil {
		writeJSON(ctx, w, http.StatusServiceUnavailable, errorEnvelope{
			Error: errorPayload{Code: "voice_unavailable", Message: "no voice relay configured"},
		})
		return
	}

	sessionID := r.PathValue("sessionID")
	if err := s.calls.Start(ctx, sessionID); err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, startCallResponse{
		SessionID: sessionID,
		Status:    "started",
	})
}

func (s *Server) stopCall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if s.calls == nil {
		writeJSON(ctx, w, http.StatusServiceUnavailable, errorEnvelope{
			Error: errorPayload{Code: "voice_unavailable", Message: "no voice relay configured"},
		})
		return
	}

	sessionID := r.PathValue("sessionID")
	stats, err := s.calls.Stop(ctx, sessionID)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, stopCallResponse{
		SessionID:     sessionID,
		Interruptions: renderStats(stats),
	})
}
