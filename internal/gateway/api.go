// ABOUTME: Admin JSON API: installed workspaces, stored analyses, manual analysis runs, job status
// ABOUTME: Mounted under /api behind the bearer-token middleware

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/2389/slack-pulse/internal/analysis"
	"github.com/2389/slack-pulse/internal/auth"
	"github.com/2389/slack-pulse/internal/store"
)

const (
	defaultAnalysesLimit = 20
	maxAnalysesLimit     = 200
)

// WorkspaceResponse is a workspace without its bot token.
type WorkspaceResponse struct {
	ID        string    `json:"id"`
	TeamID    string    `json:"team_id"`
	TeamName  string    `json:"team_name"`
	BotUserID string    `json:"bot_user_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AnalysisResponse is one stored analysis result.
type AnalysisResponse struct {
	ID           string    `json:"id"`
	ChannelID    string    `json:"channel_id"`
	ThreadTS     string    `json:"thread_ts,omitempty"`
	Text         string    `json:"analysis_text"`
	MessageCount int       `json:"message_count"`
	Hours        int       `json:"hours"`
	ImageURL     string    `json:"image_url,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// AnalyzeRequest is the body of a manual analysis request.
type AnalyzeRequest struct {
	Hours    int    `json:"hours"`
	ThreadTS string `json:"thread_ts"`
}

// JobResponse reports a queued job's state.
type JobResponse struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Status    store.JobStatus `json:"status"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"last_error,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (g *Gateway) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := g.store.ListWorkspaces(r.Context())
	if err != nil {
		g.logger.Error("listing workspaces failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]WorkspaceResponse, 0, len(workspaces))
	for _, ws := range workspaces {
		out = append(out, WorkspaceResponse{
			ID:        ws.ID,
			TeamID:    ws.TeamID,
			TeamName:  ws.TeamName,
			BotUserID: ws.BotUserID,
			CreatedAt: ws.CreatedAt,
			UpdatedAt: ws.UpdatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"workspaces": out})
}

// workspaceParam resolves {teamID}, writing the error response when it fails.
func (g *Gateway) workspaceParam(w http.ResponseWriter, r *http.Request) (*store.Workspace, bool) {
	teamID := chi.URLParam(r, "teamID")
	ws, err := g.store.GetWorkspaceByTeamID(r.Context(), teamID)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "workspace not found")
		return nil, false
	}
	if err != nil {
		g.logger.Error("loading workspace failed", "team_id", teamID, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return nil, false
	}
	return ws, true
}

func (g *Gateway) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	ws, ok := g.workspaceParam(w, r)
	if !ok {
		return
	}

	limit := defaultAnalysesLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAnalysesLimit)
	}

	results, err := g.store.ListAnalysisResults(r.Context(), ws.ID, chi.URLParam(r, "channelID"), limit)
	if err != nil {
		g.logger.Error("listing analyses failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]AnalysisResponse, 0, len(results))
	for _, res := range results {
		out = append(out, AnalysisResponse{
			ID:           res.ID,
			ChannelID:    res.ChannelID,
			ThreadTS:     res.ThreadTS,
			Text:         res.AnalysisText,
			MessageCount: res.MessageCount,
			Hours:        res.Hours,
			ImageURL:     res.ImageURL,
			CreatedAt:    res.CreatedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"analyses": out})
}

func (g *Gateway) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	ws, ok := g.workspaceParam(w, r)
	if !ok {
		return
	}

	var req AnalyzeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	requestedBy := ""
	if ac := auth.FromContext(r.Context()); ac != nil {
		requestedBy = ac.Subject
	}

	job, err := g.queue.Enqueue(r.Context(), analysis.JobName, analysis.Params{
		WorkspaceID: ws.ID,
		ChannelID:   chi.URLParam(r, "channelID"),
		Hours:       analysis.NormalizeHours(req.Hours),
		ThreadTS:    req.ThreadTS,
	})
	if err != nil {
		g.logger.Error("enqueue failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	g.logger.Info("manual analysis queued", "job_id", job.ID, "team_id", ws.TeamID, "requested_by", requestedBy)
	respondJSON(w, http.StatusAccepted, map[string]string{
		"job_id":       job.ID,
		"status":       string(job.Status),
		"requested_by": requestedBy,
	})
}

func (g *Gateway) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := g.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		g.logger.Error("loading job failed", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, http.StatusOK, JobResponse{
		ID:        job.ID,
		Name:      job.Name,
		Status:    job.Status,
		Attempts:  job.Attempts,
		LastError: job.LastError,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
}
