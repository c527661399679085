package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/tubeblog/internal/auth"
	"github.com/nugget/tubeblog/internal/events"
	"github.com/nugget/tubeblog/internal/failure"
	"github.com/nugget/tubeblog/internal/render"
	"github.com/nugget/tubeblog/internal/store"
)

// usageWindow is the lookback for GET /api/usage.
const usageWindow = 30 * 24 * time.Hour

// GenerateRequest asks for a post from one video.
type GenerateRequest struct {
	YouTubeURL string `json:"youtube_url"`
}

// GenerateResponse is the stored post created by a run.
type GenerateResponse struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// PostUpdateRequest edits a post. Absent fields are left unchanged.
type PostUpdateRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// UsageResponse summarizes a user's generation spend.
type UsageResponse struct {
	Start   time.Time                      `json:"start"`
	End     time.Time                      `json:"end"`
	Total   *store.UsageSummary            `json:"total"`
	ByModel map[string]*store.UsageSummary `json:"by_model"`
}

func (s *Server) handleGenerateBlog(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req GenerateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	url := strings.TrimSpace(req.YouTubeURL)
	if url == "" {
		s.typedError(w, http.StatusBadRequest, failure.InputMissing.String(), "missing youtube_url")
		return
	}

	ctx := r.Context()
	runID := uuid.NewString()
	log := s.logger.With("run_id", runID, "user_id", u.ID)
	s.bus.Emit(events.SourcePipeline, events.KindRunStart, map[string]any{
		"run_id":  runID,
		"url":     url,
		"user_id": u.ID,
	})

	start := time.Now()
	article, err := s.runner.Run(ctx, url)
	elapsed := time.Since(start)
	if err != nil {
		log.Warn("generation run failed", "kind", failure.KindOf(err), "error", err)
		s.recordUsage(r, store.UsageRecord{
			UserID:   u.ID,
			Model:    s.cfg.Model,
			Provider: s.cfg.Provider,
			Outcome:  store.OutcomeFailed,
		})
		s.bus.Emit(events.SourcePipeline, events.KindRunFailed, map[string]any{
			"run_id":     runID,
			"kind":       failure.KindOf(err).String(),
			"error":      err.Error(),
			"elapsed_ms": elapsed.Milliseconds(),
			"user_id":    u.ID,
		})
		s.pipelineError(w, err)
		return
	}

	post := &store.Post{
		UserID:           u.ID,
		YouTubeURL:       url,
		VideoID:          article.VideoID,
		Title:            article.Title,
		Content:          article.Content,
		TranscriptSource: article.TranscriptSource,
		Model:            article.Model,
	}
	if err := s.store.CreatePost(ctx, post); err != nil {
		log.Error("store post failed", "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not save post")
		return
	}

	cost := store.ComputeCost(article.Model, article.InputTokens, article.OutputTokens, s.cfg.Pricing)
	s.recordUsage(r, store.UsageRecord{
		UserID:       u.ID,
		PostID:       post.ID,
		Model:        article.Model,
		Provider:     s.cfg.Provider,
		InputTokens:  article.InputTokens,
		OutputTokens: article.OutputTokens,
		CostUSD:      cost,
		Outcome:      store.OutcomeOK,
	})

	s.bus.Emit(events.SourcePipeline, events.KindRunComplete, map[string]any{
		"run_id":            runID,
		"video_id":          article.VideoID,
		"model":             article.Model,
		"tokens_in":         article.InputTokens,
		"tokens_out":        article.OutputTokens,
		"cost_usd":          cost,
		"transcript_source": article.TranscriptSource,
		"elapsed_ms":        elapsed.Milliseconds(),
		"user_id":           u.ID,
	})
	s.bus.Emit(events.SourceAPI, events.KindPostCreated, map[string]any{
		"post_id":  post.ID,
		"video_id": post.VideoID,
		"user_id":  u.ID,
	})

	log.Info("post created", "post_id", post.ID, "video_id", post.VideoID, "elapsed", elapsed.Round(time.Millisecond))
	s.respond(w, http.StatusOK, GenerateResponse{
		ID:      post.ID,
		Title:   post.Title,
		Content: post.Content,
	})
}

// recordUsage stores rec without failing the request.
func (s *Server) recordUsage(r *http.Request, rec store.UsageRecord) {
	if err := s.store.RecordUsage(r.Context(), rec); err != nil {
		s.logger.Warn("record usage failed", "user_id", rec.UserID, "error", err)
	}
}

func (s *Server) handleBlogList(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	posts, err := s.store.ListPosts(r.Context(), u.ID)
	if err != nil {
		s.logger.Error("list posts failed", "user_id", u.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not list posts")
		return
	}
	s.respond(w, http.StatusOK, posts)
}

// lookupPost loads the {id} post for the signed-in user, writing the
// error response itself when it returns nil.
func (s *Server) lookupPost(w http.ResponseWriter, r *http.Request) *store.Post {
	u := auth.UserFromContext(r.Context())
	p, err := s.store.GetPost(r.Context(), u.ID, r.PathValue("id"))
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "post not found")
		return nil
	}
	if err != nil {
		s.logger.Error("get post failed", "user_id", u.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load post")
		return nil
	}
	return p
}

func (s *Server) handleBlogGet(w http.ResponseWriter, r *http.Request) {
	if p := s.lookupPost(w, r); p != nil {
		s.respond(w, http.StatusOK, p)
	}
}

func (s *Server) handleBlogUpdate(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())

	var req PostUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p, err := s.store.UpdatePost(r.Context(), u.ID, r.PathValue("id"), store.PostUpdate{
		Title:   req.Title,
		Content: req.Content,
	})
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.logger.Error("update post failed", "user_id", u.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not update post")
		return
	}
	s.respond(w, http.StatusOK, p)
}

func (s *Server) handleBlogDelete(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	id := r.PathValue("id")

	err := s.store.DeletePost(r.Context(), u.ID, id)
	if errors.Is(err, store.ErrNotFound) {
		s.errorResponse(w, http.StatusNotFound, "post not found")
		return
	}
	if err != nil {
		s.logger.Error("delete post failed", "user_id", u.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not delete post")
		return
	}

	s.bus.Emit(events.SourceAPI, events.KindPostDeleted, map[string]any{
		"post_id": id,
		"user_id": u.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBlogHTML(w http.ResponseWriter, r *http.Request) {
	p := s.lookupPost(w, r)
	if p == nil {
		return
	}

	body, err := render.MarkdownToHTML(p.Content)
	if err != nil {
		s.logger.Error("render post failed", "post_id", p.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not render post")
		return
	}

	title := p.Title
	if h := render.Heading(p.Content); h != "" {
		title = h
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write([]byte(render.Page(title, body))); err != nil {
		s.logger.Debug("failed to write HTML response", "error", err)
	}
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	// A second of slack keeps a record written in the same instant.
	end := time.Now().UTC().Add(time.Second)
	start := end.Add(-usageWindow)

	total, err := s.store.UsageSummary(r.Context(), u.ID, start, end)
	if err != nil {
		s.logger.Error("usage summary failed", "user_id", u.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load usage")
		return
	}
	byModel, err := s.store.UsageByModel(r.Context(), u.ID, start, end)
	if err != nil {
		s.logger.Error("usage by model failed", "user_id", u.ID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, "could not load usage")
		return
	}

	s.respond(w, http.StatusOK, UsageResponse{
		Start:   start,
		End:     end,
		Total:   total,
		ByModel: byModel,
	})
}
