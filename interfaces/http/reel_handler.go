package http

import (
	"errors"
	"math"
	"net/http"
	"strconv"

	"reel-tracker/domain/dto"
	"reel-tracker/domain/model"
	"reel-tracker/infrastructure/logger"
	"reel-tracker/usecase"

	"github.com/gin-gonic/gin"
)

const defaultSessionListLimit = 20

type IReelHandler interface {
	Submit(ctx *gin.Context)
	List(ctx *gin.Context)
	Get(ctx *gin.Context)
	Delete(ctx *gin.Context)
	Toggle(ctx *gin.Context)
	Stats(ctx *gin.Context)
	Refresh(ctx *gin.Context)
	GetSession(ctx *gin.Context)
	ListSessions(ctx *gin.Context)

	AdminList(ctx *gin.Context)
	AdminStats(ctx *gin.Context)
	AdminRefresh(ctx *gin.Context)
}

type ReelHandler struct {
	reels    usecase.IReelUsecase
	stats    usecase.IStatsUsecase
	sessions usecase.IRefreshSessionUsecase
}

func NewReelHandler(reels usecase.IReelUsecase, stats usecase.IStatsUsecase, sessions usecase.IRefreshSessionUsecase) IReelHandler {
	return &ReelHandler{reels: reels, stats: stats, sessions: sessions}
}

func (h *ReelHandler) Submit(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	var req dto.SubmitReelRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reel, err := h.reels.Submit(ctx.Request.Context(), userID, req.URL)
	if err != nil {
		logger.GetLogger().WithField("user_id", userID).WithField("url", req.URL).WithField("error", err.Error()).Warn("Submit reel failed")
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, reel)
}

func (h *ReelHandler) List(ctx *gin.Context) {
	reels := h.reels.ListByOwner(ctx.Request.Context(), ctx.GetString("user_id"))
	if reels == nil {
		reels = []model.Reel{}
	}
	ctx.JSON(http.StatusOK, gin.H{"reels": reels})
}

func (h *ReelHandler) Get(ctx *gin.Context) {
	reel, ok := h.ownedReel(ctx)
	if !ok {
		return
	}
	ctx.JSON(http.StatusOK, reel)
}

func (h *ReelHandler) Delete(ctx *gin.Context) {
	reel, ok := h.ownedReel(ctx)
	if !ok {
		return
	}
	h.reels.Delete(ctx.Request.Context(), reel.ID)
	ctx.Status(http.StatusNoContent)
}

func (h *ReelHandler) Toggle(ctx *gin.Context) {
	reel, ok := h.ownedReel(ctx)
	if !ok {
		return
	}
	active, err := h.reels.ToggleActive(ctx.Request.Context(), reel.ID)
	if err != nil {
		writeError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"id": reel.ID, "is_active": active})
}

func (h *ReelHandler) Stats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.stats.UserStats(ctx.Request.Context(), ctx.GetString("user_id")))
}

// Refresh starts a session over the caller's own reels.
func (h *ReelHandler) Refresh(ctx *gin.Context) {
	userID := ctx.GetString("user_id")
	h.refresh(ctx, userID, userID)
}

func (h *ReelHandler) GetSession(ctx *gin.Context) {
	session, err := h.sessions.GetSession(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return
	}
	if !isAdmin(ctx) && session.InitiatedBy != ctx.GetString("user_id") {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return
	}
	ctx.JSON(http.StatusOK, session)
}

func (h *ReelHandler) ListSessions(ctx *gin.Context) {
	limit := defaultSessionListLimit
	if v := ctx.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}
	sessions, err := h.sessions.ListSessions(ctx.Request.Context(), ctx.GetString("user_id"), limit)
	if err != nil {
		writeError(ctx, err)
		return
	}
	if sessions == nil {
		sessions = []model.RefreshSession{}
	}
	ctx.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (h *ReelHandler) AdminList(ctx *gin.Context) {
	reels := h.reels.ListAll(ctx.Request.Context())
	if reels == nil {
		reels = []model.Reel{}
	}
	ctx.JSON(http.StatusOK, gin.H{"reels": reels})
}

func (h *ReelHandler) AdminStats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, h.stats.GlobalStats(ctx.Request.Context()))
}

// AdminRefresh refreshes every owner's active reels, or a single owner's with ?owner=.
func (h *ReelHandler) AdminRefresh(ctx *gin.Context) {
	h.refresh(ctx, ctx.GetString("user_id"), ctx.Query("owner"))
}

func (h *ReelHandler) refresh(ctx *gin.Context, initiatedBy, scope string) {
	var (
		session *model.RefreshSession
		err     error
	)
	wait, _ := strconv.ParseBool(ctx.Query("wait"))
	if wait {
		session, err = h.sessions.ForceUpdate(ctx.Request.Context(), initiatedBy, scope)
	} else {
		session, err = h.sessions.StartForceUpdate(ctx.Request.Context(), initiatedBy, scope)
	}
	if errors.Is(err, model.ErrRefreshInProgress) {
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error(), "session": session})
		return
	}
	if err != nil {
		logger.GetLogger().WithField("initiated_by", initiatedBy).WithField("scope", scope).WithField("error", err.Error()).Error("Refresh session failed")
		writeError(ctx, err)
		return
	}
	if wait {
		ctx.JSON(http.StatusOK, session)
		return
	}
	ctx.JSON(http.StatusAccepted, session)
}

// ownedReel loads :id and writes 404/403 unless the caller owns it or is an admin.
func (h *ReelHandler) ownedReel(ctx *gin.Context) (*model.Reel, bool) {
	reel, err := h.reels.Get(ctx.Request.Context(), ctx.Param("id"))
	if err != nil {
		writeError(ctx, err)
		return nil, false
	}
	if !isAdmin(ctx) && reel.OwnerID != ctx.GetString("user_id") {
		ctx.JSON(http.StatusForbidden, gin.H{"error": "forbidden"})
		return nil, false
	}
	return reel, true
}

func isAdmin(ctx *gin.Context) bool {
	return ctx.GetString("role") == model.RoleAdmin
}

func writeError(ctx *gin.Context, err error) {
	var rl *model.RateLimitError
	switch {
	case errors.Is(err, model.ErrInvalidReelURL):
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrDuplicateReel):
		ctx.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrReelNotFound), errors.Is(err, model.ErrSessionNotFound):
		ctx.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrRateLimited):
		if errors.As(err, &rl) && rl.RetryAfter > 0 {
			ctx.Header("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		}
		ctx.JSON(http.StatusTooManyRequests, gin.H{"error": err.Error()})
	default:
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
