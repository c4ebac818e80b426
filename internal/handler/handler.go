// Package handler содержит HTTP-обработчики API сервиса баллов клуба.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/clubpoints-system/internal/middleware"
	"github.com/mmeshcher/clubpoints-system/internal/model"
	"github.com/mmeshcher/clubpoints-system/internal/repository"
	"github.com/mmeshcher/clubpoints-system/internal/service"
	"github.com/mmeshcher/clubpoints-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	RegisterUser(ctx context.Context, login, password string) (int64, error)
	AuthenticateUser(ctx context.Context, login, password string) (int64, error)
	Grant(ctx context.Context, userID int64, actionType string, eventID *int64) (*model.Transaction, error)
	GrantEventAttendance(ctx context.Context, userID, eventID int64) (*model.Transaction, bool, error)
	RevokeEventAttendance(ctx context.Context, userID, eventID int64) (bool, error)
	GetUserStatistics(ctx context.Context, userID int64) (*service.StatisticsView, error)
	GetHistory(ctx context.Context, userID int64, page, pageSize int) (*service.HistoryPage, error)
	GetLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error)
	GetAchievements(ctx context.Context, userID int64) ([]model.AchievementStatus, error)
	ListRewards(ctx context.Context) ([]model.Reward, error)
	RedeemReward(ctx context.Context, userID, rewardID int64) (*model.RedemptionResult, error)
}

// Handler реализует HTTP-обработчики API сервиса баллов клуба.
type Handler struct {
	service        Service
	logger         *zap.Logger
	authMiddleware *middleware.AuthMiddleware
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, auth *middleware.AuthMiddleware) *Handler {
	return &Handler{
		service:        s,
		logger:         logger,
		authMiddleware: auth,
	}
}

type credentialsRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Register обрабатывает регистрацию нового участника.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.RegisterUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserExists) {
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
			return
		}
		h.logger.Error("register user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

// Login выполняет аутентификацию участника и установку cookie.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if req.Login == "" || req.Password == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	userID, err := h.service.AuthenticateUser(r.Context(), req.Login, req.Password)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) || errors.Is(err, service.ErrInvalidCredentials) {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		h.logger.Error("login user error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.authMiddleware.SetAuthCookie(w, userID)
	w.WriteHeader(http.StatusOK)
}

type transactionResponse struct {
	ID         int64  `json:"id"`
	Kind       string `json:"kind"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
	ActionType string `json:"action_type,omitempty"`
	EventID    *int64 `json:"event_id,omitempty"`
	RewardID   *int64 `json:"reward_id,omitempty"`
	CreatedAt  string `json:"created_at"`
}

func toTransactionResponse(t model.Transaction) transactionResponse {
	return transactionResponse{
		ID:         t.ID,
		Kind:       string(t.Kind),
		Amount:     t.Amount,
		Reason:     t.Reason,
		ActionType: t.ActionType,
		EventID:    t.EventID,
		RewardID:   t.RewardID,
		CreatedAt:  t.CreatedAt.Format(time.RFC3339),
	}
}

type grantRequest struct {
	ActionType string `json:"action_type"`
	EventID    *int64 `json:"event_id,omitempty"`
}

// Grant начисляет текущему пользователю баллы за действие из фиксированной таблицы.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req grantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, err := h.service.Grant(r.Context(), userID, req.ActionType, req.EventID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidActionType):
			http.Error(w, http.StatusText(http.StatusUnprocessableEntity), http.StatusUnprocessableEntity)
		case errors.Is(err, service.ErrInvalidAmount):
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		case errors.Is(err, repository.ErrUserNotFound), errors.Is(err, repository.ErrEventNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("grant error", zap.Error(err), zap.Int64("userID", userID), zap.String("action", req.ActionType))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, toTransactionResponse(*t))
}

type attendanceResponse struct {
	Granted        bool                 `json:"granted"`
	AlreadyGranted bool                 `json:"already_granted"`
	Transaction    *transactionResponse `json:"transaction,omitempty"`
}

// GrantAttendance начисляет баллы за посещение события.
func (h *Handler) GrantAttendance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	eventID, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	t, already, err := h.service.GrantEventAttendance(r.Context(), userID, eventID)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("grant attendance error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("eventID", eventID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := attendanceResponse{
		Granted:        t != nil && !already,
		AlreadyGranted: already,
	}
	if t != nil {
		tr := toTransactionResponse(*t)
		resp.Transaction = &tr
	}

	writeJSON(w, h.logger, resp)
}

// RevokeAttendance отменяет начисление за посещение события.
func (h *Handler) RevokeAttendance(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	eventID, err := strconv.ParseInt(chi.URLParam(r, "eventID"), 10, 64)
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	revoked, err := h.service.RevokeEventAttendance(r.Context(), userID, eventID)
	if err != nil {
		h.logger.Error("revoke attendance error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("eventID", eventID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if !revoked {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.WriteHeader(http.StatusOK)
}

type levelResponse struct {
	Name            string `json:"name"`
	Icon            string `json:"icon"`
	Color           string `json:"color"`
	Next            string `json:"next,omitempty"`
	NextThreshold   int64  `json:"next_threshold,omitempty"`
	ProgressPercent int    `json:"progress_percent"`
}

type rewardResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	CostPoints  int64  `json:"cost_points"`
	Stock       int64  `json:"stock"`
	ValidUntil  string `json:"valid_until,omitempty"`
}

func toRewardResponse(rw model.Reward) rewardResponse {
	resp := rewardResponse{
		ID:          rw.ID,
		Name:        rw.Name,
		Description: rw.Description,
		CostPoints:  rw.CostPoints,
		Stock:       rw.Stock,
	}
	if rw.ValidUntil != nil {
		resp.ValidUntil = rw.ValidUntil.Format(time.RFC3339)
	}
	return resp
}

type statisticsResponse struct {
	PointsTotal      int64            `json:"points_total"`
	PointsEarned     int64            `json:"points_earned"`
	PointsSpent      int64            `json:"points_spent"`
	PointsToday      int64            `json:"points_today"`
	PointsMonth      int64            `json:"points_month"`
	PointsYear       int64            `json:"points_year"`
	EventsRegistered int64            `json:"events_registered"`
	EventsAttended   int64            `json:"events_attended"`
	EventsFavorited  int64            `json:"events_favorited"`
	Level            levelResponse    `json:"level"`
	Rank             *int             `json:"rank,omitempty"`
	Percentile       int              `json:"percentile"`
	UpcomingRewards  []rewardResponse `json:"upcoming_rewards,omitempty"`
}

// GetStatistics возвращает свежепересчитанную статистику текущего пользователя.
func (h *Handler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	view, err := h.service.GetUserStatistics(r.Context(), userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get statistics error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := statisticsResponse{
		PointsTotal:      view.Statistics.PointsTotal,
		PointsEarned:     view.Statistics.PointsEarned,
		PointsSpent:      view.Statistics.PointsSpent,
		PointsToday:      view.Statistics.PointsToday,
		PointsMonth:      view.Statistics.PointsMonth,
		PointsYear:       view.Statistics.PointsYear,
		EventsRegistered: view.Statistics.EventsRegistered,
		EventsAttended:   view.Statistics.EventsAttended,
		EventsFavorited:  view.Statistics.EventsFavorited,
		Level: levelResponse{
			Name:            view.Level.Current.Name,
			Icon:            view.Level.Current.Icon,
			Color:           view.Level.Current.Color,
			ProgressPercent: view.Level.ProgressPercent,
		},
		Percentile: view.Percentile,
	}
	if view.Level.Next != nil {
		resp.Level.Next = view.Level.Next.Name
		resp.Level.NextThreshold = view.Level.Next.Threshold
	}
	if view.Rank.Ranked {
		pos := view.Rank.Position
		resp.Rank = &pos
	}
	for _, rw := range view.UpcomingRewards {
		resp.UpcomingRewards = append(resp.UpcomingRewards, toRewardResponse(rw))
	}

	writeJSON(w, h.logger, resp)
}

type historyResponse struct {
	Transactions []transactionResponse `json:"transactions"`
	Page         int                   `json:"page"`
	PageSize     int                   `json:"page_size"`
	Total        int64                 `json:"total"`
}

// GetHistory возвращает страницу журнала транзакций текущего пользователя.
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	page, pageSize := validation.ParsePage(r.URL.Query().Get("page"), r.URL.Query().Get("page_size"))

	history, err := h.service.GetHistory(r.Context(), userID, page, pageSize)
	if err != nil {
		h.logger.Error("get history error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := historyResponse{
		Transactions: make([]transactionResponse, 0, len(history.Transactions)),
		Page:         history.Page,
		PageSize:     history.PageSize,
		Total:        history.Total,
	}
	for _, t := range history.Transactions {
		resp.Transactions = append(resp.Transactions, toTransactionResponse(t))
	}

	writeJSON(w, h.logger, resp)
}

type leaderboardEntryResponse struct {
	Position int    `json:"position"`
	UserID   int64  `json:"user_id"`
	Login    string `json:"login"`
	Points   int64  `json:"points"`
	Level    string `json:"level"`
}

// GetLeaderboard возвращает рейтинг участников по суммарным баллам.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit := validation.ParseLimit(r.URL.Query().Get("limit"), 10)

	entries, err := h.service.GetLeaderboard(r.Context(), limit)
	if err != nil {
		h.logger.Error("get leaderboard error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]leaderboardEntryResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, leaderboardEntryResponse{
			Position: e.Position,
			UserID:   e.UserID,
			Login:    e.Login,
			Points:   e.Points,
			Level:    e.Level,
		})
	}

	writeJSON(w, h.logger, resp)
}

type achievementResponse struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	RewardPoints int64  `json:"reward_points"`
	Unlocked     bool   `json:"unlocked"`
	UnlockedAt   string `json:"unlocked_at,omitempty"`
	Current      int64  `json:"current"`
	Total        int64  `json:"total"`
}

// GetAchievements возвращает каталог достижений с прогрессом текущего пользователя.
func (h *Handler) GetAchievements(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	statuses, err := h.service.GetAchievements(r.Context(), userID)
	if err != nil {
		h.logger.Error("get achievements error", zap.Error(err), zap.Int64("userID", userID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]achievementResponse, 0, len(statuses))
	for _, st := range statuses {
		ar := achievementResponse{
			ID:           st.Achievement.ID,
			Name:         st.Achievement.Name,
			Description:  st.Achievement.Description,
			RewardPoints: st.Achievement.RewardPoints,
			Unlocked:     st.Unlocked,
			Current:      st.Current,
			Total:        st.Total,
		}
		if st.UnlockedAt != nil {
			ar.UnlockedAt = st.UnlockedAt.Format(time.RFC3339)
		}
		resp = append(resp, ar)
	}

	writeJSON(w, h.logger, resp)
}

// GetRewards возвращает действующий каталог вознаграждений.
func (h *Handler) GetRewards(w http.ResponseWriter, r *http.Request) {
	rewards, err := h.service.ListRewards(r.Context())
	if err != nil {
		h.logger.Error("get rewards error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := make([]rewardResponse, 0, len(rewards))
	for _, rw := range rewards {
		resp = append(resp, toRewardResponse(rw))
	}

	writeJSON(w, h.logger, resp)
}

type redeemRequest struct {
	RewardID int64 `json:"reward_id"`
}

type redeemResponse struct {
	RedemptionID    int64  `json:"redemption_id"`
	RewardName      string `json:"reward_name"`
	CostPoints      int64  `json:"cost_points"`
	ClaimCode       string `json:"claim_code"`
	RemainingPoints int64  `json:"remaining_points"`
	RemainingStock  int64  `json:"remaining_stock"`
	CreatedAt       string `json:"created_at"`
}

// Redeem обменивает баллы текущего пользователя на вознаграждение.
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	result, err := h.service.RedeemReward(r.Context(), userID, req.RewardID)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrRewardNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		case errors.Is(err, repository.ErrRewardUnavailable):
			http.Error(w, http.StatusText(http.StatusGone), http.StatusGone)
		case errors.Is(err, repository.ErrInsufficientPoints):
			http.Error(w, http.StatusText(http.StatusPaymentRequired), http.StatusPaymentRequired)
		case errors.Is(err, repository.ErrConcurrencyConflict):
			http.Error(w, http.StatusText(http.StatusConflict), http.StatusConflict)
		case errors.Is(err, repository.ErrUserNotFound):
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
		default:
			h.logger.Error("redeem error", zap.Error(err), zap.Int64("userID", userID), zap.Int64("rewardID", req.RewardID))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	writeJSON(w, h.logger, redeemResponse{
		RedemptionID:    result.Redemption.ID,
		RewardName:      result.RewardName,
		CostPoints:      result.Redemption.CostPoints,
		ClaimCode:       result.Redemption.ClaimCode,
		RemainingPoints: result.RemainingPoints,
		RemainingStock:  result.RemainingStock,
		CreatedAt:       result.Redemption.CreatedAt.Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encode response error", zap.Error(err))
	}
}
