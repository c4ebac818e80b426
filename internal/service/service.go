// Package service реализует бизнес-логику системы баллов клуба: журнал
// транзакций, пересчёт статистики, уровни, достижения, обмен вознаграждений
// и рейтинг участников.
package service

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mmeshcher/clubpoints-system/internal/model"
)

// ErrInvalidActionType возвращается при начислении за неизвестный тип действия.
var (
	ErrInvalidActionType = errors.New("invalid action type")
	// ErrInvalidAmount возвращается при попытке записать в журнал неположительную сумму.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidCredentials возвращается при неверной паре логин/пароль.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error)
	GetUserByLogin(ctx context.Context, login string) (*model.User, error)
	GetUserByID(ctx context.Context, userID int64) (*model.User, error)
	GetEvent(ctx context.Context, eventID int64) (*model.Event, error)
	AppendTransaction(ctx context.Context, t model.Transaction) (*model.Transaction, error)
	DeactivateTransaction(ctx context.Context, transactionID int64) error
	FindEventEarn(ctx context.Context, userID, eventID int64) (*model.Transaction, error)
	ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]model.Transaction, int64, error)
	PointsSummary(ctx context.Context, userID int64, now time.Time) (model.PointsSummary, error)
	ParticipationCounts(ctx context.Context, userID int64) (model.ParticipationCounts, error)
	MarkAttendance(ctx context.Context, userID, eventID int64) error
	UpsertStatistics(ctx context.Context, s *model.UserStatistics) error
	StatisticsSnapshots(ctx context.Context) ([]model.LeaderboardRow, error)
	ListAchievements(ctx context.Context) ([]model.Achievement, error)
	ListAchievementProgress(ctx context.Context, userID int64) ([]model.AchievementProgress, error)
	SaveAchievementProgress(ctx context.Context, userID, achievementID, current, total int64, now time.Time) error
	UnlockAchievement(ctx context.Context, userID, achievementID, rewardPoints int64, reason string, now time.Time) (bool, error)
	CountRedemptions(ctx context.Context, userID int64) (int64, error)
	ListActiveRewards(ctx context.Context, now time.Time) ([]model.Reward, error)
	RedeemReward(ctx context.Context, userID, rewardID int64, claimCode string, now time.Time) (*model.RedemptionResult, error)
}

// Service содержит бизнес-логику системы баллов клуба.
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService создаёт новый сервис с указанным репозиторием и логгером.
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:   repo,
		logger: logger,
		now:    time.Now,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// RegisterUser регистрирует нового участника клуба.
func (s *Service) RegisterUser(ctx context.Context, login, password string) (int64, error) {
	hashed := hashPassword(login, password)
	id, err := s.repo.CreateUser(ctx, login, hashed)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AuthenticateUser проверяет логин и пароль участника и возвращает его идентификатор.
func (s *Service) AuthenticateUser(ctx context.Context, login, password string) (int64, error) {
	u, err := s.repo.GetUserByLogin(ctx, login)
	if err != nil {
		return 0, err
	}

	hashed := hashPassword(login, password)
	if subtle.ConstantTimeCompare(hashed, u.PasswordHash) != 1 {
		return 0, ErrInvalidCredentials
	}

	return u.ID, nil
}

func hashPassword(login, password string) []byte {
	sum := sha256.Sum256([]byte(login + ":" + password))
	return sum[:]
}

// Grant начисляет участнику баллы за действие из фиксированной таблицы действий.
// Неизвестный тип действия отклоняется с ErrInvalidActionType.
func (s *Service) Grant(ctx context.Context, userID int64, actionType string, eventID *int64) (*model.Transaction, error) {
	action, ok := actionByType(actionType)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidActionType, actionType)
	}

	t, err := s.appendTransaction(ctx, model.Transaction{
		UserID:     userID,
		Kind:       action.Kind,
		Amount:     action.Points,
		Reason:     action.Reason,
		ActionType: actionType,
		EventID:    eventID,
	})
	if err != nil {
		return nil, err
	}

	s.afterLedgerChange(ctx, userID)
	return t, nil
}

// GrantEventAttendance начисляет баллы за подтверждённое посещение события.
// Повторное начисление за то же событие не выполняется: возвращается исходная
// транзакция и признак already=true.
func (s *Service) GrantEventAttendance(ctx context.Context, userID, eventID int64) (*model.Transaction, bool, error) {
	event, err := s.repo.GetEvent(ctx, eventID)
	if err != nil {
		return nil, false, err
	}

	if err := s.repo.MarkAttendance(ctx, userID, eventID); err != nil {
		return nil, false, err
	}

	existing, err := s.repo.FindEventEarn(ctx, userID, eventID)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}

	if event.PointsAwarded <= 0 {
		s.afterLedgerChange(ctx, userID)
		return nil, false, nil
	}

	t, err := s.appendTransaction(ctx, model.Transaction{
		UserID:     userID,
		Kind:       model.TransactionEarn,
		Amount:     event.PointsAwarded,
		Reason:     "Event attendance: " + event.Name,
		ActionType: ActionEventAttendance,
		EventID:    &event.ID,
	})
	if err != nil {
		return nil, false, err
	}

	s.afterLedgerChange(ctx, userID)
	return t, false, nil
}

// RevokeEventAttendance отменяет начисление за посещение события мягкой
// деактивацией исходной записи журнала. Возвращает false, если начисления не было.
func (s *Service) RevokeEventAttendance(ctx context.Context, userID, eventID int64) (bool, error) {
	existing, err := s.repo.FindEventEarn(ctx, userID, eventID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		return false, nil
	}

	if err := s.repo.DeactivateTransaction(ctx, existing.ID); err != nil {
		return false, err
	}

	s.afterLedgerChange(ctx, userID)
	return true, nil
}

// appendTransaction валидирует сумму и добавляет запись в журнал.
func (s *Service) appendTransaction(ctx context.Context, t model.Transaction) (*model.Transaction, error) {
	if t.Amount <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidAmount, t.Amount)
	}
	return s.repo.AppendTransaction(ctx, t)
}

// afterLedgerChange выполняет пересчёт статистики и один проход проверки
// достижений после изменения журнала. Обе операции — побочные эффекты по
// принципу best effort: их сбой логируется и не отменяет исходное действие.
func (s *Service) afterLedgerChange(ctx context.Context, userID int64) {
	if _, err := s.RecomputeStatistics(ctx, userID); err != nil {
		s.logger.Error("recompute statistics failed", zap.Int64("userID", userID), zap.Error(err))
	}
	if _, err := s.VerifyAchievements(ctx, userID); err != nil {
		s.logger.Error("verify achievements failed", zap.Int64("userID", userID), zap.Error(err))
	}
}

// HistoryPage содержит страницу журнала транзакций пользователя.
type HistoryPage struct {
	Transactions []model.Transaction
	Page         int
	PageSize     int
	Total        int64
}

// GetHistory возвращает страницу активных записей журнала пользователя,
// от новых к старым.
func (s *Service) GetHistory(ctx context.Context, userID int64, page, pageSize int) (*HistoryPage, error) {
	offset := (page - 1) * pageSize
	transactions, total, err := s.repo.ListTransactions(ctx, userID, pageSize, offset)
	if err != nil {
		return nil, err
	}

	return &HistoryPage{
		Transactions: transactions,
		Page:         page,
		PageSize:     pageSize,
		Total:        total,
	}, nil
}

// StatisticsView объединяет снимок статистики с уровнем, позицией в рейтинге
// и ближайшими вознаграждениями.
type StatisticsView struct {
	Statistics      model.UserStatistics
	Level           model.LevelProgress
	Rank            model.RankValue
	Percentile      int
	UpcomingRewards []model.Reward
}

// upcomingRewardsLimit ограничивает число вознаграждений в подсказке «к чему стремиться».
const upcomingRewardsLimit = 3

// GetUserStatistics пересчитывает статистику пользователя и возвращает её вместе
// с прогрессом уровня, позицией в рейтинге и ещё недоступными вознаграждениями.
func (s *Service) GetUserStatistics(ctx context.Context, userID int64) (*StatisticsView, error) {
	stats, err := s.RecomputeStatistics(ctx, userID)
	if err != nil {
		return nil, err
	}

	rank, total, err := s.Rank(ctx, userID)
	if err != nil {
		return nil, err
	}

	view := &StatisticsView{
		Statistics: *stats,
		Level:      LevelFor(stats.PointsTotal),
		Rank:       rank,
		Percentile: Percentile(rank, total),
	}

	rewards, err := s.repo.ListActiveRewards(ctx, s.now())
	if err != nil {
		return nil, err
	}
	for _, rw := range rewards {
		if rw.CostPoints <= stats.PointsTotal {
			continue
		}
		view.UpcomingRewards = append(view.UpcomingRewards, rw)
		if len(view.UpcomingRewards) == upcomingRewardsLimit {
			break
		}
	}

	return view, nil
}

// ListRewards возвращает действующий каталог вознаграждений.
func (s *Service) ListRewards(ctx context.Context) ([]model.Reward, error) {
	return s.repo.ListActiveRewards(ctx, s.now())
}

// RedeemReward атомарно обменивает баллы пользователя на вознаграждение.
// Проверки остатка и баланса выполняются в момент фиксации транзакции
// репозиторием; после успешного обмена статистика и достижения обновляются
// по принципу best effort.
func (s *Service) RedeemReward(ctx context.Context, userID, rewardID int64) (*model.RedemptionResult, error) {
	claimCode := uuid.NewString()

	result, err := s.repo.RedeemReward(ctx, userID, rewardID, claimCode, s.now())
	if err != nil {
		return nil, err
	}

	if _, err := s.RecomputeStatistics(ctx, userID); err != nil {
		s.logger.Warn("recompute statistics after redemption failed", zap.Int64("userID", userID), zap.Error(err))
	}
	if _, err := s.VerifyAchievements(ctx, userID); err != nil {
		s.logger.Warn("verify achievements after redemption failed", zap.Int64("userID", userID), zap.Error(err))
	}

	return result, nil
}
