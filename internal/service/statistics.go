package service

import (
	"context"

	"github.com/mmeshcher/clubpoints-system/internal/model"
)

// RecomputeStatistics пересчитывает снимок статистики пользователя из журнала
// и связей с событиями на момент вызова. Пересчёт — чистая производная
// долговечных данных, поэтому конкурентные вызовы для одного пользователя
// безопасны: последний писатель записывает равноценный снимок.
func (s *Service) RecomputeStatistics(ctx context.Context, userID int64) (*model.UserStatistics, error) {
	if _, err := s.repo.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}

	now := s.now()

	summary, err := s.repo.PointsSummary(ctx, userID, now)
	if err != nil {
		return nil, err
	}

	counts, err := s.repo.ParticipationCounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	total := summary.Total()

	stats := &model.UserStatistics{
		UserID:           userID,
		PointsTotal:      total,
		PointsEarned:     summary.Earned,
		PointsSpent:      summary.Spent,
		PointsToday:      summary.Today,
		PointsMonth:      summary.Month,
		PointsYear:       summary.Year,
		EventsRegistered: counts.Registered,
		EventsAttended:   counts.Attended,
		EventsFavorited:  counts.Favorited,
		Level:            LevelFor(total).Current.Name,
		UpdatedAt:        now,
	}

	if err := s.repo.UpsertStatistics(ctx, stats); err != nil {
		return nil, err
	}

	return stats, nil
}
