package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/clubpoints-system/internal/model"
)

// achievementReasonPrefix — префикс причины бонусной транзакции за достижение.
const achievementReasonPrefix = "Achievement unlocked: "

// metricSet содержит значения метрик пользователя на момент одного прохода проверки.
type metricSet struct {
	summary      model.PointsSummary
	counts       model.ParticipationCounts
	redemptions  int64
	monthsActive int64
	rank         model.RankValue
}

// VerifyAchievements выполняет ровно один проход по каталогу достижений:
// для каждого ещё не разблокированного достижения сохраняет текущий прогресс и,
// если условие выполнено, разблокирует его и начисляет бонус через журнал.
// Проход никогда не перезапускает сам себя: достижение, условие которого стало
// истинным из-за только что начисленного бонуса, подберёт следующий внешне
// инициированный вызов.
func (s *Service) VerifyAchievements(ctx context.Context, userID int64) ([]string, error) {
	achievements, err := s.repo.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}
	if len(achievements) == 0 {
		return nil, nil
	}

	progress, err := s.repo.ListAchievementProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	unlocked := make(map[int64]bool, len(progress))
	for _, p := range progress {
		if p.Unlocked {
			unlocked[p.AchievementID] = true
		}
	}

	metrics, err := s.collectMetrics(ctx, userID, achievements, unlocked)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var newly []string

	for _, a := range achievements {
		if unlocked[a.ID] {
			continue
		}

		value, satisfied := evaluateCondition(a, metrics)

		if err := s.repo.SaveAchievementProgress(ctx, userID, a.ID, progressValue(a, value), a.Threshold, now); err != nil {
			return newly, fmt.Errorf("save progress for %q: %w", a.Name, err)
		}

		if !satisfied {
			continue
		}

		granted, err := s.repo.UnlockAchievement(ctx, userID, a.ID, a.RewardPoints, achievementReasonPrefix+a.Name, now)
		if err != nil {
			return newly, fmt.Errorf("unlock %q: %w", a.Name, err)
		}
		if granted {
			newly = append(newly, a.Name)
		}
	}

	return newly, nil
}

// collectMetrics вычисляет значения метрик, которые нужны хотя бы одному ещё не
// разблокированному достижению. Позиция в рейтинге запрашивается только при
// необходимости: её вычисление дороже остальных метрик.
func (s *Service) collectMetrics(ctx context.Context, userID int64, achievements []model.Achievement, unlocked map[int64]bool) (metricSet, error) {
	var m metricSet

	needs := make(map[model.MetricType]bool)
	for _, a := range achievements {
		if !unlocked[a.ID] {
			needs[a.Metric] = true
		}
	}

	summary, err := s.repo.PointsSummary(ctx, userID, s.now())
	if err != nil {
		return m, err
	}
	m.summary = summary

	if needs[model.MetricEventsAttended] || needs[model.MetricEventsRegistered] {
		counts, err := s.repo.ParticipationCounts(ctx, userID)
		if err != nil {
			return m, err
		}
		m.counts = counts
	}

	if needs[model.MetricRedemptions] {
		n, err := s.repo.CountRedemptions(ctx, userID)
		if err != nil {
			return m, err
		}
		m.redemptions = n
	}

	if needs[model.MetricMonthsActive] {
		u, err := s.repo.GetUserByID(ctx, userID)
		if err != nil {
			return m, err
		}
		m.monthsActive = monthsBetween(u.CreatedAt, s.now())
	}

	if needs[model.MetricLeaderboardRank] {
		rank, _, err := s.Rank(ctx, userID)
		if err != nil {
			return m, err
		}
		m.rank = rank
	}

	return m, nil
}

// evaluateCondition возвращает текущее значение метрики достижения и признак
// выполнения условия. Пользователь вне рейтинга не удовлетворяет ни одному
// условию по позиции: явный маркер «вне рейтинга» не сравнивается с порогом.
func evaluateCondition(a model.Achievement, m metricSet) (int64, bool) {
	var value int64

	switch a.Metric {
	case model.MetricPointsTotal:
		value = m.summary.Total()
	case model.MetricPointsEarned:
		value = m.summary.Earned
	case model.MetricRedemptions:
		value = m.redemptions
	case model.MetricEventsAttended:
		value = m.counts.Attended
	case model.MetricEventsRegistered:
		value = m.counts.Registered
	case model.MetricMonthsActive:
		value = m.monthsActive
	case model.MetricLeaderboardRank:
		if !m.rank.Ranked {
			return 0, false
		}
		value = int64(m.rank.Position)
	default:
		return 0, false
	}

	return value, compare(a.Comparator, value, a.Threshold)
}

func compare(c model.Comparator, current, threshold int64) bool {
	switch c {
	case model.CompareAtLeast:
		return current >= threshold
	case model.CompareAbove:
		return current > threshold
	case model.CompareAtMost:
		return current <= threshold
	case model.CompareEqual:
		return current == threshold
	default:
		return false
	}
}

// progressValue приводит значение метрики к отображаемому прогрессу: для
// накопительных условий значение ограничивается порогом сверху.
func progressValue(a model.Achievement, value int64) int64 {
	switch a.Comparator {
	case model.CompareAtLeast, model.CompareAbove:
		if value > a.Threshold {
			return a.Threshold
		}
	}
	if value < 0 {
		return 0
	}
	return value
}

// monthsBetween возвращает число полных месяцев между двумя моментами.
func monthsBetween(from, to time.Time) int64 {
	if to.Before(from) {
		return 0
	}

	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}

	return int64(months)
}

// GetAchievements запускает один проход проверки достижений и возвращает каталог
// с прогрессом пользователя. Сбой проверки логируется и не мешает чтению списка.
func (s *Service) GetAchievements(ctx context.Context, userID int64) ([]model.AchievementStatus, error) {
	if _, err := s.VerifyAchievements(ctx, userID); err != nil {
		s.logger.Error("verify achievements failed", zap.Int64("userID", userID), zap.Error(err))
	}

	achievements, err := s.repo.ListAchievements(ctx)
	if err != nil {
		return nil, err
	}

	progress, err := s.repo.ListAchievementProgress(ctx, userID)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]model.AchievementProgress, len(progress))
	for _, p := range progress {
		byID[p.AchievementID] = p
	}

	res := make([]model.AchievementStatus, 0, len(achievements))
	for _, a := range achievements {
		status := model.AchievementStatus{
			Achievement: a,
			Total:       a.Threshold,
		}
		if p, ok := byID[a.ID]; ok {
			status.Unlocked = p.Unlocked
			status.UnlockedAt = p.UnlockedAt
			status.Current = p.Current
			status.Total = p.Total
		}
		res = append(res, status)
	}

	return res, nil
}
