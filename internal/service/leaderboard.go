package service

import (
	"context"
	"math"
	"sort"

	"github.com/mmeshcher/clubpoints-system/internal/model"
)

// defaultLeaderboardLimit используется, когда вызывающая сторона не указала лимит.
const defaultLeaderboardLimit = 10

// rankRows упорядочивает снимки статистики и присваивает позиции 1..n.
// Правило ничьих фиксировано: при равных баллах выше стоит пользователь с более
// ранней датой вступления, при равных датах — с меньшим идентификатором.
func rankRows(rows []model.LeaderboardRow) []model.LeaderboardEntry {
	sorted := make([]model.LeaderboardRow, len(rows))
	copy(sorted, rows)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].PointsTotal != sorted[j].PointsTotal {
			return sorted[i].PointsTotal > sorted[j].PointsTotal
		}
		if !sorted[i].JoinedAt.Equal(sorted[j].JoinedAt) {
			return sorted[i].JoinedAt.Before(sorted[j].JoinedAt)
		}
		return sorted[i].UserID < sorted[j].UserID
	})

	entries := make([]model.LeaderboardEntry, 0, len(sorted))
	for i, row := range sorted {
		entries = append(entries, model.LeaderboardEntry{
			Position: i + 1,
			UserID:   row.UserID,
			Login:    row.Login,
			Points:   row.PointsTotal,
			Level:    row.Level,
		})
	}

	return entries
}

// GetLeaderboard возвращает первые limit позиций рейтинга по суммарным баллам.
func (s *Service) GetLeaderboard(ctx context.Context, limit int) ([]model.LeaderboardEntry, error) {
	if limit <= 0 {
		limit = defaultLeaderboardLimit
	}

	rows, err := s.repo.StatisticsSnapshots(ctx)
	if err != nil {
		return nil, err
	}

	entries := rankRows(rows)
	if len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}

// Rank возвращает позицию пользователя в рейтинге и общее число участников.
// Пользователь без снимка статистики считается вне рейтинга (Ranked=false).
func (s *Service) Rank(ctx context.Context, userID int64) (model.RankValue, int, error) {
	rows, err := s.repo.StatisticsSnapshots(ctx)
	if err != nil {
		return model.RankValue{}, 0, err
	}

	entries := rankRows(rows)
	for _, e := range entries {
		if e.UserID == userID {
			return model.RankValue{Position: e.Position, Ranked: true}, len(entries), nil
		}
	}

	return model.RankValue{}, len(entries), nil
}

// Percentile возвращает округлённый процентиль позиции в рейтинге.
// При нуле или одном участнике, а также вне рейтинга, процентиль равен нулю.
func Percentile(rank model.RankValue, totalUsers int) int {
	if !rank.Ranked || totalUsers <= 1 {
		return 0
	}
	return int(math.Round((1 - float64(rank.Position)/float64(totalUsers)) * 100))
}
