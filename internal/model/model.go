// Package model содержит доменные сущности системы баллов клуба.
package model

import "time"

// User представляет участника клуба.
type User struct {
	ID           int64
	Login        string
	PasswordHash []byte
	CreatedAt    time.Time
}

// TransactionKind описывает вид транзакции баллов.
type TransactionKind string

const (
	TransactionEarn  TransactionKind = "earn"
	TransactionSpend TransactionKind = "spend"
	TransactionBonus TransactionKind = "bonus"
)

// Transaction описывает запись журнала баллов. Записи неизменяемы после создания;
// единственная допустимая мутация — сброс флага Active (мягкая отмена).
type Transaction struct {
	ID         int64
	UserID     int64
	Kind       TransactionKind
	Amount     int64
	Reason     string
	ActionType string
	EventID    *int64
	RewardID   *int64
	CreatedAt  time.Time
	Active     bool
}

// PointsSummary содержит суммы по активным транзакциям пользователя.
type PointsSummary struct {
	Earned int64
	Spent  int64
	Today  int64
	Month  int64
	Year   int64
}

// Total возвращает текущий баланс, не опускаясь ниже нуля.
func (s PointsSummary) Total() int64 {
	total := s.Earned - s.Spent
	if total < 0 {
		total = 0
	}
	return total
}

// ParticipationCounts содержит счётчики участия пользователя в событиях.
type ParticipationCounts struct {
	Registered int64
	Attended   int64
	Favorited  int64
}

// UserStatistics — производный кэш агрегатов пользователя. Не является источником
// истины: пересчитывается из журнала и связей с событиями.
type UserStatistics struct {
	UserID           int64
	PointsTotal      int64
	PointsEarned     int64
	PointsSpent      int64
	PointsToday      int64
	PointsMonth      int64
	PointsYear       int64
	EventsRegistered int64
	EventsAttended   int64
	EventsFavorited  int64
	Level            string
	UpdatedAt        time.Time
}

// Level описывает уровень членства с порогом баллов и атрибутами отображения.
type Level struct {
	Name      string
	Threshold int64
	Icon      string
	Color     string
}

// LevelProgress содержит текущий уровень, следующий уровень (nil для максимального)
// и процент прогресса к следующему уровню.
type LevelProgress struct {
	Current         Level
	Next            *Level
	ProgressPercent int
}

// MetricType определяет метрику, по которой проверяется условие достижения.
type MetricType string

const (
	MetricPointsTotal      MetricType = "points_total"
	MetricPointsEarned     MetricType = "points_earned"
	MetricRedemptions      MetricType = "redemptions"
	MetricEventsAttended   MetricType = "events_attended"
	MetricEventsRegistered MetricType = "events_registered"
	MetricMonthsActive     MetricType = "months_active"
	MetricLeaderboardRank  MetricType = "leaderboard_rank"
)

// Comparator определяет операцию сравнения текущего значения метрики с порогом.
type Comparator string

const (
	CompareAtLeast Comparator = ">="
	CompareAbove   Comparator = ">"
	CompareAtMost  Comparator = "<="
	CompareEqual   Comparator = "=="
)

// Achievement описывает условие достижения и его разовую награду.
type Achievement struct {
	ID           int64
	Name         string
	Description  string
	Metric       MetricType
	Comparator   Comparator
	Threshold    int64
	RewardPoints int64
	Order        int
}

// AchievementProgress описывает прогресс пользователя по одному достижению.
// Флаг Unlocked монотонен: после установки в true никогда не сбрасывается.
type AchievementProgress struct {
	UserID        int64
	AchievementID int64
	Unlocked      bool
	UnlockedAt    *time.Time
	Current       int64
	Total         int64
	UpdatedAt     time.Time
}

// AchievementStatus объединяет определение достижения с прогрессом пользователя.
type AchievementStatus struct {
	Achievement Achievement
	Unlocked    bool
	UnlockedAt  *time.Time
	Current     int64
	Total       int64
}

// Event описывает событие клуба, за участие в котором начисляются баллы.
type Event struct {
	ID            int64
	Name          string
	StartsAt      time.Time
	PointsAwarded int64
}

// Reward описывает позицию каталога вознаграждений. Stock уменьшается только
// успешными обменами и никогда не опускается ниже нуля.
type Reward struct {
	ID          int64
	Name        string
	Description string
	CostPoints  int64
	Stock       int64
	Active      bool
	ValidFrom   time.Time
	ValidUntil  *time.Time
	CreatedAt   time.Time
}

// AvailableAt сообщает, доступно ли вознаграждение для обмена в указанный момент.
func (r Reward) AvailableAt(now time.Time) bool {
	if !r.Active || r.Stock <= 0 {
		return false
	}
	if now.Before(r.ValidFrom) {
		return false
	}
	if r.ValidUntil != nil && !now.Before(*r.ValidUntil) {
		return false
	}
	return true
}

// Redemption описывает факт обмена баллов на вознаграждение.
type Redemption struct {
	ID         int64
	UserID     int64
	RewardID   int64
	CostPoints int64
	ClaimCode  string
	CreatedAt  time.Time
}

// RedemptionResult содержит итог успешного обмена.
type RedemptionResult struct {
	Redemption      Redemption
	RewardName      string
	RemainingPoints int64
	RemainingStock  int64
}

// RankValue представляет позицию пользователя в рейтинге. Ranked=false означает,
// что пользователь ещё не участвует в рейтинге; Position в этом случае не имеет
// смысла и не должен сравниваться с реальными позициями.
type RankValue struct {
	Position int
	Ranked   bool
}

// LeaderboardRow — снимок статистики одного пользователя для построения рейтинга.
type LeaderboardRow struct {
	UserID      int64
	Login       string
	PointsTotal int64
	Level       string
	JoinedAt    time.Time
}

// LeaderboardEntry — позиция пользователя в итоговом рейтинге.
type LeaderboardEntry struct {
	Position int
	UserID   int64
	Login    string
	Points   int64
	Level    string
}
