// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"

	"github.com/mmeshcher/clubpoints-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrUserExists возвращается при попытке создать пользователя с уже существующим логином.
var (
	ErrUserExists = errors.New("user already exists")
	// ErrUserNotFound возвращается, если пользователь не найден.
	ErrUserNotFound = errors.New("user not found")
	// ErrEventNotFound возвращается, если событие не найдено.
	ErrEventNotFound = errors.New("event not found")
	// ErrRewardNotFound возвращается, если вознаграждение не найдено.
	ErrRewardNotFound = errors.New("reward not found")
	// ErrRewardUnavailable возвращается, если вознаграждение неактивно,
	// закончилось на складе или вышло за окно действия.
	ErrRewardUnavailable = errors.New("reward unavailable")
	// ErrInsufficientPoints возвращается при попытке списания суммы, превышающей баланс.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrConcurrencyConflict возвращается, когда транзакция проиграла гонку
	// и ретраи исчерпаны. Вызывающая сторона может повторить операцию.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
)

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}

// withTxRetry повторяет fn при конфликтах сериализации и взаимоблокировках.
// После исчерпания ретраев возвращает ErrConcurrencyConflict.
func (r *PostgresRepository) withTxRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if isSerializationError(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
	if err != nil && isSerializationError(err) {
		return fmt.Errorf("%w: %s", ErrConcurrencyConflict, err)
	}
	return err
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateUser создаёт нового пользователя.
func (r *PostgresRepository) CreateUser(ctx context.Context, login string, passwordHash []byte) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (login, password_hash) VALUES ($1, $2) RETURNING id`,
		login, passwordHash,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrUserExists, login)
		}
		return 0, fmt.Errorf("create user: %w", err)
	}
	return id, nil
}

// GetUserByLogin возвращает пользователя по логину.
func (r *PostgresRepository) GetUserByLogin(ctx context.Context, login string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE login = $1`,
		login,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user: %w", err)
	}

	return &u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUserByID(ctx context.Context, userID int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, login, password_hash, created_at FROM users WHERE id = $1`,
		userID,
	)

	var u model.User
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}

	return &u, nil
}

// GetEvent возвращает событие по идентификатору.
func (r *PostgresRepository) GetEvent(ctx context.Context, eventID int64) (*model.Event, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, name, starts_at, points_awarded FROM events WHERE id = $1`,
		eventID,
	)

	var e model.Event
	err := row.Scan(&e.ID, &e.Name, &e.StartsAt, &e.PointsAwarded)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrEventNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}

	return &e, nil
}

// fkViolationSentinel выбирает ошибку-сентинел по имени нарушенного внешнего
// ключа point_transactions: запись ссылается на пользователя, событие и
// вознаграждение, и каждая ссылка может оказаться битой.
func fkViolationSentinel(pgErr *pgconn.PgError) error {
	switch {
	case strings.Contains(pgErr.ConstraintName, "event"):
		return ErrEventNotFound
	case strings.Contains(pgErr.ConstraintName, "reward"):
		return ErrRewardNotFound
	default:
		return ErrUserNotFound
	}
}

// AppendTransaction добавляет запись в журнал баллов. Существующие записи никогда
// не изменяются.
func (r *PostgresRepository) AppendTransaction(ctx context.Context, t model.Transaction) (*model.Transaction, error) {
	var actionType *string
	if t.ActionType != "" {
		actionType = &t.ActionType
	}

	row := r.pool.QueryRow(ctx,
		`INSERT INTO point_transactions (user_id, kind, amount, reason, action_type, event_id, reward_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, created_at`,
		t.UserID, string(t.Kind), t.Amount, t.Reason, actionType, t.EventID, t.RewardID,
	)

	if err := row.Scan(&t.ID, &t.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, fmt.Errorf("%w: %s", fkViolationSentinel(pgErr), pgErr.ConstraintName)
		}
		return nil, fmt.Errorf("append transaction: %w", err)
	}

	t.Active = true
	return &t, nil
}

// DeactivateTransaction выполняет мягкую отмену записи журнала. Это единственная
// допустимая мутация существующей записи.
func (r *PostgresRepository) DeactivateTransaction(ctx context.Context, transactionID int64) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE point_transactions SET active = FALSE WHERE id = $1`,
		transactionID,
	)
	if err != nil {
		return fmt.Errorf("deactivate transaction: %w", err)
	}
	return nil
}

// FindEventEarn ищет активное начисление пользователю за посещение конкретного
// события. Фильтр по action_type обязателен: за одно событие могут существовать
// и другие начисления (например, за регистрацию), которые не делают повторное
// начисление за посещение уже выданным. Возвращает nil без ошибки, если
// начисления не было.
func (r *PostgresRepository) FindEventEarn(ctx context.Context, userID, eventID int64) (*model.Transaction, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, user_id, kind, amount, reason, COALESCE(action_type, ''), event_id, reward_id, created_at, active
		 FROM point_transactions
		 WHERE user_id = $1 AND event_id = $2 AND kind = $3 AND action_type = 'event_attendance' AND active
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, eventID, string(model.TransactionEarn),
	)

	var t model.Transaction
	var kind string
	err := row.Scan(&t.ID, &t.UserID, &kind, &t.Amount, &t.Reason, &t.ActionType, &t.EventID, &t.RewardID, &t.CreatedAt, &t.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find event earn: %w", err)
	}

	t.Kind = model.TransactionKind(kind)
	return &t, nil
}

// ListTransactions возвращает страницу активных записей журнала пользователя,
// упорядоченных по убыванию времени создания, и общее число активных записей.
func (r *PostgresRepository) ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]model.Transaction, int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM point_transactions WHERE user_id = $1 AND active`,
		userID,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count transactions: %w", err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, kind, amount, reason, COALESCE(action_type, ''), event_id, reward_id, created_at, active
		 FROM point_transactions
		 WHERE user_id = $1 AND active
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("select transactions: %w", err)
	}
	defer rows.Close()

	var res []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.UserID, &kind, &t.Amount, &t.Reason, &t.ActionType, &t.EventID, &t.RewardID, &t.CreatedAt, &t.Active); err != nil {
			return nil, 0, fmt.Errorf("scan transaction: %w", err)
		}
		t.Kind = model.TransactionKind(kind)
		res = append(res, t)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows error: %w", err)
	}

	return res, total, nil
}

// PointsSummary возвращает суммы начислений и списаний пользователя по активным
// записям журнала, включая суммы за день, месяц и год относительно указанного момента.
func (r *PostgresRepository) PointsSummary(ctx context.Context, userID int64, now time.Time) (model.PointsSummary, error) {
	year, month, day := now.Date()
	dayStart := time.Date(year, month, day, 0, 0, 0, 0, now.Location())
	monthStart := time.Date(year, month, 1, 0, 0, 0, 0, now.Location())
	yearStart := time.Date(year, 1, 1, 0, 0, 0, 0, now.Location())

	row := r.pool.QueryRow(ctx,
		`SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind IN ('earn', 'bonus')), 0),
			COALESCE(SUM(amount) FILTER (WHERE kind = 'spend'), 0),
			COALESCE(SUM(CASE WHEN kind = 'spend' THEN -amount ELSE amount END) FILTER (WHERE created_at >= $2), 0),
			COALESCE(SUM(CASE WHEN kind = 'spend' THEN -amount ELSE amount END) FILTER (WHERE created_at >= $3), 0),
			COALESCE(SUM(CASE WHEN kind = 'spend' THEN -amount ELSE amount END) FILTER (WHERE created_at >= $4), 0)
		 FROM point_transactions
		 WHERE user_id = $1 AND active`,
		userID, dayStart, monthStart, yearStart,
	)

	var s model.PointsSummary
	if err := row.Scan(&s.Earned, &s.Spent, &s.Today, &s.Month, &s.Year); err != nil {
		return model.PointsSummary{}, fmt.Errorf("points summary: %w", err)
	}

	return s, nil
}

// ParticipationCounts возвращает счётчики участия пользователя в событиях.
func (r *PostgresRepository) ParticipationCounts(ctx context.Context, userID int64) (model.ParticipationCounts, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'attended'),
			COUNT(*) FILTER (WHERE favorite)
		 FROM event_participation
		 WHERE user_id = $1`,
		userID,
	)

	var c model.ParticipationCounts
	if err := row.Scan(&c.Registered, &c.Attended, &c.Favorited); err != nil {
		return model.ParticipationCounts{}, fmt.Errorf("participation counts: %w", err)
	}

	return c, nil
}

// MarkAttendance отмечает подтверждённое посещение события пользователем.
func (r *PostgresRepository) MarkAttendance(ctx context.Context, userID, eventID int64) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO event_participation (user_id, event_id, status)
		 VALUES ($1, $2, 'attended')
		 ON CONFLICT (user_id, event_id) DO UPDATE SET status = 'attended'`,
		userID, eventID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("%w: user=%d event=%d", ErrEventNotFound, userID, eventID)
		}
		return fmt.Errorf("mark attendance: %w", err)
	}
	return nil
}

// UpsertStatistics сохраняет пересчитанный снимок статистики пользователя.
// Снимок — чистая производная журнала, поэтому последний писатель всегда
// записывает корректное значение.
func (r *PostgresRepository) UpsertStatistics(ctx context.Context, s *model.UserStatistics) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_statistics (
			user_id, points_total, points_earned, points_spent,
			points_today, points_month, points_year,
			events_registered, events_attended, events_favorited,
			level, updated_at
		 ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (user_id) DO UPDATE SET
			points_total = EXCLUDED.points_total,
			points_earned = EXCLUDED.points_earned,
			points_spent = EXCLUDED.points_spent,
			points_today = EXCLUDED.points_today,
			points_month = EXCLUDED.points_month,
			points_year = EXCLUDED.points_year,
			events_registered = EXCLUDED.events_registered,
			events_attended = EXCLUDED.events_attended,
			events_favorited = EXCLUDED.events_favorited,
			level = EXCLUDED.level,
			updated_at = EXCLUDED.updated_at`,
		s.UserID, s.PointsTotal, s.PointsEarned, s.PointsSpent,
		s.PointsToday, s.PointsMonth, s.PointsYear,
		s.EventsRegistered, s.EventsAttended, s.EventsFavorited,
		s.Level, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert statistics: %w", err)
	}
	return nil
}

// StatisticsSnapshots возвращает снимки статистики всех пользователей вместе с
// датой вступления для детерминированного разрешения ничьих в рейтинге.
func (r *PostgresRepository) StatisticsSnapshots(ctx context.Context) ([]model.LeaderboardRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.user_id, u.login, s.points_total, s.level, u.created_at
		 FROM user_statistics s
		 JOIN users u ON u.id = s.user_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select statistics snapshots: %w", err)
	}
	defer rows.Close()

	var res []model.LeaderboardRow
	for rows.Next() {
		var lr model.LeaderboardRow
		if err := rows.Scan(&lr.UserID, &lr.Login, &lr.PointsTotal, &lr.Level, &lr.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		res = append(res, lr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListAchievements возвращает каталог достижений в порядке возрастания ord.
func (r *PostgresRepository) ListAchievements(ctx context.Context) ([]model.Achievement, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, metric, comparator, threshold, reward_points, ord
		 FROM achievements
		 ORDER BY ord, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("select achievements: %w", err)
	}
	defer rows.Close()

	var res []model.Achievement
	for rows.Next() {
		var a model.Achievement
		var metric, comparator string
		if err := rows.Scan(&a.ID, &a.Name, &a.Description, &metric, &comparator, &a.Threshold, &a.RewardPoints, &a.Order); err != nil {
			return nil, fmt.Errorf("scan achievement: %w", err)
		}
		a.Metric = model.MetricType(metric)
		a.Comparator = model.Comparator(comparator)
		res = append(res, a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListAchievementProgress возвращает прогресс пользователя по всем достижениям,
// по которым он уже оценивался.
func (r *PostgresRepository) ListAchievementProgress(ctx context.Context, userID int64) ([]model.AchievementProgress, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT user_id, achievement_id, unlocked, unlocked_at, progress_current, progress_total, updated_at
		 FROM user_achievements
		 WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("select achievement progress: %w", err)
	}
	defer rows.Close()

	var res []model.AchievementProgress
	for rows.Next() {
		var p model.AchievementProgress
		if err := rows.Scan(&p.UserID, &p.AchievementID, &p.Unlocked, &p.UnlockedAt, &p.Current, &p.Total, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan achievement progress: %w", err)
		}
		res = append(res, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// SaveAchievementProgress сохраняет прогресс по достижению. Прогресс разблокированных
// достижений заморожен и не перезаписывается.
func (r *PostgresRepository) SaveAchievementProgress(ctx context.Context, userID, achievementID, current, total int64, now time.Time) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_achievements (user_id, achievement_id, progress_current, progress_total, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, achievement_id) DO UPDATE SET
			progress_current = EXCLUDED.progress_current,
			progress_total = EXCLUDED.progress_total,
			updated_at = EXCLUDED.updated_at
		 WHERE NOT user_achievements.unlocked`,
		userID, achievementID, current, total, now,
	)
	if err != nil {
		return fmt.Errorf("save achievement progress: %w", err)
	}
	return nil
}

// UnlockAchievement атомарно помечает достижение разблокированным и начисляет
// бонусные баллы через журнал. Повторный вызов для уже разблокированного
// достижения ничего не делает и возвращает false: флаг unlocked монотонен.
func (r *PostgresRepository) UnlockAchievement(ctx context.Context, userID, achievementID, rewardPoints int64, reason string, now time.Time) (bool, error) {
	var unlocked bool

	err := r.withTxRetry(ctx, func(ctx context.Context) error {
		unlocked = false

		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		cmdTag, err := tx.Exec(ctx,
			`UPDATE user_achievements
			 SET unlocked = TRUE,
			     unlocked_at = $3,
			     progress_current = GREATEST(progress_current, progress_total),
			     updated_at = $3
			 WHERE user_id = $1 AND achievement_id = $2 AND NOT unlocked`,
			userID, achievementID, now,
		)
		if err != nil {
			return fmt.Errorf("unlock achievement: %w", err)
		}

		if cmdTag.RowsAffected() == 0 {
			return nil
		}

		if rewardPoints > 0 {
			_, err = tx.Exec(ctx,
				`INSERT INTO point_transactions (user_id, kind, amount, reason)
				 VALUES ($1, $2, $3, $4)`,
				userID, string(model.TransactionBonus), rewardPoints, reason,
			)
			if err != nil {
				return fmt.Errorf("insert bonus transaction: %w", err)
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		unlocked = true
		return nil
	})
	if err != nil {
		return false, err
	}

	return unlocked, nil
}

// CountRedemptions возвращает число обменов пользователя.
func (r *PostgresRepository) CountRedemptions(ctx context.Context, userID int64) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reward_redemptions WHERE user_id = $1`,
		userID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count redemptions: %w", err)
	}
	return n, nil
}

// ListActiveRewards возвращает активные вознаграждения, действующие в указанный
// момент, по возрастанию стоимости. Позиции с нулевым остатком включаются.
func (r *PostgresRepository) ListActiveRewards(ctx context.Context, now time.Time) ([]model.Reward, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, description, cost_points, stock, active, valid_from, valid_until, created_at
		 FROM rewards
		 WHERE active
		   AND valid_from <= $1
		   AND (valid_until IS NULL OR valid_until > $1)
		 ORDER BY cost_points, id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("select rewards: %w", err)
	}
	defer rows.Close()

	var res []model.Reward
	for rows.Next() {
		var rw model.Reward
		if err := rows.Scan(&rw.ID, &rw.Name, &rw.Description, &rw.CostPoints, &rw.Stock, &rw.Active, &rw.ValidFrom, &rw.ValidUntil, &rw.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reward: %w", err)
		}
		res = append(res, rw)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// RedeemReward атомарно обменивает баллы пользователя на вознаграждение.
// Внутри одной транзакции: блокировка строки пользователя сериализует списания,
// блокировка строки вознаграждения и условный декремент защищают остаток,
// баланс пересчитывается из журнала, а не из кэша статистики. Все четыре записи
// фиксируются вместе или не фиксируются вовсе.
func (r *PostgresRepository) RedeemReward(ctx context.Context, userID, rewardID int64, claimCode string, now time.Time) (*model.RedemptionResult, error) {
	var result *model.RedemptionResult

	err := r.withTxRetry(ctx, func(ctx context.Context) error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		// Блокируем строку пользователя для предотвращения параллельных списаний,
		// превышающих баланс.
		var dummy int
		err = tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&dummy)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: id=%d", ErrUserNotFound, userID)
			}
			return fmt.Errorf("lock user for update: %w", err)
		}

		var rw model.Reward
		err = tx.QueryRow(ctx,
			`SELECT id, name, cost_points, stock, active, valid_from, valid_until
			 FROM rewards
			 WHERE id = $1
			 FOR UPDATE`,
			rewardID,
		).Scan(&rw.ID, &rw.Name, &rw.CostPoints, &rw.Stock, &rw.Active, &rw.ValidFrom, &rw.ValidUntil)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: id=%d", ErrRewardNotFound, rewardID)
			}
			return fmt.Errorf("lock reward for update: %w", err)
		}

		if !rw.AvailableAt(now) {
			return fmt.Errorf("%w: %s", ErrRewardUnavailable, rw.Name)
		}

		// Баланс считается из журнала внутри транзакции, а не из кэша.
		var earned, spent int64
		err = tx.QueryRow(ctx,
			`SELECT
				COALESCE(SUM(amount) FILTER (WHERE kind IN ('earn', 'bonus')), 0),
				COALESCE(SUM(amount) FILTER (WHERE kind = 'spend'), 0)
			 FROM point_transactions
			 WHERE user_id = $1 AND active`,
			userID,
		).Scan(&earned, &spent)
		if err != nil {
			return fmt.Errorf("sum balance: %w", err)
		}

		balance := earned - spent
		if balance < rw.CostPoints {
			return fmt.Errorf("%w: balance=%d cost=%d", ErrInsufficientPoints, balance, rw.CostPoints)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO point_transactions (user_id, kind, amount, reason, reward_id)
			 VALUES ($1, $2, $3, $4, $5)`,
			userID, string(model.TransactionSpend), rw.CostPoints, "Reward redemption: "+rw.Name, rw.ID,
		)
		if err != nil {
			return fmt.Errorf("insert spend transaction: %w", err)
		}

		// Условный декремент: остаток проверяется повторно в момент фиксации.
		cmdTag, err := tx.Exec(ctx,
			`UPDATE rewards SET stock = stock - 1 WHERE id = $1 AND stock > 0`,
			rw.ID,
		)
		if err != nil {
			return fmt.Errorf("decrement stock: %w", err)
		}
		if cmdTag.RowsAffected() != 1 {
			return fmt.Errorf("%w: %s out of stock", ErrRewardUnavailable, rw.Name)
		}

		var redemption model.Redemption
		err = tx.QueryRow(ctx,
			`INSERT INTO reward_redemptions (user_id, reward_id, cost_points, claim_code)
			 VALUES ($1, $2, $3, $4)
			 RETURNING id, created_at`,
			userID, rw.ID, rw.CostPoints, claimCode,
		).Scan(&redemption.ID, &redemption.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert redemption: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}

		redemption.UserID = userID
		redemption.RewardID = rw.ID
		redemption.CostPoints = rw.CostPoints
		redemption.ClaimCode = claimCode

		result = &model.RedemptionResult{
			Redemption:      redemption,
			RewardName:      rw.Name,
			RemainingPoints: balance - rw.CostPoints,
			RemainingStock:  rw.Stock - 1,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
