package infra

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ratelimit-engine/middleware/ratelimit/domain"
)

const createQuotaTableSQL = `
CREATE TABLE IF NOT EXISTS quota_usage (
    client_id VARCHAR(255) NOT NULL,
    period VARCHAR(16) NOT NULL,
    period_start BIGINT NOT NULL,
    period_end BIGINT NOT NULL,
    used BIGINT NOT NULL DEFAULT 0,
    quota_limit BIGINT NOT NULL,
    updated_at BIGINT NOT NULL,
    PRIMARY KEY (client_id, period)
)`

// SQLQuotaStore persiste cotas em SQL. Dialetos: "postgres", "mysql", "sqlite".
//
// Cada consumo é um UPDATE condicional (used < limit), então não há janela entre
// ler e gravar. Os instantes são gravados como unix seconds.
type SQLQuotaStore struct {
	db      *sql.DB
	dialect string
}

func NewSQLQuotaStore(ctx context.Context, db *sql.DB, dialect string) (*SQLQuotaStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &SQLQuotaStore{db: db, dialect: dialect}
	if _, err := db.ExecContext(ctx, createQuotaTableSQL); err != nil {
		return nil, fmt.Errorf("failed to create quota_usage table: %w", err)
	}
	return s, nil
}

// DialectForDriver mapeia o nome do driver database/sql para o dialeto.
func DialectForDriver(driver string) string {
	switch driver {
	case "postgres", "pgx":
		return "postgres"
	case "sqlite3", "sqlite":
		return "sqlite"
	}
	return driver
}

// rebind troca '?' por $n no postgres.
func (s *SQLQuotaStore) rebind(q string) string {
	if s.dialect != "postgres" {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLQuotaStore) exec(ctx context.Context, q string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *SQLQuotaStore) Consume(ctx context.Context, clientID string, period domain.QuotaPeriod, limit int64, now time.Time) (domain.QuotaRecord, bool, error) {
	nowU := now.Unix()
	start, end := period.Bounds(now)

	for attempt := 0; attempt < 3; attempt++ {
		// período corrente com saldo
		n, err := s.exec(ctx, `UPDATE quota_usage SET used = used + 1, quota_limit = ?, updated_at = ?
			WHERE client_id = ? AND period = ? AND period_end > ? AND used < ?`,
			limit, nowU, clientID, string(period), nowU, limit)
		if err != nil {
			return domain.QuotaRecord{}, false, fmt.Errorf("failed to update quota: %w", err)
		}
		if n > 0 {
			rec, _, err := s.Get(ctx, clientID, period, now)
			return rec, true, err
		}

		// rollover preguiçoso de um período vencido
		n, err = s.exec(ctx, `UPDATE quota_usage SET used = 1, period_start = ?, period_end = ?, quota_limit = ?, updated_at = ?
			WHERE client_id = ? AND period = ? AND period_end <= ?`,
			start.Unix(), end.Unix(), limit, nowU, clientID, string(period), nowU)
		if err != nil {
			return domain.QuotaRecord{}, false, fmt.Errorf("failed to roll quota over: %w", err)
		}
		if n > 0 {
			return domain.QuotaRecord{ClientID: clientID, Period: period, PeriodStart: start, PeriodEnd: end, Used: 1, Limit: limit}, true, nil
		}

		// existe e está esgotado
		rec, ok, err := s.Get(ctx, clientID, period, now)
		if err != nil {
			return domain.QuotaRecord{}, false, err
		}
		if ok {
			rec.Limit = limit
			return rec, false, nil
		}

		// primeiro consumo do cliente
		_, err = s.exec(ctx, `INSERT INTO quota_usage (client_id, period, period_start, period_end, used, quota_limit, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)`,
			clientID, string(period), start.Unix(), end.Unix(), limit, nowU)
		if err == nil {
			return domain.QuotaRecord{ClientID: clientID, Period: period, PeriodStart: start, PeriodEnd: end, Used: 1, Limit: limit}, true, nil
		}
		// outra instância inseriu primeiro; tenta de novo
	}
	return domain.QuotaRecord{}, false, fmt.Errorf("quota for %s: too many conflicts", clientID)
}

func (s *SQLQuotaStore) Get(ctx context.Context, clientID string, period domain.QuotaPeriod, now time.Time) (domain.QuotaRecord, bool, error) {
	var startU, endU, used, limit int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT period_start, period_end, used, quota_limit FROM quota_usage WHERE client_id = ? AND period = ?`),
		clientID, string(period)).Scan(&startU, &endU, &used, &limit)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.QuotaRecord{}, false, nil
	}
	if err != nil {
		return domain.QuotaRecord{}, false, fmt.Errorf("failed to query quota: %w", err)
	}

	rec := domain.QuotaRecord{
		ClientID:    clientID,
		Period:      period,
		PeriodStart: time.Unix(startU, 0).UTC(),
		PeriodEnd:   time.Unix(endU, 0).UTC(),
		Used:        used,
		Limit:       limit,
	}
	if rec.Expired(now) {
		return domain.QuotaRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *SQLQuotaStore) Reset(ctx context.Context, clientID string, period domain.QuotaPeriod) error {
	if _, err := s.exec(ctx, `DELETE FROM quota_usage WHERE client_id = ? AND period = ?`, clientID, string(period)); err != nil {
		return fmt.Errorf("failed to reset quota: %w", err)
	}
	return nil
}
