package repository

import (
	"database/sql"
	"errors"
	"time"

	"riskcontrol/internal/models"
)

// Ошибки репозитория аккаунтов
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrVersionConflict    = errors.New("account version conflict")
)

// AccountRepository - работа с таблицей accounts
//
// Резервирование маржи выполняется атомарным условным UPDATE:
// единственный писатель маржи - executor, но атомарность защищает
// от гонки нескольких одновременных запросов сайзинга.
type AccountRepository struct {
	db *sql.DB
}

// NewAccountRepository создает новый экземпляр репозитория
func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

// Create создает новый субаккаунт
func (r *AccountRepository) Create(account *models.Account) error {
	query := `
		INSERT INTO accounts (id, allocated_capital, current_balance, peak_balance, margin_used, daily_realized_pnl, last_sync_day, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	now := time.Now().UTC()
	account.CreatedAt = now
	account.UpdatedAt = now

	// Новый аккаунт стартует с балансом равным выделенному капиталу
	if account.CurrentBalance == 0 {
		account.CurrentBalance = account.AllocatedCapital
	}
	if account.PeakBalance < account.CurrentBalance {
		account.PeakBalance = account.CurrentBalance
	}

	_, err := r.db.Exec(
		query,
		account.ID,
		account.AllocatedCapital,
		account.CurrentBalance,
		account.PeakBalance,
		account.MarginUsed,
		account.DailyRealizedPnl,
		account.LastSyncDay,
		account.Version,
		account.CreatedAt,
		account.UpdatedAt,
	)

	return err
}

// GetByID возвращает аккаунт по ID
func (r *AccountRepository) GetByID(id string) (*models.Account, error) {
	query := `
		SELECT id, allocated_capital, current_balance, peak_balance, margin_used, daily_realized_pnl, last_sync_day, version, created_at, updated_at
		FROM accounts
		WHERE id = $1`

	account := &models.Account{}
	err := r.db.QueryRow(query, id).Scan(
		&account.ID,
		&account.AllocatedCapital,
		&account.CurrentBalance,
		&account.PeakBalance,
		&account.MarginUsed,
		&account.DailyRealizedPnl,
		&account.LastSyncDay,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}

	return account, nil
}

// GetAll возвращает все субаккаунты
func (r *AccountRepository) GetAll() ([]*models.Account, error) {
	query := `
		SELECT id, allocated_capital, current_balance, peak_balance, margin_used, daily_realized_pnl, last_sync_day, version, created_at, updated_at
		FROM accounts
		ORDER BY id`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*models.Account
	for rows.Next() {
		account := &models.Account{}
		err := rows.Scan(
			&account.ID,
			&account.AllocatedCapital,
			&account.CurrentBalance,
			&account.PeakBalance,
			&account.MarginUsed,
			&account.DailyRealizedPnl,
			&account.LastSyncDay,
			&account.Version,
			&account.CreatedAt,
			&account.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}

	return accounts, rows.Err()
}

// ReserveMargin атомарно резервирует маржу под новую позицию
//
// Условный UPDATE: резерв проходит только если после него margin_used
// не превысит ни текущий баланс, ни выделенный капитал. Нулевое число
// затронутых строк означает нехватку маржи (или отсутствие аккаунта) -
// частичное резервирование не выполняется никогда.
func (r *AccountRepository) ReserveMargin(accountID string, amount float64) error {
	query := `
		UPDATE accounts
		SET margin_used = margin_used + $2, updated_at = NOW()
		WHERE id = $1 AND margin_used + $2 <= LEAST(current_balance, allocated_capital)`

	result, err := r.db.Exec(query, accountID, amount)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Различаем отсутствие аккаунта и нехватку маржи
		if _, getErr := r.GetByID(accountID); getErr != nil {
			return getErr
		}
		return ErrInsufficientMargin
	}

	return nil
}

// ReleaseMargin освобождает маржу после закрытия позиции
//
// GREATEST защищает от ухода в минус при двойном освобождении.
func (r *AccountRepository) ReleaseMargin(accountID string, amount float64) error {
	query := `
		UPDATE accounts
		SET margin_used = GREATEST(margin_used - $2, 0), updated_at = NOW()
		WHERE id = $1`

	result, err := r.db.Exec(query, accountID, amount)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrAccountNotFound
	}

	return nil
}

// BootstrapCapital устанавливает выделенный капитал при первом запуске
//
// Срабатывает только для аккаунта с нулевым allocated_capital:
// однажды установленный капитал внешним дрейфом баланса не перезаписывается.
func (r *AccountRepository) BootstrapCapital(accountID string, capital float64) error {
	query := `
		UPDATE accounts
		SET allocated_capital = $2, updated_at = NOW()
		WHERE id = $1 AND allocated_capital = 0`

	_, err := r.db.Exec(query, accountID, capital)
	return err
}

// SyncBalance записывает результат синхронизации баланса с биржей
//
// Optimistic locking: UPDATE проходит только при совпадении версии,
// прочитанной перед расчетом. Конфликт версий (другой процесс успел
// записать) возвращает ErrVersionConflict - вызывающий перечитывает
// аккаунт и повторяет расчет.
func (r *AccountRepository) SyncBalance(account *models.Account) error {
	query := `
		UPDATE accounts
		SET current_balance = $2,
		    peak_balance = $3,
		    daily_realized_pnl = $4,
		    last_sync_day = $5,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND version = $6`

	result, err := r.db.Exec(
		query,
		account.ID,
		account.CurrentBalance,
		account.PeakBalance,
		account.DailyRealizedPnl,
		account.LastSyncDay,
		account.Version,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		if _, getErr := r.GetByID(account.ID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}

	account.Version++
	return nil
}
