package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"relay/internal/domain"
)

// CreateTradeGroup is idempotent: an existing group for master_account is
// returned unchanged rather than reset to defaults.
func (s *Store) CreateTradeGroup(ctx context.Context, masterAccount string) (*domain.TradeGroup, error) {
	if existing, err := s.GetTradeGroup(ctx, masterAccount); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrTradeGroupNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	settings := domain.MasterSettings{ConfigVersion: 1}
	blob, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("store: marshal master settings: %w", err)
	}

	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO trade_groups (master_account, master_settings, enabled_flag, created_at, updated_at)
			 VALUES (?, ?, 1, ?, ?)`,
			masterAccount, string(blob), now, now,
		)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Lost a race with a concurrent auto-provision; the row exists now.
			return s.GetTradeGroup(ctx, masterAccount)
		}
		return nil, fmt.Errorf("store: create trade group %s: %w", masterAccount, err)
	}

	return &domain.TradeGroup{
		MasterAccount: masterAccount,
		Settings:      settings,
		Enabled:       true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// GetTradeGroup loads one TradeGroup by master account id.
func (s *Store) GetTradeGroup(ctx context.Context, masterAccount string) (*domain.TradeGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT master_account, master_settings, enabled_flag, created_at, updated_at
		 FROM trade_groups WHERE master_account = ?`,
		masterAccount,
	)
	return scanTradeGroup(row)
}

// ListTradeGroups returns every TradeGroup, ordered by master_account.
func (s *Store) ListTradeGroups(ctx context.Context) ([]*domain.TradeGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT master_account, master_settings, enabled_flag, created_at, updated_at
		 FROM trade_groups ORDER BY master_account`,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list trade groups: %w", err)
	}
	defer rows.Close()

	var groups []*domain.TradeGroup
	for rows.Next() {
		g, err := scanTradeGroupRows(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

// UpdateMasterSettings bumps the TradeGroup's config_version and persists
// the new symbol_prefix/symbol_suffix. Fails ErrTradeGroupNotFound if the
// master does not exist.
func (s *Store) UpdateMasterSettings(ctx context.Context, masterAccount, symbolPrefix, symbolSuffix string) (*domain.TradeGroup, error) {
	existing, err := s.GetTradeGroup(ctx, masterAccount)
	if err != nil {
		return nil, err
	}

	settings := domain.MasterSettings{
		SymbolPrefix:  symbolPrefix,
		SymbolSuffix:  symbolSuffix,
		ConfigVersion: existing.Settings.ConfigVersion + 1,
	}
	blob, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("store: marshal master settings: %w", err)
	}
	now := time.Now().UTC()

	err = s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE trade_groups SET master_settings = ?, updated_at = ? WHERE master_account = ?`,
			string(blob), now, masterAccount,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTradeGroupNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	existing.Settings = settings
	existing.UpdatedAt = now
	return existing, nil
}

// SetTradeGroupEnabled updates the group's enabled_flag (user intent).
func (s *Store) SetTradeGroupEnabled(ctx context.Context, masterAccount string, enabled bool) (*domain.TradeGroup, error) {
	now := time.Now().UTC()
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE trade_groups SET enabled_flag = ?, updated_at = ? WHERE master_account = ?`,
			boolToInt(enabled), now, masterAccount,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTradeGroupNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetTradeGroup(ctx, masterAccount)
}

// DeleteTradeGroup removes the group and, via ON DELETE CASCADE, all of its
// members.
func (s *Store) DeleteTradeGroup(ctx context.Context, masterAccount string) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM trade_groups WHERE master_account = ?`, masterAccount)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrTradeGroupNotFound
		}
		return nil
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTradeGroup(row *sql.Row) (*domain.TradeGroup, error) {
	g, err := scanTradeGroupRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTradeGroupNotFound
	}
	return g, err
}

func scanTradeGroupRow(row rowScanner) (*domain.TradeGroup, error) {
	var g domain.TradeGroup
	var settingsBlob string
	var enabledFlag int
	if err := row.Scan(&g.MasterAccount, &settingsBlob, &enabledFlag, &g.CreatedAt, &g.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settingsBlob), &g.Settings); err != nil {
		return nil, fmt.Errorf("store: unmarshal master settings for %s: %w", g.MasterAccount, err)
	}
	g.Enabled = enabledFlag != 0
	return &g, nil
}

func scanTradeGroupRows(rows *sql.Rows) (*domain.TradeGroup, error) {
	return scanTradeGroupRow(rows)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
