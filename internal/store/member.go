package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"relay/internal/domain"
)

// AddMember creates a TradeGroupMember under masterAccount. Fails
// ErrMemberConflict on a duplicate (trade_group_id, slave_account) pair.
func (s *Store) AddMember(ctx context.Context, masterAccount, slaveAccount string, settings domain.SlaveSettings) (*domain.TradeGroupMember, error) {
	blob, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("store: marshal slave settings: %w", err)
	}
	now := time.Now().UTC()

	var id int64
	err = s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO trade_group_members
				(trade_group_id, slave_account, slave_settings, enabled_flag, runtime_status, warning_codes, config_version, created_at, updated_at)
			 VALUES (?, ?, ?, 1, 0, '[]', 1, ?, ?)`,
			masterAccount, slaveAccount, string(blob), now, now,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrMemberConflict
		}
		if isForeignKeyViolation(err) {
			return nil, ErrTradeGroupNotFound
		}
		return nil, fmt.Errorf("store: add member %s/%s: %w", masterAccount, slaveAccount, err)
	}

	return &domain.TradeGroupMember{
		ID:            id,
		TradeGroupID:  masterAccount,
		SlaveAccount:  slaveAccount,
		Settings:      settings,
		Enabled:       true,
		RuntimeStatus: domain.StatusOff,
		WarningCodes:  []string{},
		ConfigVersion: 1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

const memberColumns = `id, trade_group_id, slave_account, slave_settings, enabled_flag, runtime_status, warning_codes, config_version, created_at, updated_at`

// GetMember loads one member by (masterAccount, slaveAccount).
func (s *Store) GetMember(ctx context.Context, masterAccount, slaveAccount string) (*domain.TradeGroupMember, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+memberColumns+` FROM trade_group_members WHERE trade_group_id = ? AND slave_account = ?`,
		masterAccount, slaveAccount,
	)
	m, err := scanMemberRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	return m, err
}

// GetMemberByID loads one member by surrogate id.
func (s *Store) GetMemberByID(ctx context.Context, id int64) (*domain.TradeGroupMember, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM trade_group_members WHERE id = ?`, id)
	m, err := scanMemberRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMemberNotFound
	}
	return m, err
}

// ListMembersOf returns every member belonging to masterAccount's group.
func (s *Store) ListMembersOf(ctx context.Context, masterAccount string) ([]*domain.TradeGroupMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM trade_group_members WHERE trade_group_id = ? ORDER BY slave_account`,
		masterAccount,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list members of %s: %w", masterAccount, err)
	}
	defer rows.Close()
	return scanMemberRows(rows)
}

// ListMastersOf returns every TradeGroup that slaveAccount is a member of.
func (s *Store) ListMastersOf(ctx context.Context, slaveAccount string) ([]*domain.TradeGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tg.master_account, tg.master_settings, tg.enabled_flag, tg.created_at, tg.updated_at
		FROM trade_groups tg
		JOIN trade_group_members m ON m.trade_group_id = tg.master_account
		WHERE m.slave_account = ?
		ORDER BY tg.master_account`,
		slaveAccount,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list masters of %s: %w", slaveAccount, err)
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

// ListAllMembersForCluster returns every TradeGroupMember row for
// slaveAccount across all of its TradeGroups — the N:N membership set the
// evaluator needs to compute slave's cluster_snapshot.
func (s *Store) ListAllMembersForCluster(ctx context.Context, slaveAccount string) ([]*domain.TradeGroupMember, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+memberColumns+` FROM trade_group_members WHERE slave_account = ? ORDER BY trade_group_id`,
		slaveAccount,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list cluster members for %s: %w", slaveAccount, err)
	}
	defer rows.Close()
	return scanMemberRows(rows)
}

// UpdateMemberSettings replaces a member's SlaveSettings and bumps its
// config_version.
func (s *Store) UpdateMemberSettings(ctx context.Context, masterAccount, slaveAccount string, settings domain.SlaveSettings) (*domain.TradeGroupMember, error) {
	existing, err := s.GetMember(ctx, masterAccount, slaveAccount)
	if err != nil {
		return nil, err
	}
	blob, err := json.Marshal(settings)
	if err != nil {
		return nil, fmt.Errorf("store: marshal slave settings: %w", err)
	}
	now := time.Now().UTC()
	newVersion := existing.ConfigVersion + 1

	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE trade_group_members SET slave_settings = ?, config_version = ?, updated_at = ?
			 WHERE trade_group_id = ? AND slave_account = ?`,
			string(blob), newVersion, now, masterAccount, slaveAccount,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: update member settings %s/%s: %w", masterAccount, slaveAccount, err)
	}

	existing.Settings = settings
	existing.ConfigVersion = newVersion
	existing.UpdatedAt = now
	return existing, nil
}

// SetMemberEnabled updates a member's enabled_flag (user intent).
func (s *Store) SetMemberEnabled(ctx context.Context, masterAccount, slaveAccount string, enabled bool) (*domain.TradeGroupMember, error) {
	now := time.Now().UTC()
	err := s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE trade_group_members SET enabled_flag = ?, updated_at = ?
			 WHERE trade_group_id = ? AND slave_account = ?`,
			boolToInt(enabled), now, masterAccount, slaveAccount,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrMemberNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetMember(ctx, masterAccount, slaveAccount)
}

// UpdateRuntimeStatus is called only by the evaluator. It bumps
// config_version whenever status or warnings actually change, and is a
// no-op (no version bump) otherwise.
func (s *Store) UpdateRuntimeStatus(ctx context.Context, masterAccount, slaveAccount string, status int, warnings []string) (*domain.TradeGroupMember, error) {
	existing, err := s.GetMember(ctx, masterAccount, slaveAccount)
	if err != nil {
		return nil, err
	}
	if warnings == nil {
		warnings = []string{}
	}
	if existing.RuntimeStatus == status && stringSlicesEqual(existing.WarningCodes, warnings) {
		return existing, nil
	}

	warningsBlob, err := json.Marshal(warnings)
	if err != nil {
		return nil, fmt.Errorf("store: marshal warning codes: %w", err)
	}
	now := time.Now().UTC()
	newVersion := existing.ConfigVersion + 1

	err = s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE trade_group_members SET runtime_status = ?, warning_codes = ?, config_version = ?, updated_at = ?
			 WHERE trade_group_id = ? AND slave_account = ?`,
			status, string(warningsBlob), newVersion, now, masterAccount, slaveAccount,
		)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("store: update runtime status %s/%s: %w", masterAccount, slaveAccount, err)
	}

	existing.RuntimeStatus = status
	existing.WarningCodes = warnings
	existing.ConfigVersion = newVersion
	existing.UpdatedAt = now
	return existing, nil
}

// DeleteMember removes one member.
func (s *Store) DeleteMember(ctx context.Context, masterAccount, slaveAccount string) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`DELETE FROM trade_group_members WHERE trade_group_id = ? AND slave_account = ?`,
			masterAccount, slaveAccount,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrMemberNotFound
		}
		return nil
	})
}

func scanMemberRow(row rowScanner) (*domain.TradeGroupMember, error) {
	var m domain.TradeGroupMember
	var settingsBlob, warningsBlob string
	var enabledFlag int
	if err := row.Scan(
		&m.ID, &m.TradeGroupID, &m.SlaveAccount, &settingsBlob, &enabledFlag,
		&m.RuntimeStatus, &warningsBlob, &m.ConfigVersion, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(settingsBlob), &m.Settings); err != nil {
		return nil, fmt.Errorf("store: unmarshal slave settings for member %d: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(warningsBlob), &m.WarningCodes); err != nil {
		return nil, fmt.Errorf("store: unmarshal warning codes for member %d: %w", m.ID, err)
	}
	m.Enabled = enabledFlag != 0
	return &m, nil
}

func scanMemberRows(rows *sql.Rows) ([]*domain.TradeGroupMember, error) {
	var members []*domain.TradeGroupMember
	for rows.Next() {
		m, err := scanMemberRow(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func isForeignKeyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
