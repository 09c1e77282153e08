package store

import (
	"context"
	"errors"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"relay/internal/domain"
	"relay/internal/relaylog"
	"relay/pkg/retry"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return &Store{db: db, retryCfg: retry.Config{MaxRetries: 1}, log: relaylog.InitLogger(relaylog.LogConfig{})}, mock
}

func TestAddMember_DuplicateReturnsConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO trade_group_members`).
		WillReturnError(errors.New("UNIQUE constraint failed: trade_group_members.trade_group_id, trade_group_members.slave_account"))

	_, err := s.AddMember(context.Background(), "IC_Markets_12345", "XM_67890", domain.DefaultSlaveSettings())
	if !errors.Is(err, ErrMemberConflict) {
		t.Fatalf("expected ErrMemberConflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestAddMember_MissingTradeGroupReturnsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`INSERT INTO trade_group_members`).
		WillReturnError(errors.New("FOREIGN KEY constraint failed"))

	_, err := s.AddMember(context.Background(), "UnknownMaster", "XM_67890", domain.DefaultSlaveSettings())
	if !errors.Is(err, ErrTradeGroupNotFound) {
		t.Fatalf("expected ErrTradeGroupNotFound, got %v", err)
	}
}

func TestGetMember_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM trade_group_members WHERE trade_group_id = \? AND slave_account = \?`).
		WithArgs("IC_Markets_12345", "XM_67890").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "trade_group_id", "slave_account", "slave_settings", "enabled_flag",
			"runtime_status", "warning_codes", "config_version", "created_at", "updated_at",
		}))

	_, err := s.GetMember(context.Background(), "IC_Markets_12345", "XM_67890")
	if !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}

func TestGetTradeGroup_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT .* FROM trade_groups WHERE master_account = \?`).
		WithArgs("IC_Markets_12345").
		WillReturnRows(sqlmock.NewRows([]string{"master_account", "master_settings", "enabled_flag", "created_at", "updated_at"}))

	_, err := s.GetTradeGroup(context.Background(), "IC_Markets_12345")
	if !errors.Is(err, ErrTradeGroupNotFound) {
		t.Fatalf("expected ErrTradeGroupNotFound, got %v", err)
	}
}

func TestDeleteMember_NotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM trade_group_members WHERE trade_group_id = \? AND slave_account = \?`).
		WithArgs("IC_Markets_12345", "XM_67890").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.DeleteMember(context.Background(), "IC_Markets_12345", "XM_67890")
	if !errors.Is(err, ErrMemberNotFound) {
		t.Fatalf("expected ErrMemberNotFound, got %v", err)
	}
}
