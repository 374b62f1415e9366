package sqlstore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentflow/acpctl/domain"
	"github.com/agentflow/acpctl/storage"
)

// newMockRepo wires a Repository[*domain.Agent] to a sqlmock-backed
// *sqlx.DB, following the sqlx.NewDb(mockDB, "sqlmock") pattern exercised
// in the jordigilh-kubernaut example's datastorage repository tests.
func newMockRepo(t *testing.T) (*Repository[*domain.Agent], sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return New(db, AgentMapper()), mock
}

func TestRepositoryCreateAssignsIDAndReturnsRow(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("INSERT INTO agents").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "acp_url", "acp_type", "status", "created_at", "updated_at"}).
			AddRow("a1", "weather-bot", "", "https://agent.example/acp", "SYNC", "ACTIVE", time.Unix(1, 0), time.Unix(1, 0)))

	created, err := repo.Create(context.Background(), &domain.Agent{Name: "weather-bot", ACPURL: "https://agent.example/acp", ACPType: domain.ACPTypeSync, Status: domain.AgentStatusActive})
	require.NoError(t, err)
	assert.Equal(t, "a1", created.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery("SELECT .* FROM agents WHERE id = \\$1").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description", "acp_url", "acp_type", "status", "created_at", "updated_at"}))

	_, err := repo.Get(context.Background(), storage.Selector{ID: "missing"})
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositorySelectorRequiresExactlyOne(t *testing.T) {
	repo, _ := newMockRepo(t)

	_, err := repo.Get(context.Background(), storage.Selector{})
	require.Error(t, err)
	assert.Equal(t, domain.KindClientError, domain.KindOf(err))

	_, err = repo.Get(context.Background(), storage.Selector{ID: "a", Name: "b"})
	require.Error(t, err)
	assert.Equal(t, domain.KindClientError, domain.KindOf(err))
}

func TestRepositoryDeleteNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec("DELETE FROM agents WHERE id = \\$1").
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Delete(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, domain.IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}
