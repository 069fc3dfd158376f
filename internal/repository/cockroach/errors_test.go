package cockroach

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"callsession-backend/internal/domain"
)

func TestTranslateError(t *testing.T) {
	assert.NoError(t, translateError(nil))
	assert.ErrorIs(t, translateError(pgx.ErrNoRows), domain.ErrNotFound)
	assert.ErrorIs(t, translateError(fmt.Errorf("scan: %w", pgx.ErrNoRows)), domain.ErrNotFound)

	dup := &pgconn.PgError{Code: "23505", ConstraintName: "call_sessions_one_active_per_room"}
	err := translateError(dup)
	assert.ErrorIs(t, err, domain.ErrDuplicate)
	assert.Contains(t, err.Error(), "call_sessions_one_active_per_room")

	other := &pgconn.PgError{Code: "40001"}
	assert.Same(t, error(other), translateError(other))
}

type mockRecorder struct {
	mock.Mock
}

func (m *mockRecorder) RecordDBQuery(operation, table string, duration time.Duration, err error) {
	m.Called(operation, table, err)
}

func TestObserve_TreatsMissesAsSuccess(t *testing.T) {
	rec := new(mockRecorder)
	boom := errors.New("connection reset")
	rec.On("RecordDBQuery", "get", "call_sessions", nil).Twice()
	rec.On("RecordDBQuery", "get", "call_sessions", boom).Once()

	observe(rec, "get", "call_sessions", time.Now(), domain.ErrNotFound)
	observe(rec, "get", "call_sessions", time.Now(), nil)
	observe(rec, "get", "call_sessions", time.Now(), boom)
	observe(nil, "get", "call_sessions", time.Now(), boom)

	rec.AssertExpectations(t)
}
