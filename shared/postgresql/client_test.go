package postgresql

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{
			name: "defaults sslmode to disable",
			cfg:  Config{Host: "localhost", Port: 5432, User: "videogen", Password: "pw", Database: "videogen_db"},
			want: "postgres://videogen:pw@localhost:5432/videogen_db?sslmode=disable",
		},
		{
			name: "escapes credentials",
			cfg:  Config{Host: "db", Port: 6432, User: "app", Password: "p@ss/word", Database: "jobs", SSLMode: "require"},
			want: "postgres://app:p%40ss%2Fword@db:6432/jobs?sslmode=require",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cfg.DSN())
		})
	}
}

func TestClient_HealthCheck(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	c := &Client{db: sqlx.NewDb(db, "sqlmock"), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	mock.ExpectQuery(`SELECT 1`).WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	require.NoError(t, c.HealthCheck(context.Background()))

	mock.ExpectClose()
	require.NoError(t, c.Close())
	assert.NoError(t, mock.ExpectationsWereMet())
}
