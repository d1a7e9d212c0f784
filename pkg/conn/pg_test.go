package conn

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPostgresConnString(t *testing.T) {
	testCases := []struct {
		desc     string
		cfg      Postgres
		expected string
	}{
		{
			desc:     "defaults",
			cfg:      Postgres{},
			expected: "postgres://localhost:5432?sslmode=disable",
		},
		{
			desc:     "dsn wins",
			cfg:      Postgres{DSN: "postgres://u@db/x", Host: "ignored"},
			expected: "postgres://u@db/x",
		},
		{
			desc: "full",
			cfg: Postgres{
				Host: "db", Port: 6543, User: "trader", Password: "secret", Database: "tradecore",
				SSLMode: "require", Params: map[string]string{"search_path": "cache", "application_name": "node"},
			},
			expected: "postgres://trader:secret@db:6543/tradecore?application_name=node&search_path=cache&sslmode=require",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.desc, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.cfg.ConnString())
		})
	}
}

func TestPostgresRedacted(t *testing.T) {
	cfg := Postgres{Host: "db", User: "trader", Password: "secret"}
	assert.NotContains(t, cfg.redacted(), "secret")
	assert.Contains(t, cfg.redacted(), "trader@db")
}
