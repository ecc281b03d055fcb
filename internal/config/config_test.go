package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for k, v := range vars {
		t.Setenv(k, v)
	}
}

func TestValidate_MissingRequired(t *testing.T) {
	c := &Config{}
	err := c.Validate()
	require.Error(t, err)

	var missingErr *MissingEnvError
	require.ErrorAs(t, err, &missingErr)
	assert.Contains(t, missingErr.Vars, "DB_USER")
	assert.Contains(t, missingErr.Vars, "DB_NAME")
	assert.Contains(t, missingErr.Vars, "TELEGRAM_BOT_TOKEN")
	assert.Contains(t, missingErr.Vars, "EVENT_URL")
}

func TestValidate_Complete(t *testing.T) {
	c := &Config{
		DBUser:           "eventbot",
		DBName:           "eventbot",
		TelegramBotToken: "token",
		EventURL:         "https://events.example.com",
	}
	assert.NoError(t, c.Validate())
}

func TestFromEnv_Defaults(t *testing.T) {
	withEnv(t, map[string]string{
		"DB_USER":            "eventbot",
		"DB_NAME":            "eventbot",
		"TELEGRAM_BOT_TOKEN": "token",
		"EVENT_URL":          "https://events.example.com/",
	})

	c := FromEnv()
	require.NoError(t, c.Validate())
	assert.Equal(t, "localhost", c.DBHost)
	assert.Equal(t, "5432", c.DBPort)
	assert.Equal(t, "https://events.example.com", c.EventURL, "trailing slash is stripped")
	assert.Equal(t, int64(8), c.Workers)
}

func TestDSN_UsesTestDBWhenRequested(t *testing.T) {
	c := &Config{DBUser: "eventbot", DBHost: "db", DBPort: "5432", DBName: "eventbot", TestDBName: "eventbot_test"}

	assert.Contains(t, c.DSN(false), "dbname=eventbot ")
	assert.Contains(t, c.DSN(true), "dbname=eventbot_test")
}
