package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestOperationFromSQL(t *testing.T) {
	cases := []struct {
		sql  string
		want string
	}{
		{"SELECT * FROM payments", "SELECT"},
		{"  update notifications SET is_read = true", "UPDATE"},
		{"WITH recent AS (SELECT 1) DELETE FROM x", "SELECT"},
		{"INSERT INTO system_metrics (name) VALUES ($1)", "INSERT"},
		{"", "UNKNOWN"},
		{"VACUUM", "UNKNOWN"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, operationFromSQL(tc.sql), tc.sql)
	}
}

func TestGormLoggerLogModeCopies(t *testing.T) {
	base := NewGormLogger(DefaultGormLoggerConfig())
	silent := base.LogMode(gormlogger.Silent).(*GormLogger)

	assert.Equal(t, gormlogger.Warn, base.level)
	assert.Equal(t, gormlogger.Silent, silent.level)
	assert.True(t, silent.ignoreRecordNotFound)
}
