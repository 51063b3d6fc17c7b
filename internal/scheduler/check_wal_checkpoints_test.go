package scheduler

import (
	"testing"

	"github.com/finguard/finguard/internal/database"
	fgtesting "github.com/finguard/finguard/internal/testing"
	"github.com/stretchr/testify/assert"
)

func TestCheckDatabasesJob_Name(t *testing.T) {
	job := NewCheckDatabasesJob(nil, nopLogger())
	assert.Equal(t, "check_databases", job.Name())
}

func TestCheckDatabasesJob_Run_NoDatabases(t *testing.T) {
	job := NewCheckDatabasesJob(map[string]*database.DB{"ledger": nil}, nopLogger())
	assert.NoError(t, job.Run())
}

func TestCheckDatabasesJob_Run(t *testing.T) {
	ledgerDB, cleanupLedger := fgtesting.NewTestDB(t, "ledger")
	defer cleanupLedger()
	historyDB, cleanupHistory := fgtesting.NewTestDB(t, "history")
	defer cleanupHistory()

	job := NewCheckDatabasesJob(map[string]*database.DB{
		"ledger":  ledgerDB,
		"history": historyDB,
	}, nopLogger())
	assert.NoError(t, job.Run())
}
