package postgres

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/bloodbank-api/internal/model"
)

func TestBuildAuditQueryOrdersByInsertion(t *testing.T) {
	query, args := buildAuditQuery(model.AuditFilter{UnitID: "PRC-OP-20240120-0001", Limit: 10})

	assert.Contains(t, query, "WHERE unit_id = $1")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(query), "ORDER BY seq DESC LIMIT $2"), query)
	assert.NotContains(t, query, "created_at DESC")
	assert.Equal(t, []interface{}{"PRC-OP-20240120-0001", 10}, args)
}

func TestBuildAuditQueryCapsLimit(t *testing.T) {
	query, args := buildAuditQuery(model.AuditFilter{Limit: 10000})

	assert.NotContains(t, query, "WHERE")
	require.Len(t, args, 1)
	assert.Equal(t, 500, args[0])
}

func TestSchemaKeepsMintCounterAndAuditSequence(t *testing.T) {
	raw, err := migrationFS.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)
	ddl := string(raw)

	assert.Contains(t, ddl, "CREATE TABLE IF NOT EXISTS unit_sequences")
	assert.Contains(t, ddl, "PRIMARY KEY (blood_type, collection_date)")
	assert.Contains(t, ddl, "seq        BIGSERIAL")
}
