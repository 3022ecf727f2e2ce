package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatements(t *testing.T) {
	script := `
-- executions hold run state
CREATE TABLE executions (id TEXT PRIMARY KEY);

-- comment-only fragment below
-- nothing to execute here
;

CREATE INDEX idx_exec ON executions (id);
`
	stmts := statements(script)
	assert.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE executions")
	assert.Contains(t, stmts[1], "CREATE INDEX idx_exec")
}

func TestStatements_EmptyScript(t *testing.T) {
	assert.Empty(t, statements(""))
	assert.Empty(t, statements("-- only a comment"))
}
