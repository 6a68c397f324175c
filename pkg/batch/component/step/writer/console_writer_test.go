package writer_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiawu-lu/lubatch/pkg/batch/component/step/writer"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
)

func TestConsoleWriter_PrintsOnCommit(t *testing.T) {
	ctx := context.Background()
	var out bytes.Buffer
	w := writer.NewConsoleWriter(&out, "")
	tm := tx.NewResourcelessTransactionManager()

	committed, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, committed, []any{person{"Jane", "Doe"}}))
	assert.Empty(t, out.String(), "nothing is printed before the commit")
	require.NoError(t, tm.Commit(committed))
	assert.Equal(t, "{FirstName:Jane LastName:Doe}\n", out.String())

	rolledBack, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(ctx, rolledBack, []any{person{"John", "Smith"}}))
	require.NoError(t, tm.Rollback(rolledBack))
	assert.NotContains(t, out.String(), "John")
}

func TestConsoleWriter_WithoutSynchronization(t *testing.T) {
	var out bytes.Buffer
	w := writer.NewConsoleWriter(&out, "item=%v\n")
	require.NoError(t, w.Write(context.Background(), plainTx{}, []any{"a", "b"}))
	assert.Equal(t, "item=a\nitem=b\n", out.String())
}
