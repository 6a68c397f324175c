package item_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jiawu-lu/lubatch/pkg/batch/component/item"
	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	tx "github.com/jiawu-lu/lubatch/pkg/batch/core/tx"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

type upper struct{}

func (upper) Process(ctx context.Context, item any) (any, error) {
	return strings.ToUpper(item.(string)), nil
}

type failing struct{}

func (failing) Process(ctx context.Context, item any) (any, error) {
	return nil, errors.New("boom")
}

func TestPassThroughProcessor(t *testing.T) {
	out, err := item.NewPassThroughProcessor().Process(context.Background(), "Jane")
	require.NoError(t, err)
	assert.Equal(t, "Jane", out)
}

func TestLoggingProcessor(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stderr) })

	out, err := item.NewLoggingProcessor("").Process(context.Background(), "Jane")
	require.NoError(t, err)
	assert.Equal(t, "Jane", out)
	assert.Contains(t, buf.String(), "Processing item: Jane")
}

func TestFilterProcessor(t *testing.T) {
	p := item.NewFilterProcessor(func(v any) bool { return v == "drop" })

	out, err := p.Process(context.Background(), "drop")
	require.NoError(t, err)
	assert.Nil(t, out)

	out, err = p.Process(context.Background(), "keep")
	require.NoError(t, err)
	assert.Equal(t, "keep", out)
}

func TestCompositeProcessor(t *testing.T) {
	ctx := context.Background()
	drop := item.NewFilterProcessor(func(v any) bool { return v == "x" })

	out, err := item.NewCompositeProcessor(drop, upper{}).Process(ctx, "jane")
	require.NoError(t, err)
	assert.Equal(t, "JANE", out)

	out, err = item.NewCompositeProcessor(drop, failing{}).Process(ctx, "x")
	require.NoError(t, err, "filtered items never reach later processors")
	assert.Nil(t, out)

	_, err = item.NewCompositeProcessor(upper{}, failing{}).Process(ctx, "jane")
	assert.EqualError(t, err, "boom")
}

func TestNoOpWriter(t *testing.T) {
	var w port.ItemWriter = item.NewNoOpWriter()
	assert.NoError(t, w.Write(context.Background(), &tx.ResourcelessTx{}, []any{"a"}))
}
