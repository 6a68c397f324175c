package item

import (
	"context"

	port "github.com/jiawu-lu/lubatch/pkg/batch/core/application/port"
	"github.com/jiawu-lu/lubatch/pkg/batch/support/util/logger"
)

// Predicate decides whether an item is dropped.
type Predicate func(item any) bool

// FilterProcessor drops the items a predicate matches. A dropped item is counted as
// filtered by the step and never reaches the writer.
type FilterProcessor struct {
	drop Predicate
}

var _ port.ItemProcessor = (*FilterProcessor)(nil)

// NewFilterProcessor creates a FilterProcessor dropping the items for which drop returns true.
func NewFilterProcessor(drop Predicate) *FilterProcessor {
	return &FilterProcessor{drop: drop}
}

// Process returns nil for dropped items and item otherwise.
func (p *FilterProcessor) Process(ctx context.Context, item any) (any, error) {
	if p.drop != nil && p.drop(item) {
		logger.Debugf("FilterProcessor: dropping item %+v", item)
		return nil, nil
	}
	return item, nil
}

// CompositeProcessor chains processors. A nil result from any of them ends the chain.
type CompositeProcessor struct {
	delegates []port.ItemProcessor
}

var _ port.ItemProcessor = (*CompositeProcessor)(nil)

// NewCompositeProcessor creates a CompositeProcessor running delegates in order.
func NewCompositeProcessor(delegates ...port.ItemProcessor) *CompositeProcessor {
	return &CompositeProcessor{delegates: delegates}
}

// Process feeds item through every delegate.
func (p *CompositeProcessor) Process(ctx context.Context, item any) (any, error) {
	current := item
	for _, d := range p.delegates {
		out, err := d.Process(ctx, current)
		if err != nil || out == nil {
			return out, err
		}
		current = out
	}
	return current, nil
}
