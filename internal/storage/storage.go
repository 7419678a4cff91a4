package storage

import (
	"context"
	"fmt"

	"vietnews-crawler/pkg/types"
)

// RecordStore persists one structured article record.
type RecordStore interface {
	Append(ctx context.Context, rec types.Record) error
}

// Pipeline fans each record out to the JSONL artifact and, when configured,
// a relational mirror. The JSONL sink is the source of truth: a mirror
// failure is reported but does not suppress the primary write error path.
type Pipeline struct {
	primary RecordStore
	mirror  RecordStore
}

// NewPipeline composes the primary sink with an optional mirror.
func NewPipeline(primary, mirror RecordStore) *Pipeline {
	return &Pipeline{primary: primary, mirror: mirror}
}

// Append stores the record in all configured sinks.
func (p *Pipeline) Append(ctx context.Context, rec types.Record) error {
	if err := p.primary.Append(ctx, rec); err != nil {
		return fmt.Errorf("record sink: %w", err)
	}
	if p.mirror != nil {
		if err := p.mirror.Append(ctx, rec); err != nil {
			return fmt.Errorf("record mirror: %w", err)
		}
	}
	return nil
}
