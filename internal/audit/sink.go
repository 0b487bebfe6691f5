// Package audit delivers proctoring violation records to durable storage.
package audit

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// Sink defines the interface for violation log ingestion (sink pattern).
// A sink only receives and stores records, it does not return query results.
type Sink interface {
	Ingest(ctx context.Context, ev model.ViolationEvent) error
}

// Fanout delivers each record to every sink and joins their errors.
type Fanout []Sink

// Ingest writes ev to all sinks; one failing sink does not stop the others.
func (f Fanout) Ingest(ctx context.Context, ev model.ViolationEvent) error {
	var errs []error
	for _, s := range f {
		if err := s.Ingest(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
