// Package pipeline distributes whole Encode calls across workers. Each
// document is a short, bounded pure computation with no shared mutable state,
// so parallelism is a plain fan-out: one encoder per worker, results funneled
// into a single sink goroutine.
package pipeline

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/gomlx/go-preference/dpo"
)

// Sink receives one result per document. It is called from a single goroutine,
// in arbitrary document order. A nil example marks a discarded document.
type Sink interface {
	Write(example *dpo.Example, stats dpo.Stats) error
}

// EncoderFactory builds one encoder per worker. Tokenizers that are not safe
// for concurrent use get one instance each this way; concurrency-safe
// tokenizers can be shared by returning encoders over the same instance.
type EncoderFactory func() (*dpo.Encoder, error)

// Options configures a Run.
type Options struct {
	// Workers is the number of parallel encoders. Default 1.
	Workers int
}

// result pairs one document's output for the sink.
type result struct {
	example *dpo.Example
	stats   dpo.Stats
}

// Run encodes every document from docs and writes results to sink, returning
// the aggregated stats. The first validation failure cancels the run and is
// returned; discards are not failures and only show up in the stats.
func Run(ctx context.Context, docs <-chan dpo.Document, factory EncoderFactory, sink Sink, opts Options) (dpo.Stats, error) {
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}

	encoders := make([]*dpo.Encoder, workers)
	for i := range encoders {
		enc, err := factory()
		if err != nil {
			return dpo.Stats{}, errors.Wrapf(err, "failed to build encoder for worker %d", i)
		}
		encoders[i] = enc
	}

	g, ctx := errgroup.WithContext(ctx)
	results := make(chan result, workers)

	eg := new(errgroup.Group)
	for _, enc := range encoders {
		eg.Go(func() error { return encodeLoop(ctx, enc, docs, results) })
	}
	g.Go(func() error {
		defer close(results)
		return eg.Wait()
	})

	var total dpo.Stats
	g.Go(func() error {
		for r := range results {
			total.Add(r.stats)
			if err := sink.Write(r.example, r.stats); err != nil {
				return errors.Wrapf(err, "sink failed")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return total, err
	}
	return total, nil
}

func encodeLoop(ctx context.Context, enc *dpo.Encoder, docs <-chan dpo.Document, results chan<- result) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case doc, ok := <-docs:
			if !ok {
				return nil
			}
			example, stats, err := enc.Encode(doc)
			if err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case results <- result{example: example, stats: stats}:
			}
		}
	}
}
