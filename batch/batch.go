// Package batch runs the per-record pipeline (decode, flatten, resolve, evaluate) over a file list
// in parallel batches.
package batch

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/macadamian/deidaudit"
	"github.com/macadamian/deidaudit/answerkey"
	"github.com/macadamian/deidaudit/check"
	"github.com/macadamian/deidaudit/flatten"
	"github.com/macadamian/deidaudit/metrics"
)

// Batch is a contiguous slice of the file list processed by one worker.
type Batch struct {
	ID    int
	Files []deidaudit.FileInfo
}

// Output is everything a batch produced. When Err is set the batch failed as a whole and its
// partial results are dropped; the other batches are unaffected. A failed batch still reports the
// entries of the records it identified in Matched, and the files it never got to in Pending.
type Output struct {
	Batch   int
	Results []deidaudit.Result
	// Matched holds the positions of the answer key entries that matched a record of the batch.
	Matched []int
	Pending []deidaudit.FileInfo
	Decoded int
	Skipped int
	Err     error
}

// DecodeFunc reads one file into a record.
type DecodeFunc func(path, digestAlgorithm string) (*deidaudit.Record, error)

// Processor holds the read-only state shared by every batch.
type Processor struct {
	Resolver *answerkey.Resolver
	Engine   *check.Engine
	Metrics  *metrics.Metrics
	// DigestAlgorithm names the pixel digest computed while decoding.
	DigestAlgorithm string
	// Decode defaults to deidaudit.Decode.
	Decode DecodeFunc
}

// Split partitions files into batches of at most size files, preserving order.
func Split(files []deidaudit.FileInfo, size int) []Batch {
	if size <= 0 {
		size = len(files)
	}
	var batches []Batch
	for start := 0; start < len(files); start += size {
		end := min(start+size, len(files))
		batches = append(batches, Batch{ID: len(batches), Files: files[start:end]})
	}
	return batches
}

// Run processes batches on workers goroutines and returns one output per batch, in batch order.
func Run(ctx context.Context, p *Processor, batches []Batch, workers int, logger logrus.FieldLogger) []Output {
	outputs := make([]Output, len(batches))
	Parallel(len(batches), workers, func(worker, pos int) {
		outputs[pos] = p.Process(ctx, batches[pos], logger.WithField("worker", worker))
	})
	return outputs
}

// Parallel calls fn once for every position in [0, n) on at most workers goroutines and returns
// when all calls are done.
func Parallel(n, workers int, fn func(worker, pos int)) {
	if workers <= 0 {
		workers = 1
	}
	workers = min(workers, max(n, 1))

	jobs := make(chan int)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for pos := range jobs {
				fn(worker, pos)
			}
		}(i)
	}

	for pos := 0; pos < n; pos++ {
		jobs <- pos
	}
	close(jobs)
	wg.Wait()
}

// Process runs one batch. Files that cannot be decoded are skipped; a panic or a cancelled
// context fails the batch.
func (p *Processor) Process(ctx context.Context, b Batch, logger logrus.FieldLogger) (out Output) {
	started := time.Now()
	blog := logger.WithField("batch", b.ID)
	out.Batch = b.ID
	// files before next have a known identity
	next := 0

	defer func() {
		if r := recover(); r != nil {
			out.Err = errors.Errorf("batch %d panicked: %v", b.ID, r)
		}
		if out.Err != nil {
			out = Output{Batch: b.ID, Matched: out.Matched, Pending: b.Files[next:], Err: out.Err}
			p.Metrics.IncrementBatchFailure()
			blog.WithError(out.Err).Error("Batch failed")
			return
		}
		p.Metrics.ObserveBatchLatency(time.Since(started))
		blog.WithFields(logrus.Fields{
			"decoded": out.Decoded,
			"skipped": out.Skipped,
			"results": len(out.Results),
		}).Debug("Batch done")
	}()

	for i, f := range b.Files {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}

		rec, err := p.decode(f.Path)
		if err != nil {
			var de *deidaudit.DecodeError
			if !errors.As(err, &de) {
				out.Err = err
				return out
			}
			next = i + 1
			out.Skipped++
			p.Metrics.IncrementFile("skipped")
			blog.WithField("file_path", f.Path).Warn(err)
			continue
		}
		out.Decoded++
		p.Metrics.IncrementFile("decoded")

		matched := p.Resolver.Match(rec.Identity)
		next = i + 1
		if len(matched) == 0 {
			continue
		}
		out.Matched = append(out.Matched, matched...)

		subject := check.Subject{Record: rec, Facts: flatten.Flatten(rec.Elements)}
		out.Results = append(out.Results, p.Engine.Evaluate(ctx, subject, p.Resolver.Checks(matched), blog)...)
	}
	return out
}

// Identify decodes the pending files of a failed batch one at a time, only to learn which answer
// key entries they match. unknown counts the files whose identity could still not be read;
// undecodable files are skipped as they are in a batch.
func (p *Processor) Identify(files []deidaudit.FileInfo, logger logrus.FieldLogger) (matched []int, unknown int) {
	for _, f := range files {
		rec, err := p.identify(f.Path)
		if err != nil {
			var de *deidaudit.DecodeError
			if errors.As(err, &de) {
				continue
			}
			unknown++
			logger.WithError(err).WithField("file_path", f.Path).Error("Could not identify file")
			continue
		}
		matched = append(matched, p.Resolver.Match(rec.Identity)...)
	}
	return matched, unknown
}

func (p *Processor) identify(path string) (rec *deidaudit.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("decoding %s panicked: %v", path, r)
		}
	}()
	return p.decode(path)
}

func (p *Processor) decode(path string) (*deidaudit.Record, error) {
	if p.Decode == nil {
		return deidaudit.Decode(path, p.DigestAlgorithm)
	}
	return p.Decode(path, p.DigestAlgorithm)
}
