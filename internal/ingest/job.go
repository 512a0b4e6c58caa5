// Package ingest runs price collection cycles. Each cycle visits every
// configured metal concurrently and walks that metal's sources in priority
// order until one yields a valid quote.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/kjannette/bullion-backend/internal/config"
	"github.com/kjannette/bullion-backend/internal/extract"
	"github.com/kjannette/bullion-backend/internal/models"
	"github.com/kjannette/bullion-backend/internal/normalize"
	"github.com/kjannette/bullion-backend/internal/observability"
	"github.com/kjannette/bullion-backend/internal/repository"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrAlreadyRunning is returned when a cycle is still in progress.
	ErrAlreadyRunning = errors.New("ingestion already running")
	ErrNoSources      = errors.New("no sources configured")
)

// DocumentFetcher retrieves the raw document of a source.
type DocumentFetcher interface {
	Fetch(ctx context.Context, src config.Source) ([]byte, error)
}

// Invalidator drops cached reads of a metal after a new record is stored.
type Invalidator interface {
	Invalidate(ctx context.Context, metal models.Metal) error
}

// Outcome is the result of one metal in one cycle.
type Outcome struct {
	OK       bool   `json:"ok"`
	Source   string `json:"source,omitempty"`
	RecordID int64  `json:"recordId,omitempty"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// Result summarizes a cycle. Status follows HTTP conventions so it can be
// returned as is by a trigger endpoint.
type Result struct {
	Status     int                       `json:"status"`
	PerMetal   map[models.Metal]*Outcome `json:"perMetal"`
	FirstError string                    `json:"firstError,omitempty"`
	StartedAt  time.Time                 `json:"startedAt"`
	Duration   time.Duration             `json:"-"`
	DurationMS int64                     `json:"durationMs"`
}

type Job struct {
	sources    map[models.Metal][]config.Source
	fetcher    DocumentFetcher
	normalizer *normalize.Normalizer
	store      repository.PriceStore
	cache      Invalidator
	metrics    *observability.Metrics
	log        logrus.FieldLogger
	now        func() time.Time
	lock       Locker
}

func NewJob(sources []config.Source, fetcher DocumentFetcher, n *normalize.Normalizer, store repository.PriceStore, cache Invalidator, metrics *observability.Metrics, log logrus.FieldLogger, opts ...JobOption) *Job {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if n == nil {
		n = normalize.New(normalize.Config{}, log)
	}
	j := &Job{
		sources:    config.ByMetal(sources),
		fetcher:    fetcher,
		normalizer: n,
		store:      store,
		cache:      cache,
		metrics:    metrics,
		log:        log.WithField("component", "ingest"),
		now:        time.Now,
		lock:       &MutexLocker{},
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run executes one cycle. A failure for one metal never prevents another
// from being stored. Overlapping calls return ErrAlreadyRunning with a 409
// result instead of waiting.
func (j *Job) Run(ctx context.Context) (*Result, error) {
	release, ok, err := j.lock.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("ingestion lock: %w", err)
	}
	if !ok {
		j.metrics.ObserveIngestRun(http.StatusConflict)
		return &Result{Status: http.StatusConflict, FirstError: ErrAlreadyRunning.Error(), StartedAt: j.now()}, ErrAlreadyRunning
	}
	defer release()

	res := &Result{
		PerMetal:  make(map[models.Metal]*Outcome, len(models.Metals)),
		StartedAt: j.now(),
	}
	for _, metal := range models.Metals {
		res.PerMetal[metal] = &Outcome{}
	}

	var g errgroup.Group
	for _, metal := range models.Metals {
		out := res.PerMetal[metal]
		g.Go(func() error {
			j.runMetal(ctx, metal, out)
			return nil
		})
	}
	_ = g.Wait()

	res.Duration = j.now().Sub(res.StartedAt)
	res.DurationMS = res.Duration.Milliseconds()
	res.Status, res.FirstError = summarize(res.PerMetal)
	j.metrics.ObserveIngestRun(res.Status)

	entry := j.log.WithFields(logrus.Fields{
		"status":   res.Status,
		"duration": res.Duration.String(),
	})
	if res.Status == http.StatusOK {
		entry.Info("ingestion cycle complete")
	} else {
		entry.WithField("first_error", res.FirstError).Warn("ingestion cycle incomplete")
	}
	return res, nil
}

// runMetal tries the metal's sources in order and stores the first valid
// quote.
func (j *Job) runMetal(ctx context.Context, metal models.Metal, out *Outcome) {
	sources := j.sources[metal]
	if len(sources) == 0 {
		out.Error = fmt.Sprintf("%s: %v", metal, ErrNoSources)
		return
	}

	var lastErr error
	for _, src := range sources {
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		out.Attempts++
		rec, err := j.collect(ctx, metal, src)
		if err != nil {
			lastErr = err
			j.metrics.ObserveMetal(string(metal), src.Name, false)
			j.log.WithError(err).WithFields(logrus.Fields{
				"metal":  metal,
				"source": src.Name,
			}).Warn("source failed")
			continue
		}

		out.OK = true
		out.Source = src.Name
		out.RecordID = rec.ID
		j.metrics.ObserveMetal(string(metal), src.Name, true)
		if j.cache != nil {
			if err := j.cache.Invalidate(ctx, metal); err != nil {
				j.log.WithError(err).WithField("metal", metal).Warn("cache invalidation failed")
			}
		}
		j.log.WithFields(logrus.Fields{
			"metal":  metal,
			"source": src.Name,
			"record": rec.ID,
			"buy":    rec.BuyPricePerGram.String(),
			"sell":   rec.SellPricePerGram.String(),
		}).Info("price stored")
		return
	}
	out.Error = fmt.Sprintf("%s: %v", metal, lastErr)
}

func (j *Job) collect(ctx context.Context, metal models.Metal, src config.Source) (*models.PriceRecord, error) {
	doc, err := j.fetcher.Fetch(ctx, src)
	if err != nil {
		return nil, err
	}
	obs, err := extract.Extract(doc, src.Rules)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", src.Name, err)
	}
	price, err := j.normalizer.Normalize(obs, normalize.Meta{
		Source:     src.Name,
		Currency:   src.Currency,
		ObservedAt: j.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("normalize %s: %w", src.Name, err)
	}
	price.Metal = metal
	rec, err := j.store.Insert(ctx, price)
	if err != nil {
		return nil, fmt.Errorf("store %s price: %w", metal, err)
	}
	return rec, nil
}

func summarize(perMetal map[models.Metal]*Outcome) (int, string) {
	metals := make([]string, 0, len(perMetal))
	for m := range perMetal {
		metals = append(metals, string(m))
	}
	sort.Strings(metals)

	var ok int
	var firstErr string
	for _, m := range metals {
		out := perMetal[models.Metal(m)]
		if out.OK {
			ok++
		} else if firstErr == "" {
			firstErr = out.Error
		}
	}
	switch {
	case ok == len(perMetal):
		return http.StatusOK, ""
	case ok == 0:
		return http.StatusBadGateway, firstErr
	default:
		return http.StatusMultiStatus, firstErr
	}
}
