package retrieval

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mnemolabs/recalld/internal/graph"
	"github.com/mnemolabs/recalld/internal/memory"
	"github.com/mnemolabs/recalld/internal/postgres"
	"github.com/mnemolabs/recalld/internal/tenant"
)

const tracerName = "recalld.retrieval"

// Engine runs hybrid retrieval. Each channel acquires its own tenant
// transaction so the three reads proceed in parallel across the pool.
type Engine struct {
	store  *postgres.Store
	mems   *memory.Store
	graphs *graph.Store
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New creates an engine over the shared store.
func New(store *postgres.Store, mems *memory.Store, graphs *graph.Store, cfg Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	return &Engine{
		store:  store,
		mems:   mems,
		graphs: graphs,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer(tracerName),
	}
}

// Search fuses the channels selected by the query and returns the top K
// records readable by the acting tenant. A channel that fails degrades
// the response instead of failing it; only a query with no usable channel
// at all returns an error.
func (e *Engine) Search(ctx context.Context, tc tenant.Context, q Query) (Response, error) {
	if err := tc.Validate(); err != nil {
		return Response{}, err
	}
	q.Text = strings.TrimSpace(q.Text)

	wantVector := len(q.Embedding) > 0
	wantLexical := q.Text != ""
	wantGraph := len(q.GraphSeeds) > 0
	if !wantVector && !wantLexical && !wantGraph {
		return Response{}, errors.New("empty query: need text, an embedding, or graph seeds")
	}

	weights := DefaultWeights
	if q.Weights != nil {
		if err := q.Weights.Validate(); err != nil {
			return Response{}, err
		}
		weights = *q.Weights
	}

	if q.K <= 0 {
		q.K = e.cfg.DefaultK
	}
	if q.K > e.cfg.MaxK {
		q.K = e.cfg.MaxK
	}
	fetch := 2 * q.K

	ctx, span := e.tracer.Start(ctx, "retrieval.search",
		trace.WithAttributes(
			attribute.String("tenant", string(tc.Tenant)),
			attribute.Int("k", q.K),
			attribute.Bool("vector", wantVector),
			attribute.Bool("lexical", wantLexical),
			attribute.Bool("graph", wantGraph),
		),
	)
	defer span.End()

	type channelRun struct {
		list []candidate
		err  error
	}
	var vec, lex, gr channelRun

	run := func(out *channelRun, fn func(context.Context, *postgres.TenantTx) ([]candidate, error)) func() error {
		return func() error {
			cctx, cancel := context.WithTimeout(ctx, e.cfg.ChannelTimeout)
			defer cancel()
			out.err = e.store.WithTenant(cctx, tc, func(ctx context.Context, tx *postgres.TenantTx) error {
				var err error
				out.list, err = fn(ctx, tx)
				return err
			})
			return nil
		}
	}

	var g errgroup.Group
	if wantVector {
		g.Go(run(&vec, func(ctx context.Context, tx *postgres.TenantTx) ([]candidate, error) {
			recs, err := e.mems.VectorSearch(ctx, tx, q.Embedding, fetch)
			return ranked(recs), err
		}))
	}
	if wantLexical {
		g.Go(run(&lex, func(ctx context.Context, tx *postgres.TenantTx) ([]candidate, error) {
			recs, err := e.mems.LexicalSearch(ctx, tx, q.Text, fetch)
			return ranked(recs), err
		}))
	}
	if wantGraph {
		g.Go(run(&gr, func(ctx context.Context, tx *postgres.TenantTx) ([]candidate, error) {
			return e.graphChannel(ctx, tx, q.GraphSeeds, fetch)
		}))
	}
	// Channel errors are collected per run; they degrade rather than
	// cancel the siblings.
	_ = g.Wait()

	var (
		resp     Response
		lists    []channelList
		degraded []string
		failures []error
	)
	collect := func(name string, wanted bool, run channelRun, weight float64, count *int) {
		if !wanted {
			return
		}
		if run.err != nil {
			degraded = append(degraded, name)
			failures = append(failures, fmt.Errorf("%s channel: %w", name, run.err))
			channelFailures.WithLabelValues(name).Inc()
			e.logger.Warn("retrieval channel degraded",
				zap.String("channel", name),
				zap.String("tenant", string(tc.Tenant)),
				zap.Error(run.err))
			return
		}
		*count = len(run.list)
		lists = append(lists, channelList{name: name, weight: weight, items: run.list})
	}
	collect(ChannelVector, wantVector, vec, weights.Vector, &resp.Candidates.Vector)
	collect(ChannelLexical, wantLexical, lex, weights.Lexical, &resp.Candidates.Lexical)
	collect(ChannelGraph, wantGraph, gr, weights.Graph, &resp.Candidates.Graph)

	// A text query without an embedding still answers, lexically only,
	// and the caller is told the vector channel is missing.
	if !wantVector && wantLexical {
		degraded = append(degraded, ChannelVector)
	}

	if len(lists) == 0 {
		err := errors.Join(failures...)
		span.RecordError(err)
		searchesTotal.WithLabelValues("error").Inc()
		return Response{}, err
	}

	renormalize(lists)
	resp.Results = fuse(lists, q.K)
	sort.Strings(degraded)
	resp.Degraded = degraded

	status := "full"
	if len(degraded) > 0 {
		status = "degraded"
	}
	searchesTotal.WithLabelValues(status).Inc()
	span.SetAttributes(
		attribute.Int("results", len(resp.Results)),
		attribute.StringSlice("degraded", degraded),
	)
	return resp, nil
}

// renormalize rescales the active lists' weights to sum to 1, keeping
// their proportions. All-zero weights split evenly.
func renormalize(lists []channelList) {
	total := 0.0
	for _, l := range lists {
		total += l.weight
	}
	if total <= 0 {
		even := 1.0 / float64(len(lists))
		for i := range lists {
			lists[i].weight = even
		}
		return
	}
	for i := range lists {
		lists[i].weight /= total
	}
}

// graphChannel ranks records linked to nodes near the seed names in the
// acting tenant's subgraph, closest hop first.
func (e *Engine) graphChannel(ctx context.Context, tx *postgres.TenantTx, seeds []string, limit int) ([]candidate, error) {
	reach, err := e.graphs.Reach(ctx, tx, tx.Identity.Tenant, seeds, e.cfg.GraphDepth)
	if err != nil || len(reach) == 0 {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(reach))
	for id := range reach {
		ids = append(ids, id)
	}
	linked, err := e.mems.LinkedTo(ctx, tx, ids)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec  memory.Record
		dist int
	}
	best := make(map[uuid.UUID]*scored, len(linked))
	var all []*scored
	for _, lr := range linked {
		d := reach[lr.NodeID]
		if s, ok := best[lr.Record.ID]; ok {
			if d < s.dist {
				s.dist = d
			}
			continue
		}
		s := &scored{rec: lr.Record, dist: d}
		best[lr.Record.ID] = s
		all = append(all, s)
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].dist != all[j].dist {
			return all[i].dist < all[j].dist
		}
		return bytes.Compare(all[i].rec.ID[:], all[j].rec.ID[:]) < 0
	})
	if len(all) > limit {
		all = all[:limit]
	}

	list := make([]candidate, len(all))
	for i, s := range all {
		list[i] = candidate{rec: s.rec, rank: i + 1}
	}
	return list, nil
}

func ranked(recs []memory.Record) []candidate {
	out := make([]candidate, len(recs))
	for i, r := range recs {
		out[i] = candidate{rec: r, rank: i + 1}
	}
	return out
}
