package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/extractor"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/ledger"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/resilience"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/resolver"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/translation"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Options tune one orchestrator.
type Options struct {
	Workers            int
	RatePerSecond      float64 // <= 0 disables rate limiting
	Burst              int
	CallTimeout        time.Duration
	SkipConverted      bool
	Reconvert          []string // converted again even when SkipConverted would reuse them
	CyclePolicy        resolver.CyclePolicy
	DefaultAggregation string
	ErrorHandling      translation.ErrorHandlingMode
	TemplateCompliance translation.TemplateCompliance
	ColumnMappings     map[string]string
	Templates          fs.FS // resilience template overrides, by file name
}

func (o *Options) applyDefaults() {
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.Burst <= 0 {
		o.Burst = 1
	}
	if o.CallTimeout <= 0 {
		o.CallTimeout = 60 * time.Second
	}
	if o.CyclePolicy == "" {
		o.CyclePolicy = resolver.CyclePolicyDropEdge
	}
	if o.DefaultAggregation == "" {
		o.DefaultAggregation = "SUM"
	}
	if o.ErrorHandling == "" {
		o.ErrorHandling = translation.ErrorHandlingComprehensive
	}
	if o.TemplateCompliance == "" {
		o.TemplateCompliance = translation.ComplianceGuided
	}
}

// NodeResult is the outcome for one calculation in a run.
type NodeResult struct {
	ID          string               `json:"id"`
	Caption     string               `json:"caption"`
	Role        graph.Role           `json:"role,omitempty"`
	TargetName  string               `json:"targetName,omitempty"`
	Status      graph.Status         `json:"status"`
	Skipped     bool                 `json:"skipped,omitempty"`
	Artifact    *resilience.Artifact `json:"artifact,omitempty"`
	Diagnostics []graph.Diagnostic   `json:"diagnostics,omitempty"`
	Duration    time.Duration        `json:"durationNs"`
}

// RunResult collects every node outcome in unit order.
type RunResult struct {
	RunID       string             `json:"runId"`
	Units       int                `json:"units"`
	Results     []*NodeResult      `json:"results"`
	Diagnostics []graph.Diagnostic `json:"diagnostics,omitempty"`
	Cancelled   bool               `json:"cancelled"`
	StartedAt   time.Time          `json:"startedAt"`
	Duration    time.Duration      `json:"durationNs"`
}

// Result returns the outcome for id, if it was scheduled.
func (r *RunResult) Result(id string) (*NodeResult, bool) {
	for _, res := range r.Results {
		if res.ID == id {
			return res, true
		}
	}
	return nil, false
}

// Counts tallies results by status.
func (r *RunResult) Counts() map[graph.Status]int {
	counts := make(map[graph.Status]int)
	for _, res := range r.Results {
		counts[res.Status]++
	}
	return counts
}

// Orchestrator drives translation through dependency-ordered chains.
// Node state lives on the graph, so each graph serves a single run.
type Orchestrator struct {
	graph      *graph.Graph
	extractor  *extractor.Extractor
	translator translation.Translator
	ledger     ledger.Ledger
	wrapper    *resilience.Wrapper
	resolver   *resolver.ChainResolver
	limiter    *rate.Limiter
	reconvert  map[string]bool
	opts       Options
}

func NewOrchestrator(g *graph.Graph, ex *extractor.Extractor, tr translation.Translator, l ledger.Ledger, opts Options) (*Orchestrator, error) {
	if g == nil || ex == nil || tr == nil || l == nil {
		return nil, errors.New("orchestrator requires a graph, extractor, translator and ledger")
	}
	opts.applyDefaults()

	wrapper, err := resilience.NewWrapperFS(opts.Templates)
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		graph:      g,
		extractor:  ex,
		translator: tr,
		ledger:     l,
		wrapper:    wrapper,
		resolver:   resolver.NewChainResolver(g, opts.CyclePolicy),
		reconvert:  make(map[string]bool, len(opts.Reconvert)),
		opts:       opts,
	}
	for _, id := range opts.Reconvert {
		o.reconvert[id] = true
	}
	if opts.RatePerSecond > 0 {
		o.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Burst)
	}
	return o, nil
}

// Plan resolves the requested ids (all when empty) into independent units
// without calling the translator.
func (o *Orchestrator) Plan(ids []string) ([]*resolver.Unit, error) {
	if len(ids) == 0 {
		ids = o.graph.IDs()
	}
	return o.resolver.Partition(ids)
}

// Run converts the requested calculations (all when ids is empty). Only an
// unknown requested id fails the run; per-node problems land in results.
// Nodes not reached before ctx is cancelled are reported as Pending and
// are not written to the ledger.
func (o *Orchestrator) Run(ctx context.Context, ids []string) (*RunResult, error) {
	units, err := o.Plan(ids)
	if err != nil {
		return nil, err
	}

	run := &RunResult{
		RunID:     uuid.NewString(),
		Units:     len(units),
		StartedAt: time.Now().UTC(),
	}
	logger := log.WithField("run_id", run.RunID)
	logger.WithFields(log.Fields{"units": len(units), "workers": o.opts.Workers}).Info("conversion run started")

	for _, u := range units {
		for _, d := range u.Diagnostics {
			if n, ok := o.graph.Node(d.NodeID); ok {
				n.AddDiagnostic(d)
			}
			run.Diagnostics = append(run.Diagnostics, d)
		}
	}

	perUnit := make([][]*NodeResult, len(units))
	var eg errgroup.Group
	eg.SetLimit(o.opts.Workers)
	for i, u := range units {
		i, u := i, u
		eg.Go(func() error {
			perUnit[i] = o.processUnit(ctx, run.RunID, u, logger.WithField("unit", i))
			return nil
		})
	}
	_ = eg.Wait()

	for _, results := range perUnit {
		run.Results = append(run.Results, results...)
	}
	run.Cancelled = ctx.Err() != nil
	run.Duration = time.Since(run.StartedAt)

	counts := run.Counts()
	logger.WithFields(log.Fields{
		"converted": counts[graph.StatusConverted],
		"failed":    counts[graph.StatusFailed],
		"pending":   counts[graph.StatusPending],
		"cancelled": run.Cancelled,
		"duration":  run.Duration,
	}).Info("conversion run finished")
	return run, nil
}

// processUnit handles one unit strictly in order.
func (o *Orchestrator) processUnit(ctx context.Context, runID string, u *resolver.Unit, logger *log.Entry) []*NodeResult {
	results := make([]*NodeResult, 0, len(u.Order))
	for i, id := range u.Order {
		if ctx.Err() != nil {
			for _, rest := range u.Order[i:] {
				results = append(results, o.pendingResult(rest))
			}
			logger.WithField("remaining", len(u.Order)-i).Warn("run cancelled; leaving remaining calculations pending")
			break
		}
		res := o.processNode(ctx, runID, u, id, logger.WithField("node", id))
		results = append(results, res)
	}
	return results
}

func (o *Orchestrator) pendingResult(id string) *NodeResult {
	n := o.graph.Nodes[id]
	return &NodeResult{
		ID:          id,
		Caption:     n.DisplayName(),
		Status:      graph.StatusPending,
		Diagnostics: append([]graph.Diagnostic(nil), n.Diagnostics...),
	}
}

func (o *Orchestrator) measureContext(u *resolver.Unit, n *graph.Node) bool {
	if n.Usage == graph.UsageMeasure {
		return true
	}
	for _, id := range u.Order {
		m := o.graph.Nodes[id]
		if m.HasDependency(n.ID) && measureHint(m) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) processNode(ctx context.Context, runID string, u *resolver.Unit, id string, logger *log.Entry) *NodeResult {
	start := time.Now()
	n := o.graph.Nodes[id]

	if res, ok := o.reuseConverted(ctx, n, logger); ok {
		res.Duration = time.Since(start)
		return res
	}

	cls := classify(n, o.measureContext(u, n), o.opts.DefaultAggregation, o.extractor.HasReferences)
	n.Role = cls.Role
	if cls.Implicit {
		n.AddDiagnostic(graph.Diagnostic{
			Code:     graph.CodeImplicitAggregation,
			Severity: graph.SeverityInfo,
			Message:  fmt.Sprintf("bare numeric column used as a measure; wrapped as %s", cls.Expression),
		})
	}

	var (
		art        *resilience.Artifact
		confidence float64
		failed     bool
	)

	if u.Blocked[id] {
		n.AddDiagnostic(graph.Diagnostic{
			Code:     graph.CodeBlockedByCycle,
			Severity: graph.SeverityError,
			Message:  fmt.Sprintf("calculation %s is part of a circular dependency and was not converted", id),
		})
		if err := n.Transition(graph.StatusResolving); err != nil {
			logger.WithError(err).Error("status transition rejected")
		}
		art = fallbackArtifact(n, "blocked by circular dependency")
		failed = true
	} else {
		req := o.buildRequest(u, n, cls.Expression)

		// waiting on the limiter is the last point where cancellation leaves the node untouched
		if err := o.wait(ctx); err != nil {
			return o.pendingResult(id)
		}
		if err := n.Transition(graph.StatusResolving); err != nil {
			logger.WithError(err).Error("status transition rejected")
		}

		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.opts.CallTimeout)
		resp, err := o.translator.Convert(callCtx, req)
		cancel()
		if err == nil {
			err = resp.Check()
		}

		if err != nil {
			svcErr := &graph.TranslationServiceError{NodeID: id, Detail: "conversion call failed", Err: err}
			n.AddDiagnostic(svcErr.Diagnostic())
			logger.WithError(err).Warn("translation failed; emitting fallback")
			art = fallbackArtifact(n, err.Error())
			failed = true
		} else {
			for _, w := range resp.Warnings {
				n.AddDiagnostic(graph.Diagnostic{Code: graph.CodeTranslationWarning, Severity: graph.SeverityWarning, Message: w})
			}
			confidence = resp.Confidence
			art, failed = o.finalize(u, n, resp.TargetExpression, logger)
		}
	}

	art.Confidence = confidence
	n.TargetExpression = art.TargetExpression
	final := graph.StatusConverted
	if failed {
		final = graph.StatusFailed
	}
	if err := n.Transition(final); err != nil {
		logger.WithError(err).Error("status transition rejected")
	}

	// recorded even when the run was cancelled while the call was in flight
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := o.ledger.Upsert(writeCtx, ledger.RecordFromNode(n, confidence, runID)); err != nil {
		n.AddDiagnostic(graph.Diagnostic{Code: graph.CodeLedger, Severity: graph.SeverityError, Message: err.Error()})
		logger.WithError(err).Error("ledger write failed")
	}

	logger.WithFields(log.Fields{"status": n.Status, "role": n.Role, "template": art.TemplateUsed}).Debug("calculation processed")
	return &NodeResult{
		ID:          id,
		Caption:     n.DisplayName(),
		Role:        n.Role,
		TargetName:  n.TargetName(),
		Status:      n.Status,
		Artifact:    art,
		Diagnostics: append([]graph.Diagnostic(nil), n.Diagnostics...),
		Duration:    time.Since(start),
	}
}

func (o *Orchestrator) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if o.limiter == nil {
		return nil
	}
	return o.limiter.Wait(ctx)
}

// reuseConverted short-circuits a node whose ledger record is Converted for
// the same source expression.
func (o *Orchestrator) reuseConverted(ctx context.Context, n *graph.Node, logger *log.Entry) (*NodeResult, bool) {
	if !o.opts.SkipConverted || o.reconvert[n.ID] {
		return nil, false
	}
	rec, err := o.ledger.Get(ctx, n.ID)
	if err != nil {
		if !errors.Is(err, ledger.ErrNotFound) {
			logger.WithError(err).Warn("ledger lookup failed; converting again")
		}
		return nil, false
	}
	if rec.Status != graph.StatusConverted {
		return nil, false
	}
	if rec.SourceExpression != n.SourceExpression {
		logger.Info("source expression changed since last conversion")
		return nil, false
	}

	n.Role = rec.Role
	n.TargetExpression = rec.TargetExpression
	_ = n.Transition(graph.StatusResolving)
	_ = n.Transition(graph.StatusConverted)
	logger.Debug("already converted; reusing ledger record")

	return &NodeResult{
		ID:         n.ID,
		Caption:    n.DisplayName(),
		Role:       n.Role,
		TargetName: n.TargetName(),
		Status:     n.Status,
		Skipped:    true,
		Artifact: &resilience.Artifact{
			TargetExpression: rec.TargetExpression,
			Confidence:       rec.Confidence,
			Validation:       resilience.Validate(rec.TargetExpression, n.Schema()),
		},
		Diagnostics: append([]graph.Diagnostic(nil), n.Diagnostics...),
	}, true
}

func (o *Orchestrator) buildRequest(u *resolver.Unit, n *graph.Node, expr string) *translation.Request {
	req := &translation.Request{
		NodeID:             n.ID,
		SourceExpression:   expr,
		OwningTable:        n.OwningTable,
		ColumnNameMappings: o.opts.ColumnMappings,
		Role:               n.Role,
		ErrorHandlingMode:  o.opts.ErrorHandling,
		TemplateCompliance: o.opts.TemplateCompliance,
	}

	for _, dep := range o.graph.GetDependencies(n.ID) {
		depID := dep.ID
		if u.IsPruned(n.ID, depID) {
			n.AddDiagnostic(graph.Diagnostic{
				Code:     graph.CodeMissingDependency,
				Severity: graph.SeverityWarning,
				Related:  []string{depID},
				Message:  fmt.Sprintf("context for %s omitted: circular reference edge was dropped", depID),
			})
			continue
		}
		if dep.Status != graph.StatusConverted {
			n.AddDiagnostic(graph.Diagnostic{
				Code:     graph.CodeMissingDependency,
				Severity: graph.SeverityWarning,
				Related:  []string{depID},
				Message:  fmt.Sprintf("context for %s omitted: dependency is %s", depID, dep.Status),
			})
			continue
		}
		req.DependencyContext = append(req.DependencyContext, translation.DependencyContext{
			ID:               dep.ID,
			Caption:          dep.DisplayName(),
			SourceExpression: dep.SourceExpression,
			TargetExpression: dep.TargetExpression,
			OwningTable:      dep.OwningTable,
		})
	}

	if o.opts.ErrorHandling == translation.ErrorHandlingComprehensive && n.SourceKind != graph.SourceKindUnknown {
		if sk, err := o.wrapper.Skeleton(n.SourceKind, n.Schema()); err == nil {
			req.Skeleton = sk
		}
	}
	return req
}

// finalize cleans the translated text, resolves leftover calculation
// placeholders and enforces resilience. It reports whether the node failed.
func (o *Orchestrator) finalize(u *resolver.Unit, n *graph.Node, target string, logger *log.Entry) (*resilience.Artifact, bool) {
	target = translation.CleanExpression(target)
	target = o.extractor.ReplaceReferences(target, func(depID string) (string, bool) {
		// other units belong to other workers; a cut edge points at a node
		// that has not been processed yet
		if depID == n.ID || !u.Contains(depID) || u.IsPruned(n.ID, depID) {
			return "", false
		}
		dep := o.graph.Nodes[depID]
		if dep.Materialized {
			return dep.TargetName(), true
		}
		if dep.Status == graph.StatusConverted {
			return "(" + dep.TargetExpression + ")", true
		}
		return "", false
	})

	art, err := o.wrapper.Wrap(n.ID, target, n.Schema(), n.SourceKind)
	if err != nil {
		n.AddDiagnostic(graph.DiagnosticFromError(n.ID, err))
		logger.WithError(err).Warn("resilience enforcement failed")
		return fallbackArtifact(n, err.Error()), true
	}
	if art.Wrapped && o.opts.TemplateCompliance == translation.ComplianceStrict {
		n.AddDiagnostic(graph.Diagnostic{
			Code:     graph.CodeSkeletonIgnored,
			Severity: graph.SeverityWarning,
			Message:  fmt.Sprintf("translated query did not follow the resilience skeleton; wrapped with %s template", art.TemplateUsed),
		})
	}
	return art, false
}
