package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/extractor"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/ledger"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/resolver"
	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/translation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubTranslator is a deterministic translation capability.
type stubTranslator struct {
	mu    sync.Mutex
	calls []*translation.Request
	fn    func(ctx context.Context, req *translation.Request) (*translation.Response, error)
}

func (s *stubTranslator) Convert(ctx context.Context, req *translation.Request) (*translation.Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	if s.fn != nil {
		return s.fn(ctx, req)
	}
	return &translation.Response{TargetExpression: "T(" + req.SourceExpression + ")", Confidence: 0.9}, nil
}

func (s *stubTranslator) callFor(id string) *translation.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.NodeID == id {
			return c
		}
	}
	return nil
}

func (s *stubTranslator) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	for i, c := range s.calls {
		out[i] = c.NodeID
	}
	return out
}

func calc(id, caption, expr string) extractor.CalculationSpec {
	return extractor.CalculationSpec{ID: id, Caption: caption, Table: "Sales", Expression: expr}
}

func newGraph(t *testing.T, specs ...extractor.CalculationSpec) (*graph.Graph, *extractor.Extractor) {
	t.Helper()
	ex, err := extractor.NewExtractor("")
	require.NoError(t, err)
	m := &extractor.Manifest{Calculations: specs}
	g, err := m.BuildGraph(ex)
	require.NoError(t, err)
	return g, ex
}

func newOrchestrator(t *testing.T, g *graph.Graph, ex *extractor.Extractor, tr translation.Translator, l ledger.Ledger, opts Options) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(g, ex, tr, l, opts)
	require.NoError(t, err)
	return o
}

func abcSpecs() []extractor.CalculationSpec {
	return []extractor.CalculationSpec{
		calc("Calculation_1", "A", "SUM([Amount])"),
		calc("Calculation_2", "B", "[Calculation_1] * 2"),
		calc("Calculation_3", "C", "[Region]"),
	}
}

func TestOrchestrator_Scenario(t *testing.T) {
	ctx := context.Background()
	g, ex := newGraph(t, abcSpecs()...)
	tr := &stubTranslator{}
	l := ledger.NewMemoryLedger()

	run, err := newOrchestrator(t, g, ex, tr, l, Options{}).Run(ctx, []string{"Calculation_2", "Calculation_3"})
	require.NoError(t, err)
	assert.False(t, run.Cancelled)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, 2, run.Units)

	reqB := tr.callFor("Calculation_2")
	require.NotNil(t, reqB)
	require.Len(t, reqB.DependencyContext, 1)
	assert.Equal(t, "Calculation_1", reqB.DependencyContext[0].ID)
	assert.Equal(t, "T(SUM([Amount]))", reqB.DependencyContext[0].TargetExpression)

	a, ok := run.Result("Calculation_1")
	require.True(t, ok)
	assert.Equal(t, graph.RoleMeasure, a.Role)
	assert.Equal(t, "[A]", a.TargetName)

	b, ok := run.Result("Calculation_2")
	require.True(t, ok)
	assert.Equal(t, "T([A] * 2)", b.Artifact.TargetExpression)

	for _, id := range []string{"Calculation_1", "Calculation_2", "Calculation_3"} {
		rec, err := l.Get(ctx, id)
		require.NoError(t, err, id)
		assert.Equal(t, graph.StatusConverted, rec.Status, id)
		assert.Equal(t, run.RunID, rec.RunID)
	}
	assert.Equal(t, 3, run.Counts()[graph.StatusConverted])
}

func TestOrchestrator_DependenciesConvertedFirst(t *testing.T) {
	g, ex := newGraph(t,
		calc("Calculation_1", "A", "SUM([x])"),
		calc("Calculation_2", "B", "[Calculation_1] + [Calculation_3]"),
		calc("Calculation_3", "C", "[Calculation_1] / 2"),
		calc("Calculation_4", "D", "[Calculation_2] - [Calculation_3]"),
	)
	tr := &stubTranslator{}
	_, err := newOrchestrator(t, g, ex, tr, ledger.NewMemoryLedger(), Options{Workers: 4}).Run(context.Background(), []string{"Calculation_4"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Calculation_1", "Calculation_3", "Calculation_2", "Calculation_4"}, tr.callOrder())
}

func TestOrchestrator_UnreachableTranslator(t *testing.T) {
	ctx := context.Background()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	g, ex := newGraph(t, abcSpecs()...)
	l := ledger.NewMemoryLedger()
	tr := translation.NewServiceTranslator(url, "")

	run, err := newOrchestrator(t, g, ex, tr, l, Options{CallTimeout: 2 * time.Second}).Run(ctx, nil)
	require.NoError(t, err)
	require.Len(t, run.Results, 3)

	for _, res := range run.Results {
		assert.Equal(t, graph.StatusFailed, res.Status, res.ID)
		require.NotNil(t, res.Artifact)
		assert.Equal(t, "fallback", res.Artifact.TemplateUsed)
		assert.True(t, hasCode(res.Diagnostics, graph.CodeTranslationService), res.ID)

		rec, err := l.Get(ctx, res.ID)
		require.NoError(t, err)
		assert.Equal(t, graph.StatusFailed, rec.Status)
	}

	a, _ := run.Result("Calculation_1")
	assert.True(t, strings.HasPrefix(a.Artifact.TargetExpression, `// CONVERSION FAILED: calculation "A" (Calculation_1): `))
	assert.Contains(t, a.Artifact.TargetExpression, "#table(type table [A = any], {})")
}

func TestOrchestrator_ExplicitFailureAndEmptyResponse(t *testing.T) {
	g, ex := newGraph(t,
		calc("Calculation_1", "A", "SUM([x])"),
		calc("Calculation_2", "B", "SUM([y])"),
	)
	tr := &stubTranslator{fn: func(_ context.Context, req *translation.Request) (*translation.Response, error) {
		if req.NodeID == "Calculation_1" {
			return &translation.Response{Failed: true, Error: "unsupported function"}, nil
		}
		return &translation.Response{TargetExpression: "   "}, nil
	}}

	run, err := newOrchestrator(t, g, ex, tr, ledger.NewMemoryLedger(), Options{}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, run.Counts()[graph.StatusFailed])

	a, _ := run.Result("Calculation_1")
	assert.Contains(t, a.Artifact.TargetExpression, "unsupported function")
}

func TestOrchestrator_RerunSkipsConverted(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()

	g1, ex := newGraph(t, abcSpecs()...)
	first, err := newOrchestrator(t, g1, ex, &stubTranslator{}, l, Options{SkipConverted: true}).Run(ctx, nil)
	require.NoError(t, err)
	b1, _ := first.Result("Calculation_2")

	g2, ex := newGraph(t, abcSpecs()...)
	tr := &stubTranslator{}
	second, err := newOrchestrator(t, g2, ex, tr, l, Options{SkipConverted: true}).Run(ctx, nil)
	require.NoError(t, err)

	assert.Empty(t, tr.callOrder())
	for _, res := range second.Results {
		assert.True(t, res.Skipped, res.ID)
		assert.Equal(t, graph.StatusConverted, res.Status)
	}
	b2, _ := second.Result("Calculation_2")
	assert.Equal(t, b1.Artifact.TargetExpression, b2.Artifact.TargetExpression)

	// a changed source expression is converted again
	specs := abcSpecs()
	specs[0].Expression = "SUM([Net])"
	g3, ex := newGraph(t, specs...)
	tr = &stubTranslator{}
	_, err = newOrchestrator(t, g3, ex, tr, l, Options{SkipConverted: true}).Run(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Calculation_1"}, tr.callOrder())
}

func TestOrchestrator_ReconvertOverridesSkip(t *testing.T) {
	ctx := context.Background()
	l := ledger.NewMemoryLedger()

	g1, ex := newGraph(t, abcSpecs()...)
	_, err := newOrchestrator(t, g1, ex, &stubTranslator{}, l, Options{SkipConverted: true}).Run(ctx, nil)
	require.NoError(t, err)

	g2, ex := newGraph(t, abcSpecs()...)
	tr := &stubTranslator{}
	run, err := newOrchestrator(t, g2, ex, tr, l, Options{SkipConverted: true, Reconvert: []string{"Calculation_2"}}).Run(ctx, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"Calculation_2"}, tr.callOrder())
	a, _ := run.Result("Calculation_1")
	assert.True(t, a.Skipped)
	require.Len(t, tr.callFor("Calculation_2").DependencyContext, 1)
}

func TestOrchestrator_CancellationLeavesRemainingPending(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	g, ex := newGraph(t,
		calc("Calculation_1", "A", "SUM([x])"),
		calc("Calculation_2", "B", "[Calculation_1] + 1"),
		calc("Calculation_3", "C", "[Calculation_2] + 1"),
	)
	var inFlightErr error
	tr := &stubTranslator{fn: func(callCtx context.Context, req *translation.Request) (*translation.Response, error) {
		cancel()
		inFlightErr = callCtx.Err()
		return &translation.Response{TargetExpression: "SUM('Sales'[x])", Confidence: 1}, nil
	}}
	l := ledger.NewMemoryLedger()

	run, err := newOrchestrator(t, g, ex, tr, l, Options{Workers: 1}).Run(ctx, []string{"Calculation_3"})
	require.NoError(t, err)
	assert.True(t, run.Cancelled)
	assert.NoError(t, inFlightErr)

	a, _ := run.Result("Calculation_1")
	assert.Equal(t, graph.StatusConverted, a.Status)
	b, _ := run.Result("Calculation_2")
	assert.Equal(t, graph.StatusPending, b.Status)
	c, _ := run.Result("Calculation_3")
	assert.Equal(t, graph.StatusPending, c.Status)

	_, err = l.Get(context.Background(), "Calculation_1")
	assert.NoError(t, err)
	_, err = l.Get(context.Background(), "Calculation_2")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	assert.Len(t, tr.callOrder(), 1)
}

func TestOrchestrator_WorkerLimit(t *testing.T) {
	var specs []extractor.CalculationSpec
	for i := 1; i <= 12; i++ {
		specs = append(specs, calc(fmt.Sprintf("Calculation_%d", i), fmt.Sprintf("N%d", i), "SUM([x])"))
	}
	g, ex := newGraph(t, specs...)

	var active, peak int32
	tr := &stubTranslator{fn: func(_ context.Context, req *translation.Request) (*translation.Response, error) {
		cur := atomic.AddInt32(&active, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&active, -1)
		return &translation.Response{TargetExpression: "1", Confidence: 1}, nil
	}}

	run, err := newOrchestrator(t, g, ex, tr, ledger.NewMemoryLedger(), Options{Workers: 3, RatePerSecond: 1000, Burst: 12}).Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 12, run.Units)
	assert.Equal(t, 12, run.Counts()[graph.StatusConverted])
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestOrchestrator_CycleDropEdge(t *testing.T) {
	g, ex := newGraph(t,
		calc("Calculation_1", "A", "[Calculation_2] + 1"),
		calc("Calculation_2", "B", "[Calculation_1] + 1"),
	)
	tr := &stubTranslator{}
	run, err := newOrchestrator(t, g, ex, tr, ledger.NewMemoryLedger(), Options{}).Run(context.Background(), []string{"Calculation_1"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Calculation_2", "Calculation_1"}, tr.callOrder())
	assert.Equal(t, 2, run.Counts()[graph.StatusConverted])
	require.Len(t, run.Diagnostics, 1)
	assert.Equal(t, graph.CodeCircularDependency, run.Diagnostics[0].Code)
	assert.Equal(t, []string{"Calculation_2", "Calculation_1"}, run.Diagnostics[0].Related)

	b, _ := run.Result("Calculation_2")
	assert.True(t, hasCode(b.Diagnostics, graph.CodeMissingDependency))
	assert.Empty(t, tr.callFor("Calculation_2").DependencyContext)
	assert.Len(t, tr.callFor("Calculation_1").DependencyContext, 1)

	// B ran before A existed, so its reference to A is left for a later pass
	assert.Contains(t, b.Artifact.TargetExpression, "[Calculation_1]")
	a, _ := run.Result("Calculation_1")
	assert.NotContains(t, a.Artifact.TargetExpression, "[Calculation_2]")
}

func TestOrchestrator_LeavesForeignReferencesUntouched(t *testing.T) {
	g, ex := newGraph(t,
		calc("Calculation_1", "A", "SUM([Amount])"),
		calc("Calculation_2", "B", "[Region]"),
	)
	tr := &stubTranslator{fn: func(ctx context.Context, req *translation.Request) (*translation.Response, error) {
		if req.NodeID == "Calculation_2" {
			return &translation.Response{TargetExpression: "[Calculation_1] & [Region]", Confidence: 0.8}, nil
		}
		return &translation.Response{TargetExpression: "SUM('Sales'[Amount])", Confidence: 0.8}, nil
	}}
	run, err := newOrchestrator(t, g, ex, tr, ledger.NewMemoryLedger(), Options{}).Run(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, run.Units)

	b, _ := run.Result("Calculation_2")
	assert.Equal(t, graph.StatusConverted, b.Status)
	assert.Equal(t, "[Calculation_1] & [Region]", b.Artifact.TargetExpression)
}

func TestOrchestrator_CycleBlockPolicy(t *testing.T) {
	g, ex := newGraph(t,
		calc("Calculation_1", "A", "[Calculation_2] + 1"),
		calc("Calculation_2", "B", "[Calculation_1] + 1"),
		calc("Calculation_3", "C", "[Calculation_1] * 3"),
	)
	tr := &stubTranslator{}
	run, err := newOrchestrator(t, g, ex, tr, ledger.NewMemoryLedger(), Options{CyclePolicy: resolver.CyclePolicyBlock}).Run(context.Background(), []string{"Calculation_3"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Calculation_3"}, tr.callOrder())
	for _, id := range []string{"Calculation_1", "Calculation_2"} {
		res, _ := run.Result(id)
		assert.Equal(t, graph.StatusFailed, res.Status)
		assert.True(t, hasCode(res.Diagnostics, graph.CodeBlockedByCycle))
	}
	c, _ := run.Result("Calculation_3")
	assert.Equal(t, graph.StatusConverted, c.Status)
	assert.True(t, hasCode(c.Diagnostics, graph.CodeMissingDependency))
}

func TestOrchestrator_ImplicitAggregation(t *testing.T) {
	qty := calc("Calculation_5", "Qty", "[Qty]")
	qty.DataType = "integer"
	amount := calc("Calculation_6", "Amount", "[Amount]")
	amount.DataType = "real"
	amount.Usage = "measure"
	name := calc("Calculation_7", "Name", "[Name]")
	name.DataType = "string"
	name.Usage = "measure"

	g, ex := newGraph(t,
		qty, amount, name,
		calc("Calculation_8", "Avg Qty", "AVG([Calculation_5])"),
	)
	tr := &stubTranslator{}
	run, err := newOrchestrator(t, g, ex, tr, ledger.NewMemoryLedger(), Options{DefaultAggregation: "SUM"}).Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "SUM([Qty])", tr.callFor("Calculation_5").SourceExpression)
	assert.Equal(t, graph.RoleMeasure, tr.callFor("Calculation_5").Role)
	assert.Equal(t, "SUM([Amount])", tr.callFor("Calculation_6").SourceExpression)
	assert.Equal(t, "[Name]", tr.callFor("Calculation_7").SourceExpression)
	assert.Equal(t, graph.RoleComputedColumn, tr.callFor("Calculation_7").Role)
	assert.Equal(t, graph.RoleMeasure, tr.callFor("Calculation_8").Role)

	res, _ := run.Result("Calculation_6")
	assert.True(t, hasCode(res.Diagnostics, graph.CodeImplicitAggregation))
}

func TestOrchestrator_ResilienceWrapping(t *testing.T) {
	src := calc("Calculation_1", "Customers", "customers()")
	src.SourceKind = "relational"
	src.OutputSchema = []string{"ID", "Name"}
	g, ex := newGraph(t, src)

	tr := &stubTranslator{fn: func(_ context.Context, req *translation.Request) (*translation.Response, error) {
		return &translation.Response{TargetExpression: `Sql.Database("srv", "crm")`, Confidence: 0.7}, nil
	}}
	run, err := newOrchestrator(t, g, ex, tr, ledger.NewMemoryLedger(), Options{TemplateCompliance: translation.ComplianceStrict}).Run(context.Background(), nil)
	require.NoError(t, err)

	req := tr.callFor("Calculation_1")
	assert.Contains(t, req.Skeleton, "#table(type table [ID = any, Name = any], {})")

	res, _ := run.Result("Calculation_1")
	assert.Equal(t, graph.StatusConverted, res.Status)
	assert.True(t, res.Artifact.Wrapped)
	assert.True(t, res.Artifact.Validation.IsCompliant)
	assert.InDelta(t, 0.7, res.Artifact.Confidence, 1e-9)
	assert.Contains(t, res.Artifact.TargetExpression, `try Sql.Database("srv", "crm")`)
	assert.True(t, hasCode(res.Diagnostics, graph.CodeSkeletonIgnored))
}

func TestOrchestrator_TemplateMissingFailsNode(t *testing.T) {
	g, ex := newGraph(t, calc("Calculation_1", "Feed", "feed()"))
	tr := &stubTranslator{fn: func(_ context.Context, req *translation.Request) (*translation.Response, error) {
		return &translation.Response{TargetExpression: `OData.Feed("https://x")`, Confidence: 0.7}, nil
	}}
	run, err := newOrchestrator(t, g, ex, tr, ledger.NewMemoryLedger(), Options{}).Run(context.Background(), nil)
	require.NoError(t, err)

	res, _ := run.Result("Calculation_1")
	assert.Equal(t, graph.StatusFailed, res.Status)
	assert.True(t, hasCode(res.Diagnostics, graph.CodeTemplateMissing))
	assert.Equal(t, "fallback", res.Artifact.TemplateUsed)
}

func TestOrchestrator_SchemaMismatchFailsNode(t *testing.T) {
	src := calc("Calculation_1", "Customers", "customers()")
	src.SourceKind = "relational"
	src.OutputSchema = []string{"ID", "Name"}
	g, ex := newGraph(t, src)

	templates := fstest.MapFS{
		"relational.tmpl": {Data: []byte(`let
    Source = try {{.Acquisition}},
    Result = if Source[HasError] then #table(type table [Legacy = any], {}) else Source[Value]
in
    Result`)},
	}
	tr := &stubTranslator{fn: func(_ context.Context, req *translation.Request) (*translation.Response, error) {
		return &translation.Response{TargetExpression: `Sql.Database("srv", "crm")`, Confidence: 0.7}, nil
	}}
	l := ledger.NewMemoryLedger()
	run, err := newOrchestrator(t, g, ex, tr, l, Options{Templates: templates}).Run(context.Background(), nil)
	require.NoError(t, err)

	res, _ := run.Result("Calculation_1")
	assert.Equal(t, graph.StatusFailed, res.Status)
	assert.True(t, hasCode(res.Diagnostics, graph.CodeSchemaMismatch))
	assert.Equal(t, "fallback", res.Artifact.TemplateUsed)
	assert.Contains(t, res.Artifact.TargetExpression, "#table(type table [ID = any, Name = any], {})")

	rec, err := l.Get(context.Background(), "Calculation_1")
	require.NoError(t, err)
	assert.Equal(t, graph.StatusFailed, rec.Status)
}

func TestOrchestrator_InlinesNonMaterializedDependencies(t *testing.T) {
	region := calc("Calculation_3", "Region", "[Region]")
	region.Materialized = new(bool)
	g, ex := newGraph(t,
		region,
		calc("Calculation_4", "Label", `[Calculation_3] & "!"`),
	)
	run, err := newOrchestrator(t, g, ex, &stubTranslator{}, ledger.NewMemoryLedger(), Options{}).Run(context.Background(), nil)
	require.NoError(t, err)

	res, _ := run.Result("Calculation_4")
	assert.Equal(t, `T((T([Region])) & "!")`, res.Artifact.TargetExpression)
}

func TestOrchestrator_UnknownID(t *testing.T) {
	g, ex := newGraph(t, abcSpecs()...)
	_, err := newOrchestrator(t, g, ex, &stubTranslator{}, ledger.NewMemoryLedger(), Options{}).Run(context.Background(), []string{"Calculation_99"})
	assert.Error(t, err)
}

func TestOrchestrator_LedgerFailureIsNodeDiagnostic(t *testing.T) {
	g, ex := newGraph(t, calc("Calculation_1", "A", "SUM([x])"))
	run, err := newOrchestrator(t, g, ex, &stubTranslator{}, failingLedger{ledger.NewMemoryLedger()}, Options{}).Run(context.Background(), nil)
	require.NoError(t, err)

	res, _ := run.Result("Calculation_1")
	assert.Equal(t, graph.StatusConverted, res.Status)
	assert.True(t, hasCode(res.Diagnostics, graph.CodeLedger))
}

type failingLedger struct{ *ledger.MemoryLedger }

func (failingLedger) Upsert(context.Context, *ledger.Record) error {
	return errors.New("disk full")
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	g, ex := newGraph(t, abcSpecs()...)
	_, err := NewOrchestrator(g, ex, nil, ledger.NewMemoryLedger(), Options{})
	assert.Error(t, err)
}

func hasCode(diags []graph.Diagnostic, code graph.DiagnosticCode) bool {
	for _, d := range diags {
		if d.Code == code {
			return true
		}
	}
	return false
}
