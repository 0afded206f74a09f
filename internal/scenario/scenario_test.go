package scenario

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"NFTMarket-Harness/internal/config"
	xerrors "NFTMarket-Harness/internal/errors"
	"NFTMarket-Harness/internal/web3/near"
	"NFTMarket-Harness/internal/web3/provider"
	"NFTMarket-Harness/internal/web3/sandbox"
	"NFTMarket-Harness/pkg/logger"
)

func TestExpectationJudge(t *testing.T) {
	rejected := xerrors.New(near.CodeContractRejected, "Smart contract panicked: Paras: Only owner can mint")
	transient := xerrors.New(near.CodeTransportFailure, "connection refused")

	cases := []struct {
		name    string
		exp     Expectation
		err     error
		verdict Verdict
		outcome near.Outcome
	}{
		{"success as expected", ExpectSuccess(), nil, VerdictPassed, near.OutcomeSucceeded},
		{"unexpected success", ExpectRejection("Only owner"), nil, VerdictFailed, near.OutcomeSucceeded},
		{"matching rejection", ExpectRejection("Only owner"), rejected, VerdictPassed, near.OutcomeRejected},
		{"any rejection", ExpectRejection(""), rejected, VerdictPassed, near.OutcomeRejected},
		{"wrong rejection", ExpectRejection("copies exceeded"), rejected, VerdictFailed, near.OutcomeRejected},
		{"unexpected rejection", ExpectSuccess(), rejected, VerdictFailed, near.OutcomeRejected},
		{"tolerated rejection", ExpectSuccess("Only owner"), rejected, VerdictTolerated, near.OutcomeRejected},
		{"tolerance added later", ExpectSuccess().Tolerating("can mint"), rejected, VerdictTolerated, near.OutcomeRejected},
		{"transient", ExpectSuccess(), transient, VerdictInconclusive, near.OutcomeTransient},
		{"transient while expecting rejection", ExpectRejection("Only owner"), transient, VerdictInconclusive, near.OutcomeTransient},
		{"deadline", ExpectSuccess(), context.DeadlineExceeded, VerdictInconclusive, near.OutcomeTransient},
		{"local fault", ExpectSuccess(), errors.New("boom"), VerdictFailed, near.OutcomeFaulted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict, outcome, detail := tc.exp.Judge(tc.err)
			assert.Equal(t, tc.verdict, verdict)
			assert.Equal(t, tc.outcome, outcome)
			if verdict == VerdictPassed {
				assert.Empty(t, detail)
			} else {
				assert.NotEmpty(t, detail)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	steps := func(verdicts ...Verdict) []StepResult {
		out := make([]StepResult, len(verdicts))
		for i, v := range verdicts {
			out[i] = StepResult{Name: string(v), Verdict: v}
		}
		return out
	}
	assert.Equal(t, VerdictPassed, Summarize(nil))
	assert.Equal(t, VerdictPassed, Summarize(steps(VerdictPassed, VerdictTolerated, VerdictSkipped)))
	assert.Equal(t, VerdictInconclusive, Summarize(steps(VerdictPassed, VerdictInconclusive, VerdictSkipped)))
	assert.Equal(t, VerdictFailed, Summarize(steps(VerdictInconclusive, VerdictFailed, VerdictPassed)))
}

func TestReportErr(t *testing.T) {
	passed := &Report{Scenario: "series", Verdict: VerdictPassed}
	assert.NoError(t, passed.Err())

	failed := &Report{Scenario: "series", Network: "sandbox", Verdict: VerdictFailed, Steps: []StepResult{
		{Name: "owner mints", Verdict: VerdictFailed, Detail: "unexpected rejection"},
	}}
	err := failed.Err()
	assert.Equal(t, CodeScenarioFailed, xerrors.CodeOf(err))
	assert.Contains(t, err.Error(), "owner mints")
	assert.False(t, xerrors.RetryableError(err))
	assert.Equal(t, "sandbox", xerrors.MetadataOf(err)["network"])

	inconclusive := &Report{Scenario: "trade", Verdict: VerdictInconclusive, Steps: []StepResult{{Verdict: VerdictInconclusive}}}
	err = inconclusive.Err()
	assert.Equal(t, CodeScenarioInconclusive, xerrors.CodeOf(err))
	assert.True(t, xerrors.RetryableError(err))
}

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"auction", "series", "trade"}, Names())
	s, err := Lookup(" Auction ")
	require.NoError(t, err)
	assert.Equal(t, "auction", s.Name)

	_, err = Lookup("lottery")
	assert.Equal(t, CodeUnknownScenario, xerrors.CodeOf(err))
	assert.Len(t, All(), 3)
}

func TestUniqueName(t *testing.T) {
	a, b := UniqueName("dog"), UniqueName("dog")
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^dog-[0-9a-f]{8}$`, a)
}

type harness struct {
	node     *sandbox.Node
	registry *provider.Registry
}

func newHarness(t *testing.T, nodeURL string) *harness {
	t.Helper()
	node, err := sandbox.New(sandbox.WithLogger(logger.Discard()))
	require.NoError(t, err)
	if nodeURL == "" {
		srv := httptest.NewServer(node.Handler())
		t.Cleanup(srv.Close)
		nodeURL = srv.URL
	}

	zero := uint64(0)
	reg, err := provider.NewRegistry(config.Web3Config{DefaultNetwork: "sandbox", RetryAttempts: &zero},
		provider.WithKeyStore(near.NewInMemoryKeyStore()),
		provider.WithConnectOptions(near.WithLogger(logger.Discard())))
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	cfg, err := reg.Network("sandbox")
	require.NoError(t, err)
	cfg.NodeURL = nodeURL
	require.NoError(t, reg.Attach("sandbox", cfg, node.MasterKey()))
	return &harness{node: node, registry: reg}
}

func (h *harness) executor(withCode bool) *Executor {
	opts := []ExecutorOption{WithExecutorLogger(logger.Discard())}
	if withCode {
		opts = append(opts, WithContractCode("sandbox", ContractCode{NFT: sandbox.NFTSeriesCode, Market: sandbox.MarketplaceCode}))
	}
	return NewExecutor(h.registry, opts...)
}

func requirePassed(t *testing.T, report *Report) {
	t.Helper()
	if step, ok := report.Failed(); ok {
		t.Fatalf("step %q failed: %s", step.Name, step.Detail)
	}
	require.Equal(t, VerdictPassed, report.Verdict)
	require.NoError(t, report.Err())
	assert.Zero(t, report.Count(VerdictSkipped))
}

func TestScenariosPassOnSandbox(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, "")
			report, err := h.executor(true).Execute(context.Background(), name, "", nil)
			require.NoError(t, err)
			requirePassed(t, report)
			sc, err := Lookup(name)
			require.NoError(t, err)
			assert.Equal(t, sc.Steps(), stepNames(report))
			assert.Equal(t, name, report.Scenario)
			assert.Equal(t, sandbox.DefaultChainID, report.Network)
			assert.False(t, report.FinishedAt.Before(report.StartedAt))
		})
	}
}

func TestScenariosShareDeployedContracts(t *testing.T) {
	h := newHarness(t, "")
	exec := h.executor(true)
	ctx := context.Background()

	first, err := exec.Execute(ctx, "series", "sandbox", nil)
	require.NoError(t, err)
	requirePassed(t, first)
	assert.Zero(t, first.Count(VerdictTolerated))

	// The contracts now exist, so initialisation is tolerated instead of
	// failing the later runs.
	for _, name := range []string{"series", "auction", "trade"} {
		report, err := exec.Execute(ctx, name, "sandbox", nil)
		require.NoError(t, err)
		requirePassed(t, report)
		assert.Equal(t, 1, countTolerated(report, "init nft contract"), name)
	}
}

func countTolerated(r *Report, step string) int {
	n := 0
	for _, s := range r.Steps {
		if s.Name == step && s.Verdict == VerdictTolerated {
			n++
		}
	}
	return n
}

func TestMissingContractFailsScenario(t *testing.T) {
	h := newHarness(t, "")
	report, err := h.executor(false).Execute(context.Background(), "series", "", nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictFailed, report.Verdict)
	step, ok := report.Failed()
	require.True(t, ok)
	assert.Equal(t, "deploy nft contract", step.Name)
	assert.Equal(t, near.CodeAccountNotFound, step.ErrorCode)
	assert.Equal(t, CodeScenarioFailed, xerrors.CodeOf(report.Err()))
	assert.Equal(t, VerdictSkipped, report.Steps[len(report.Steps)-1].Verdict)
	assert.Equal(t, Series.Steps(), stepNames(report))
	assert.Equal(t, len(Series.Steps())-1, report.Count(VerdictSkipped))
}

func stepNames(r *Report) []string {
	names := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		names[i] = s.Name
	}
	return names
}

func TestRecorderFillsUnreachedSteps(t *testing.T) {
	declared := []string{"a", "b", "c", "d"}

	r := newRecorder(context.Background(), "fill", logger.Discard())
	r.record(StepResult{Name: "resolve", Verdict: VerdictFailed})
	r.halt()
	r.fill(declared)
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"resolve", "a", "b", "c", "d"}, names)

	r = newRecorder(context.Background(), "fill", logger.Discard())
	r.record(StepResult{Name: "a", Verdict: VerdictPassed})
	r.record(StepResult{Name: "c", Verdict: VerdictFailed})
	r.halt()
	assert.False(t, r.check("d", func(context.Context) error { return nil }))
	r.fill(declared)
	require.Len(t, r.steps, 4)
	assert.Equal(t, "b", r.steps[1].Name)
	assert.Equal(t, VerdictSkipped, r.steps[1].Verdict)
	assert.Equal(t, VerdictFailed, r.steps[2].Verdict)
	assert.Equal(t, VerdictSkipped, r.steps[3].Verdict)
	assert.Equal(t, VerdictFailed, Summarize(r.steps))
}

func TestUnreachableNodeIsInconclusive(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()

	h := newHarness(t, url)
	report, err := h.executor(true).Execute(context.Background(), "auction", "", nil)
	require.NoError(t, err)
	assert.Equal(t, VerdictInconclusive, report.Verdict)
	require.NotEmpty(t, report.Steps)
	assert.Equal(t, near.OutcomeTransient, report.Steps[0].Outcome)
	assert.True(t, xerrors.RetryableError(report.Err()))
}

func TestCancelledContextIsInconclusive(t *testing.T) {
	h := newHarness(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	conn, err := h.registry.Connection(context.Background(), "sandbox")
	require.NoError(t, err)
	env, err := NewEnv(conn, ContractCode{}, nil, logger.Discard())
	require.NoError(t, err)

	report := Series.Run(ctx, env)
	assert.Equal(t, VerdictInconclusive, report.Verdict)
	assert.Equal(t, VerdictInconclusive, report.Steps[0].Verdict)
}

func TestExecuteRejectsUnknownInputs(t *testing.T) {
	h := newHarness(t, "")
	_, err := h.executor(true).Execute(context.Background(), "lottery", "", nil)
	assert.Equal(t, CodeUnknownScenario, xerrors.CodeOf(err))
	_, err = h.executor(true).Execute(context.Background(), "series", "nowhere", nil)
	assert.Equal(t, xerrors.CodeInvalidArgument, xerrors.CodeOf(err))
}

func TestEnvParamsOverrideNetwork(t *testing.T) {
	h := newHarness(t, "")
	conn, err := h.registry.Connection(context.Background(), "sandbox")
	require.NoError(t, err)
	env, err := NewEnv(conn, ContractCode{}, map[string]string{ParamNFTContract: "other.test.near"}, logger.Discard())
	require.NoError(t, err)
	assert.Equal(t, "other.test.near", env.NFTID)
	assert.Equal(t, "market.test.near", env.MarketID)
	assert.Equal(t, h.node.MasterAccount(), env.Master.ID())
}
