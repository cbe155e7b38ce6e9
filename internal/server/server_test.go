package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/ingestion"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/query"
	"StakeLedger/internal/state"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type fakeQuery struct {
	lastLimit  int
	lastBefore *int64
}

func (f *fakeQuery) GetBalance(_ context.Context, userID uuid.UUID) (*query.BalanceResponse, error) {
	return &query.BalanceResponse{UserID: userID, Wallet: "60", Staked: "40", Reward: "7", AsOfSequence: 3}, nil
}

func (f *fakeQuery) GetStakePosition(_ context.Context, userID uuid.UUID) (*query.StakePositionResponse, error) {
	return &query.StakePositionResponse{UserID: userID, Status: "Staked", PendingReward: "44849065434352718947"}, nil
}

func (f *fakeQuery) GetExtrapolationInfo(_ context.Context, userID uuid.UUID) (*query.ExtrapolationInfo, error) {
	return &query.ExtrapolationInfo{UserID: userID, StakeBalance: "100", LastDeposit: 10, LastMint: 10, Now: 20}, nil
}

func (f *fakeQuery) GetGenerationRate(_ context.Context, userID uuid.UUID) (*query.RateResponse, error) {
	return &query.RateResponse{UserID: userID, RatePercent: 200}, nil
}

func (f *fakeQuery) GetRewardHistory(_ context.Context, userID uuid.UUID, limit int, before *int64) ([]query.RewardHistoryResponse, error) {
	f.lastLimit, f.lastBefore = limit, before
	if before != nil && *before < 0 {
		return nil, query.ErrInvalidCursor
	}
	return []query.RewardHistoryResponse{{Sequence: 2, UserID: userID, Minted: "5"}}, nil
}

func (f *fakeQuery) GetJournalHistory(context.Context, uuid.UUID, int, *int64) ([]query.JournalHistoryEntry, error) {
	return nil, nil
}

func (f *fakeQuery) VerifyIntegrity(context.Context) (*query.IntegrityReport, error) {
	return &query.IntegrityReport{IsHealthy: true, LastSequence: 3}, nil
}

type fakeSubmitter struct {
	err error
}

func (f fakeSubmitter) Submit(context.Context, string, []byte) error {
	return f.err
}

type fakeEventLog struct{}

func (fakeEventLog) GetLatestSequence(context.Context) (int64, error) { return 41, nil }

type fakeSnapshots struct{}

func (fakeSnapshots) TakeSnapshot(context.Context) (int64, error) { return 40, nil }

func startTestServer(t *testing.T, deps *ServerDeps) *Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterServices(srv, deps)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := Dial("passthrough:///bufnet", grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func testDeps(q *fakeQuery, submitErr error) *ServerDeps {
	return &ServerDeps{
		Query:     q,
		Ingest:    fakeSubmitter{err: submitErr},
		Snapshots: fakeSnapshots{},
		EventLog:  fakeEventLog{},
		StartTime: time.Now(),
	}
}

func TestQueryService_RoundTripOverJSONCodec(t *testing.T) {
	client := startTestServer(t, testDeps(&fakeQuery{}, nil))
	ctx := context.Background()
	userID := uuid.New()

	bal, err := client.GetBalance(ctx, userID.String())
	require.NoError(t, err)
	assert.Equal(t, userID, bal.UserID)
	assert.Equal(t, "40", bal.Staked)
	assert.Equal(t, int64(3), bal.AsOfSequence)

	pos, err := client.GetStakePosition(ctx, userID.String())
	require.NoError(t, err)
	assert.Equal(t, "44849065434352718947", pos.PendingReward)

	info, err := client.GetExtrapolationInfo(ctx, userID.String())
	require.NoError(t, err)
	assert.Equal(t, uint64(20), info.Now)
}

func TestQueryService_InvalidUserID(t *testing.T) {
	client := startTestServer(t, testDeps(&fakeQuery{}, nil))

	_, err := client.GetBalance(context.Background(), "not-a-uuid")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.GetBalance(context.Background(), "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestQueryService_HistoryCursor(t *testing.T) {
	q := &fakeQuery{}
	client := startTestServer(t, testDeps(q, nil))
	before := int64(9)

	resp, err := client.ListRewardHistory(context.Background(), &HistoryRequest{
		UserID: uuid.NewString(), PageSize: 10, BeforeSequence: &before,
	})
	require.NoError(t, err)
	require.Len(t, resp.Rewards, 1)
	assert.Equal(t, 10, q.lastLimit)
	require.NotNil(t, q.lastBefore)
	assert.Equal(t, int64(9), *q.lastBefore)

	bad := int64(-1)
	_, err = client.ListRewardHistory(context.Background(), &HistoryRequest{UserID: uuid.NewString(), BeforeSequence: &bad})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	journals, err := client.ListJournals(context.Background(), &HistoryRequest{UserID: uuid.NewString()})
	require.NoError(t, err)
	assert.NotNil(t, journals.Journals)
}

func TestIngestService_MapsCoreResults(t *testing.T) {
	rejection := fmt.Errorf("%w: %w", core.ErrEventRejected, state.ErrMinStakeDurationNotElapsed)

	cases := []struct {
		name     string
		err      error
		code     codes.Code
		accepted bool
		reason   string
	}{
		{"applied", nil, codes.OK, true, ""},
		{"rejected", rejection, codes.OK, false, "min_stake_duration"},
		{"rate limited", ingestion.ErrRateLimited, codes.ResourceExhausted, false, ""},
		{"malformed", fmt.Errorf("%w: bad", ingestion.ErrMalformedEvent), codes.InvalidArgument, false, ""},
		{"gap", fmt.Errorf("sequence validation failed: %w", core.ErrSequenceGap), codes.FailedPrecondition, false, ""},
		{"internal", errors.New("boom"), codes.Internal, false, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := startTestServer(t, testDeps(&fakeQuery{}, tc.err))
			resp, err := client.SubmitEvent(context.Background(), &SubmitEventRequest{
				EventType: "StakeDepositRequested",
				Payload:   json.RawMessage(`{"amount":"1"}`),
			})
			require.Equal(t, tc.code, status.Code(err))
			if tc.code != codes.OK {
				return
			}
			assert.Equal(t, tc.accepted, resp.Accepted)
			assert.Equal(t, tc.reason, resp.Reason)
		})
	}
}

func TestIngestService_RequiresEventType(t *testing.T) {
	client := startTestServer(t, testDeps(&fakeQuery{}, nil))
	_, err := client.SubmitEvent(context.Background(), &SubmitEventRequest{Payload: json.RawMessage(`{}`)})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAdminService(t *testing.T) {
	client := startTestServer(t, testDeps(&fakeQuery{}, nil))
	ctx := context.Background()

	snap, err := client.TakeSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(40), snap.Sequence)

	info, err := client.GetEventLogInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(41), info.LastSequence)

	report, err := client.VerifyIntegrity(ctx)
	require.NoError(t, err)
	assert.True(t, report.IsHealthy)

	// No rebuilder configured
	_, err = client.RebuildProjections(ctx)
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}

func TestGateway_Routes(t *testing.T) {
	client := startTestServer(t, testDeps(&fakeQuery{}, nil))
	health := observability.NewHealthChecker()

	handler, err := NewGatewayHandler(client, health)
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	defer ts.Close()

	userID := uuid.NewString()

	resp, err := http.Get(ts.URL + "/v1/users/" + userID + "/balance")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var bal query.BalanceResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&bal))
	assert.Equal(t, "60", bal.Wallet)
	assert.Equal(t, userID, bal.UserID.String())

	bad, err := http.Get(ts.URL + "/v1/users/nope/balance")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	badCursor, err := http.Get(ts.URL + "/v1/users/" + userID + "/rewards?before_sequence=abc")
	require.NoError(t, err)
	badCursor.Body.Close()
	assert.Equal(t, http.StatusBadRequest, badCursor.StatusCode)

	submit, err := http.Post(ts.URL+"/v1/events/WalletFunded", "application/json", strings.NewReader(`{"amount":"1"}`))
	require.NoError(t, err)
	defer submit.Body.Close()
	require.Equal(t, http.StatusOK, submit.StatusCode)
	var sr SubmitEventResponse
	require.NoError(t, json.NewDecoder(submit.Body).Decode(&sr))
	assert.True(t, sr.Accepted)

	ready, err := http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, ready.StatusCode)

	health.SetReady(true)
	ready, err = http.Get(ts.URL + "/readyz")
	require.NoError(t, err)
	ready.Body.Close()
	assert.Equal(t, http.StatusOK, ready.StatusCode)
}

func TestJSONCodec(t *testing.T) {
	var c jsonCodec
	assert.Equal(t, "json", c.Name())

	data, err := c.Marshal(&UserRequest{UserID: "u"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"user_id":"u"}`, string(data))

	var out UserRequest
	require.NoError(t, c.Unmarshal(data, &out))
	assert.Equal(t, "u", out.UserID)
}
