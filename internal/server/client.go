package server

import (
	"context"

	"StakeLedger/internal/query"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the staking services over gRPC with the JSON codec. It backs
// the HTTP gateway and the stakewatch CLI.
type Client struct {
	conn *grpc.ClientConn
}

// Dial creates a client for target. Extra options are appended after the
// defaults (plaintext transport, JSON content subtype).
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	base := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(jsonCodecName)),
	}
	conn, err := grpc.NewClient(target, append(base, opts...)...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn}, nil
}

func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) GetBalance(ctx context.Context, userID string) (*query.BalanceResponse, error) {
	out := new(query.BalanceResponse)
	err := c.conn.Invoke(ctx, fullMethod(queryServiceName, "GetBalance"), &UserRequest{UserID: userID}, out)
	return out, err
}

func (c *Client) GetStakePosition(ctx context.Context, userID string) (*query.StakePositionResponse, error) {
	out := new(query.StakePositionResponse)
	err := c.conn.Invoke(ctx, fullMethod(queryServiceName, "GetStakePosition"), &UserRequest{UserID: userID}, out)
	return out, err
}

func (c *Client) GetExtrapolationInfo(ctx context.Context, userID string) (*query.ExtrapolationInfo, error) {
	out := new(query.ExtrapolationInfo)
	err := c.conn.Invoke(ctx, fullMethod(queryServiceName, "GetExtrapolationInfo"), &UserRequest{UserID: userID}, out)
	return out, err
}

func (c *Client) GetGenerationRate(ctx context.Context, userID string) (*query.RateResponse, error) {
	out := new(query.RateResponse)
	err := c.conn.Invoke(ctx, fullMethod(queryServiceName, "GetGenerationRate"), &UserRequest{UserID: userID}, out)
	return out, err
}

func (c *Client) ListRewardHistory(ctx context.Context, req *HistoryRequest) (*ListRewardHistoryResponse, error) {
	out := new(ListRewardHistoryResponse)
	err := c.conn.Invoke(ctx, fullMethod(queryServiceName, "ListRewardHistory"), req, out)
	return out, err
}

func (c *Client) ListJournals(ctx context.Context, req *HistoryRequest) (*ListJournalsResponse, error) {
	out := new(ListJournalsResponse)
	err := c.conn.Invoke(ctx, fullMethod(queryServiceName, "ListJournals"), req, out)
	return out, err
}

func (c *Client) GetSystemStatus(ctx context.Context) (*SystemStatusResponse, error) {
	out := new(SystemStatusResponse)
	err := c.conn.Invoke(ctx, fullMethod(queryServiceName, "GetSystemStatus"), &Empty{}, out)
	return out, err
}

func (c *Client) SubmitEvent(ctx context.Context, req *SubmitEventRequest) (*SubmitEventResponse, error) {
	out := new(SubmitEventResponse)
	err := c.conn.Invoke(ctx, fullMethod(ingestServiceName, "SubmitEvent"), req, out)
	return out, err
}

func (c *Client) TakeSnapshot(ctx context.Context) (*TakeSnapshotResponse, error) {
	out := new(TakeSnapshotResponse)
	err := c.conn.Invoke(ctx, fullMethod(adminServiceName, "TakeSnapshot"), &Empty{}, out)
	return out, err
}

func (c *Client) RebuildProjections(ctx context.Context) (*RebuildProjectionsResponse, error) {
	out := new(RebuildProjectionsResponse)
	err := c.conn.Invoke(ctx, fullMethod(adminServiceName, "RebuildProjections"), &Empty{}, out)
	return out, err
}

func (c *Client) GetEventLogInfo(ctx context.Context) (*EventLogInfoResponse, error) {
	out := new(EventLogInfoResponse)
	err := c.conn.Invoke(ctx, fullMethod(adminServiceName, "GetEventLogInfo"), &Empty{}, out)
	return out, err
}

func (c *Client) VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error) {
	out := new(query.IntegrityReport)
	err := c.conn.Invoke(ctx, fullMethod(adminServiceName, "VerifyIntegrity"), &Empty{}, out)
	return out, err
}
