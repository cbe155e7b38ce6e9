package server

import (
	"context"
	"encoding/json"

	"StakeLedger/internal/query"

	"google.golang.org/grpc"
)

// Message types for the staking services. They travel as JSON over gRPC
// and are shared by the HTTP gateway and the Go client.

type UserRequest struct {
	UserID string `json:"user_id"`
}

type HistoryRequest struct {
	UserID         string `json:"user_id"`
	PageSize       int    `json:"page_size,omitempty"`
	BeforeSequence *int64 `json:"before_sequence,omitempty"`
}

type ListRewardHistoryResponse struct {
	Rewards []query.RewardHistoryResponse `json:"rewards"`
}

type ListJournalsResponse struct {
	Journals []query.JournalHistoryEntry `json:"journals"`
}

type Empty struct{}

type SystemStatusResponse struct {
	State  string `json:"state"`
	Uptime string `json:"uptime"`
}

type SubmitEventRequest struct {
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// SubmitEventResponse reports the core's verdict. Duplicates are accepted.
type SubmitEventResponse struct {
	Accepted  bool   `json:"accepted"`
	Rejection string `json:"rejection,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

type TakeSnapshotResponse struct {
	Sequence int64 `json:"sequence"`
}

type RebuildProjectionsResponse struct {
	EventsReplayed int64 `json:"events_replayed"`
}

type EventLogInfoResponse struct {
	LastSequence int64 `json:"last_sequence"`
}

// QueryServer is the read API over projections and the event log.
type QueryServer interface {
	GetBalance(context.Context, *UserRequest) (*query.BalanceResponse, error)
	GetStakePosition(context.Context, *UserRequest) (*query.StakePositionResponse, error)
	GetExtrapolationInfo(context.Context, *UserRequest) (*query.ExtrapolationInfo, error)
	GetGenerationRate(context.Context, *UserRequest) (*query.RateResponse, error)
	ListRewardHistory(context.Context, *HistoryRequest) (*ListRewardHistoryResponse, error)
	ListJournals(context.Context, *HistoryRequest) (*ListJournalsResponse, error)
	GetSystemStatus(context.Context, *Empty) (*SystemStatusResponse, error)
}

// IngestServer accepts admin-submitted events.
type IngestServer interface {
	SubmitEvent(context.Context, *SubmitEventRequest) (*SubmitEventResponse, error)
}

// AdminServer exposes operational controls.
type AdminServer interface {
	TakeSnapshot(context.Context, *Empty) (*TakeSnapshotResponse, error)
	RebuildProjections(context.Context, *Empty) (*RebuildProjectionsResponse, error)
	GetEventLogInfo(context.Context, *Empty) (*EventLogInfoResponse, error)
	VerifyIntegrity(context.Context, *Empty) (*query.IntegrityReport, error)
}

const (
	queryServiceName  = "stakeledger.query.v1.QueryService"
	ingestServiceName = "stakeledger.ingest.v1.IngestService"
	adminServiceName  = "stakeledger.admin.v1.AdminService"
)

func fullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// unaryHandler adapts a typed method expression to a grpc.MethodDesc handler.
func unaryHandler[S any, Req any, Resp any](
	service, method string,
	call func(S, context.Context, *Req) (*Resp, error),
) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(service, method)}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var queryServiceDesc = grpc.ServiceDesc{
	ServiceName: queryServiceName,
	HandlerType: (*QueryServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetBalance", Handler: unaryHandler(queryServiceName, "GetBalance", QueryServer.GetBalance)},
		{MethodName: "GetStakePosition", Handler: unaryHandler(queryServiceName, "GetStakePosition", QueryServer.GetStakePosition)},
		{MethodName: "GetExtrapolationInfo", Handler: unaryHandler(queryServiceName, "GetExtrapolationInfo", QueryServer.GetExtrapolationInfo)},
		{MethodName: "GetGenerationRate", Handler: unaryHandler(queryServiceName, "GetGenerationRate", QueryServer.GetGenerationRate)},
		{MethodName: "ListRewardHistory", Handler: unaryHandler(queryServiceName, "ListRewardHistory", QueryServer.ListRewardHistory)},
		{MethodName: "ListJournals", Handler: unaryHandler(queryServiceName, "ListJournals", QueryServer.ListJournals)},
		{MethodName: "GetSystemStatus", Handler: unaryHandler(queryServiceName, "GetSystemStatus", QueryServer.GetSystemStatus)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stakeledger/query/v1/query.proto",
}

var ingestServiceDesc = grpc.ServiceDesc{
	ServiceName: ingestServiceName,
	HandlerType: (*IngestServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitEvent", Handler: unaryHandler(ingestServiceName, "SubmitEvent", IngestServer.SubmitEvent)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stakeledger/ingest/v1/ingest.proto",
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: adminServiceName,
	HandlerType: (*AdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "TakeSnapshot", Handler: unaryHandler(adminServiceName, "TakeSnapshot", AdminServer.TakeSnapshot)},
		{MethodName: "RebuildProjections", Handler: unaryHandler(adminServiceName, "RebuildProjections", AdminServer.RebuildProjections)},
		{MethodName: "GetEventLogInfo", Handler: unaryHandler(adminServiceName, "GetEventLogInfo", AdminServer.GetEventLogInfo)},
		{MethodName: "VerifyIntegrity", Handler: unaryHandler(adminServiceName, "VerifyIntegrity", AdminServer.VerifyIntegrity)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "stakeledger/admin/v1/admin.proto",
}
