package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"StakeLedger/internal/core"
	"StakeLedger/internal/ingestion"
	"StakeLedger/internal/observability"
	"StakeLedger/internal/query"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"
)

// QueryBackend is the read side the query service is served from.
// *query.QueryService implements it.
type QueryBackend interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (*query.BalanceResponse, error)
	GetStakePosition(ctx context.Context, userID uuid.UUID) (*query.StakePositionResponse, error)
	GetExtrapolationInfo(ctx context.Context, userID uuid.UUID) (*query.ExtrapolationInfo, error)
	GetGenerationRate(ctx context.Context, userID uuid.UUID) (*query.RateResponse, error)
	GetRewardHistory(ctx context.Context, userID uuid.UUID, limit int, beforeSequence *int64) ([]query.RewardHistoryResponse, error)
	GetJournalHistory(ctx context.Context, userID uuid.UUID, limit int, beforeSequence *int64) ([]query.JournalHistoryEntry, error)
	VerifyIntegrity(ctx context.Context) (*query.IntegrityReport, error)
}

// EventSubmitter hands admin events to the core. *ingestion.GRPCIngestService implements it.
type EventSubmitter interface {
	Submit(ctx context.Context, eventType string, payload []byte) error
}

// SnapshotTaker snapshots core state on demand and returns the sequence covered.
type SnapshotTaker interface {
	TakeSnapshot(ctx context.Context) (int64, error)
}

// ProjectionRebuilder rebuilds the projection tables from the event log.
type ProjectionRebuilder interface {
	RebuildProjections(ctx context.Context) (int64, error)
}

// EventLog reports the event log tip. *persistence.SnapshotManager implements it.
type EventLog interface {
	GetLatestSequence(ctx context.Context) (int64, error)
}

// GRPCServer wraps the gRPC server and the HTTP gateway.
type GRPCServer struct {
	grpcServer    *grpc.Server
	httpServer    *http.Server
	grpcAddr      string
	httpAddr      string
	healthChecker *observability.HealthChecker
	logger        zerolog.Logger
}

// ServerDeps holds all dependencies needed by the gRPC services.
type ServerDeps struct {
	Query         QueryBackend
	Ingest        EventSubmitter
	Snapshots     SnapshotTaker
	Rebuilder     ProjectionRebuilder
	EventLog      EventLog
	StartTime     time.Time
	HealthChecker *observability.HealthChecker
	Metrics       *observability.Metrics
}

// NewGRPCServer creates a new gRPC server with all services registered.
func NewGRPCServer(grpcAddr, httpAddr string, deps *ServerDeps) *GRPCServer {
	logger := observability.NewLogger("grpc")
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(loggingInterceptor(logger, deps.Metrics)))

	RegisterServices(grpcServer, deps)

	// Health check
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	// Reflection for grpcurl / grpcui
	reflection.Register(grpcServer)

	return &GRPCServer{
		grpcServer:    grpcServer,
		grpcAddr:      grpcAddr,
		httpAddr:      httpAddr,
		healthChecker: deps.HealthChecker,
		logger:        logger,
	}
}

// RegisterServices registers the query, ingest and admin services on s.
func RegisterServices(s grpc.ServiceRegistrar, deps *ServerDeps) {
	s.RegisterService(&queryServiceDesc, &queryServiceImpl{qs: deps.Query, startTime: deps.StartTime, health: deps.HealthChecker})
	s.RegisterService(&ingestServiceDesc, &ingestServiceImpl{svc: deps.Ingest})
	s.RegisterService(&adminServiceDesc, &adminServiceImpl{
		snapshots: deps.Snapshots,
		rebuilder: deps.Rebuilder,
		eventLog:  deps.EventLog,
		qs:        deps.Query,
	})
}

// StartGRPC starts the gRPC server (blocking).
func (s *GRPCServer) StartGRPC(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.grpcAddr)
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("gRPC server shutting down")
		s.grpcServer.GracefulStop()
	}()

	s.logger.Info().Str("addr", s.grpcAddr).Msg("gRPC server listening")
	return s.grpcServer.Serve(lis)
}

// StartHTTPGateway starts the HTTP/JSON gateway (blocking). It proxies to the
// gRPC server through a client connection so both surfaces share one code path.
func (s *GRPCServer) StartHTTPGateway(ctx context.Context) error {
	client, err := Dial(s.grpcAddr)
	if err != nil {
		return fmt.Errorf("gateway dial: %w", err)
	}
	defer client.Close()

	handler, err := NewGatewayHandler(client, s.healthChecker)
	if err != nil {
		return fmt.Errorf("gateway routes: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.logger.Info().Msg("HTTP gateway shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Str("addr", s.httpAddr).Str("grpc", s.grpcAddr).Msg("HTTP gateway listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loggingInterceptor(logger zerolog.Logger, metrics *observability.Metrics) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)

		if metrics != nil {
			metrics.QueryRequests.WithLabelValues(info.FullMethod, code.String()).Inc()
			metrics.QueryDuration.WithLabelValues(info.FullMethod).Observe(time.Since(start).Seconds())
		}
		if code == codes.Internal || code == codes.Unknown {
			logger.Error().Err(err).Str("method", info.FullMethod).Msg("request failed")
		} else {
			logger.Debug().Str("method", info.FullMethod).Str("code", code.String()).Dur("took", time.Since(start)).Msg("request")
		}
		return resp, err
	}
}

// ============================================================================
// QueryService implementation
// ============================================================================

type queryServiceImpl struct {
	qs        QueryBackend
	startTime time.Time
	health    *observability.HealthChecker
}

func (s *queryServiceImpl) GetBalance(ctx context.Context, req *UserRequest) (*query.BalanceResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	bal, err := s.qs.GetBalance(ctx, userID)
	if err != nil {
		return nil, queryError("get balance", err)
	}
	return bal, nil
}

func (s *queryServiceImpl) GetStakePosition(ctx context.Context, req *UserRequest) (*query.StakePositionResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	pos, err := s.qs.GetStakePosition(ctx, userID)
	if err != nil {
		return nil, queryError("get stake position", err)
	}
	return pos, nil
}

func (s *queryServiceImpl) GetExtrapolationInfo(ctx context.Context, req *UserRequest) (*query.ExtrapolationInfo, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	info, err := s.qs.GetExtrapolationInfo(ctx, userID)
	if err != nil {
		return nil, queryError("get extrapolation info", err)
	}
	return info, nil
}

func (s *queryServiceImpl) GetGenerationRate(ctx context.Context, req *UserRequest) (*query.RateResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	rate, err := s.qs.GetGenerationRate(ctx, userID)
	if err != nil {
		return nil, queryError("get generation rate", err)
	}
	return rate, nil
}

func (s *queryServiceImpl) ListRewardHistory(ctx context.Context, req *HistoryRequest) (*ListRewardHistoryResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	rewards, err := s.qs.GetRewardHistory(ctx, userID, req.PageSize, req.BeforeSequence)
	if err != nil {
		return nil, queryError("list reward history", err)
	}
	if rewards == nil {
		rewards = []query.RewardHistoryResponse{}
	}
	return &ListRewardHistoryResponse{Rewards: rewards}, nil
}

func (s *queryServiceImpl) ListJournals(ctx context.Context, req *HistoryRequest) (*ListJournalsResponse, error) {
	userID, err := parseUserID(req.UserID)
	if err != nil {
		return nil, err
	}
	journals, err := s.qs.GetJournalHistory(ctx, userID, req.PageSize, req.BeforeSequence)
	if err != nil {
		return nil, queryError("list journals", err)
	}
	if journals == nil {
		journals = []query.JournalHistoryEntry{}
	}
	return &ListJournalsResponse{Journals: journals}, nil
}

func (s *queryServiceImpl) GetSystemStatus(ctx context.Context, _ *Empty) (*SystemStatusResponse, error) {
	state := "ready"
	if s.health != nil && !s.health.IsReady() {
		state = "recovering"
	}
	return &SystemStatusResponse{
		State:  state,
		Uptime: time.Since(s.startTime).Truncate(time.Second).String(),
	}, nil
}

// ============================================================================
// IngestService implementation
// ============================================================================

type ingestServiceImpl struct {
	svc EventSubmitter
}

func (s *ingestServiceImpl) SubmitEvent(ctx context.Context, req *SubmitEventRequest) (*SubmitEventResponse, error) {
	if req.EventType == "" {
		return nil, status.Error(codes.InvalidArgument, "event_type is required")
	}
	if len(req.Payload) == 0 {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}

	err := s.svc.Submit(ctx, req.EventType, req.Payload)
	switch {
	case err == nil:
		return &SubmitEventResponse{Accepted: true}, nil
	case errors.Is(err, core.ErrEventRejected):
		// Rejections are recorded in the log; the call itself succeeded
		return &SubmitEventResponse{
			Accepted:  false,
			Rejection: err.Error(),
			Reason:    core.RejectionReason(err),
		}, nil
	case errors.Is(err, ingestion.ErrRateLimited):
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	case errors.Is(err, ingestion.ErrMalformedEvent):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, core.ErrSequenceGap), errors.Is(err, core.ErrOutOfOrder):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	default:
		return nil, status.Errorf(codes.Internal, "submit event: %v", err)
	}
}

// ============================================================================
// AdminService implementation
// ============================================================================

type adminServiceImpl struct {
	snapshots SnapshotTaker
	rebuilder ProjectionRebuilder
	eventLog  EventLog
	qs        QueryBackend
}

func (s *adminServiceImpl) TakeSnapshot(ctx context.Context, _ *Empty) (*TakeSnapshotResponse, error) {
	if s.snapshots == nil {
		return nil, status.Error(codes.Unimplemented, "snapshots are not enabled")
	}
	seq, err := s.snapshots.TakeSnapshot(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "take snapshot: %v", err)
	}
	return &TakeSnapshotResponse{Sequence: seq}, nil
}

func (s *adminServiceImpl) RebuildProjections(ctx context.Context, _ *Empty) (*RebuildProjectionsResponse, error) {
	if s.rebuilder == nil {
		return nil, status.Error(codes.Unimplemented, "projection rebuild is not enabled")
	}
	n, err := s.rebuilder.RebuildProjections(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "rebuild failed: %v", err)
	}
	return &RebuildProjectionsResponse{EventsReplayed: n}, nil
}

func (s *adminServiceImpl) GetEventLogInfo(ctx context.Context, _ *Empty) (*EventLogInfoResponse, error) {
	latestSeq, err := s.eventLog.GetLatestSequence(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "get latest sequence: %v", err)
	}
	return &EventLogInfoResponse{LastSequence: latestSeq}, nil
}

func (s *adminServiceImpl) VerifyIntegrity(ctx context.Context, _ *Empty) (*query.IntegrityReport, error) {
	report, err := s.qs.VerifyIntegrity(ctx)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "verify integrity: %v", err)
	}
	return report, nil
}

// ============================================================================
// Helpers
// ============================================================================

func parseUserID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, status.Errorf(codes.InvalidArgument, "invalid user_id: %v", err)
	}
	return id, nil
}

func queryError(op string, err error) error {
	if errors.Is(err, query.ErrInvalidCursor) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return status.Errorf(codes.Internal, "%s: %v", op, err)
}
