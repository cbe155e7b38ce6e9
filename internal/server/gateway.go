package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"StakeLedger/internal/observability"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const maxSubmitBody = 1 << 20

// NewGatewayHandler builds the HTTP/JSON surface over client. Health
// endpoints are served directly; everything else is proxied to gRPC.
func NewGatewayHandler(client *Client, health *observability.HealthChecker) (http.Handler, error) {
	mux := runtime.NewServeMux()

	userRoute := func(call func(ctx context.Context, userID string) (interface{}, error)) runtime.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			resp, err := call(r.Context(), params["user_id"])
			writeResult(w, resp, err)
		}
	}

	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/users/{user_id}/balance", userRoute(func(ctx context.Context, id string) (interface{}, error) {
			return client.GetBalance(ctx, id)
		})},
		{"GET", "/v1/users/{user_id}/position", userRoute(func(ctx context.Context, id string) (interface{}, error) {
			return client.GetStakePosition(ctx, id)
		})},
		{"GET", "/v1/users/{user_id}/extrapolation", userRoute(func(ctx context.Context, id string) (interface{}, error) {
			return client.GetExtrapolationInfo(ctx, id)
		})},
		{"GET", "/v1/users/{user_id}/rate", userRoute(func(ctx context.Context, id string) (interface{}, error) {
			return client.GetGenerationRate(ctx, id)
		})},
		{"GET", "/v1/users/{user_id}/rewards", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			req, err := historyRequest(r, params["user_id"])
			if err != nil {
				writeResult(w, nil, err)
				return
			}
			resp, err := client.ListRewardHistory(r.Context(), req)
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/users/{user_id}/journals", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			req, err := historyRequest(r, params["user_id"])
			if err != nil {
				writeResult(w, nil, err)
				return
			}
			resp, err := client.ListJournals(r.Context(), req)
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/status", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := client.GetSystemStatus(r.Context())
			writeResult(w, resp, err)
		}},
		{"POST", "/v1/events/{event_type}", func(w http.ResponseWriter, r *http.Request, params map[string]string) {
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmitBody))
			if err != nil {
				writeResult(w, nil, status.Errorf(codes.InvalidArgument, "read body: %v", err))
				return
			}
			resp, err := client.SubmitEvent(r.Context(), &SubmitEventRequest{
				EventType: params["event_type"],
				Payload:   json.RawMessage(body),
			})
			writeResult(w, resp, err)
		}},
		{"POST", "/v1/admin/snapshot", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := client.TakeSnapshot(r.Context())
			writeResult(w, resp, err)
		}},
		{"POST", "/v1/admin/projections/rebuild", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := client.RebuildProjections(r.Context())
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/admin/eventlog", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := client.GetEventLogInfo(r.Context())
			writeResult(w, resp, err)
		}},
		{"GET", "/v1/admin/integrity", func(w http.ResponseWriter, r *http.Request, _ map[string]string) {
			resp, err := client.VerifyIntegrity(r.Context())
			writeResult(w, resp, err)
		}},
	}

	for _, rt := range routes {
		if err := mux.HandlePath(rt.method, rt.pattern, rt.handler); err != nil {
			return nil, err
		}
	}

	httpMux := http.NewServeMux()
	if health != nil {
		httpMux.HandleFunc("/healthz", health.LivenessHandler)
		httpMux.HandleFunc("/readyz", health.ReadinessHandler)
	} else {
		httpMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
	}
	httpMux.Handle("/", mux)
	return httpMux, nil
}

func historyRequest(r *http.Request, userID string) (*HistoryRequest, error) {
	req := &HistoryRequest{UserID: userID}
	q := r.URL.Query()

	if v := q.Get("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid page_size %q", v)
		}
		req.PageSize = n
	}
	if v := q.Get("before_sequence"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid before_sequence %q", v)
		}
		req.BeforeSequence = &n
	}
	return req, nil
}

func writeResult(w http.ResponseWriter, resp interface{}, err error) {
	if err != nil {
		st := status.Convert(err)
		writeJSON(w, runtime.HTTPStatusFromCode(st.Code()), map[string]interface{}{
			"code":    int32(st.Code()),
			"message": st.Message(),
		})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
