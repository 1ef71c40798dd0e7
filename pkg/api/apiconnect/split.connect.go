// Package apiconnect holds the Connect clients and handlers for the
// accountantbot.v1 services.
package apiconnect

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"connectrpc.com/connect"

	"github.com/AccountantBot/coordinator/pkg/api"
)

const (
	// SplitServiceName is the fully-qualified name of the SplitService service.
	SplitServiceName = "accountantbot.v1.SplitService"
)

// Procedure names for SplitService RPCs.
const (
	SplitServiceCreateSplitProcedure         = "/accountantbot.v1.SplitService/CreateSplit"
	SplitServiceGetSplitProcedure            = "/accountantbot.v1.SplitService/GetSplit"
	SplitServiceListSplitsProcedure          = "/accountantbot.v1.SplitService/ListSplits"
	SplitServiceGetApprovalIntentProcedure   = "/accountantbot.v1.SplitService/GetApprovalIntent"
	SplitServiceSubmitApprovalProcedure      = "/accountantbot.v1.SplitService/SubmitApproval"
	SplitServiceTriggerSettlementProcedure   = "/accountantbot.v1.SplitService/TriggerSettlement"
	SplitServiceCalculateEqualSplitProcedure = "/accountantbot.v1.SplitService/CalculateEqualSplit"
)

// SplitServiceClient is a client for the accountantbot.v1.SplitService service.
type SplitServiceClient interface {
	CreateSplit(context.Context, *connect.Request[api.CreateSplitRequest]) (*connect.Response[api.CreateSplitResponse], error)
	GetSplit(context.Context, *connect.Request[api.GetSplitRequest]) (*connect.Response[api.GetSplitResponse], error)
	ListSplits(context.Context, *connect.Request[api.ListSplitsRequest]) (*connect.Response[api.ListSplitsResponse], error)
	GetApprovalIntent(context.Context, *connect.Request[api.GetApprovalIntentRequest]) (*connect.Response[api.GetApprovalIntentResponse], error)
	SubmitApproval(context.Context, *connect.Request[api.SubmitApprovalRequest]) (*connect.Response[api.SubmitApprovalResponse], error)
	TriggerSettlement(context.Context, *connect.Request[api.TriggerSettlementRequest]) (*connect.Response[api.TriggerSettlementResponse], error)
	CalculateEqualSplit(context.Context, *connect.Request[api.CalculateEqualSplitRequest]) (*connect.Response[api.CalculateEqualSplitResponse], error)
}

// NewSplitServiceClient constructs a client for the accountantbot.v1.SplitService
// service. The client speaks the Connect protocol with the JSON codec.
func NewSplitServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) SplitServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(api.JSONCodec{})}, opts...)
	return &splitServiceClient{
		createSplit: connect.NewClient[api.CreateSplitRequest, api.CreateSplitResponse](
			httpClient, baseURL+SplitServiceCreateSplitProcedure, opts...),
		getSplit: connect.NewClient[api.GetSplitRequest, api.GetSplitResponse](
			httpClient, baseURL+SplitServiceGetSplitProcedure, opts...),
		listSplits: connect.NewClient[api.ListSplitsRequest, api.ListSplitsResponse](
			httpClient, baseURL+SplitServiceListSplitsProcedure, opts...),
		getApprovalIntent: connect.NewClient[api.GetApprovalIntentRequest, api.GetApprovalIntentResponse](
			httpClient, baseURL+SplitServiceGetApprovalIntentProcedure, opts...),
		submitApproval: connect.NewClient[api.SubmitApprovalRequest, api.SubmitApprovalResponse](
			httpClient, baseURL+SplitServiceSubmitApprovalProcedure, opts...),
		triggerSettlement: connect.NewClient[api.TriggerSettlementRequest, api.TriggerSettlementResponse](
			httpClient, baseURL+SplitServiceTriggerSettlementProcedure, opts...),
		calculateEqualSplit: connect.NewClient[api.CalculateEqualSplitRequest, api.CalculateEqualSplitResponse](
			httpClient, baseURL+SplitServiceCalculateEqualSplitProcedure, opts...),
	}
}

type splitServiceClient struct {
	createSplit         *connect.Client[api.CreateSplitRequest, api.CreateSplitResponse]
	getSplit            *connect.Client[api.GetSplitRequest, api.GetSplitResponse]
	listSplits          *connect.Client[api.ListSplitsRequest, api.ListSplitsResponse]
	getApprovalIntent   *connect.Client[api.GetApprovalIntentRequest, api.GetApprovalIntentResponse]
	submitApproval      *connect.Client[api.SubmitApprovalRequest, api.SubmitApprovalResponse]
	triggerSettlement   *connect.Client[api.TriggerSettlementRequest, api.TriggerSettlementResponse]
	calculateEqualSplit *connect.Client[api.CalculateEqualSplitRequest, api.CalculateEqualSplitResponse]
}

func (c *splitServiceClient) CreateSplit(ctx context.Context, req *connect.Request[api.CreateSplitRequest]) (*connect.Response[api.CreateSplitResponse], error) {
	return c.createSplit.CallUnary(ctx, req)
}

func (c *splitServiceClient) GetSplit(ctx context.Context, req *connect.Request[api.GetSplitRequest]) (*connect.Response[api.GetSplitResponse], error) {
	return c.getSplit.CallUnary(ctx, req)
}

func (c *splitServiceClient) ListSplits(ctx context.Context, req *connect.Request[api.ListSplitsRequest]) (*connect.Response[api.ListSplitsResponse], error) {
	return c.listSplits.CallUnary(ctx, req)
}

func (c *splitServiceClient) GetApprovalIntent(ctx context.Context, req *connect.Request[api.GetApprovalIntentRequest]) (*connect.Response[api.GetApprovalIntentResponse], error) {
	return c.getApprovalIntent.CallUnary(ctx, req)
}

func (c *splitServiceClient) SubmitApproval(ctx context.Context, req *connect.Request[api.SubmitApprovalRequest]) (*connect.Response[api.SubmitApprovalResponse], error) {
	return c.submitApproval.CallUnary(ctx, req)
}

func (c *splitServiceClient) TriggerSettlement(ctx context.Context, req *connect.Request[api.TriggerSettlementRequest]) (*connect.Response[api.TriggerSettlementResponse], error) {
	return c.triggerSettlement.CallUnary(ctx, req)
}

func (c *splitServiceClient) CalculateEqualSplit(ctx context.Context, req *connect.Request[api.CalculateEqualSplitRequest]) (*connect.Response[api.CalculateEqualSplitResponse], error) {
	return c.calculateEqualSplit.CallUnary(ctx, req)
}

// SplitServiceHandler is an implementation of the accountantbot.v1.SplitService service.
type SplitServiceHandler interface {
	CreateSplit(context.Context, *connect.Request[api.CreateSplitRequest]) (*connect.Response[api.CreateSplitResponse], error)
	GetSplit(context.Context, *connect.Request[api.GetSplitRequest]) (*connect.Response[api.GetSplitResponse], error)
	ListSplits(context.Context, *connect.Request[api.ListSplitsRequest]) (*connect.Response[api.ListSplitsResponse], error)
	GetApprovalIntent(context.Context, *connect.Request[api.GetApprovalIntentRequest]) (*connect.Response[api.GetApprovalIntentResponse], error)
	SubmitApproval(context.Context, *connect.Request[api.SubmitApprovalRequest]) (*connect.Response[api.SubmitApprovalResponse], error)
	TriggerSettlement(context.Context, *connect.Request[api.TriggerSettlementRequest]) (*connect.Response[api.TriggerSettlementResponse], error)
	CalculateEqualSplit(context.Context, *connect.Request[api.CalculateEqualSplitRequest]) (*connect.Response[api.CalculateEqualSplitResponse], error)
}

// NewSplitServiceHandler builds an HTTP handler from the service implementation.
// It returns the path on which to mount the handler and the handler itself.
func NewSplitServiceHandler(svc SplitServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(api.JSONCodec{})}, opts...)
	createSplit := connect.NewUnaryHandler(SplitServiceCreateSplitProcedure, svc.CreateSplit, opts...)
	getSplit := connect.NewUnaryHandler(SplitServiceGetSplitProcedure, svc.GetSplit, opts...)
	listSplits := connect.NewUnaryHandler(SplitServiceListSplitsProcedure, svc.ListSplits, opts...)
	getApprovalIntent := connect.NewUnaryHandler(SplitServiceGetApprovalIntentProcedure, svc.GetApprovalIntent, opts...)
	submitApproval := connect.NewUnaryHandler(SplitServiceSubmitApprovalProcedure, svc.SubmitApproval, opts...)
	triggerSettlement := connect.NewUnaryHandler(SplitServiceTriggerSettlementProcedure, svc.TriggerSettlement, opts...)
	calculateEqualSplit := connect.NewUnaryHandler(SplitServiceCalculateEqualSplitProcedure, svc.CalculateEqualSplit, opts...)
	return "/" + SplitServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SplitServiceCreateSplitProcedure:
			createSplit.ServeHTTP(w, r)
		case SplitServiceGetSplitProcedure:
			getSplit.ServeHTTP(w, r)
		case SplitServiceListSplitsProcedure:
			listSplits.ServeHTTP(w, r)
		case SplitServiceGetApprovalIntentProcedure:
			getApprovalIntent.ServeHTTP(w, r)
		case SplitServiceSubmitApprovalProcedure:
			submitApproval.ServeHTTP(w, r)
		case SplitServiceTriggerSettlementProcedure:
			triggerSettlement.ServeHTTP(w, r)
		case SplitServiceCalculateEqualSplitProcedure:
			calculateEqualSplit.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// UnimplementedSplitServiceHandler returns CodeUnimplemented from all methods.
type UnimplementedSplitServiceHandler struct{}

func (UnimplementedSplitServiceHandler) CreateSplit(context.Context, *connect.Request[api.CreateSplitRequest]) (*connect.Response[api.CreateSplitResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.SplitService.CreateSplit is not implemented"))
}

func (UnimplementedSplitServiceHandler) GetSplit(context.Context, *connect.Request[api.GetSplitRequest]) (*connect.Response[api.GetSplitResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.SplitService.GetSplit is not implemented"))
}

func (UnimplementedSplitServiceHandler) ListSplits(context.Context, *connect.Request[api.ListSplitsRequest]) (*connect.Response[api.ListSplitsResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.SplitService.ListSplits is not implemented"))
}

func (UnimplementedSplitServiceHandler) GetApprovalIntent(context.Context, *connect.Request[api.GetApprovalIntentRequest]) (*connect.Response[api.GetApprovalIntentResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.SplitService.GetApprovalIntent is not implemented"))
}

func (UnimplementedSplitServiceHandler) SubmitApproval(context.Context, *connect.Request[api.SubmitApprovalRequest]) (*connect.Response[api.SubmitApprovalResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.SplitService.SubmitApproval is not implemented"))
}

func (UnimplementedSplitServiceHandler) TriggerSettlement(context.Context, *connect.Request[api.TriggerSettlementRequest]) (*connect.Response[api.TriggerSettlementResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.SplitService.TriggerSettlement is not implemented"))
}

func (UnimplementedSplitServiceHandler) CalculateEqualSplit(context.Context, *connect.Request[api.CalculateEqualSplitRequest]) (*connect.Response[api.CalculateEqualSplitResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.SplitService.CalculateEqualSplit is not implemented"))
}
