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
	// TokenServiceName is the fully-qualified name of the TokenService service.
	TokenServiceName = "accountantbot.v1.TokenService"
)

// Procedure names for TokenService RPCs.
const (
	TokenServiceListTokensProcedure   = "/accountantbot.v1.TokenService/ListTokens"
	TokenServiceGetAllowanceProcedure = "/accountantbot.v1.TokenService/GetAllowance"
)

// TokenServiceClient is a client for the accountantbot.v1.TokenService service.
type TokenServiceClient interface {
	ListTokens(context.Context, *connect.Request[api.ListTokensRequest]) (*connect.Response[api.ListTokensResponse], error)
	GetAllowance(context.Context, *connect.Request[api.GetAllowanceRequest]) (*connect.Response[api.GetAllowanceResponse], error)
}

// NewTokenServiceClient constructs a client for the accountantbot.v1.TokenService service.
func NewTokenServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) TokenServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(api.JSONCodec{})}, opts...)
	return &tokenServiceClient{
		listTokens: connect.NewClient[api.ListTokensRequest, api.ListTokensResponse](
			httpClient, baseURL+TokenServiceListTokensProcedure, opts...),
		getAllowance: connect.NewClient[api.GetAllowanceRequest, api.GetAllowanceResponse](
			httpClient, baseURL+TokenServiceGetAllowanceProcedure, opts...),
	}
}

type tokenServiceClient struct {
	listTokens   *connect.Client[api.ListTokensRequest, api.ListTokensResponse]
	getAllowance *connect.Client[api.GetAllowanceRequest, api.GetAllowanceResponse]
}

func (c *tokenServiceClient) ListTokens(ctx context.Context, req *connect.Request[api.ListTokensRequest]) (*connect.Response[api.ListTokensResponse], error) {
	return c.listTokens.CallUnary(ctx, req)
}

func (c *tokenServiceClient) GetAllowance(ctx context.Context, req *connect.Request[api.GetAllowanceRequest]) (*connect.Response[api.GetAllowanceResponse], error) {
	return c.getAllowance.CallUnary(ctx, req)
}

// TokenServiceHandler is an implementation of the accountantbot.v1.TokenService service.
type TokenServiceHandler interface {
	ListTokens(context.Context, *connect.Request[api.ListTokensRequest]) (*connect.Response[api.ListTokensResponse], error)
	GetAllowance(context.Context, *connect.Request[api.GetAllowanceRequest]) (*connect.Response[api.GetAllowanceResponse], error)
}

// NewTokenServiceHandler builds an HTTP handler from the service implementation.
func NewTokenServiceHandler(svc TokenServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(api.JSONCodec{})}, opts...)
	listTokens := connect.NewUnaryHandler(TokenServiceListTokensProcedure, svc.ListTokens, opts...)
	getAllowance := connect.NewUnaryHandler(TokenServiceGetAllowanceProcedure, svc.GetAllowance, opts...)
	return "/" + TokenServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case TokenServiceListTokensProcedure:
			listTokens.ServeHTTP(w, r)
		case TokenServiceGetAllowanceProcedure:
			getAllowance.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// UnimplementedTokenServiceHandler returns CodeUnimplemented from all methods.
type UnimplementedTokenServiceHandler struct{}

func (UnimplementedTokenServiceHandler) ListTokens(context.Context, *connect.Request[api.ListTokensRequest]) (*connect.Response[api.ListTokensResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.TokenService.ListTokens is not implemented"))
}

func (UnimplementedTokenServiceHandler) GetAllowance(context.Context, *connect.Request[api.GetAllowanceRequest]) (*connect.Response[api.GetAllowanceResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.TokenService.GetAllowance is not implemented"))
}
