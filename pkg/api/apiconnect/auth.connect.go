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
	// AuthServiceName is the fully-qualified name of the AuthService service.
	AuthServiceName = "accountantbot.v1.AuthService"
)

// Procedure names for AuthService RPCs.
const (
	AuthServiceInitiateLoginProcedure  = "/accountantbot.v1.AuthService/InitiateLogin"
	AuthServiceVerifyLoginProcedure    = "/accountantbot.v1.AuthService/VerifyLogin"
	AuthServiceGetCurrentUserProcedure = "/accountantbot.v1.AuthService/GetCurrentUser"
)

// AuthServiceClient is a client for the accountantbot.v1.AuthService service.
type AuthServiceClient interface {
	InitiateLogin(context.Context, *connect.Request[api.InitiateLoginRequest]) (*connect.Response[api.InitiateLoginResponse], error)
	VerifyLogin(context.Context, *connect.Request[api.VerifyLoginRequest]) (*connect.Response[api.VerifyLoginResponse], error)
	GetCurrentUser(context.Context, *connect.Request[api.GetCurrentUserRequest]) (*connect.Response[api.GetCurrentUserResponse], error)
}

// NewAuthServiceClient constructs a client for the accountantbot.v1.AuthService service.
func NewAuthServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) AuthServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(api.JSONCodec{})}, opts...)
	return &authServiceClient{
		initiateLogin: connect.NewClient[api.InitiateLoginRequest, api.InitiateLoginResponse](
			httpClient, baseURL+AuthServiceInitiateLoginProcedure, opts...),
		verifyLogin: connect.NewClient[api.VerifyLoginRequest, api.VerifyLoginResponse](
			httpClient, baseURL+AuthServiceVerifyLoginProcedure, opts...),
		getCurrentUser: connect.NewClient[api.GetCurrentUserRequest, api.GetCurrentUserResponse](
			httpClient, baseURL+AuthServiceGetCurrentUserProcedure, opts...),
	}
}

type authServiceClient struct {
	initiateLogin  *connect.Client[api.InitiateLoginRequest, api.InitiateLoginResponse]
	verifyLogin    *connect.Client[api.VerifyLoginRequest, api.VerifyLoginResponse]
	getCurrentUser *connect.Client[api.GetCurrentUserRequest, api.GetCurrentUserResponse]
}

func (c *authServiceClient) InitiateLogin(ctx context.Context, req *connect.Request[api.InitiateLoginRequest]) (*connect.Response[api.InitiateLoginResponse], error) {
	return c.initiateLogin.CallUnary(ctx, req)
}

func (c *authServiceClient) VerifyLogin(ctx context.Context, req *connect.Request[api.VerifyLoginRequest]) (*connect.Response[api.VerifyLoginResponse], error) {
	return c.verifyLogin.CallUnary(ctx, req)
}

func (c *authServiceClient) GetCurrentUser(ctx context.Context, req *connect.Request[api.GetCurrentUserRequest]) (*connect.Response[api.GetCurrentUserResponse], error) {
	return c.getCurrentUser.CallUnary(ctx, req)
}

// AuthServiceHandler is an implementation of the accountantbot.v1.AuthService service.
type AuthServiceHandler interface {
	InitiateLogin(context.Context, *connect.Request[api.InitiateLoginRequest]) (*connect.Response[api.InitiateLoginResponse], error)
	VerifyLogin(context.Context, *connect.Request[api.VerifyLoginRequest]) (*connect.Response[api.VerifyLoginResponse], error)
	GetCurrentUser(context.Context, *connect.Request[api.GetCurrentUserRequest]) (*connect.Response[api.GetCurrentUserResponse], error)
}

// NewAuthServiceHandler builds an HTTP handler from the service implementation.
func NewAuthServiceHandler(svc AuthServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(api.JSONCodec{})}, opts...)
	initiateLogin := connect.NewUnaryHandler(AuthServiceInitiateLoginProcedure, svc.InitiateLogin, opts...)
	verifyLogin := connect.NewUnaryHandler(AuthServiceVerifyLoginProcedure, svc.VerifyLogin, opts...)
	getCurrentUser := connect.NewUnaryHandler(AuthServiceGetCurrentUserProcedure, svc.GetCurrentUser, opts...)
	return "/" + AuthServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case AuthServiceInitiateLoginProcedure:
			initiateLogin.ServeHTTP(w, r)
		case AuthServiceVerifyLoginProcedure:
			verifyLogin.ServeHTTP(w, r)
		case AuthServiceGetCurrentUserProcedure:
			getCurrentUser.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// UnimplementedAuthServiceHandler returns CodeUnimplemented from all methods.
type UnimplementedAuthServiceHandler struct{}

func (UnimplementedAuthServiceHandler) InitiateLogin(context.Context, *connect.Request[api.InitiateLoginRequest]) (*connect.Response[api.InitiateLoginResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.AuthService.InitiateLogin is not implemented"))
}

func (UnimplementedAuthServiceHandler) VerifyLogin(context.Context, *connect.Request[api.VerifyLoginRequest]) (*connect.Response[api.VerifyLoginResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.AuthService.VerifyLogin is not implemented"))
}

func (UnimplementedAuthServiceHandler) GetCurrentUser(context.Context, *connect.Request[api.GetCurrentUserRequest]) (*connect.Response[api.GetCurrentUserResponse], error) {
	return nil, connect.NewError(connect.CodeUnimplemented, errors.New("accountantbot.v1.AuthService.GetCurrentUser is not implemented"))
}
