package service

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	"github.com/AccountantBot/coordinator/internal/auth"
	"github.com/AccountantBot/coordinator/internal/storage"
	"github.com/AccountantBot/coordinator/pkg/api"
	"github.com/AccountantBot/coordinator/pkg/api/apiconnect"
)

// AuthService implements the AuthService RPC interface.
type AuthService struct {
	apiconnect.UnimplementedAuthServiceHandler
	authenticator auth.Authenticator
	jwtManager    *auth.JWTManager
	users         auth.UserStorage
	logger        *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(authenticator auth.Authenticator, jwtManager *auth.JWTManager, users auth.UserStorage, logger *slog.Logger) *AuthService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		authenticator: authenticator,
		jwtManager:    jwtManager,
		users:         users,
		logger:        logger,
	}
}

// InitiateLogin issues a sign-in message for the wallet to sign.
func (s *AuthService) InitiateLogin(ctx context.Context, req *connect.Request[api.InitiateLoginRequest]) (*connect.Response[api.InitiateLoginResponse], error) {
	challenge, err := s.authenticator.Challenge(ctx, req.Msg.Address)
	if err != nil {
		s.logger.Warn("InitiateLogin failed", "address", req.Msg.Address, "error", err)
		return nil, connectError(err)
	}

	return connect.NewResponse(&api.InitiateLoginResponse{
		Message:   challenge.Message,
		Nonce:     challenge.Nonce,
		ExpiresAt: challenge.ExpiresAt.Unix(),
	}), nil
}

// VerifyLogin checks the signed message and returns a session token.
func (s *AuthService) VerifyLogin(ctx context.Context, req *connect.Request[api.VerifyLoginRequest]) (*connect.Response[api.VerifyLoginResponse], error) {
	user, err := s.authenticator.Verify(ctx, req.Msg.Message, req.Msg.Signature)
	if err != nil {
		s.logger.Warn("Login failed", "error", err)
		return nil, connectError(err)
	}

	token, err := s.jwtManager.Generate(user.Address)
	if err != nil {
		s.logger.Error("Failed to generate token", "address", user.Address, "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	s.logger.Info("User logged in successfully", "address", user.Address)
	return connect.NewResponse(&api.VerifyLoginResponse{
		Token: token,
		User:  toAPIUser(user),
	}), nil
}

// GetCurrentUser returns the currently authenticated user's information.
func (s *AuthService) GetCurrentUser(ctx context.Context, req *connect.Request[api.GetCurrentUserRequest]) (*connect.Response[api.GetCurrentUserResponse], error) {
	address, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetUser(ctx, address)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, err)
		}
		s.logger.Error("GetCurrentUser failed", "address", address, "error", err)
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	return connect.NewResponse(&api.GetCurrentUserResponse{User: toAPIUser(user)}), nil
}
