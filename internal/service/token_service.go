package service

import (
	"context"
	"log/slog"
	"strings"

	"connectrpc.com/connect"

	"github.com/AccountantBot/coordinator/internal/allowance"
	"github.com/AccountantBot/coordinator/internal/calculator"
	"github.com/AccountantBot/coordinator/internal/middleware"
	"github.com/AccountantBot/coordinator/internal/tokens"
	"github.com/AccountantBot/coordinator/pkg/api"
	"github.com/AccountantBot/coordinator/pkg/api/apiconnect"
)

// TokenService exposes the supported tokens and allowance reads.
type TokenService struct {
	apiconnect.UnimplementedTokenServiceHandler
	tokens     *tokens.Registry
	allowances *allowance.Tracker
}

// NewTokenService creates a new TokenService.
func NewTokenService(registry *tokens.Registry, allowances *allowance.Tracker) *TokenService {
	return &TokenService{tokens: registry, allowances: allowances}
}

// ListTokens returns the tokens splits can be denominated in.
func (s *TokenService) ListTokens(ctx context.Context, req *connect.Request[api.ListTokensRequest]) (*connect.Response[api.ListTokensResponse], error) {
	list := s.tokens.List()
	out := make([]*api.Token, len(list))
	for i, t := range list {
		out[i] = toAPIToken(t)
	}
	return connect.NewResponse(&api.ListTokensResponse{Tokens: out}), nil
}

// GetAllowance reads how much of a token the owner (the caller by default)
// lets the settlement contract move.
func (s *TokenService) GetAllowance(ctx context.Context, req *connect.Request[api.GetAllowanceRequest]) (*connect.Response[api.GetAllowanceResponse], error) {
	owner := strings.TrimSpace(req.Msg.Owner)
	if owner == "" {
		var err error
		if owner, err = caller(ctx); err != nil {
			return nil, err
		}
	}

	token, err := s.tokens.Lookup(req.Msg.TokenAddress)
	if err != nil {
		return nil, connectError(err)
	}

	amount, err := s.allowances.GetAllowance(ctx, owner, token.Address)
	if err != nil {
		slog.Warn("GetAllowance failed", "owner", owner, "token", token.Symbol, "caller", middleware.GetAddress(ctx), "error", err)
		if code := codeOf(err); code != connect.CodeInternal {
			return nil, connect.NewError(code, err)
		}
		// Anything else is a bad owner address.
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	return connect.NewResponse(&api.GetAllowanceResponse{
		Owner:            owner,
		Spender:          s.allowances.Spender().Hex(),
		Allowance:        amount.String(),
		AllowanceDisplay: calculator.FormatUnits(amount, token.Decimals),
		Unlimited:        allowance.IsUnlimited(amount),
	}), nil
}
