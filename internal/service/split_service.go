package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"connectrpc.com/connect"
	"github.com/ethereum/go-ethereum/common"

	"github.com/AccountantBot/coordinator/internal/auth"
	"github.com/AccountantBot/coordinator/internal/calculator"
	"github.com/AccountantBot/coordinator/internal/coordinator"
	"github.com/AccountantBot/coordinator/internal/intent"
	"github.com/AccountantBot/coordinator/internal/middleware"
	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/storage"
	"github.com/AccountantBot/coordinator/internal/tokens"
	"github.com/AccountantBot/coordinator/pkg/api"
	"github.com/AccountantBot/coordinator/pkg/api/apiconnect"
)

// SplitService implements the Connect SplitService on top of the coordinator.
type SplitService struct {
	apiconnect.UnimplementedSplitServiceHandler
	coord  *coordinator.Coordinator
	tokens *tokens.Registry
}

// NewSplitService creates a new SplitService.
func NewSplitService(coord *coordinator.Coordinator, registry *tokens.Registry) *SplitService {
	return &SplitService{coord: coord, tokens: registry}
}

// caller returns the authenticated address or an Unauthenticated error.
func caller(ctx context.Context) (string, error) {
	address := middleware.GetAddress(ctx)
	if address == "" {
		return "", connect.NewError(connect.CodeUnauthenticated, auth.ErrMissingToken)
	}
	return address, nil
}

// visibleSplit loads a split the caller is involved in.
func (s *SplitService) visibleSplit(ctx context.Context, address, splitID string) (*models.Split, error) {
	split, err := s.coord.GetSplit(ctx, splitID)
	if err != nil {
		return nil, connectError(err)
	}
	if !split.Involves(address) {
		return nil, connect.NewError(connect.CodePermissionDenied, fmt.Errorf("you must be the payer or a participant of split %s", splitID))
	}
	return split, nil
}

// CreateSplit creates a pending split paid by the caller.
func (s *SplitService) CreateSplit(ctx context.Context, req *connect.Request[api.CreateSplitRequest]) (*connect.Response[api.CreateSplitResponse], error) {
	address, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	token, err := s.tokens.Lookup(req.Msg.TokenAddress)
	if err != nil {
		return nil, connectError(err)
	}
	items, err := fromAPIItems(req.Msg.Items, token)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}

	split, err := s.coord.CreateSplit(ctx, address, coordinator.CreateSplitParams{
		TokenAddress:      token.Address,
		PayerAddress:      req.Msg.PayerAddress,
		Description:       req.Msg.Description,
		Items:             items,
		RequiredApprovals: int(req.Msg.RequiredApprovals),
	})
	if err != nil {
		slog.Warn("CreateSplit failed", "caller", address, "error", err)
		return nil, connectError(err)
	}

	return connect.NewResponse(&api.CreateSplitResponse{Split: toAPISplit(split, s.tokens)}), nil
}

// GetSplit returns a split, optionally with its settlement attempts.
func (s *SplitService) GetSplit(ctx context.Context, req *connect.Request[api.GetSplitRequest]) (*connect.Response[api.GetSplitResponse], error) {
	address, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	split, err := s.visibleSplit(ctx, address, req.Msg.SplitId)
	if err != nil {
		return nil, err
	}

	resp := &api.GetSplitResponse{Split: toAPISplit(split, s.tokens)}
	if req.Msg.IncludeAttempts {
		attempts, err := s.coord.SettlementAttempts(ctx, split.ID)
		if err != nil {
			return nil, connectError(err)
		}
		resp.Attempts = toAPIAttempts(attempts)
	}
	return connect.NewResponse(resp), nil
}

// resolveAddress expands "me" to the caller and validates anything else.
func resolveAddress(value, me string) (string, error) {
	value = strings.TrimSpace(value)
	switch {
	case value == "":
		return "", nil
	case strings.EqualFold(value, "me"):
		return me, nil
	case !common.IsHexAddress(value):
		return "", fmt.Errorf("%q is not an address", value)
	}
	return value, nil
}

func parseStatusFilter(value string) ([]models.Status, error) {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "all") {
		return nil, nil
	}
	status, err := models.ParseStatus(value)
	if err != nil {
		return nil, err
	}
	return []models.Status{status}, nil
}

// ListSplits lists the splits the caller is involved in, newest first.
// With no address filter it defaults to the caller's splits.
func (s *SplitService) ListSplits(ctx context.Context, req *connect.Request[api.ListSplitsRequest]) (*connect.Response[api.ListSplitsResponse], error) {
	address, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	var filter storage.SplitFilter
	for _, f := range []struct {
		in  string
		out *string
	}{
		{req.Msg.Payer, &filter.Payer},
		{req.Msg.Participant, &filter.Participant},
		{req.Msg.User, &filter.User},
	} {
		if *f.out, err = resolveAddress(f.in, address); err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, err)
		}
	}
	if filter.Payer == "" && filter.Participant == "" && filter.User == "" {
		filter.User = address
	}
	if filter.Statuses, err = parseStatusFilter(req.Msg.Status); err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, err)
	}
	if req.Msg.Limit < 0 {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("limit must not be negative"))
	}
	filter.Limit = int(req.Msg.Limit)

	splits, err := s.coord.ListSplits(ctx, filter)
	if err != nil {
		slog.Error("ListSplits failed", "caller", address, "error", err)
		return nil, connectError(err)
	}

	visible := splits[:0]
	for _, split := range splits {
		if split.Involves(address) {
			visible = append(visible, split)
		}
	}
	return connect.NewResponse(&api.ListSplitsResponse{Splits: toAPISplits(visible, s.tokens)}), nil
}

// GetApprovalIntent returns the typed data the caller signs to approve
// their item.
func (s *SplitService) GetApprovalIntent(ctx context.Context, req *connect.Request[api.GetApprovalIntentRequest]) (*connect.Response[api.GetApprovalIntentResponse], error) {
	address, err := caller(ctx)
	if err != nil {
		return nil, err
	}

	td, err := s.coord.ApprovalIntent(ctx, req.Msg.SplitId, address)
	if err != nil {
		return nil, connectError(err)
	}
	encoded, err := intent.Encode(td)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}
	digest, err := intent.Digest(td)
	if err != nil {
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	return connect.NewResponse(&api.GetApprovalIntentResponse{
		TypedData: json.RawMessage(encoded),
		Digest:    digest.Hex(),
	}), nil
}

// SubmitApproval records the caller's signed approval.
func (s *SplitService) SubmitApproval(ctx context.Context, req *connect.Request[api.SubmitApprovalRequest]) (*connect.Response[api.SubmitApprovalResponse], error) {
	address, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Msg.Signature) == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, intent.ErrMalformedSignature)
	}

	split, err := s.coord.SubmitApproval(ctx, req.Msg.SplitId, address, req.Msg.Signature)
	if err != nil {
		slog.Warn("SubmitApproval failed", "split_id", req.Msg.SplitId, "caller", address, "error", err)
		return nil, connectError(err)
	}
	return connect.NewResponse(&api.SubmitApprovalResponse{Split: toAPISplit(split, s.tokens)}), nil
}

// TriggerSettlement settles an approved split and blocks until the
// transaction is confirmed or the wait gives up. Only the payer or a
// participant may trigger it.
func (s *SplitService) TriggerSettlement(ctx context.Context, req *connect.Request[api.TriggerSettlementRequest]) (*connect.Response[api.TriggerSettlementResponse], error) {
	address, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.visibleSplit(ctx, address, req.Msg.SplitId); err != nil {
		return nil, err
	}

	split, err := s.coord.TriggerSettlement(ctx, req.Msg.SplitId)
	if err != nil {
		slog.Warn("TriggerSettlement failed", "split_id", req.Msg.SplitId, "caller", address, "error", err)
		return nil, connectError(err)
	}
	return connect.NewResponse(&api.TriggerSettlementResponse{
		Split:  toAPISplit(split, s.tokens),
		TxHash: split.TxHash,
	}), nil
}

// CalculateEqualSplit divides a total equally. It persists nothing.
func (s *SplitService) CalculateEqualSplit(ctx context.Context, req *connect.Request[api.CalculateEqualSplitRequest]) (*connect.Response[api.CalculateEqualSplitResponse], error) {
	token, err := s.tokens.Lookup(req.Msg.TokenAddress)
	if err != nil {
		return nil, connectError(err)
	}

	var total *big.Int
	if strings.TrimSpace(req.Msg.Total) != "" {
		total, err = calculator.ParseAmount(req.Msg.Total)
	} else {
		total, err = calculator.ParseUnits(req.Msg.TotalDisplay, token.Decimals)
	}
	if err != nil {
		return nil, connectError(err)
	}

	items, eq, err := s.coord.CalculateEqualSplit(total, req.Msg.Participants)
	if err != nil {
		return nil, connectError(err)
	}

	out := make([]*api.SplitItem, len(items))
	for i, item := range items {
		out[i] = &api.SplitItem{
			Participant:   item.Participant,
			Amount:        item.Amount.String(),
			AmountDisplay: calculator.FormatUnits(item.Amount, token.Decimals),
		}
	}
	return connect.NewResponse(&api.CalculateEqualSplitResponse{
		PerParticipant: eq.PerParticipant.String(),
		Remainder:      eq.Remainder.String(),
		Items:          out,
	}), nil
}
