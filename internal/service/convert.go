package service

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/AccountantBot/coordinator/internal/calculator"
	"github.com/AccountantBot/coordinator/internal/models"
	"github.com/AccountantBot/coordinator/internal/tokens"
	"github.com/AccountantBot/coordinator/pkg/api"
)

func toAPIToken(t models.Token) *api.Token {
	return &api.Token{
		Address:  t.Address,
		Symbol:   t.Symbol,
		Decimals: uint32(t.Decimals),
		ChainId:  t.ChainID,
	}
}

// toAPISplit renders split for the wire. Display amounts are left empty
// when the token is no longer in the registry.
func toAPISplit(split *models.Split, registry *tokens.Registry) *api.Split {
	token, tokenErr := registry.Lookup(split.TokenAddress)
	display := func(amount *big.Int) string {
		if tokenErr != nil || amount == nil {
			return ""
		}
		return calculator.FormatUnits(amount, token.Decimals)
	}

	items := make([]*api.SplitItem, len(split.Items))
	total := new(big.Int)
	for i, item := range split.Items {
		items[i] = &api.SplitItem{
			Participant:   item.Participant,
			Amount:        item.Amount.String(),
			AmountDisplay: display(item.Amount),
			Approved:      split.HasApproved(item.Participant),
		}
		total.Add(total, item.Amount)
	}

	out := &api.Split{
		Id:             split.ID,
		ChainId:        split.ChainID,
		TokenAddress:   split.TokenAddress,
		PayerAddress:   split.PayerAddress,
		Description:    split.Description,
		Items:          items,
		Status:         string(split.Status),
		ApprovalCount:  int32(split.ApprovalCount()),
		TotalApprovals: int32(split.RequiredApprovals),
		Total:          total.String(),
		TotalDisplay:   display(total),
		TxHash:         split.TxHash,
		CreatedAt:      split.CreatedAt,
		UpdatedAt:      split.UpdatedAt,
	}
	if tokenErr == nil {
		out.TokenSymbol = token.Symbol
	}
	return out
}

func toAPISplits(splits []*models.Split, registry *tokens.Registry) []*api.Split {
	out := make([]*api.Split, len(splits))
	for i, s := range splits {
		out[i] = toAPISplit(s, registry)
	}
	return out
}

func toAPIAttempts(attempts []*models.SettlementAttempt) []*api.SettlementAttempt {
	out := make([]*api.SettlementAttempt, len(attempts))
	for i, a := range attempts {
		out[i] = &api.SettlementAttempt{
			Id:        a.ID,
			TxHash:    a.TxHash,
			Outcome:   string(a.Outcome),
			Error:     a.Error,
			CreatedAt: a.CreatedAt,
			UpdatedAt: a.UpdatedAt,
		}
	}
	return out
}

func toAPIUser(u *models.User) *api.User {
	return &api.User{
		Address:     u.Address,
		CreatedAt:   u.CreatedAt,
		LastLoginAt: u.LastLoginAt,
	}
}

// fromAPIItems parses wire items. Amounts are base-unit integers, or
// decimals in token units when only AmountDisplay is set.
func fromAPIItems(items []*api.SplitItem, token models.Token) ([]models.SplitItem, error) {
	out := make([]models.SplitItem, 0, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("item %d is empty", i)
		}
		var (
			amount *big.Int
			err    error
		)
		switch {
		case strings.TrimSpace(item.Amount) != "":
			amount, err = calculator.ParseAmount(item.Amount)
		default:
			amount, err = calculator.ParseUnits(item.AmountDisplay, token.Decimals)
		}
		if err != nil {
			return nil, fmt.Errorf("item %d (%s): %w", i, item.Participant, err)
		}
		out = append(out, models.SplitItem{Participant: item.Participant, Amount: amount})
	}
	return out, nil
}
