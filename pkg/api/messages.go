package api

import "encoding/json"

// Amounts are decimal strings in the token's smallest unit. *Display fields
// are the same amount rendered with the token's decimals.

type Token struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals uint32 `json:"decimals"`
	ChainId  uint64 `json:"chainId"`
}

type SplitItem struct {
	Participant   string `json:"participant"`
	Amount        string `json:"amount"`
	AmountDisplay string `json:"amountDisplay,omitempty"`
	Approved      bool   `json:"approved,omitempty"`
}

type Split struct {
	Id             string       `json:"id"`
	ChainId        uint64       `json:"chainId"`
	TokenAddress   string       `json:"tokenAddress"`
	TokenSymbol    string       `json:"tokenSymbol,omitempty"`
	PayerAddress   string       `json:"payerAddress"`
	Description    string       `json:"description"`
	Items          []*SplitItem `json:"items"`
	Status         string       `json:"status"`
	ApprovalCount  int32        `json:"approvalCount"`
	TotalApprovals int32        `json:"totalApprovals"`
	Total          string       `json:"total"`
	TotalDisplay   string       `json:"totalDisplay,omitempty"`
	TxHash         string       `json:"txHash,omitempty"`
	CreatedAt      int64        `json:"createdAt"`
	UpdatedAt      int64        `json:"updatedAt"`
}

type SettlementAttempt struct {
	Id        string `json:"id"`
	TxHash    string `json:"txHash,omitempty"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

type User struct {
	Address     string `json:"address"`
	CreatedAt   int64  `json:"createdAt"`
	LastLoginAt int64  `json:"lastLoginAt"`
}

// SplitService

type CreateSplitRequest struct {
	TokenAddress string `json:"tokenAddress"`
	// PayerAddress defaults to the caller.
	PayerAddress      string       `json:"payerAddress,omitempty"`
	Description       string       `json:"description"`
	Items             []*SplitItem `json:"items"`
	RequiredApprovals int32        `json:"requiredApprovals,omitempty"`
}

type CreateSplitResponse struct {
	Split *Split `json:"split"`
}

type GetSplitRequest struct {
	SplitId         string `json:"splitId"`
	IncludeAttempts bool   `json:"includeAttempts,omitempty"`
}

type GetSplitResponse struct {
	Split    *Split               `json:"split"`
	Attempts []*SettlementAttempt `json:"attempts,omitempty"`
}

// ListSplitsRequest filters accept an address or "me" for the caller.
// Status is pending, approved, settled or all (default).
type ListSplitsRequest struct {
	Payer       string `json:"payer,omitempty"`
	Participant string `json:"participant,omitempty"`
	User        string `json:"user,omitempty"`
	Status      string `json:"status,omitempty"`
	Limit       int32  `json:"limit,omitempty"`
}

type ListSplitsResponse struct {
	Splits []*Split `json:"splits"`
}

type GetApprovalIntentRequest struct {
	SplitId string `json:"splitId"`
}

// GetApprovalIntentResponse carries EIP-712 typed data ready for
// eth_signTypedData_v4, and its digest.
type GetApprovalIntentResponse struct {
	TypedData json.RawMessage `json:"typedData"`
	Digest    string          `json:"digest"`
}

type SubmitApprovalRequest struct {
	SplitId   string `json:"splitId"`
	Signature string `json:"signature"`
}

type SubmitApprovalResponse struct {
	Split *Split `json:"split"`
}

type TriggerSettlementRequest struct {
	SplitId string `json:"splitId"`
}

type TriggerSettlementResponse struct {
	Split  *Split `json:"split"`
	TxHash string `json:"txHash"`
}

// CalculateEqualSplitRequest accepts the total either in base units
// (Total) or as a decimal in token units (TotalDisplay).
type CalculateEqualSplitRequest struct {
	TokenAddress string   `json:"tokenAddress"`
	Total        string   `json:"total,omitempty"`
	TotalDisplay string   `json:"totalDisplay,omitempty"`
	Participants []string `json:"participants"`
}

type CalculateEqualSplitResponse struct {
	PerParticipant string       `json:"perParticipant"`
	Remainder      string       `json:"remainder"`
	Items          []*SplitItem `json:"items"`
}

// TokenService

type ListTokensRequest struct{}

type ListTokensResponse struct {
	Tokens []*Token `json:"tokens"`
}

// GetAllowanceRequest reads the caller's allowance when Owner is empty.
type GetAllowanceRequest struct {
	TokenAddress string `json:"tokenAddress"`
	Owner        string `json:"owner,omitempty"`
}

type GetAllowanceResponse struct {
	Owner            string `json:"owner"`
	Spender          string `json:"spender"`
	Allowance        string `json:"allowance"`
	AllowanceDisplay string `json:"allowanceDisplay"`
	Unlimited        bool   `json:"unlimited"`
}

// AuthService

type InitiateLoginRequest struct {
	Address string `json:"address"`
}

type InitiateLoginResponse struct {
	Message   string `json:"message"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"expiresAt"`
}

type VerifyLoginRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type VerifyLoginResponse struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

type GetCurrentUserRequest struct{}

type GetCurrentUserResponse struct {
	User *User `json:"user"`
}

// Getters in the style of generated code: nil-safe, so callers can inspect
// any message through a small interface.

func (x *Split) GetId() string {
	if x == nil {
		return ""
	}
	return x.Id
}

func (x *Split) GetStatus() string {
	if x == nil {
		return ""
	}
	return x.Status
}

func (x *GetSplitRequest) GetSplitId() string {
	if x == nil {
		return ""
	}
	return x.SplitId
}

func (x *GetApprovalIntentRequest) GetSplitId() string {
	if x == nil {
		return ""
	}
	return x.SplitId
}

func (x *SubmitApprovalRequest) GetSplitId() string {
	if x == nil {
		return ""
	}
	return x.SplitId
}

func (x *TriggerSettlementRequest) GetSplitId() string {
	if x == nil {
		return ""
	}
	return x.SplitId
}

func (x *CreateSplitResponse) GetSplit() *Split {
	if x == nil {
		return nil
	}
	return x.Split
}

func (x *GetSplitResponse) GetSplit() *Split {
	if x == nil {
		return nil
	}
	return x.Split
}

func (x *SubmitApprovalResponse) GetSplit() *Split {
	if x == nil {
		return nil
	}
	return x.Split
}

func (x *TriggerSettlementResponse) GetSplit() *Split {
	if x == nil {
		return nil
	}
	return x.Split
}

func (x *TriggerSettlementResponse) GetTxHash() string {
	if x == nil {
		return ""
	}
	return x.TxHash
}
