package service

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/AccountantBot/coordinator/internal/allowance"
	"github.com/AccountantBot/coordinator/internal/auth"
	"github.com/AccountantBot/coordinator/internal/chain/mock"
	"github.com/AccountantBot/coordinator/internal/coordinator"
	"github.com/AccountantBot/coordinator/internal/intent"
	"github.com/AccountantBot/coordinator/internal/lock"
	"github.com/AccountantBot/coordinator/internal/middleware"
	"github.com/AccountantBot/coordinator/internal/settlement"
	"github.com/AccountantBot/coordinator/internal/storage/sqlite"
	"github.com/AccountantBot/coordinator/internal/tokens"
	"github.com/AccountantBot/coordinator/pkg/api"
	"github.com/AccountantBot/coordinator/pkg/api/apiconnect"
)

var settlementContract = common.HexToAddress("0x00000000000000000000000000000000000000c0")

const testDomain = "app.accountantbot.xyz"

// testServer wires every service over an in-memory chain behind the real
// auth middleware, like cmd/server does.
type testServer struct {
	url    string
	jwt    *auth.JWTManager
	node   *mock.Chain
	store  *sqlite.SQLiteStore
	usdc   string
	wallet map[string]*intent.KeySigner
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "service.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	registry, err := tokens.NewRegistry(tokens.ScrollChainID, tokens.DefaultTokens())
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}
	node := mock.NewChain(tokens.ScrollChainID, settlementContract)
	tracker := allowance.NewTracker(node, settlementContract, allowance.RetryConfig{
		MaxRetries:      1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
	})

	coord, err := coordinator.New(coordinator.Deps{
		Store:      store,
		Tokens:     registry,
		Intents:    intent.NewBuilder(tokens.ScrollChainID, settlementContract),
		Allowances: tracker,
		Executor: settlement.NewExecutor(node, settlement.Config{
			ConfirmationTimeout: time.Second,
			PollInterval:        2 * time.Millisecond,
		}),
		Locker: lock.NewKeyedMutex(),
	}, coordinator.Options{})
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}

	jwtManager, err := auth.NewJWTManager("service-test-secret-service-test", time.Hour)
	if err != nil {
		t.Fatalf("failed to create jwt manager: %v", err)
	}
	authenticator := auth.NewSIWEAuthenticator(store, auth.SIWEConfig{
		Domain:  testDomain,
		URI:     "https://" + testDomain,
		ChainID: tokens.ScrollChainID,
	})

	required := connect.WithInterceptors(middleware.RequireAuth(jwtManager), middleware.LoggingInterceptor())
	optional := connect.WithInterceptors(middleware.OptionalAuth(jwtManager), middleware.LoggingInterceptor())

	mux := http.NewServeMux()
	mux.Handle(apiconnect.NewSplitServiceHandler(NewSplitService(coord, registry), required))
	mux.Handle(apiconnect.NewTokenServiceHandler(NewTokenService(registry, tracker), optional))
	mux.Handle(apiconnect.NewAuthServiceHandler(NewAuthService(authenticator, jwtManager, store, nil), optional))

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	ts := &testServer{
		url:    server.URL,
		jwt:    jwtManager,
		node:   node,
		store:  store,
		usdc:   tokens.DefaultTokens()[0].Address,
		wallet: make(map[string]*intent.KeySigner),
	}
	for _, name := range []string{"payer", "alice", "bob", "carol"} {
		w, err := intent.GenerateKeySigner()
		if err != nil {
			t.Fatalf("failed to generate wallet: %v", err)
		}
		ts.wallet[name] = w
	}
	return ts
}

func (ts *testServer) address(name string) string {
	return ts.wallet[name].Address().Hex()
}

// bearer sets a session token for address on every call.
func bearer(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			req.Header().Set("Authorization", "Bearer "+token)
			return next(ctx, req)
		}
	}
}

func (ts *testServer) clientOptions(t *testing.T, name string) []connect.ClientOption {
	t.Helper()
	if name == "" {
		return nil
	}
	token, err := ts.jwt.Generate(ts.address(name))
	if err != nil {
		t.Fatalf("failed to generate token: %v", err)
	}
	return []connect.ClientOption{connect.WithInterceptors(bearer(token))}
}

// splitClient returns a SplitService client signed in as name ("" = anonymous).
func (ts *testServer) splitClient(t *testing.T, name string) apiconnect.SplitServiceClient {
	return apiconnect.NewSplitServiceClient(http.DefaultClient, ts.url, ts.clientOptions(t, name)...)
}

func (ts *testServer) tokenClient(t *testing.T, name string) apiconnect.TokenServiceClient {
	return apiconnect.NewTokenServiceClient(http.DefaultClient, ts.url, ts.clientOptions(t, name)...)
}

func (ts *testServer) authClient(t *testing.T, name string) apiconnect.AuthServiceClient {
	return apiconnect.NewAuthServiceClient(http.DefaultClient, ts.url, ts.clientOptions(t, name)...)
}

func (ts *testServer) createSplit(t *testing.T, required int32, shares ...any) *api.Split {
	t.Helper()
	req := &api.CreateSplitRequest{
		TokenAddress:      ts.usdc,
		Description:       "Sushi dinner",
		RequiredApprovals: required,
	}
	for i := 0; i < len(shares); i += 2 {
		req.Items = append(req.Items, &api.SplitItem{
			Participant: ts.address(shares[i].(string)),
			Amount:      shares[i+1].(string),
		})
	}
	resp, err := ts.splitClient(t, "payer").CreateSplit(context.Background(), connect.NewRequest(req))
	if err != nil {
		t.Fatalf("CreateSplit failed: %v", err)
	}
	return resp.Msg.Split
}

// approve fetches name's intent, signs it with their wallet and submits it.
func (ts *testServer) approve(t *testing.T, splitID, name string) *api.Split {
	t.Helper()
	ctx := context.Background()
	client := ts.splitClient(t, name)

	intentResp, err := client.GetApprovalIntent(ctx, connect.NewRequest(&api.GetApprovalIntentRequest{SplitId: splitID}))
	if err != nil {
		t.Fatalf("GetApprovalIntent failed: %v", err)
	}
	var td apitypes.TypedData
	if err := json.Unmarshal(intentResp.Msg.TypedData, &td); err != nil {
		t.Fatalf("typed data is not valid JSON: %v", err)
	}
	sig, err := ts.wallet[name].SignTypedData(ctx, td)
	if err != nil {
		t.Fatalf("SignTypedData failed: %v", err)
	}

	resp, err := client.SubmitApproval(ctx, connect.NewRequest(&api.SubmitApprovalRequest{SplitId: splitID, Signature: sig}))
	if err != nil {
		t.Fatalf("SubmitApproval failed: %v", err)
	}
	return resp.Msg.Split
}

func TestCreateSplit_And_GetSplit(t *testing.T) {
	ts := setupTestServer(t)

	split := ts.createSplit(t, 0, "alice", "1500000", "bob", "2500000")
	if split.Id == "" {
		t.Fatal("expected a split id")
	}
	if split.Status != "pending" {
		t.Errorf("expected pending, got %s", split.Status)
	}
	if split.PayerAddress != ts.address("payer") {
		t.Errorf("payer = %s, want the caller", split.PayerAddress)
	}
	if split.TotalApprovals != 2 || split.ApprovalCount != 0 {
		t.Errorf("approvals = %d/%d, want 0/2", split.ApprovalCount, split.TotalApprovals)
	}
	if split.Total != "4000000" || split.TotalDisplay != "4" {
		t.Errorf("total = %s (%s), want 4000000 (4)", split.Total, split.TotalDisplay)
	}
	if split.TokenSymbol != "USDC" {
		t.Errorf("token symbol = %s", split.TokenSymbol)
	}
	if split.Items[0].AmountDisplay != "1.5" {
		t.Errorf("item display = %s, want 1.5", split.Items[0].AmountDisplay)
	}

	// Participants can read it.
	resp, err := ts.splitClient(t, "alice").GetSplit(context.Background(), connect.NewRequest(&api.GetSplitRequest{SplitId: split.Id}))
	if err != nil {
		t.Fatalf("GetSplit failed: %v", err)
	}
	if resp.Msg.Split.Description != "Sushi dinner" {
		t.Errorf("description = %q", resp.Msg.Split.Description)
	}

	// Outsiders cannot.
	_, err = ts.splitClient(t, "carol").GetSplit(context.Background(), connect.NewRequest(&api.GetSplitRequest{SplitId: split.Id}))
	if connect.CodeOf(err) != connect.CodePermissionDenied {
		t.Errorf("expected PermissionDenied, got %v", err)
	}
}

func TestCreateSplit_DisplayAmounts(t *testing.T) {
	ts := setupTestServer(t)

	resp, err := ts.splitClient(t, "payer").CreateSplit(context.Background(), connect.NewRequest(&api.CreateSplitRequest{
		TokenAddress: strings.ToLower(ts.usdc),
		Description:  "Taxi",
		Items: []*api.SplitItem{
			{Participant: ts.address("alice"), AmountDisplay: "12.345678"},
		},
	}))
	if err != nil {
		t.Fatalf("CreateSplit failed: %v", err)
	}
	if got := resp.Msg.Split.Items[0].Amount; got != "12345678" {
		t.Errorf("amount = %s, want 12345678", got)
	}
}

func TestCreateSplit_Invalid(t *testing.T) {
	ts := setupTestServer(t)

	tests := []struct {
		name string
		req  *api.CreateSplitRequest
		code connect.Code
	}{
		{
			name: "unknown token",
			req: &api.CreateSplitRequest{
				TokenAddress: "0x0000000000000000000000000000000000000001",
				Description:  "x",
				Items:        []*api.SplitItem{{Participant: ts.address("alice"), Amount: "1"}},
			},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "no items",
			req:  &api.CreateSplitRequest{TokenAddress: ts.usdc, Description: "x"},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "negative amount",
			req: &api.CreateSplitRequest{
				TokenAddress: ts.usdc,
				Description:  "x",
				Items:        []*api.SplitItem{{Participant: ts.address("alice"), Amount: "-5"}},
			},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "too many decimals",
			req: &api.CreateSplitRequest{
				TokenAddress: ts.usdc,
				Description:  "x",
				Items:        []*api.SplitItem{{Participant: ts.address("alice"), AmountDisplay: "0.0000001"}},
			},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "someone else as payer",
			req: &api.CreateSplitRequest{
				TokenAddress: ts.usdc,
				PayerAddress: ts.address("bob"),
				Description:  "x",
				Items:        []*api.SplitItem{{Participant: ts.address("alice"), Amount: "1"}},
			},
			code: connect.CodeInvalidArgument,
		},
		{
			name: "threshold above participants",
			req: &api.CreateSplitRequest{
				TokenAddress:      ts.usdc,
				Description:       "x",
				Items:             []*api.SplitItem{{Participant: ts.address("alice"), Amount: "1"}},
				RequiredApprovals: 2,
			},
			code: connect.CodeInvalidArgument,
		},
	}

	client := ts.splitClient(t, "payer")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := client.CreateSplit(context.Background(), connect.NewRequest(tt.req))
			if connect.CodeOf(err) != tt.code {
				t.Errorf("expected %v, got %v", tt.code, err)
			}
		})
	}
}

func TestSplitService_RequiresAuth(t *testing.T) {
	ts := setupTestServer(t)

	_, err := ts.splitClient(t, "").ListSplits(context.Background(), connect.NewRequest(&api.ListSplitsRequest{}))
	if connect.CodeOf(err) != connect.CodeUnauthenticated {
		t.Errorf("expected Unauthenticated, got %v", err)
	}
}

func TestGetSplit_NotFound(t *testing.T) {
	ts := setupTestServer(t)

	_, err := ts.splitClient(t, "alice").GetSplit(context.Background(), connect.NewRequest(&api.GetSplitRequest{SplitId: "missing"}))
	if connect.CodeOf(err) != connect.CodeNotFound {
		t.Errorf("expected NotFound, got %v", err)
	}
}

func TestApproveAndSettle(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()
	ts.node.SetAllowance(common.HexToAddress(ts.usdc), ts.wallet["payer"].Address(), settlementContract, big.NewInt(1_000_000))

	split := ts.createSplit(t, 0, "alice", "100", "bob", "100")

	// Settling before everyone approved is refused.
	_, err := ts.splitClient(t, "payer").TriggerSettlement(ctx, connect.NewRequest(&api.TriggerSettlementRequest{SplitId: split.Id}))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}

	got := ts.approve(t, split.Id, "alice")
	if got.Status != "pending" || got.ApprovalCount != 1 || !got.Items[0].Approved {
		t.Errorf("after alice: status=%s approvals=%d", got.Status, got.ApprovalCount)
	}
	got = ts.approve(t, split.Id, "bob")
	if got.Status != "approved" || got.ApprovalCount != 2 {
		t.Errorf("after bob: status=%s approvals=%d", got.Status, got.ApprovalCount)
	}

	resp, err := ts.splitClient(t, "alice").TriggerSettlement(ctx, connect.NewRequest(&api.TriggerSettlementRequest{SplitId: split.Id}))
	if err != nil {
		t.Fatalf("TriggerSettlement failed: %v", err)
	}
	if resp.Msg.Split.Status != "settled" || resp.Msg.TxHash == "" || resp.Msg.Split.TxHash != resp.Msg.TxHash {
		t.Errorf("unexpected settlement response: %+v", resp.Msg)
	}

	_, err = ts.splitClient(t, "payer").TriggerSettlement(ctx, connect.NewRequest(&api.TriggerSettlementRequest{SplitId: split.Id}))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Errorf("second trigger: expected FailedPrecondition, got %v", err)
	}

	detail, err := ts.splitClient(t, "payer").GetSplit(ctx, connect.NewRequest(&api.GetSplitRequest{SplitId: split.Id, IncludeAttempts: true}))
	if err != nil {
		t.Fatalf("GetSplit failed: %v", err)
	}
	if len(detail.Msg.Attempts) != 1 || detail.Msg.Attempts[0].Outcome != "confirmed" {
		t.Errorf("attempts = %+v", detail.Msg.Attempts)
	}
	if len(ts.node.Submissions()) != 1 {
		t.Errorf("expected one submission, got %d", len(ts.node.Submissions()))
	}
}

func TestSubmitApproval_Rejections(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()
	split := ts.createSplit(t, 0, "alice", "100", "bob", "100")

	// Bob's signature submitted as alice.
	bobIntent, err := ts.splitClient(t, "bob").GetApprovalIntent(ctx, connect.NewRequest(&api.GetApprovalIntentRequest{SplitId: split.Id}))
	if err != nil {
		t.Fatalf("GetApprovalIntent failed: %v", err)
	}
	var td apitypes.TypedData
	if err := json.Unmarshal(bobIntent.Msg.TypedData, &td); err != nil {
		t.Fatalf("bad typed data: %v", err)
	}
	bobSig, _ := ts.wallet["bob"].SignTypedData(ctx, td)

	tests := []struct {
		name   string
		caller string
		sig    string
		code   connect.Code
	}{
		{"signature for another participant", "alice", bobSig, connect.CodeInvalidArgument},
		{"garbage signature", "alice", "0x1234", connect.CodeInvalidArgument},
		{"empty signature", "alice", "", connect.CodeInvalidArgument},
		{"not a participant", "carol", bobSig, connect.CodePermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ts.splitClient(t, tt.caller).SubmitApproval(ctx, connect.NewRequest(&api.SubmitApprovalRequest{SplitId: split.Id, Signature: tt.sig}))
			if connect.CodeOf(err) != tt.code {
				t.Errorf("expected %v, got %v", tt.code, err)
			}
		})
	}

	resp, err := ts.splitClient(t, "payer").GetSplit(ctx, connect.NewRequest(&api.GetSplitRequest{SplitId: split.Id}))
	if err != nil {
		t.Fatalf("GetSplit failed: %v", err)
	}
	if resp.Msg.Split.ApprovalCount != 0 {
		t.Errorf("rejected approvals must not be recorded, got %d", resp.Msg.Split.ApprovalCount)
	}
}

func TestGetApprovalIntent(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()
	split := ts.createSplit(t, 0, "alice", "100")

	resp, err := ts.splitClient(t, "alice").GetApprovalIntent(ctx, connect.NewRequest(&api.GetApprovalIntentRequest{SplitId: split.Id}))
	if err != nil {
		t.Fatalf("GetApprovalIntent failed: %v", err)
	}
	var td apitypes.TypedData
	if err := json.Unmarshal(resp.Msg.TypedData, &td); err != nil {
		t.Fatalf("bad typed data: %v", err)
	}
	if td.Message["amount"] != "100" || td.Message["splitId"] != split.Id {
		t.Errorf("unexpected message %v", td.Message)
	}
	digest, err := intent.Digest(td)
	if err != nil {
		t.Fatalf("Digest failed: %v", err)
	}
	if digest.Hex() != resp.Msg.Digest {
		t.Errorf("digest = %s, want %s", resp.Msg.Digest, digest.Hex())
	}

	_, err = ts.splitClient(t, "payer").GetApprovalIntent(ctx, connect.NewRequest(&api.GetApprovalIntentRequest{SplitId: split.Id}))
	if connect.CodeOf(err) != connect.CodePermissionDenied {
		t.Errorf("payer has no item: expected PermissionDenied, got %v", err)
	}
}

func TestTriggerSettlement_InsufficientAllowance(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()
	split := ts.createSplit(t, 1, "alice", "100")
	ts.approve(t, split.Id, "alice")

	_, err := ts.splitClient(t, "payer").TriggerSettlement(ctx, connect.NewRequest(&api.TriggerSettlementRequest{SplitId: split.Id}))
	if connect.CodeOf(err) != connect.CodeFailedPrecondition {
		t.Fatalf("expected FailedPrecondition, got %v", err)
	}

	_, err = ts.splitClient(t, "carol").TriggerSettlement(ctx, connect.NewRequest(&api.TriggerSettlementRequest{SplitId: split.Id}))
	if connect.CodeOf(err) != connect.CodePermissionDenied {
		t.Errorf("outsider trigger: expected PermissionDenied, got %v", err)
	}
}

func TestTriggerSettlement_ChainUnavailable(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()
	ts.node.SetAllowance(common.HexToAddress(ts.usdc), ts.wallet["payer"].Address(), settlementContract, big.NewInt(100))
	split := ts.createSplit(t, 1, "alice", "100")
	ts.approve(t, split.Id, "alice")

	ts.node.SetUnavailable(true)
	_, err := ts.splitClient(t, "payer").TriggerSettlement(ctx, connect.NewRequest(&api.TriggerSettlementRequest{SplitId: split.Id}))
	if connect.CodeOf(err) != connect.CodeUnavailable {
		t.Errorf("expected Unavailable, got %v", err)
	}
}

func TestListSplits(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	first := ts.createSplit(t, 1, "alice", "100")
	ts.createSplit(t, 0, "bob", "200")
	ts.approve(t, first.Id, "alice")

	tests := []struct {
		name   string
		caller string
		req    *api.ListSplitsRequest
		want   int
	}{
		{"payer sees all own splits", "payer", &api.ListSplitsRequest{}, 2},
		{"participant sees own", "alice", &api.ListSplitsRequest{}, 1},
		{"outsider sees none", "carol", &api.ListSplitsRequest{}, 0},
		{"me as payer", "payer", &api.ListSplitsRequest{Payer: "me"}, 2},
		{"me as participant", "payer", &api.ListSplitsRequest{Participant: "me"}, 0},
		{"status filter", "payer", &api.ListSplitsRequest{Status: "approved"}, 1},
		{"status all", "payer", &api.ListSplitsRequest{Status: "all"}, 2},
		{"limit", "payer", &api.ListSplitsRequest{Limit: 1}, 1},
		{"outsider filtering by payer", "carol", &api.ListSplitsRequest{Payer: ts.address("payer")}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := ts.splitClient(t, tt.caller).ListSplits(ctx, connect.NewRequest(tt.req))
			if err != nil {
				t.Fatalf("ListSplits failed: %v", err)
			}
			if len(resp.Msg.Splits) != tt.want {
				t.Errorf("got %d splits, want %d", len(resp.Msg.Splits), tt.want)
			}
		})
	}

	_, err := ts.splitClient(t, "payer").ListSplits(ctx, connect.NewRequest(&api.ListSplitsRequest{Status: "paid"}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("unknown status: expected InvalidArgument, got %v", err)
	}
	_, err = ts.splitClient(t, "payer").ListSplits(ctx, connect.NewRequest(&api.ListSplitsRequest{User: "bob"}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("bad address: expected InvalidArgument, got %v", err)
	}
}

func TestCalculateEqualSplit(t *testing.T) {
	ts := setupTestServer(t)
	client := ts.splitClient(t, "payer")
	participants := []string{ts.address("alice"), ts.address("bob"), ts.address("carol")}

	resp, err := client.CalculateEqualSplit(context.Background(), connect.NewRequest(&api.CalculateEqualSplitRequest{
		TokenAddress: ts.usdc,
		TotalDisplay: "10",
		Participants: participants,
	}))
	if err != nil {
		t.Fatalf("CalculateEqualSplit failed: %v", err)
	}
	if resp.Msg.PerParticipant != "3333333" || resp.Msg.Remainder != "1" {
		t.Errorf("per=%s remainder=%s", resp.Msg.PerParticipant, resp.Msg.Remainder)
	}
	sum := new(big.Int)
	for _, item := range resp.Msg.Items {
		v, _ := new(big.Int).SetString(item.Amount, 10)
		sum.Add(sum, v)
	}
	if sum.String() != "10000000" {
		t.Errorf("items add up to %s, want 10000000", sum)
	}
	if resp.Msg.Items[0].AmountDisplay != "3.333334" {
		t.Errorf("first item display = %s", resp.Msg.Items[0].AmountDisplay)
	}

	_, err = client.CalculateEqualSplit(context.Background(), connect.NewRequest(&api.CalculateEqualSplitRequest{
		TokenAddress: ts.usdc,
		Total:        "100",
	}))
	if connect.CodeOf(err) != connect.CodeInvalidArgument {
		t.Errorf("no participants: expected InvalidArgument, got %v", err)
	}
}
