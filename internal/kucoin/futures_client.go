package kucoin

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
)

// FuturesClient is the typed futures endpoint surface over a RestClient
type FuturesClient struct {
	*RestClient
	sandbox bool
}

// NewFuturesClient creates a futures client against production, or the
// sandbox when sandbox is set
func NewFuturesClient(opts Options, sandbox bool, extra ...ClientOption) (*FuturesClient, error) {
	key := BaseURLFutures
	if sandbox {
		key = BaseURLFuturesTest
	}
	rc, err := NewRestClient(key, opts, extra...)
	if err != nil {
		return nil, err
	}
	return &FuturesClient{RestClient: rc, sandbox: sandbox}, nil
}

// Sandbox reports whether the client targets the sandbox environment
func (c *FuturesClient) Sandbox() bool { return c.sandbox }

// GetServerTime returns the exchange time in epoch ms. It is also the
// client's clock sync source.
func (c *FuturesClient) GetServerTime(ctx context.Context) (int64, error) {
	return c.fetchServerTime(ctx)
}

// GetAccountOverview returns the account summary for currency
func (c *FuturesClient) GetAccountOverview(ctx context.Context, currency string) (*APIResponse[AccountOverview], error) {
	p := NewParams()
	if currency != "" {
		p.Set("currency", currency)
	}
	return requestJSON[AccountOverview](ctx, c.RestClient, http.MethodGet, "api/v1/account-overview", p)
}

// GetTransactionHistory pages through the futures transaction history
func (c *FuturesClient) GetTransactionHistory(ctx context.Context, q AccountHistoryQuery) (*APIResponse[Paged[FuturesTransaction]], error) {
	return requestJSON[Paged[FuturesTransaction]](ctx, c.RestClient, http.MethodGet, "api/v1/transaction-history", q.params())
}

// CreateSubAccountAPIKey creates a futures API key for a sub-account
func (c *FuturesClient) CreateSubAccountAPIKey(ctx context.Context, req SubAccountAPIKeyRequest) (*APIResponse[SubAccountAPIKey], error) {
	return requestJSON[SubAccountAPIKey](ctx, c.RestClient, http.MethodPost, "api/v1/sub/api-key", req.params())
}

// GetDepositAddress returns the deposit address for currency
func (c *FuturesClient) GetDepositAddress(ctx context.Context, currency string) (*APIResponse[Address], error) {
	p := NewParams().SetIf(currency != "", "currency", currency)
	return requestJSON[Address](ctx, c.RestClient, http.MethodGet, "api/v1/deposit-address", p)
}

// GetDepositList pages through deposits
func (c *FuturesClient) GetDepositList(ctx context.Context, q CurrencyPageQuery) (*APIResponse[DetailedPage[Deposit]], error) {
	return requestJSON[DetailedPage[Deposit]](ctx, c.RestClient, http.MethodGet, "api/v1/deposit-list", q.params())
}

// GetWithdrawalQuotas returns the withdrawal limits for currency
func (c *FuturesClient) GetWithdrawalQuotas(ctx context.Context, currency string) (*APIResponse[WithdrawalQuotas], error) {
	p := NewParams().SetIf(currency != "", "currency", currency)
	return requestJSON[WithdrawalQuotas](ctx, c.RestClient, http.MethodGet, "api/v1/withdrawals/quotas", p)
}

// GetWithdrawalList pages through withdrawals
func (c *FuturesClient) GetWithdrawalList(ctx context.Context, q CurrencyPageQuery) (*APIResponse[DetailedPage[Withdrawal]], error) {
	return requestJSON[DetailedPage[Withdrawal]](ctx, c.RestClient, http.MethodGet, "api/v1/withdrawals-list", q.params())
}

// CancelWithdrawal cancels a pending withdrawal
func (c *FuturesClient) CancelWithdrawal(ctx context.Context, withdrawalID string) (*APIResponse[Apply], error) {
	if withdrawalID == "" {
		return nil, preflightError(fmt.Errorf("%w: withdrawalId", ErrMissingParameter))
	}
	return requestJSON[Apply](ctx, c.RestClient, http.MethodDelete, "api/v1/withdrawals/"+url.PathEscape(withdrawalID), nil)
}

// TransferOutV3 moves funds from futures to the main or trade account
func (c *FuturesClient) TransferOutV3(ctx context.Context, req TransferOutRequest) (*APIResponse[TransferResult], error) {
	return requestJSON[TransferResult](ctx, c.RestClient, http.MethodPost, "api/v3/transfer-out", req.params())
}

// TransferIn moves funds from the main or trade account into futures
func (c *FuturesClient) TransferIn(ctx context.Context, req TransferInRequest) (*APIResponse[any], error) {
	return requestJSON[any](ctx, c.RestClient, http.MethodPost, "api/v1/transfer-in", req.params())
}

// GetTransferOutRecords pages through transfer-out records
func (c *FuturesClient) GetTransferOutRecords(ctx context.Context, q CurrencyPageQuery) (*APIResponse[DetailedPage[TransferRecord]], error) {
	return requestJSON[DetailedPage[TransferRecord]](ctx, c.RestClient, http.MethodGet, "api/v1/transfer-list", q.params())
}

// CancelTransferOut cancels a pending transfer-out
func (c *FuturesClient) CancelTransferOut(ctx context.Context, applyID string) (*APIResponse[any], error) {
	if applyID == "" {
		return nil, preflightError(fmt.Errorf("%w: applyId", ErrMissingParameter))
	}
	return requestJSON[any](ctx, c.RestClient, http.MethodDelete, "api/v1/cancel/transfer-out/"+url.PathEscape(applyID), nil)
}

// PlaceOrder places a futures order, generating a clientOid when none is set
func (c *FuturesClient) PlaceOrder(ctx context.Context, req OrderRequest) (*APIResponse[OrderResult], error) {
	if req.ClientOid == "" {
		req.ClientOid = uuid.NewString()
	}
	resp, err := requestJSON[OrderResult](ctx, c.RestClient, http.MethodPost, "api/v1/orders", req.params())
	if err != nil {
		return nil, err
	}
	if resp.Data.ClientOid == "" {
		resp.Data.ClientOid = req.ClientOid
	}
	return resp, nil
}

// requestJSON dispatches one call and unmarshals the 200 body into its
// envelope. An envelope whose code is not 200000 is an application error
// carrying the same request context as a non-200 response.
func requestJSON[T any](ctx context.Context, c *RestClient, method, endpoint string, params *Params) (*APIResponse[T], error) {
	ex, err := c.dispatch(ctx, method, "", endpoint, params)
	if err != nil {
		return nil, err
	}
	var resp APIResponse[T]
	if err := sonic.Unmarshal(ex.resp.Body, &resp); err != nil {
		return nil, c.envelopeError(ex, "", "", fmt.Errorf("failed to decode response: %w", err))
	}
	if !resp.OK() {
		return &resp, c.envelopeError(ex, resp.Code, resp.Msg, nil)
	}
	return &resp, nil
}
