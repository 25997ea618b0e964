package kucoin

import (
	"github.com/shopspring/decimal"
)

// APIResponse is the envelope every KuCoin REST endpoint answers with
type APIResponse[T any] struct {
	Code ResponseCode `json:"code"`
	Msg  string       `json:"msg,omitempty"`
	Data T            `json:"data"`
}

// OK reports whether the envelope carries the success code
func (r *APIResponse[T]) OK() bool {
	return r.Code == CodeOK
}

// TransferStatus is the lifecycle state of deposits, withdrawals and transfers
type TransferStatus string

const (
	StatusProcessing TransferStatus = "PROCESSING"
	StatusSuccess    TransferStatus = "SUCCESS"
	StatusFailure    TransferStatus = "FAILURE"
)

// RefAccountType is the spot-side account a futures transfer targets
type RefAccountType string

const (
	AccountMain  RefAccountType = "MAIN"
	AccountTrade RefAccountType = "TRADE"
)

// TransactionType filters the futures transaction history
type TransactionType string

const (
	TxRealisedPNL TransactionType = "RealisedPNL"
	TxDeposit     TransactionType = "Deposit"
	TxWithdrawal  TransactionType = "Withdrawal"
	TxTransferIn  TransactionType = "TransferIn"
	TxTransferOut TransactionType = "TransferOut"
)

// AccountOverview is the futures account summary for one settlement currency
type AccountOverview struct {
	AccountEquity    decimal.Decimal `json:"accountEquity"`
	UnrealisedPNL    decimal.Decimal `json:"unrealisedPNL"`
	MarginBalance    decimal.Decimal `json:"marginBalance"`
	PositionMargin   decimal.Decimal `json:"positionMargin"`
	OrderMargin      decimal.Decimal `json:"orderMargin"`
	FrozenFunds      decimal.Decimal `json:"frozenFunds"`
	AvailableBalance decimal.Decimal `json:"availableBalance"`
	Currency         string          `json:"currency"`
}

// FuturesTransaction is one row of the transaction history
type FuturesTransaction struct {
	Time          int64           `json:"time"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Fee           decimal.Decimal `json:"fee"`
	AccountEquity decimal.Decimal `json:"accountEquity"`
	Status        string          `json:"status"`
	Remark        string          `json:"remark"`
	Offset        int64           `json:"offset"`
	Currency      string          `json:"currency"`
}

// Paged is an offset-based page
type Paged[T any] struct {
	HasMore  bool `json:"hasMore"`
	DataList []T  `json:"dataList"`
}

// DetailedPage is a numbered page
type DetailedPage[T any] struct {
	CurrentPage int `json:"currentPage"`
	PageSize    int `json:"pageSize"`
	TotalNum    int `json:"totalNum"`
	TotalPage   int `json:"totalPage"`
	Items       []T `json:"items"`
}

// Address is a deposit address
type Address struct {
	Address string `json:"address"`
	Memo    string `json:"memo,omitempty"`
	Chain   string `json:"chain"`
}

// Deposit is one deposit record
type Deposit struct {
	Currency   string          `json:"currency"`
	Status     TransferStatus  `json:"status"`
	Address    string          `json:"address"`
	IsInner    bool            `json:"isInner"`
	Amount     decimal.Decimal `json:"amount"`
	Fee        decimal.Decimal `json:"fee"`
	WalletTxID string          `json:"walletTxId"`
	CreatedAt  int64           `json:"createdAt"`
}

// Withdrawal is one withdrawal record
type Withdrawal struct {
	WithdrawalID string          `json:"withdrawalId"`
	Currency     string          `json:"currency"`
	Status       TransferStatus  `json:"status"`
	Address      string          `json:"address"`
	Memo         string          `json:"memo,omitempty"`
	IsInner      bool            `json:"isInner"`
	Amount       decimal.Decimal `json:"amount"`
	Fee          decimal.Decimal `json:"fee"`
	WalletTxID   string          `json:"walletTxId"`
	CreatedAt    int64           `json:"createdAt"`
	Remark       string          `json:"remark"`
	Reason       string          `json:"reason"`
}

// WithdrawalQuotas are the withdrawal limits for a currency
type WithdrawalQuotas struct {
	Currency            string          `json:"currency"`
	ChainID             string          `json:"chainId"`
	LimitAmount         decimal.Decimal `json:"limitAmount"`
	UsedAmount          decimal.Decimal `json:"usedAmount"`
	RemainAmount        decimal.Decimal `json:"remainAmount"`
	AvailableAmount     decimal.Decimal `json:"availableAmount"`
	WithdrawMinFee      decimal.Decimal `json:"withdrawMinFee"`
	InnerWithdrawMinFee decimal.Decimal `json:"innerWithdrawMinFee"`
	WithdrawMinSize     decimal.Decimal `json:"withdrawMinSize"`
	IsWithdrawEnabled   bool            `json:"isWithdrawEnabled"`
	Precision           int             `json:"precision"`
}

// Apply identifies an accepted application
type Apply struct {
	ApplyID string `json:"applyId"`
}

// TransferResult is returned by the v3 transfer-out endpoint
type TransferResult struct {
	ApplyID        string          `json:"applyId"`
	BizNo          string          `json:"bizNo"`
	PayAccountType string          `json:"payAccountType"`
	PayTag         string          `json:"payTag"`
	Remark         string          `json:"remark"`
	RecAccountType RefAccountType  `json:"recAccountType"`
	RecTag         string          `json:"recTag"`
	RecRemark      string          `json:"recRemark"`
	RecSystem      string          `json:"recSystem"`
	Status         TransferStatus  `json:"status"`
	Currency       string          `json:"currency"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	SN             int64           `json:"sn"`
	Reason         string          `json:"reason"`
	CreatedAt      int64           `json:"createdAt"`
	UpdatedAt      int64           `json:"updatedAt"`
}

// TransferRecord is one transfer-out record
type TransferRecord struct {
	ApplyID   string          `json:"applyId"`
	Currency  string          `json:"currency"`
	RecRemark string          `json:"recRemark"`
	RecSystem string          `json:"recSystem"`
	Status    TransferStatus  `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Offset    int64           `json:"offset"`
	CreatedAt int64           `json:"createdAt"`
	Remark    string          `json:"remark"`
}

// SubAccountAPIKey is a futures API key created for a sub-account
type SubAccountAPIKey struct {
	SubName     string `json:"subName"`
	Remark      string `json:"remark"`
	APIKey      string `json:"apiKey"`
	APISecret   string `json:"apiSecret"`
	Passphrase  string `json:"passphrase"`
	Permission  string `json:"permission"`
	IPWhitelist string `json:"ipWhitelist"`
	CreatedAt   int64  `json:"createdAt"`
}

// OrderResult is the acknowledgement of a placed order
type OrderResult struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid,omitempty"`
}

// AccountHistoryQuery filters GetTransactionHistory
type AccountHistoryQuery struct {
	StartAt  int64
	EndAt    int64
	Type     TransactionType
	Offset   int64
	Forward  *bool
	MaxCount int
	Currency string
}

func (q AccountHistoryQuery) params() *Params {
	p := NewParams()
	if q.StartAt > 0 {
		p.Set("startAt", q.StartAt)
	}
	if q.EndAt > 0 {
		p.Set("endAt", q.EndAt)
	}
	if q.Type != "" {
		p.Set("type", string(q.Type))
	}
	if q.Offset > 0 {
		p.Set("offset", q.Offset)
	}
	if q.Forward != nil {
		p.Set("forward", *q.Forward)
	}
	if q.MaxCount > 0 {
		p.Set("maxCount", q.MaxCount)
	}
	if q.Currency != "" {
		p.Set("currency", q.Currency)
	}
	return p
}

// CurrencyPageQuery filters the deposit, withdrawal and transfer lists
type CurrencyPageQuery struct {
	StartAt     int64
	EndAt       int64
	PageSize    int
	CurrentPage int
	Status      TransferStatus
	Currency    string
}

func (q CurrencyPageQuery) params() *Params {
	p := NewParams()
	if q.StartAt > 0 {
		p.Set("startAt", q.StartAt)
	}
	if q.EndAt > 0 {
		p.Set("endAt", q.EndAt)
	}
	if q.PageSize > 0 {
		p.Set("pageSize", q.PageSize)
	}
	if q.CurrentPage > 0 {
		p.Set("currentPage", q.CurrentPage)
	}
	if q.Status != "" {
		p.Set("status", string(q.Status))
	}
	if q.Currency != "" {
		p.Set("currency", q.Currency)
	}
	return p
}

// SubAccountAPIKeyRequest creates a futures API key for a sub-account
type SubAccountAPIKeyRequest struct {
	SubName     string
	Passphrase  string
	Remark      string
	Permission  string
	IPWhitelist string
	ExpireHours int
}

func (r SubAccountAPIKeyRequest) params() *Params {
	p := NewParams().
		SetIf(r.SubName != "", "subName", r.SubName).
		SetIf(r.Passphrase != "", "passphrase", r.Passphrase).
		SetIf(r.Remark != "", "remark", r.Remark)
	if r.Permission != "" {
		p.Set("permission", r.Permission)
	}
	if r.IPWhitelist != "" {
		p.Set("ipWhitelist", r.IPWhitelist)
	}
	if r.ExpireHours != 0 {
		p.Set("expire", r.ExpireHours)
	}
	return p
}

// TransferOutRequest moves funds from futures to a spot-side account
type TransferOutRequest struct {
	Amount         decimal.Decimal
	Currency       string
	RecAccountType RefAccountType
}

func (r TransferOutRequest) params() *Params {
	return NewParams().
		SetIf(!r.Amount.IsZero(), "amount", r.Amount).
		SetIf(r.Currency != "", "currency", r.Currency).
		SetIf(r.RecAccountType != "", "recAccountType", string(r.RecAccountType))
}

// TransferInRequest moves funds from a spot-side account into futures
type TransferInRequest struct {
	Amount         decimal.Decimal
	Currency       string
	PayAccountType RefAccountType
}

func (r TransferInRequest) params() *Params {
	return NewParams().
		SetIf(!r.Amount.IsZero(), "amount", r.Amount).
		SetIf(r.Currency != "", "currency", r.Currency).
		SetIf(r.PayAccountType != "", "payAccountType", string(r.PayAccountType))
}

// OrderRequest places a futures order. ClientOid is generated when empty.
type OrderRequest struct {
	ClientOid     string
	Side          string
	Symbol        string
	Type          string
	Leverage      decimal.Decimal
	Price         decimal.Decimal
	Size          int64
	TimeInForce   string
	PostOnly      bool
	ReduceOnly    bool
	CloseOrder    bool
	Remark        string
	Stop          string
	StopPriceType string
	StopPrice     decimal.Decimal
}

func (r OrderRequest) params() *Params {
	p := NewParams().
		Set("clientOid", r.ClientOid).
		SetIf(r.Side != "", "side", r.Side).
		SetIf(r.Symbol != "", "symbol", r.Symbol)
	if r.Type != "" {
		p.Set("type", r.Type)
	}
	if !r.Leverage.IsZero() {
		p.Set("leverage", r.Leverage)
	}
	if !r.Price.IsZero() {
		p.Set("price", r.Price)
	}
	if r.Size > 0 {
		p.Set("size", r.Size)
	}
	if r.TimeInForce != "" {
		p.Set("timeInForce", r.TimeInForce)
	}
	if r.PostOnly {
		p.Set("postOnly", true)
	}
	if r.ReduceOnly {
		p.Set("reduceOnly", true)
	}
	if r.CloseOrder {
		p.Set("closeOrder", true)
	}
	if r.Remark != "" {
		p.Set("remark", r.Remark)
	}
	if r.Stop != "" {
		p.Set("stop", r.Stop)
		p.Set("stopPriceType", r.StopPriceType)
		p.Set("stopPrice", r.StopPrice)
	}
	return p
}
