package kucoin

import (
	"fmt"

	"github.com/buger/jsonparser"
)

// ResponseCode is the code field of a KuCoin response envelope
type ResponseCode string

// cloudflare IP frequency limit, blocked 30s
const CodeBlocked30s ResponseCode = "1015"

// orders unavailable from restricted region
const CodeAccountRestricted ResponseCode = "40010"

// invalid parameters
const (
	CodeInvalidParameters         ResponseCode = "100001"
	CodeSystemConfigError         ResponseCode = "100002"
	CodeContractParamsInvalid     ResponseCode = "100003"
	CodeOrderNotCancellable       ResponseCode = "100004"
	CodeContractRiskLimitNotExist ResponseCode = "100005"
)

const (
	CodeOK           ResponseCode = "200000"
	CodeQueryScopeL2 ResponseCode = "200001"
	// business layer frequency limit, blocked 10s
	CodeTooManyRequestsBlocked10s ResponseCode = "200002"
	CodeInvalidSymbol             ResponseCode = "200003"
)

const (
	CodeIllegalParam              ResponseCode = "300000"
	CodeActiveOrderLimit          ResponseCode = "300001"
	CodeOrderSuspended            ResponseCode = "300002"
	CodeBalanceTooLow             ResponseCode = "300003"
	CodeStopOrderLimitExceeded    ResponseCode = "300004"
	CodeRiskLimitExceeded         ResponseCode = "300005"
	CodeClosePriceBelowBankruptcy ResponseCode = "300006"
	CodePriceWorseThanLiquidation ResponseCode = "300007"
	CodeNoContraOrder             ResponseCode = "300008"
	CodeUnableToClosePosition     ResponseCode = "300009"
	CodeFailedClosingPosition     ResponseCode = "300010"
	CodeOrderPriceTooHigh         ResponseCode = "300011"
	CodeOrderPriceTooLow          ResponseCode = "300012"
	CodeUnableToProceed           ResponseCode = "300013"
	CodePositionLiquidating       ResponseCode = "300014"
	CodeSettlementInProgress      ResponseCode = "300015"
	CodeLeverageTooHigh           ResponseCode = "300016"
	CodePositionInBrawl           ResponseCode = "300017"
	CodeClientOidRepeated         ResponseCode = "300018"
)

// KC-API-TIMESTAMP differs from server time by more than 5s
const CodeInvalidTimestamp ResponseCode = "400002"

const (
	CodeMissingSecurityHeader ResponseCode = "400001"
	CodeAPIKeyNotFound        ResponseCode = "400003"
	CodeAPIPassphraseError    ResponseCode = "400004"
	CodeSignatureError        ResponseCode = "400005"
	CodeIPNotWhitelisted      ResponseCode = "400006"
	CodeAccessDenied          ResponseCode = "400007"
	CodeParameterError        ResponseCode = "400100"
)

const (
	CodeURLNotFound         ResponseCode = "404000"
	CodeUserFrozen          ResponseCode = "411100"
	CodeTooManyRequests     ResponseCode = "429000"
	CodeInternalServerError ResponseCode = "500000"
)

// IsAuthError reports whether code means the request's credentials,
// signature or timestamp were rejected
func (c ResponseCode) IsAuthError() bool {
	switch c {
	case CodeMissingSecurityHeader, CodeInvalidTimestamp, CodeAPIKeyNotFound,
		CodeAPIPassphraseError, CodeSignatureError, CodeIPNotWhitelisted, CodeAccessDenied:
		return true
	}
	return false
}

// UnmarshalJSON accepts the code as a JSON string or a JSON number
func (c *ResponseCode) UnmarshalJSON(b []byte) error {
	value, dataType, _, err := jsonparser.Get(b)
	if err != nil {
		return fmt.Errorf("invalid response code %s: %w", string(b), err)
	}
	if dataType == jsonparser.Null {
		*c = ""
		return nil
	}
	code, ok := codeFromJSON(value, dataType)
	if !ok {
		return fmt.Errorf("invalid response code %s", string(b))
	}
	*c = ResponseCode(code)
	return nil
}

// codeFromJSON reads a code value that may be a string or a number
func codeFromJSON(value []byte, dataType jsonparser.ValueType) (string, bool) {
	switch dataType {
	case jsonparser.String:
		s, err := jsonparser.ParseString(value)
		return s, err == nil
	case jsonparser.Number:
		return string(value), true
	}
	return "", false
}
