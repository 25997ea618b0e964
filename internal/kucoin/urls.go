package kucoin

import "fmt"

// BaseURLKey selects one of the known REST hosts
type BaseURLKey string

const (
	BaseURLFutures     BaseURLKey = "futures"
	BaseURLFuturesTest BaseURLKey = "futures-test"
)

var baseURLs = map[BaseURLKey]string{
	BaseURLFutures:     "https://api-futures.kucoin.com",
	BaseURLFuturesTest: "https://api-sandbox-futures.kucoin.com",
}

// ServerTimeEndpoint is the public endpoint returning server time in ms
const ServerTimeEndpoint = "api/v1/timestamp"

// LookupBaseURL returns the host for key
func LookupBaseURL(key BaseURLKey) (string, error) {
	u, ok := baseURLs[key]
	if !ok {
		return "", fmt.Errorf("unknown base url key %q", key)
	}
	return u, nil
}

// resolveBaseURL picks the REST host: explicit URL, then configured key,
// then the client's own key.
func resolveBaseURL(clientKey BaseURLKey, opts Options) (string, BaseURLKey, error) {
	key := clientKey
	if opts.BaseURLKey != "" {
		key = opts.BaseURLKey
	}
	if opts.BaseURL != "" {
		return opts.BaseURL, key, nil
	}
	u, err := LookupBaseURL(key)
	if err != nil {
		return "", key, err
	}
	return u, key, nil
}
