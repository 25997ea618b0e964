package timesync

import (
	"context"
	"fmt"
	"time"

	"github.com/beevik/ntp"
)

// DefaultNTPServer is used when no server is configured
const DefaultNTPServer = "pool.ntp.org"

// NTPSource returns a ServerTimeFunc reading time from an NTP server instead
// of the exchange. Useful when the exchange time endpoint is unreachable.
func NTPSource(server string) ServerTimeFunc {
	if server == "" {
		server = DefaultNTPServer
	}
	return func(ctx context.Context) (int64, error) {
		opts := ntp.QueryOptions{}
		if deadline, ok := ctx.Deadline(); ok {
			opts.Timeout = time.Until(deadline)
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		resp, err := ntp.QueryWithOptions(server, opts)
		if err != nil {
			return 0, fmt.Errorf("ntp query %s: %w", server, err)
		}
		if err := resp.Validate(); err != nil {
			return 0, fmt.Errorf("ntp response from %s: %w", server, err)
		}
		return time.Now().Add(resp.ClockOffset).UnixMilli(), nil
	}
}

// ClockReport describes the local clock against an NTP reference
type ClockReport struct {
	Server    string        `json:"server"`
	Offset    time.Duration `json:"offset"`
	RTT       time.Duration `json:"rtt"`
	Stratum   uint8         `json:"stratum"`
	CheckedAt time.Time     `json:"checked_at"`
}

// QueryNTPOffset measures how far the local clock is from server
func QueryNTPOffset(server string) (*ClockReport, error) {
	if server == "" {
		server = DefaultNTPServer
	}
	resp, err := ntp.Query(server)
	if err != nil {
		return nil, fmt.Errorf("ntp query %s: %w", server, err)
	}
	return &ClockReport{
		Server:    server,
		Offset:    resp.ClockOffset,
		RTT:       resp.RTT,
		Stratum:   resp.Stratum,
		CheckedAt: time.Now(),
	}, nil
}
