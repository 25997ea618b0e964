package kucoin

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrMissingParameter is returned when strict validation finds an absent value
var ErrMissingParameter = errors.New("failed to sign API request due to undefined parameter")

type paramEntry struct {
	key     string
	value   interface{}
	present bool
}

// Params is an ordered set of request parameters. Keys keep their insertion
// order. An entry is either present (possibly nil) or absent (declared
// without a value).
type Params struct {
	entries []paramEntry
	index   map[string]int
}

// NewParams creates an empty parameter set
func NewParams() *Params {
	return &Params{index: make(map[string]int)}
}

// Set adds or replaces a present value. Replacing keeps the original position.
func (p *Params) Set(key string, value interface{}) *Params {
	return p.put(paramEntry{key: key, value: value, present: true})
}

// SetAbsent declares a key without a value
func (p *Params) SetAbsent(key string) *Params {
	return p.put(paramEntry{key: key})
}

// SetIf sets key only when cond holds, otherwise declares it absent
func (p *Params) SetIf(cond bool, key string, value interface{}) *Params {
	if cond {
		return p.Set(key, value)
	}
	return p.SetAbsent(key)
}

func (p *Params) put(e paramEntry) *Params {
	if p.index == nil {
		p.index = make(map[string]int)
	}
	if i, ok := p.index[e.key]; ok {
		p.entries[i] = e
		return p
	}
	p.index[e.key] = len(p.entries)
	p.entries = append(p.entries, e)
	return p
}

// Get returns the value for key and whether it is present
func (p *Params) Get(key string) (interface{}, bool) {
	if p == nil {
		return nil, false
	}
	i, ok := p.index[key]
	if !ok {
		return nil, false
	}
	e := p.entries[i]
	return e.value, e.present
}

// Keys returns the keys in insertion order
func (p *Params) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, len(p.entries))
	for i, e := range p.entries {
		keys[i] = e.key
	}
	return keys
}

// Len returns the number of declared keys, present or absent
func (p *Params) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// EncodeParams serialises params into key1=val1&key2=val2 in insertion order.
// With strict set, an absent value fails before anything is produced. With
// encodeValues set, values are escaped as URL components; keys never are.
func EncodeParams(params *Params, strict, encodeValues bool) (string, error) {
	if params.Len() == 0 {
		return "", nil
	}

	var b strings.Builder
	first := true
	for _, e := range params.entries {
		if !e.present {
			if strict {
				return "", fmt.Errorf("%w: %s", ErrMissingParameter, e.key)
			}
			continue
		}

		value := formatParamValue(e.value)
		if encodeValues {
			value = encodeURIComponent(value)
		}

		if !first {
			b.WriteByte('&')
		}
		first = false
		b.WriteString(e.key)
		b.WriteByte('=')
		b.WriteString(value)
	}
	return b.String(), nil
}

func formatParamValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case int:
		return strconv.Itoa(val)
	case int8:
		return strconv.FormatInt(int64(val), 10)
	case int16:
		return strconv.FormatInt(int64(val), 10)
	case int32:
		return strconv.FormatInt(int64(val), 10)
	case int64:
		return strconv.FormatInt(val, 10)
	case uint:
		return strconv.FormatUint(uint64(val), 10)
	case uint8:
		return strconv.FormatUint(uint64(val), 10)
	case uint16:
		return strconv.FormatUint(uint64(val), 10)
	case uint32:
		return strconv.FormatUint(uint64(val), 10)
	case uint64:
		return strconv.FormatUint(val, 10)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case decimal.Decimal:
		return val.String()
	case time.Time:
		return strconv.FormatInt(val.UnixMilli(), 10)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

const upperhex = "0123456789ABCDEF"

// encodeURIComponent escapes s the way browsers escape a URI component.
// net/url has no escaper with this exact unreserved set.
func encodeURIComponent(s string) string {
	n := 0
	for i := 0; i < len(s); i++ {
		if !isUnreservedComponentByte(s[i]) {
			n++
		}
	}
	if n == 0 {
		return s
	}

	buf := make([]byte, 0, len(s)+2*n)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreservedComponentByte(c) {
			buf = append(buf, c)
			continue
		}
		buf = append(buf, '%', upperhex[c>>4], upperhex[c&15])
	}
	return string(buf)
}

func isUnreservedComponentByte(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
