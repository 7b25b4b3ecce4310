package relay

import (
	"unicode/utf8"

	"github.com/ukpulse/pulseboard/internal/util"
)

// QueryMeta holds parsed metadata from a forwarded body.
// No content is stored - only structural metrics.
type QueryMeta struct {
	Bytes      int64
	HasQuery   bool
	QueryChars int
}

// ParseQueryMeta extracts structural information from a request body without
// retaining the query text. Bodies that are not a JSON object simply report
// their size.
func ParseQueryMeta(body []byte) QueryMeta {
	meta := QueryMeta{
		Bytes: int64(len(body)),
	}

	m, err := util.DecodeJSONMap(body)
	if err != nil {
		return meta
	}

	if q, ok := util.ToString(m["query"]); ok {
		meta.HasQuery = true
		meta.QueryChars = utf8.RuneCountInString(q)
	}

	return meta
}
