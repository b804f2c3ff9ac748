package chat

import (
	"strconv"
	"strings"
	"time"
)

// tsToTime converts a chat timestamp ("1712345678.000200") to a time.Time.
// The fractional part is a per-channel sequence, microsecond-scaled.
func tsToTime(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	secs, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(secs, micros*1000).UTC()
}

// TimestampTime is the exported form used by handlers normalizing webhook
// payloads.
func TimestampTime(ts string) time.Time {
	return tsToTime(ts)
}
