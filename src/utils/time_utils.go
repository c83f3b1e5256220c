package utils

import "time"

// FloorToInterval aligns a timestamp to the start of its candle bucket.
func FloorToInterval(t time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return t
	}
	return t.Truncate(interval)
}

// IntervalToBinance maps a candle interval to Binance's kline interval
// token. Unsupported intervals fall back to "1m".
func IntervalToBinance(interval time.Duration) string {
	switch interval {
	case time.Minute:
		return "1m"
	case 3 * time.Minute:
		return "3m"
	case 5 * time.Minute:
		return "5m"
	case 15 * time.Minute:
		return "15m"
	case 30 * time.Minute:
		return "30m"
	case time.Hour:
		return "1h"
	case 4 * time.Hour:
		return "4h"
	case 24 * time.Hour:
		return "1d"
	default:
		return "1m"
	}
}
