package redis

import "candlestream/internal/model"

// DefaultTradeStream is the stream trade producers append to.
const DefaultTradeStream = "trades"

// Key layout (candle and indicator streams come from the model):
//
//	candle:{secs}s:{pair}          stream of candle snapshots
//	candle:{secs}s:latest:{pair}   latest candle snapshot (SET with TTL)
//	pub:candle:{secs}s:{pair}      pubsub channel for candle snapshots
//	ind:{secs}s:{pair}             stream of indicator records
//	ind:{secs}s:latest:{pair}      latest indicator record
//	pub:ind:{secs}s:{pair}         pubsub channel for indicator records
//	pairs:{secs}s                  set of pairs seen for a candle duration

func candleStreamKey(secs int, pair string) string {
	return "candle:" + model.Itoa(secs) + "s:" + pair
}

func latestCandleKey(secs int, pair string) string {
	return "candle:" + model.Itoa(secs) + "s:latest:" + pair
}

func candleChannel(secs int, pair string) string {
	return "pub:candle:" + model.Itoa(secs) + "s:" + pair
}

func latestIndicatorKey(secs int, pair string) string {
	return "ind:" + model.Itoa(secs) + "s:latest:" + pair
}

func indicatorChannel(secs int, pair string) string {
	return "pub:ind:" + model.Itoa(secs) + "s:" + pair
}

func pairsKey(secs int) string {
	return "pairs:" + model.Itoa(secs) + "s"
}
