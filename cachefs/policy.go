package cachefs

import "time"

// expirationStrategy implements the §4.B rule table: given the cache's
// configuration and a decoded entry, decide which cleanup strategy applies.
func expirationStrategy(cfg Config, entry Entry) ExpirationStrategy {
	if entry.OK() {
		return StrategyNone
	}
	switch entry.Err.Kind {
	case ErrNotFound:
		return StrategyNegative
	case ErrMalformed:
		return StrategyMalformed
	default:
		// Cache-specific errors have no on-disk sentinel; the strategy
		// depends on what kind of artifact this cache holds.
		switch cfg.Kind {
		case KindDownloaded:
			return StrategyNegative
		case KindDerived:
			return StrategyMalformed
		default:
			return StrategyNone
		}
	}
}

// expirationTime computes the ExpirationTime for an entry that has already
// aged by mtimeElapsed, given its strategy. startTime is the cache's
// process-start time, used to invalidate pre-restart malformed entries.
//
// Returns ok=false when the entry is expired outright (a cache miss).
func expirationTime(cfg Config, strategy ExpirationStrategy, mtime time.Time, mtimeElapsed time.Duration, startTime time.Time) (ExpirationTime, bool) {
	switch strategy {
	case StrategyNone:
		maxUnusedFor := durOrMax(cfg.MaxUnusedFor)
		if mtimeElapsed > maxUnusedFor {
			return ExpirationTime{}, false
		}
		touchIn := TouchEvery - mtimeElapsed
		if touchIn < 0 {
			touchIn = 0
		}
		return TouchIn(touchIn), true

	case StrategyNegative:
		retryAfter := durOrMax(cfg.RetryMissesAfter)
		expiresIn := retryAfter - mtimeElapsed
		if expiresIn <= 0 {
			return ExpirationTime{}, false
		}
		return RefreshIn(expiresIn), true

	case StrategyMalformed:
		retryAfter := durOrMax(cfg.RetryMalformedAfter)
		expiresIn := retryAfter - mtimeElapsed
		// Immediately expire malformed items created by a previous process:
		// a new binary may fix the conversion bug that produced them.
		if mtime.Before(startTime) || expiresIn <= 0 {
			return ExpirationTime{}, false
		}
		return RefreshIn(expiresIn), true

	default:
		return ExpirationTime{}, false
	}
}

// freshExpirationTime computes the ExpirationTime for an entry immediately
// after a successful write, i.e. as if mtimeElapsed == 0 (§4.B "A fresh
// entry...").
func freshExpirationTime(cfg Config, entry Entry) ExpirationTime {
	strategy := expirationStrategy(cfg, entry)
	switch strategy {
	case StrategyNone:
		return TouchIn(TouchEvery)
	case StrategyNegative:
		return RefreshIn(durOrMax(cfg.RetryMissesAfter))
	case StrategyMalformed:
		return RefreshIn(durOrMax(cfg.RetryMalformedAfter))
	default:
		return TouchIn(TouchEvery)
	}
}
