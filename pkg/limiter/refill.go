package limiter

// refill computes the token balance for a bucket at time nowUnix (epoch
// seconds), given its last committed snapshot and the governing policy.
//
// Only whole elapsed intervals count. The returned timestamp advances by
// exactly those intervals rather than jumping to now, so partial progress
// toward the next refill is never lost: a caller arriving 130s into a 60s
// interval keeps the outstanding 10s of credit.
//
// Pure function: same inputs, same outputs, no clock reads.
func refill(state BucketState, nowUnix int64, p Policy) (tokens int64, lastUpdatedUnix int64) {
	last := state.LastUpdated.Unix()
	intervalSecs := int64(p.RefillInterval.Seconds())

	elapsed := nowUnix - last
	if elapsed < 0 {
		// Clock skew between callers; treat as no time passed.
		elapsed = 0
	}

	intervals := elapsed / intervalSecs
	if intervals == 0 {
		return clampTokens(state.Tokens, p), last
	}

	tokens = state.Tokens + intervals*p.RefillRate
	return clampTokens(tokens, p), last + intervals*intervalSecs
}

func clampTokens(tokens int64, p Policy) int64 {
	if tokens < 0 {
		return 0
	}
	if tokens > p.MaxTokens {
		return p.MaxTokens
	}
	return tokens
}
