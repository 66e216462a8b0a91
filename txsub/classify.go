package txsub

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/core"
	"github.com/ethereum/go-ethereum/core/txpool"
)

// Classification buckets a provider error into the small set of outcomes the
// submission loop distinguishes. Providers word these errors differently, so
// the fragile substring matching lives here and nowhere else.
type Classification int

const (
	// ClassOther is any error with no special handling: terminal for the attempt.
	ClassOther Classification = iota
	// ClassNonceRace means the nonce was already consumed; retryable after a re-sync.
	ClassNonceRace
	// ClassUnderpriced means a pending transaction with the same nonce outbids
	// this one; retryable after a re-sync.
	ClassUnderpriced
	// ClassRevert means the contract rejected the call; terminal, not retried.
	ClassRevert
	// ClassAlreadyKnown means the pool already holds this exact transaction;
	// treated as a successful broadcast.
	ClassAlreadyKnown
)

func (c Classification) String() string {
	switch c {
	case ClassNonceRace:
		return "nonce_race"
	case ClassUnderpriced:
		return "underpriced"
	case ClassRevert:
		return "revert"
	case ClassAlreadyKnown:
		return "already_known"
	default:
		return "other"
	}
}

// Classify maps a broadcast or build error to its Classification.
func Classify(err error) Classification {
	if err == nil {
		return ClassOther
	}
	lowered := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lowered, core.ErrNonceTooLow.Error()):
		return ClassNonceRace
	case strings.Contains(lowered, txpool.ErrReplaceUnderpriced.Error()),
		strings.Contains(lowered, "transaction underpriced"):
		return ClassUnderpriced
	case strings.Contains(lowered, txpool.ErrAlreadyKnown.Error()),
		strings.Contains(lowered, "known transaction"):
		return ClassAlreadyKnown
	case strings.Contains(lowered, "execution reverted"),
		strings.Contains(lowered, "always failing transaction"),
		strings.Contains(lowered, "gas required exceeds allowance"):
		return ClassRevert
	default:
		return ClassOther
	}
}

var hintedNonceRe = regexp.MustCompile(`(?i)next nonce\s*(?:is\s*)?(\d+)`)

// HintedNonce extracts the expected nonce some providers embed in "nonce too
// low" error text.
func HintedNonce(err error) (uint64, bool) {
	if err == nil {
		return 0, false
	}
	m := hintedNonceRe.FindStringSubmatch(err.Error())
	if m == nil {
		return 0, false
	}
	n, convErr := strconv.ParseUint(m[1], 10, 64)
	if convErr != nil {
		return 0, false
	}
	return n, true
}
