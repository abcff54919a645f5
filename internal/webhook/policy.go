package webhook

import "time"

// PolicyType selects how retry delays grow.
type PolicyType string

const (
	PolicyExponential PolicyType = "exponential"
	PolicyLinear      PolicyType = "linear"
)

// RetryPolicy controls the retry behavior of one delivery chain. The original
// call sites disagreed on the curve (exponential in the gateway path, linear
// in a delivery path), so the curve is a parameter rather than a constant.
type RetryPolicy struct {
	Type      PolicyType
	BaseDelay time.Duration
	// MaxRetries is the number of additional attempts after the first try.
	MaxRetries int
}

// DefaultRetryPolicy matches the documented delivery behavior: 1 initial try
// plus 3 retries at 1s, 2s, 4s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Type:       PolicyExponential,
		BaseDelay:  time.Second,
		MaxRetries: 3,
	}
}

// Delay returns the backoff before retry attemptIndex (0-based: the delay
// between the initial try and the first retry is Delay(0)).
func (p RetryPolicy) Delay(attemptIndex int) time.Duration {
	if attemptIndex < 0 {
		attemptIndex = 0
	}
	switch p.Type {
	case PolicyLinear:
		return p.BaseDelay * time.Duration(attemptIndex+1)
	default:
		return p.BaseDelay << uint(attemptIndex)
	}
}

// MaxAttempts is the total attempt count including the initial try.
func (p RetryPolicy) MaxAttempts() int {
	return p.MaxRetries + 1
}
