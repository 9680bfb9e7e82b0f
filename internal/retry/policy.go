package retry

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Curve names a retry delay curve.
type Curve string

const (
	CurveImmediate   Curve = "immediate"
	CurveLinear      Curve = "linear"
	CurveExponential Curve = "exponential"
	CurveFibonacci   Curve = "fibonacci"
)

// jitterFraction mirrors the teacher client's ±25% backoff jitter, applied
// to exponential and linear curves to avoid thundering-herd retries across
// concurrently uploading files.
const jitterFraction = 0.25

// Strategy is a per-Kind retry policy.
type Strategy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	Curve      Curve
	// SkipSubstrings: if the error message contains any of these
	// (case-insensitive), the error is never retried regardless of attempt.
	SkipSubstrings []string
	// RequiresUserAction means the error can never be retried automatically.
	RequiresUserAction bool
}

// DefaultStrategies returns the spec's default per-kind retry policies.
func DefaultStrategies() map[Kind]Strategy {
	return map[Kind]Strategy{
		KindNetwork: {
			MaxRetries:     5,
			BaseDelay:      1 * time.Second,
			MaxDelay:       30 * time.Second,
			Curve:          CurveExponential,
			SkipSubstrings: []string{"QUOTA_EXCEEDED", "PERMISSION_DENIED"},
		},
		KindServer: {
			MaxRetries:     3,
			BaseDelay:      2 * time.Second,
			MaxDelay:       10 * time.Second,
			Curve:          CurveLinear,
			SkipSubstrings: []string{"NOT_FOUND", "INVALID_ARGUMENT"},
		},
		KindValidation: {
			MaxRetries:         2,
			BaseDelay:          0,
			MaxDelay:           1 * time.Second,
			Curve:              CurveImmediate,
			RequiresUserAction: true,
		},
		KindStorage: {
			MaxRetries:     3,
			BaseDelay:      500 * time.Millisecond,
			MaxDelay:       5 * time.Second,
			Curve:          CurveExponential,
			SkipSubstrings: []string{"QUOTA_EXCEEDED"},
		},
		KindUnknown: {
			MaxRetries: 0,
			BaseDelay:  0,
			MaxDelay:   0,
			Curve:      CurveImmediate,
		},
	}
}

// historyCap bounds the per-error-subscriber history kept by a Classifier.
const historyCap = 50

// ErrorReport is handed to error subscribers and to the caller's error
// callback on a fatal upload failure.
type ErrorReport struct {
	Err            error
	Kind           Kind
	Severity       Severity
	TimestampMs    int64
	Recommendation string
}

// Classifier wraps the default strategies, an error-history ring, and a
// fan-out to subscribers. It is safe for concurrent use.
type Classifier struct {
	strategies map[Kind]Strategy
	history    []ErrorReport
	subs       []func(ErrorReport)
	nowFunc    func() time.Time
}

// NewClassifier creates a Classifier with the default strategies.
func NewClassifier() *Classifier {
	return &Classifier{
		strategies: DefaultStrategies(),
		nowFunc:    time.Now,
	}
}

// Subscribe registers a callback invoked with every ErrorReport produced by
// HandleError.
func (c *Classifier) Subscribe(fn func(ErrorReport)) {
	c.subs = append(c.subs, fn)
}

// History returns the most recent error reports, oldest first, capped at 50.
func (c *Classifier) History() []ErrorReport {
	out := make([]ErrorReport, len(c.history))
	copy(out, c.history)

	return out
}

// HandleError classifies err, decides whether to retry and after what
// delay, records the report in history, and fans out to subscribers.
// attempt is 1-indexed (the attempt number about to be made, or just made).
func (c *Classifier) HandleError(err error, attempt int, recoverable bool) (shouldRetry bool, delay time.Duration) {
	kind := Classify(err)
	severity := AssessSeverity(kind, attempt, recoverable)

	report := ErrorReport{
		Err:            err,
		Kind:           kind,
		Severity:       severity,
		TimestampMs:    c.nowFunc().UnixMilli(),
		Recommendation: Recommendation(kind),
	}

	c.record(report)

	strat, ok := c.strategies[kind]
	if !ok {
		return false, 0
	}

	if strat.RequiresUserAction {
		return false, 0
	}

	msg := strings.ToUpper(err.Error())
	for _, skip := range strat.SkipSubstrings {
		if strings.Contains(msg, strings.ToUpper(skip)) {
			return false, 0
		}
	}

	if attempt > strat.MaxRetries {
		return false, 0
	}

	return true, Delay(strat.Curve, strat.BaseDelay, strat.MaxDelay, attempt)
}

func (c *Classifier) record(r ErrorReport) {
	c.history = append(c.history, r)
	if len(c.history) > historyCap {
		c.history = c.history[len(c.history)-historyCap:]
	}

	for _, sub := range c.subs {
		sub(r)
	}
}

// Delay computes the backoff for attempt k (1-indexed) under the given
// curve, base, and cap. A ±25% jitter is applied to linear and exponential
// curves, matching the teacher client's calcBackoff.
func Delay(curve Curve, base, maxDelay time.Duration, k int) time.Duration {
	var d time.Duration

	switch curve {
	case CurveImmediate:
		return 0
	case CurveLinear:
		d = base * time.Duration(k)
	case CurveExponential:
		d = time.Duration(float64(base) * math.Pow(2, float64(k-1)))
	case CurveFibonacci:
		d = time.Duration(fibonacci(k)) * base
	default:
		d = base * time.Duration(k)
	}

	if curve == CurveLinear || curve == CurveExponential {
		d = withJitter(d)
	}

	if d > maxDelay {
		d = maxDelay
	}

	if d < 0 {
		d = 0
	}

	return d
}

func withJitter(d time.Duration) time.Duration {
	jitter := float64(d) * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	return time.Duration(float64(d) + jitter)
}

func fibonacci(k int) int {
	if k <= 1 {
		return k
	}

	a, b := 0, 1
	for range k - 1 {
		a, b = b, a+b
	}

	return b
}

// RetryAfterDelay returns the delay implied by a 429 response's Retry-After
// header in seconds, or zero if absent/invalid. Mirrors the teacher
// client's retryBackoff precedence: an explicit Retry-After always wins
// over the computed curve delay.
func RetryAfterDelay(resp *http.Response) time.Duration {
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		return 0
	}

	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0
	}

	seconds, err := strconv.Atoi(ra)
	if err != nil || seconds <= 0 {
		return 0
	}

	return time.Duration(seconds) * time.Second
}
