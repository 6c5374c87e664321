package services

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrorRecoveryManager retries named operations against transient
// failures. Connection setup and other infrastructure calls register a
// policy here; scan-time instrument failures are never retried, they
// are counted by the screener instead.
type ErrorRecoveryManager struct {
	logger        *logrus.Logger
	retryPolicies map[string]*RetryPolicy
	mu            sync.RWMutex
}

// RetryPolicy shapes the backoff schedule for one named operation.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// nextDelay grows the backoff geometrically up to MaxDelay.
func (p *RetryPolicy) nextDelay(current time.Duration) time.Duration {
	next := time.Duration(float64(current) * p.BackoffFactor)
	if next > p.MaxDelay {
		next = p.MaxDelay
	}
	return next
}

// NewErrorRecoveryManager creates a retry manager.
func NewErrorRecoveryManager(logger *logrus.Logger) *ErrorRecoveryManager {
	if logger == nil {
		logger = logrus.New()
	}
	return &ErrorRecoveryManager{
		logger:        logger,
		retryPolicies: make(map[string]*RetryPolicy),
	}
}

// RegisterRetryPolicy registers a retry policy for a named operation.
func (erm *ErrorRecoveryManager) RegisterRetryPolicy(name string, policy *RetryPolicy) {
	erm.mu.Lock()
	defer erm.mu.Unlock()

	erm.retryPolicies[name] = policy
}

// policyFor resolves the registered policy for an operation, falling
// back to a conservative default for unregistered names.
func (erm *ErrorRecoveryManager) policyFor(name string) *RetryPolicy {
	erm.mu.RLock()
	policy := erm.retryPolicies[name]
	erm.mu.RUnlock()

	if policy == nil {
		policy = &RetryPolicy{
			MaxRetries:    3,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		}
	}
	return policy
}

// ExecuteWithRetry runs the operation under the policy registered for
// operationName, backing off between attempts. The context cancels both
// waits and further attempts. The last attempt's error comes back
// unwrapped.
func (erm *ErrorRecoveryManager) ExecuteWithRetry(
	ctx context.Context,
	operationName string,
	operation func() error,
) error {
	policy := erm.policyFor(operationName)
	start := time.Now()

	var lastErr error
	delay := policy.InitialDelay

	for attempt := 1; attempt <= policy.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = operation()
		if lastErr == nil {
			if attempt > 1 {
				erm.logger.WithFields(logrus.Fields{
					"operation": operationName,
					"attempts":  attempt,
					"elapsed":   time.Since(start),
				}).Info("Operation recovered")
			}
			return nil
		}

		if attempt > policy.MaxRetries {
			break
		}

		wait := erm.calculateDelay(delay, policy)
		erm.logger.WithError(lastErr).WithFields(logrus.Fields{
			"operation": operationName,
			"attempt":   attempt,
			"wait":      wait,
		}).Warn("Transient failure, retrying")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay = policy.nextDelay(delay)
	}

	erm.logger.WithError(lastErr).WithFields(logrus.Fields{
		"operation": operationName,
		"attempts":  policy.MaxRetries + 1,
		"elapsed":   time.Since(start),
	}).Error("Retries exhausted")

	return lastErr
}

// calculateDelay spreads concurrent retries out by shifting the base
// delay up to a quarter in either direction.
func (erm *ErrorRecoveryManager) calculateDelay(baseDelay time.Duration, policy *RetryPolicy) time.Duration {
	if !policy.JitterEnabled {
		return baseDelay
	}

	offset := (rand.Float64() - 0.5) * 0.5 * float64(baseDelay)
	return baseDelay + time.Duration(offset)
}

// DefaultRetryPolicies returns retry policies for the operations this
// service performs against its backends.
func DefaultRetryPolicies() map[string]*RetryPolicy {
	return map[string]*RetryPolicy{
		"redis_connect": {
			MaxRetries:    5,
			InitialDelay:  200 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: true,
		},
		"database_statement": {
			MaxRetries:    3,
			InitialDelay:  50 * time.Millisecond,
			MaxDelay:      2 * time.Second,
			BackoffFactor: 1.5,
			JitterEnabled: true,
		},
		"telegram_send": {
			MaxRetries:    2,
			InitialDelay:  500 * time.Millisecond,
			MaxDelay:      3 * time.Second,
			BackoffFactor: 2.0,
			JitterEnabled: false,
		},
	}
}
