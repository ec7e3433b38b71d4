// internal/pkg/breaker/breaker.go
package breaker

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// ErrCircuitOpen 表示熔断器处于打开状态，本次调用未被执行。
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ExecutionFailedError 表示调用已被执行，但下游返回了错误。
type ExecutionFailedError struct {
	Message string
	Err     error
}

func (e *ExecutionFailedError) Error() string {
	return "execution failed: " + e.Message
}

func (e *ExecutionFailedError) Unwrap() error {
	return e.Err
}

// State 是熔断器的状态
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// canTransition 列出状态机允许的全部迁移
func (s State) canTransition(to State) bool {
	switch s {
	case StateClosed:
		return to == StateOpen
	case StateOpen:
		return to == StateHalfOpen
	case StateHalfOpen:
		return to == StateClosed || to == StateOpen
	}
	return false
}

// Config 在构造时固定熔断器的参数。
type Config struct {
	Name                string
	FailureThreshold    int64
	Timeout             time.Duration
	HalfOpenMaxRequests int64

	Now           func() time.Time
	OnStateChange func(name string, from, to State)
}

// Counts 是计数器的快照
type Counts struct {
	Failures  int64
	Successes int64
}

// CircuitBreaker 保护对一个不可靠依赖的调用。
// 状态迁移由 mu 串行化，计数器是无锁原子量。
type CircuitBreaker struct {
	name             string
	failureThreshold int64
	timeout          time.Duration
	halfOpenMax      int64
	now              func() time.Time
	onStateChange    func(name string, from, to State)

	mu          sync.Mutex
	state       State
	lastFailure time.Time

	failures  atomic.Int64
	successes atomic.Int64
}

// New 创建一个熔断器，未设置的参数取默认值 (5 次失败, 60s, 3 次探测成功)。
func New(cfg Config) *CircuitBreaker {
	threshold := cfg.FailureThreshold
	if threshold < 1 {
		threshold = 5
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	halfOpenMax := cfg.HalfOpenMaxRequests
	if halfOpenMax < 1 {
		halfOpenMax = 3
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		name:             cfg.Name,
		failureThreshold: threshold,
		timeout:          timeout,
		halfOpenMax:      halfOpenMax,
		now:              now,
		onStateChange:    cfg.OnStateChange,
		state:            StateClosed,
	}
}

// Call 通过熔断器执行 op。
// 返回 op 的结果；熔断打开时返回 ErrCircuitOpen 且不执行 op；op 失败时返回 *ExecutionFailedError。
func Call[T any](b *CircuitBreaker, op func() (T, error)) (T, error) {
	var zero T
	if b == nil {
		return op()
	}
	if err := b.before(); err != nil {
		return zero, err
	}

	result, err := op()
	if err != nil {
		b.onFailure()
		return zero, &ExecutionFailedError{Message: err.Error(), Err: err}
	}
	b.onSuccess()
	return result, nil
}

// Execute 是 Call 的无返回值版本。
func (b *CircuitBreaker) Execute(fn func() error) error {
	_, err := Call(b, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// Name 返回熔断器名称
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State 返回当前状态
func (b *CircuitBreaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Counts 返回当前计数器
func (b *CircuitBreaker) Counts() Counts {
	return Counts{
		Failures:  b.failures.Load(),
		Successes: b.successes.Load(),
	}
}

// LastFailure 返回最近一次打开熔断的时间
func (b *CircuitBreaker) LastFailure() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastFailure
}

func (b *CircuitBreaker) before() error {
	b.mu.Lock()
	if b.state != StateOpen {
		b.mu.Unlock()
		return nil
	}
	if b.now().Sub(b.lastFailure) <= b.timeout {
		b.mu.Unlock()
		return ErrCircuitOpen
	}
	changed := b.transition(StateHalfOpen)
	b.mu.Unlock()

	if changed {
		b.notify(StateOpen, StateHalfOpen)
	}
	return nil
}

func (b *CircuitBreaker) onSuccess() {
	b.mu.Lock()
	var changed bool
	switch b.state {
	case StateClosed:
		b.failures.Store(0)
	case StateHalfOpen:
		if b.successes.Add(1) >= b.halfOpenMax {
			changed = b.transition(StateClosed)
		}
	}
	b.mu.Unlock()

	if changed {
		b.notify(StateHalfOpen, StateClosed)
	}
}

func (b *CircuitBreaker) onFailure() {
	if b.failures.Add(1) < b.failureThreshold {
		return
	}

	b.mu.Lock()
	from := b.state
	// 并发的成功调用可能已经清零计数，这里以锁内的快照为准
	if from == StateOpen || b.failures.Load() < b.failureThreshold {
		b.mu.Unlock()
		return
	}
	changed := b.transition(StateOpen)
	b.mu.Unlock()

	if changed {
		b.notify(from, StateOpen)
	}
}

// transition 必须在持有 mu 时调用。
func (b *CircuitBreaker) transition(to State) bool {
	if !b.state.canTransition(to) {
		return false
	}
	switch to {
	case StateOpen:
		b.lastFailure = b.now()
		b.successes.Store(0)
	case StateClosed:
		b.failures.Store(0)
		b.successes.Store(0)
	}
	b.state = to
	return true
}

func (b *CircuitBreaker) notify(from, to State) {
	if b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
