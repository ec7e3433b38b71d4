// internal/service/payment/domain/state.go
package domain

// State 定义了支付的生命周期状态
type State string

const (
	StatePending   State = "PENDING"   // 已受理，尚未得到网关结果，只存在于内存
	StateCompleted State = "COMPLETED" // 网关扣款成功
	StateFailed    State = "FAILED"    // 熔断或网关失败
)

// IsTerminal 报告状态是否为终态
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}
