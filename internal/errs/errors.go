package errs

import (
	"errors"
	"fmt"
)

// AppError 应用错误类型
// 用于统一管理同步层的业务错误，包含错误码和错误消息
type AppError struct {
	Code    int    // 错误码
	Message string // 用户可见的错误消息
	Err     error  // 原始错误（可选，用于调试）
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 支持 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 创建新错误
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 包装原始错误
func (e *AppError) Wrap(err error) *AppError {
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// Is 判断是否为指定错误
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 获取错误码，如果不是 AppError 返回默认错误码
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 获取错误消息
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "服务器内部错误"
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 快照相关 20000-20999
	CodeSnapshotFailed = 20001
	CodeHistoryLoad    = 20002

	// 发送相关 21000-21999
	CodeSendFailed         = 21001
	CodeSendTimeout        = 21002
	CodeEmptyContent       = 21003
	CodeChannelUnavailable = 21004

	// 状态对账相关 22000-22999
	CodeReconciliationGap  = 22001
	CodeConversationClosed = 22002

	// 通用 23000-23999
	CodeInvalidParams = 23001

	// 系统错误 50000-50999
	CodeServerError = 50001
)

// ============== 预定义错误 ==============

// 快照相关
var (
	ErrSnapshotFailed = NewError(CodeSnapshotFailed, "快照拉取失败")
	ErrHistoryLoad    = NewError(CodeHistoryLoad, "历史消息加载失败")
)

// 发送相关
var (
	ErrSendFailed         = NewError(CodeSendFailed, "消息发送失败")
	ErrSendTimeout        = NewError(CodeSendTimeout, "消息发送超时")
	ErrEmptyContent       = NewError(CodeEmptyContent, "消息内容不能为空")
	ErrChannelUnavailable = NewError(CodeChannelUnavailable, "推送通道未连接")
)

// 状态对账相关
var (
	ErrReconciliationGap  = NewError(CodeReconciliationGap, "事件引用了本地不存在的实体")
	ErrConversationClosed = NewError(CodeConversationClosed, "会话控制器已关闭")
)

// 通用
var (
	ErrInvalidParams = NewError(CodeInvalidParams, "参数校验失败")
	ErrServerError   = NewError(CodeServerError, "服务器内部错误")
)
