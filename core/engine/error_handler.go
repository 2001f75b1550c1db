package engine

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 媒体索引查询错误
	ErrorTypeIndexLookup ErrorType = "INDEX_LOOKUP"
	// 标记读写错误
	ErrorTypeMarker ErrorType = "MARKER"
	// 压缩执行错误
	ErrorTypeCompression ErrorType = "COMPRESSION"
	// 历史库错误
	ErrorTypeHistory ErrorType = "HISTORY"
	// 配置错误
	ErrorTypeConfiguration ErrorType = "CONFIGURATION"
	// 未知错误
	ErrorTypeUnknown ErrorType = "UNKNOWN"
)

// ErrorSeverity 定义错误严重程度
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "LOW"
	SeverityMedium   ErrorSeverity = "MEDIUM"
	SeverityHigh     ErrorSeverity = "HIGH"
	SeverityCritical ErrorSeverity = "CRITICAL"
)

// FotoError 增强的错误结构
type FotoError struct {
	Type       ErrorType     `json:"type"`
	Severity   ErrorSeverity `json:"severity"`
	Message    string        `json:"message"`
	Operation  string        `json:"operation"`
	ItemKey    string        `json:"item_key,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
	StackTrace string        `json:"stack_trace,omitempty"`
	Cause      error         `json:"-"`
	Retryable  bool          `json:"retryable"`
}

// Error 实现error接口
func (fe *FotoError) Error() string {
	var builder strings.Builder
	builder.WriteString("[")
	builder.WriteString(string(fe.Type))
	builder.WriteString(":")
	builder.WriteString(string(fe.Severity))
	builder.WriteString("] ")
	builder.WriteString(fe.Message)
	builder.WriteString(" (operation: ")
	builder.WriteString(fe.Operation)
	if fe.ItemKey != "" {
		builder.WriteString(", item: ")
		builder.WriteString(fe.ItemKey)
	}
	builder.WriteString(")")
	return builder.String()
}

// Unwrap 支持错误链
func (fe *FotoError) Unwrap() error {
	return fe.Cause
}

// ErrorHandler 统一的错误处理器
type ErrorHandler struct {
	logger       *zap.Logger
	errorCounter map[string]int
	mutex        sync.Mutex
}

// NewErrorHandler 创建新的错误处理器
func NewErrorHandler(logger *zap.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:       logger,
		errorCounter: make(map[string]int),
	}
}

// WrapError 统一的错误包装函数
func (eh *ErrorHandler) WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s failed: %w", operation, err)
}

// NewTypedError 创建类型化错误并记录日志
func (eh *ErrorHandler) NewTypedError(errorType ErrorType, severity ErrorSeverity, operation, message string, cause error) *FotoError {
	fe := &FotoError{
		Type:      errorType,
		Severity:  severity,
		Message:   message,
		Operation: operation,
		Timestamp: time.Now(),
		Cause:     cause,
		Retryable: eh.isRetryable(errorType, cause),
	}

	// 只在Critical级别错误时添加堆栈跟踪，减少日志污染
	if severity == SeverityCritical {
		fe.StackTrace = eh.getStackTrace()
	}

	eh.mutex.Lock()
	eh.errorCounter[string(errorType)+"_"+operation]++
	eh.mutex.Unlock()

	eh.logError(fe)
	return fe
}

// isRetryable 判断错误是否可重试
func (eh *ErrorHandler) isRetryable(errorType ErrorType, cause error) bool {
	if cause == nil {
		return false
	}

	switch errorType {
	case ErrorTypeIndexLookup, ErrorTypeMarker:
		// 临时I/O错误通常可重试，条目不存在或无权限不可重试
		return !os.IsNotExist(cause) && !os.IsPermission(cause)
	case ErrorTypeCompression:
		return true
	default:
		return false
	}
}

// getStackTrace 获取堆栈跟踪
func (eh *ErrorHandler) getStackTrace() string {
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// logError 记录错误日志
func (eh *ErrorHandler) logError(fe *FotoError) {
	fields := []zap.Field{
		zap.String("error_type", string(fe.Type)),
		zap.String("operation", fe.Operation),
	}

	if fe.Severity == SeverityCritical {
		fields = append(fields,
			zap.String("severity", string(fe.Severity)),
			zap.Bool("retryable", fe.Retryable),
			zap.Time("timestamp", fe.Timestamp),
		)
		if fe.ItemKey != "" {
			fields = append(fields, zap.String("item_key", fe.ItemKey))
		}
		if fe.Cause != nil {
			fields = append(fields, zap.Error(fe.Cause))
		}
		eh.logger.Error(fe.Message, fields...)
		return
	}

	eh.logger.Warn(fe.Message, fields...)
}

// GetErrorStats 获取错误统计
func (eh *ErrorHandler) GetErrorStats() map[string]int {
	eh.mutex.Lock()
	defer eh.mutex.Unlock()

	stats := make(map[string]int, len(eh.errorCounter))
	for k, v := range eh.errorCounter {
		stats[k] = v
	}
	return stats
}
