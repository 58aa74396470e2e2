package httptransport

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/mailgate/internal/domain"
)

// 通用错误消息
const (
	MsgInvalidTTL       = "ttl 必须是正整数（分钟）"
	MsgInvalidAddress   = "邮箱地址格式无效"
	MsgInvalidMessageID = "邮件 ID 无效"

	MsgMailboxCreateFailed = "创建邮箱失败"
	MsgMailboxNotFound     = "邮箱不存在"
	MsgMessageNotFound     = "邮件不存在"
	MsgForbidden           = "无权访问该邮件"
	MsgAddressExhausted    = "暂时无法分配新地址，请稍后重试"
	MsgMessageListFailed   = "获取邮件列表失败"
	MsgMessageGetFailed    = "获取邮件详情失败"
	MsgRouteNotFound       = "接口不存在"

	MsgInternalError = "服务器内部错误，请稍后重试"
)

// errorStatus 把领域错误类别映射为 HTTP 状态码
func errorStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage 返回面向客户端的提示，fallback 用于 5xx
func errorMessage(err error, fallback string) string {
	switch {
	case errors.Is(err, domain.ErrInvalidTTL):
		return MsgInvalidTTL
	case errors.Is(err, domain.ErrInvalidAddress):
		return MsgInvalidAddress
	case errors.Is(err, domain.ErrInvalidMessageID):
		return MsgInvalidMessageID
	case errors.Is(err, domain.ErrMailboxNotFound):
		return MsgMailboxNotFound
	case errors.Is(err, domain.ErrMessageNotFound):
		return MsgMessageNotFound
	case errors.Is(err, domain.ErrForbidden):
		return MsgForbidden
	case errors.Is(err, domain.ErrConflict):
		return MsgAddressExhausted
	default:
		return fallback
	}
}

// respondError 写出错误响应，5xx 同时记录日志
func (h *Handler) respondError(c *gin.Context, err error, fallback string) {
	status := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
	}
	Error(c, status, errorMessage(err, fallback))
}
