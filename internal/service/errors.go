package service

import (
	"errors"
	"fmt"
)

const (
	BadRequest          = 400
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
	ServiceUnavailable  = 503
)

var (
	ErrParamInvalid         = errors.New("参数错误")
	ErrConversationNotFound = errors.New("会话不存在")
	ErrMessageNotFound      = errors.New("消息不存在")
	ErrNotMember            = errors.New("不是会话成员")
	ErrNotAdmin             = errors.New("需要群管理员权限")
	ErrPermissionDenied     = errors.New("权限不足")
	ErrStoreUnavailable     = errors.New("存储暂不可用，请稍后重试")
	ErrUnexpected           = errors.New("系统异常，请稍后重试")
)

// 参数校验错误，均可用 errors.Is(err, ErrParamInvalid) 判断
var (
	ErrTooFewParticipants    = invalid("至少需要两名参与者")
	ErrDirectArity           = invalid("单聊必须恰好两名参与者")
	ErrDuplicateParticipant  = invalid("参与者重复")
	ErrInvalidUserID         = invalid("用户ID不合法")
	ErrInvalidConvType       = invalid("会话类型不合法")
	ErrGroupNameRequired     = invalid("群聊名称不能为空")
	ErrGroupTooLarge         = invalid("群聊人数超过上限")
	ErrMessageEmpty          = invalid("消息内容不能为空")
	ErrMessageTooLong        = invalid("消息内容过长")
	ErrSenderNotMember       = invalid("发送者不在参与者中")
	ErrNotGroup              = invalid("仅群聊支持该操作")
	ErrInvalidFlag           = invalid("会话标记不合法")
	ErrTooManyMessages       = invalid("批量已读消息数量过多")
	ErrCannotRemoveSelf      = invalid("不能移除自己，请使用退出群聊")
	ErrConversationIDMissing = invalid("会话ID不能为空")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrParamInvalid, msg)
}

var ErrorMap = map[error]int{
	ErrParamInvalid:         BadRequest,
	ErrConversationNotFound: NotFound,
	ErrMessageNotFound:      NotFound,
	ErrNotMember:            Forbidden,
	ErrNotAdmin:             Forbidden,
	ErrPermissionDenied:     Forbidden,
	ErrStoreUnavailable:     ServiceUnavailable,
	ErrUnexpected:           InternalServerError,
}

// CodeOf 按 ErrorMap 查找业务码，支持被包装的错误
func CodeOf(err error) (int, bool) {
	for target, code := range ErrorMap {
		if errors.Is(err, target) {
			return code, true
		}
	}
	return 0, false
}

// isDomainError reports errors the services raise themselves. They are final
// and never go through classification.
func isDomainError(err error) bool {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrUnexpected) || errors.Is(err, ErrStoreUnavailable) {
		return false
	}
	_, ok := CodeOf(err)
	return ok
}
