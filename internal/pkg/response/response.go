package response

import (
	"Parley/internal/api/dto"
	"Parley/internal/service"
	"errors"
	"fmt"
	log "log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

const (
	Ok                  = 200
	BadRequest          = 400
	Unauthorized        = 401
	Forbidden           = 403
	NotFound            = 404
	InternalServerError = 500
	ServiceUnavailable  = 503
)

// Success 成功返回封装
func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, dto.Response{
		Code:    Ok,
		Message: "success",
		Data:    data,
	})
}

// Fail 失败返回封装
func Fail(c *gin.Context, businessCode int, message string) {
	c.JSON(http.StatusOK, dto.Response{
		Code:    businessCode,
		Message: message,
		Data:    nil,
	})
}

// BindError 请求体绑定失败，校验错误返回第一个失败字段
func BindError(c *gin.Context, err error) {
	var ve validator.ValidationErrors
	if errors.As(err, &ve) && len(ve) > 0 {
		Fail(c, BadRequest, fmt.Sprintf("字段 [%s] 校验失败，规则 [%s]", ve[0].Field(), ve[0].Tag()))
		return
	}

	var unmarshalTypeError *json.UnmarshalTypeError
	if errors.As(err, &unmarshalTypeError) {
		Fail(c, BadRequest, "Json错误")
		return
	}

	Fail(c, BadRequest, service.ErrParamInvalid.Error())
}

// Error 处理业务错误，业务码取自 service.ErrorMap，支持包装后的错误
func Error(c *gin.Context, err error) {
	code, ok := service.CodeOf(err)
	switch {
	case !ok || code == InternalServerError:
		log.ErrorContext(c, "Error", "err", err)
		Fail(c, InternalServerError, service.ErrUnexpected.Error())
	case code == ServiceUnavailable:
		log.WarnContext(c, "store unavailable", "err", err)
		Fail(c, code, service.ErrStoreUnavailable.Error())
	default:
		Fail(c, code, err.Error())
	}
}
