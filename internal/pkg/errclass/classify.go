package errclass

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// Class 错误分类，是所有重试决策唯一依据
type Class string

const (
	Permission Class = "permission"
	Network    Class = "network"
	Quota      Class = "quota"
	Unknown    Class = "unknown"
)

// Retryable reports whether failures of this class are worth replaying later.
func (c Class) Retryable() bool {
	return c == Network || c == Quota
}

// Code is a store-neutral status code. Errors that carry one implement Coder.
type Code string

const (
	CodePermissionDenied  Code = "permission-denied"
	CodeUnauthenticated   Code = "unauthenticated"
	CodeUnavailable       Code = "unavailable"
	CodeCanceled          Code = "cancelled"
	CodeDeadlineExceeded  Code = "deadline-exceeded"
	CodeResourceExhausted Code = "resource-exhausted"
)

type Coder interface {
	error
	Code() Code
}

// CodeError is the simplest Coder.
type CodeError struct {
	C   Code
	Msg string
}

func (e *CodeError) Error() string {
	if e.Msg == "" {
		return string(e.C)
	}
	return string(e.C) + ": " + e.Msg
}

func (e *CodeError) Code() Code { return e.C }

// New builds a CodeError.
func New(code Code, msg string) error {
	return &CodeError{C: code, Msg: msg}
}

// mongo server error codes
var (
	permissionCodes = []int{
		13, // Unauthorized
		18, // AuthenticationFailed
	}
	networkCodes = []int{
		6,     // HostUnreachable
		7,     // HostNotFound
		50,    // MaxTimeMSExpired
		89,    // NetworkTimeout
		91,    // ShutdownInProgress
		112,   // WriteConflict
		189,   // PrimarySteppedDown
		262,   // ExceededTimeLimit
		9001,  // SocketException
		10107, // NotWritablePrimary
		11600, // InterruptedAtShutdown
		11602, // InterruptedDueToReplStateChange
		13435, // NotPrimaryNoSecondaryOk
		13436, // NotPrimaryOrSecondary
	}
	quotaCodes = []int{
		146,   // ExceededMemoryLimit
		14031, // OutOfDiskSpace
		12501, // QuotaExceeded
	}
)

// Classify 把存储层的任意错误映射到四类之一
func Classify(err error) Class {
	if err == nil {
		return Unknown
	}

	var coder Coder
	if errors.As(err, &coder) {
		switch coder.Code() {
		case CodePermissionDenied, CodeUnauthenticated:
			return Permission
		case CodeUnavailable, CodeCanceled, CodeDeadlineExceeded:
			return Network
		case CodeResourceExhausted:
			return Quota
		}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return Network
	}

	if c, ok := classifyMongo(err); ok {
		return c
	}

	return classifyMessage(err.Error())
}

func classifyMongo(err error) (Class, bool) {
	var se mongo.ServerError
	if errors.As(err, &se) {
		for _, code := range permissionCodes {
			if se.HasErrorCode(code) {
				return Permission, true
			}
		}
		for _, code := range quotaCodes {
			if se.HasErrorCode(code) {
				return Quota, true
			}
		}
		for _, code := range networkCodes {
			if se.HasErrorCode(code) {
				return Network, true
			}
		}
		if se.HasErrorLabel("TransientTransactionError") ||
			se.HasErrorLabel("UnknownTransactionCommitResult") {
			return Network, true
		}
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return Network, true
	}

	var sse topology.ServerSelectionError
	if errors.As(err, &sse) {
		return Network, true
	}
	return "", false
}

func classifyMessage(msg string) Class {
	msg = strings.ToLower(msg)
	switch {
	case strings.Contains(msg, "network"), strings.Contains(msg, "offline"),
		strings.Contains(msg, "unavailable"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "connection"):
		return Network
	}
	return Unknown
}
