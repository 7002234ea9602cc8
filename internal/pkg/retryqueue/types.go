package retryqueue

import (
	"context"
	"errors"
	"time"

	"Parley/internal/pkg/errclass"

	"github.com/goccy/go-json"
)

// OperationType 决定由哪个重放函数处理
type OperationType string

const (
	OpConversationCreate OperationType = "CONVERSATION_CREATE"
	OpMessageSend        OperationType = "MESSAGE_SEND"
	OpStatusUpdate       OperationType = "STATUS_UPDATE"
	OpReadReceipt        OperationType = "READ_RECEIPT"
	OpReadReceiptBatch   OperationType = "READ_RECEIPT_BATCH"
)

var (
	ErrDuplicateProcessor = errors.New("retry queue: processor already registered")
	ErrAlreadyStarted     = errors.New("retry queue: already started")
	ErrItemNotFound       = errors.New("retry queue: item not found")
)

// Item 一条待重放的失败操作
type Item struct {
	ID            uint64          `json:"id"`
	OperationType OperationType   `json:"operationType"`
	Data          json.RawMessage `json:"data"`
	RetryCount    int             `json:"retryCount"`
	Timestamp     time.Time       `json:"timestamp"`
	LastAttempt   time.Time       `json:"lastAttempt,omitempty"`
	LastError     string          `json:"lastError,omitempty"`
}

// Decode 解码 payload
func (it *Item) Decode(v any) error {
	return json.Unmarshal(it.Data, v)
}

// Result 一次重放的结果
type Result int

const (
	Success          Result = iota // 删除
	RetryableFailure               // 保留，retryCount+1
	PermanentFailure               // 删除，不再重试
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case RetryableFailure:
		return "retryable"
	case PermanentFailure:
		return "permanent"
	}
	return "unknown"
}

// ResultFor 重放时只有权限错误丢弃，其余分类一律保留重试
func ResultFor(c errclass.Class) Result {
	if c == errclass.Permission {
		return PermanentFailure
	}
	return RetryableFailure
}

// Processor 重放函数必须幂等，成功未被确认时同一记录会再次交付
type Processor func(ctx context.Context, item *Item) Result

// Storage 按入队顺序持久化记录
type Storage interface {
	// Append assigns the item id and stores it.
	Append(item *Item) (uint64, error)
	// List returns all items ordered by id.
	List() ([]*Item, error)
	Update(item *Item) error
	Delete(id uint64) error
	Len() (int, error)
	Close() error
}

// Enqueuer 服务层只依赖入队能力
type Enqueuer interface {
	Enqueue(ctx context.Context, op OperationType, payload any) (*Item, error)
}
