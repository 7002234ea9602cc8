package retryqueue

import (
	"context"
	"fmt"
	log "log/slog"
	"sync"
	"time"

	"Parley/internal/pkg/metrics"

	"github.com/goccy/go-json"
)

// DrainStats 一次 Drain 的统计
type DrainStats struct {
	Succeeded int
	Retried   int
	Dropped   int
	Skipped   int
}

// Queue 持久化的失败操作队列及各操作类型的重放函数，由调用方构造并注入
type Queue struct {
	storage Storage

	mu         sync.RWMutex
	processors map[OperationType]Processor

	drainMu sync.Mutex

	interval   time.Duration
	maxRetries int
	now        func() time.Time

	trigger chan struct{}

	lifeMu  sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running bool
}

type Option func(*Queue)

// WithInterval 除手动触发外按固定间隔 Drain
func WithInterval(d time.Duration) Option {
	return func(q *Queue) { q.interval = d }
}

// WithMaxRetries 可重试失败 n 次后丢弃，0 表示不限
func WithMaxRetries(n int) Option {
	return func(q *Queue) { q.maxRetries = n }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(storage Storage, opts ...Option) *Queue {
	q := &Queue{
		storage:    storage,
		processors: make(map[OperationType]Processor),
		now:        time.Now,
		trigger:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// RegisterProcessor 注册操作类型对应的重放函数，每种类型只能注册一次
func (q *Queue) RegisterProcessor(op OperationType, fn Processor) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.processors[op]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateProcessor, op)
	}
	q.processors[op] = fn
	return nil
}

func (q *Queue) processor(op OperationType) Processor {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.processors[op]
}

// Enqueue 持久化一条 retryCount 为 0 的新记录
func (q *Queue) Enqueue(ctx context.Context, op OperationType, payload any) (*Item, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("retry queue: encode %s payload: %w", op, err)
	}
	item := &Item{
		OperationType: op,
		Data:          data,
		RetryCount:    0,
		Timestamp:     q.now(),
	}
	if _, err = q.storage.Append(item); err != nil {
		return nil, err
	}

	metrics.RetryEnqueued.WithLabelValues(string(op)).Inc()
	q.refreshDepth()
	log.InfoContext(ctx, "operation queued for retry", "operation", op, "item_id", item.ID)
	return item, nil
}

// Drain 每条记录交给对应重放函数处理一次，同一时刻只有一个 Drain 在跑
func (q *Queue) Drain(ctx context.Context) (DrainStats, error) {
	q.drainMu.Lock()
	defer q.drainMu.Unlock()
	defer q.refreshDepth()

	var stats DrainStats
	items, err := q.storage.List()
	if err != nil {
		return stats, err
	}

	for _, it := range items {
		if err = ctx.Err(); err != nil {
			return stats, err
		}

		proc := q.processor(it.OperationType)
		if proc == nil {
			stats.Skipped++
			log.WarnContext(ctx, "no processor registered, keeping item", "operation", it.OperationType, "item_id", it.ID)
			continue
		}

		res := q.invoke(ctx, proc, it)
		metrics.RetryProcessed.WithLabelValues(string(it.OperationType), res.String()).Inc()

		switch res {
		case Success:
			stats.Succeeded++
			err = q.storage.Delete(it.ID)
		case PermanentFailure:
			stats.Dropped++
			log.WarnContext(ctx, "dropping item after permanent failure",
				"operation", it.OperationType, "item_id", it.ID, "retry_count", it.RetryCount, "last_error", it.LastError)
			err = q.storage.Delete(it.ID)
		default:
			it.RetryCount++
			it.LastAttempt = q.now()
			if q.maxRetries > 0 && it.RetryCount >= q.maxRetries {
				stats.Dropped++
				log.ErrorContext(ctx, "dropping item, retry limit reached",
					"operation", it.OperationType, "item_id", it.ID, "retry_count", it.RetryCount, "last_error", it.LastError)
				err = q.storage.Delete(it.ID)
				break
			}
			stats.Retried++
			err = q.storage.Update(it)
		}
		if err != nil {
			log.ErrorContext(ctx, "retry queue bookkeeping failed", "item_id", it.ID, "err", err)
		}
	}

	if stats.Succeeded+stats.Retried+stats.Dropped > 0 {
		log.InfoContext(ctx, "retry queue drained",
			"succeeded", stats.Succeeded, "retried", stats.Retried, "dropped", stats.Dropped, "skipped", stats.Skipped)
	}
	return stats, nil
}

func (q *Queue) invoke(ctx context.Context, proc Processor, it *Item) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			log.ErrorContext(ctx, "retry processor panicked", "operation", it.OperationType, "item_id", it.ID, "panic", r)
			it.LastError = fmt.Sprint(r)
			res = RetryableFailure
		}
	}()
	return proc(ctx, it)
}

// Trigger 请求后台循环 Drain（例如网络恢复），未处理的多次触发合并为一次
func (q *Queue) Trigger() {
	select {
	case q.trigger <- struct{}{}:
	default:
	}
}

// Start 启动后台循环，启动时先 Drain 一次以重放上次进程遗留的记录
func (q *Queue) Start(ctx context.Context) error {
	q.lifeMu.Lock()
	defer q.lifeMu.Unlock()
	if q.running {
		return ErrAlreadyStarted
	}
	q.running = true
	q.stopCh = make(chan struct{})

	q.wg.Add(1)
	go q.loop(ctx, q.stopCh)
	q.Trigger()
	log.Info("retry queue started", "interval", q.interval)
	return nil
}

// Stop 结束循环并等待进行中的 Drain，Storage 由持有者关闭
func (q *Queue) Stop() {
	q.lifeMu.Lock()
	if !q.running {
		q.lifeMu.Unlock()
		return
	}
	q.running = false
	close(q.stopCh)
	q.lifeMu.Unlock()

	q.wg.Wait()
	log.Info("retry queue stopped")
}

func (q *Queue) loop(ctx context.Context, stop <-chan struct{}) {
	defer q.wg.Done()

	var tick <-chan time.Time
	if q.interval > 0 {
		ticker := time.NewTicker(q.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-q.trigger:
		case <-tick:
		}
		if _, err := q.Drain(ctx); err != nil && ctx.Err() == nil {
			log.Error("retry queue drain failed", "err", err)
		}
	}
}

// Items 按入队顺序列出待重放记录
func (q *Queue) Items() ([]*Item, error) {
	return q.storage.List()
}

func (q *Queue) Len() (int, error) {
	return q.storage.Len()
}

// Purge 不经处理直接删除记录
func (q *Queue) Purge(id uint64) error {
	defer q.refreshDepth()
	return q.storage.Delete(id)
}

func (q *Queue) refreshDepth() {
	if n, err := q.storage.Len(); err == nil {
		metrics.RetryQueueDepth.Set(float64(n))
	}
}
