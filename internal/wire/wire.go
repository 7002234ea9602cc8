package wire

import (
	"Parley/internal/api"
	"Parley/internal/api/config"
	"Parley/internal/api/handler"
	"Parley/internal/job"
	"Parley/internal/pkg/cron"
	"Parley/internal/pkg/kafka"
	mongoRepo "Parley/internal/pkg/mongo"
	"Parley/internal/pkg/redis"
	"Parley/internal/pkg/retryqueue"
	"Parley/internal/repository"
	"Parley/internal/repository/memrepo"
	"Parley/internal/service"
	log "log/slog"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/mongo"
)

// ApplicationContainer 封装了应用运行所需的所有顶级组件
type ApplicationContainer struct {
	Router       *gin.Engine
	Queue        *retryqueue.Queue
	Storage      retryqueue.Storage
	CronMgr      *cron.Manager
	KafkaManager *kafka.ConsumerManager
	Producer     *kafka.MessageProducer
}

// Close 释放队列存储与 Kafka 生产者，在 Queue.Stop 之后调用
func (s *ApplicationContainer) Close() {
	if s.Producer != nil {
		if err := s.Producer.Close(); err != nil {
			log.Error("Failed to close kafka producer", "err", err)
		}
	}
	if err := s.Storage.Close(); err != nil {
		log.Error("Failed to close retry queue storage", "err", err)
	}
}

// BuildApplication db 为 nil 时使用进程内存储（本地开发）
func BuildApplication(cfg *config.Config, db *mongo.Database) (*ApplicationContainer, error) {
	var chatRepo repository.ChatRepo
	var settingsRepo repository.SettingsRepo
	if db != nil {
		chatRepo = mongoRepo.NewChatRepo(db)
		settingsRepo = mongoRepo.NewSettingsRepo(db)
	} else {
		log.Warn("mongo not configured, using in-memory store")
		chatRepo = memrepo.New()
		settingsRepo = memrepo.NewSettings()
	}
	if redis.Rdb != nil {
		settingsRepo = redis.NewCachedSettingsRepo(settingsRepo, cfg.Redis.ReceiptCacheTTL)
	}

	storage, err := openStorage(cfg.RetryQueue)
	if err != nil {
		return nil, err
	}
	queue := retryqueue.New(storage,
		retryqueue.WithInterval(cfg.RetryQueue.Interval),
		retryqueue.WithMaxRetries(cfg.RetryQueue.MaxRetries),
	)

	app := &ApplicationContainer{Queue: queue, Storage: storage}

	var notifiers service.Notifiers
	if redis.Rdb != nil {
		notifiers = append(notifiers, service.NewRedisNotifier())
	}
	if len(cfg.Kafka.Brokers) > 0 {
		app.Producer, err = kafka.NewMessageProducer(cfg.Kafka, cfg.KafkaMessageEvents.Topic)
		if err != nil {
			app.Close()
			return nil, err
		}
		notifiers = append(notifiers, service.NewStreamNotifier(app.Producer))

		app.KafkaManager, err = kafka.NewConsumerManager(cfg, chatRepo)
		if err != nil {
			app.Close()
			return nil, err
		}
	}

	limits := service.ChatLimits{MaxGroupSize: cfg.Chat.MaxGroupSize, MaxMessageLength: cfg.Chat.MaxMessageLength}
	convService := service.NewConversationService(chatRepo, queue, notifiers, limits)
	statusService := service.NewStatusService(chatRepo, settingsRepo, queue, notifiers)
	receiptService := service.NewReceiptService(chatRepo, settingsRepo, queue, notifiers, cfg.RetryQueue.BatchFallbackAfter)

	for _, reg := range []func(*retryqueue.Queue) error{
		convService.RegisterProcessors,
		statusService.RegisterProcessors,
		receiptService.RegisterProcessors,
	} {
		if err = reg(queue); err != nil {
			app.Close()
			return nil, err
		}
	}

	handlers := &api.HandlersGroup{
		IMHandler:         handler.NewIMHandler(convService, statusService, receiptService),
		RetryQueueHandler: handler.NewRetryQueueHandler(queue),
	}
	app.Router = api.SetupRouter(handlers)

	retryDrainJob := job.NewRetryDrainJob(queue, cfg.RetryQueue.Interval)
	app.CronMgr = cron.NewCronManager(retryDrainJob, cfg.RetryQueue.DrainCron)

	return app, nil
}

func openStorage(cfg config.RetryQueueConfig) (retryqueue.Storage, error) {
	if cfg.Path == "" {
		log.Warn("retry_queue.path is empty, queued operations will not survive restarts")
		return retryqueue.NewMemoryStorage(), nil
	}
	return retryqueue.OpenPebbleStorage(cfg.Path, cfg.SyncWrites)
}
