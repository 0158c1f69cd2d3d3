package feedback

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/rushteam/cropkit/core"
)

// producer 是 KafkaRecorder 用到的 *kgo.Client 方法子集
type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaRecorder Kafka 记录器（生产环境推荐）
// 事件先进入内存缓冲，按批量大小或定时刷新异步发送，不阻塞预测请求。
// Close 会等待所有在途的刷新完成后再关闭客户端。
type KafkaRecorder struct {
	client        producer
	topic         string
	batchSize     int
	flushInterval time.Duration

	mu        sync.Mutex
	buffer    []*core.PredictionEvent
	lastFlush time.Time
	closed    bool
	closeOnce sync.Once
	wg        sync.WaitGroup
	stopCh    chan struct{}
}

// KafkaRecorderConfig Kafka 记录器配置
type KafkaRecorderConfig struct {
	// Kafka 配置
	Brokers []string // Kafka Broker 地址列表
	Topic   string   // Kafka Topic

	// 性能配置
	BatchSize     int           // 批量大小（建议 100-1000）
	FlushInterval time.Duration // 刷新间隔（建议 1-5 秒）

	// Kafka 客户端配置
	ClientID     string // 客户端 ID
	RequiredAcks int16  // 需要的 ACK 数量（1=leader, -1=all）
	Compression  string // 压缩类型（gzip, snappy, lz4, zstd）
	Idempotent   bool   // 是否启用幂等性（要求 acks=all）
	MaxRetries   int    // 最大重试次数
}

// DefaultTopic 默认 Topic
const DefaultTopic = "cropkit-predictions"

// NewKafkaRecorder 创建 Kafka 记录器
func NewKafkaRecorder(config KafkaRecorderConfig) (*KafkaRecorder, error) {
	if len(config.Brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	if config.Topic == "" {
		config.Topic = DefaultTopic
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 1 * time.Second
	}
	if config.ClientID == "" {
		config.ClientID = "cropkit-prediction-recorder"
	}
	if config.RequiredAcks == 0 {
		config.RequiredAcks = 1 // 默认只需要 leader ACK
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = 3
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(config.Brokers...),
		kgo.ClientID(config.ClientID),
	}

	// 幂等写入要求 acks=all
	acks := kgo.LeaderAck()
	if config.Idempotent || config.RequiredAcks == -1 {
		acks = kgo.AllISRAcks()
	}
	opts = append(opts, kgo.RequiredAcks(acks))
	if !config.Idempotent {
		opts = append(opts, kgo.DisableIdempotentWrite())
	}

	if config.MaxRetries > 0 {
		opts = append(opts, kgo.RecordRetries(config.MaxRetries))
	}

	switch config.Compression {
	case "gzip":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.GzipCompression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, err
	}
	return newKafkaRecorder(client, config.Topic, config.BatchSize, config.FlushInterval), nil
}

func newKafkaRecorder(client producer, topic string, batchSize int, flushInterval time.Duration) *KafkaRecorder {
	r := &KafkaRecorder{
		client:        client,
		topic:         topic,
		batchSize:     batchSize,
		flushInterval: flushInterval,
		buffer:        make([]*core.PredictionEvent, 0, batchSize),
		lastFlush:     time.Now(),
		stopCh:        make(chan struct{}),
	}

	r.wg.Add(1)
	go r.flushLoop()

	return r
}

// Record 异步记录一次预测（不阻塞）
func (r *KafkaRecorder) Record(ctx context.Context, event *core.PredictionEvent) error {
	if event == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.buffer = append(r.buffer, event)

	// 达到批量大小，触发发送。closed 在持锁时检查，Close 开始 Wait 之后不会再有 Add
	if len(r.buffer) >= r.batchSize {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.flush()
		}()
	}
	return nil
}

// flushLoop 定时刷新循环
func (r *KafkaRecorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			shouldFlush := len(r.buffer) > 0 && time.Since(r.lastFlush) >= r.flushInterval
			r.mu.Unlock()

			if shouldFlush {
				r.flush()
			}
		case <-r.stopCh:
			return
		}
	}
}

// flush 刷新缓冲到 Kafka
func (r *KafkaRecorder) flush() {
	r.mu.Lock()
	if len(r.buffer) == 0 {
		r.mu.Unlock()
		return
	}

	events := make([]*core.PredictionEvent, len(r.buffer))
	copy(events, r.buffer)
	r.buffer = r.buffer[:0]
	r.lastFlush = time.Now()
	r.mu.Unlock()

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("[feedback] marshal event %s: %v", event.ID, err)
			continue
		}

		// 以操作名为 Key，同类事件落在同一分区
		record := &kgo.Record{
			Topic: r.topic,
			Key:   []byte(event.Op),
			Value: data,
		}
		r.client.Produce(context.Background(), record, func(rec *kgo.Record, err error) {
			if err != nil {
				log.Printf("[feedback] produce to %s: %v", rec.Topic, err)
			}
		})
	}
}

// Close 优雅关闭（等待缓冲数据发送完成）
func (r *KafkaRecorder) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.mu.Unlock()

		close(r.stopCh)
		r.wg.Wait()

		// 最后一次刷新，并等待在途消息
		r.flush()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = r.client.Flush(ctx)

		r.client.Close()
	})
	return err
}

var _ core.Recorder = (*KafkaRecorder)(nil)
