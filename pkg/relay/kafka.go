package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/tokmz/qiws/pkg/logger"
	"go.uber.org/zap"
)

// KafkaConfig Kafka Broker 配置
type KafkaConfig struct {
	Brokers  []string      `mapstructure:"brokers"`   // broker 地址列表
	Topic    string        `mapstructure:"topic"`     // 转发主题
	ClientID string        `mapstructure:"client_id"` // 客户端标识
	Timeout  time.Duration `mapstructure:"timeout"`   // 网络超时
}

// DefaultKafkaConfig 返回默认 Kafka 配置
func DefaultKafkaConfig() *KafkaConfig {
	return &KafkaConfig{
		Brokers:  []string{"localhost:9092"},
		Topic:    "qiws.relay",
		ClientID: "qiws",
		Timeout:  10 * time.Second,
	}
}

// Validate 校验配置
func (c *KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("%w: kafka brokers is required", ErrInvalidConfig)
	}
	if c.Topic == "" {
		return fmt.Errorf("%w: kafka topic is required", ErrInvalidConfig)
	}
	return nil
}

// saramaConfig 构建 sarama 配置
func (c *KafkaConfig) saramaConfig() *sarama.Config {
	sc := sarama.NewConfig()
	if c.ClientID != "" {
		sc.ClientID = c.ClientID
	}
	if c.Timeout > 0 {
		sc.Net.DialTimeout = c.Timeout
		sc.Net.ReadTimeout = c.Timeout
		sc.Net.WriteTimeout = c.Timeout
	}
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForLocal
	sc.Consumer.Offsets.Initial = sarama.OffsetNewest
	return sc
}

// KafkaBroker 基于 Kafka 主题的 Broker
// 每个节点从最新位点消费全部分区，因此每条信封会到达所有节点
type KafkaBroker struct {
	config   *KafkaConfig
	sc       *sarama.Config
	producer sarama.SyncProducer
	logger   logger.Logger

	closeOnce sync.Once
	done      chan struct{}
}

var _ Broker = (*KafkaBroker)(nil)

// NewKafkaBroker 创建 Kafka Broker
func NewKafkaBroker(cfg *KafkaConfig, opts ...BrokerOption) (*KafkaBroker, error) {
	if cfg == nil {
		cfg = DefaultKafkaConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sc := cfg.saramaConfig()
	producer, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("relay: create kafka producer: %w", err)
	}

	return &KafkaBroker{
		config:   cfg,
		sc:       sc,
		producer: producer,
		logger:   newBrokerOptions(opts).logger,
		done:     make(chan struct{}),
	}, nil
}

// Publish 实现 Broker，以端点为分区键
func (b *KafkaBroker) Publish(_ context.Context, env Envelope) error {
	select {
	case <-b.done:
		return ErrBrokerClosed
	default:
	}

	data, err := Encode(env)
	if err != nil {
		return err
	}
	_, _, err = b.producer.SendMessage(&sarama.ProducerMessage{
		Topic: b.config.Topic,
		Key:   sarama.StringEncoder(env.Endpoint),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

// Subscribe 实现 Broker
func (b *KafkaBroker) Subscribe(ctx context.Context, handler Handler) error {
	consumer, err := sarama.NewConsumer(b.config.Brokers, b.sc)
	if err != nil {
		return fmt.Errorf("relay: create kafka consumer: %w", err)
	}
	defer consumer.Close()

	partitions, err := consumer.Partitions(b.config.Topic)
	if err != nil {
		return fmt.Errorf("relay: list kafka partitions: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, partition := range partitions {
		pc, err := consumer.ConsumePartition(b.config.Topic, partition, sarama.OffsetNewest)
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("relay: consume partition %d: %w", partition, err)
		}

		wg.Add(1)
		go func(pc sarama.PartitionConsumer) {
			defer wg.Done()
			defer pc.Close()
			for {
				select {
				case <-ctx.Done():
					return
				case msg, ok := <-pc.Messages():
					if !ok {
						return
					}
					env, ok := decode(b.logger, "kafka", msg.Value,
						zap.String("topic", msg.Topic),
						zap.Int32("partition", msg.Partition),
						zap.Int64("offset", msg.Offset),
					)
					if ok {
						handler(ctx, env)
					}
				}
			}
		}(pc)
	}

	select {
	case <-ctx.Done():
		err = ctx.Err()
	case <-b.done:
		err = ErrBrokerClosed
	}
	cancel()
	wg.Wait()
	return err
}

// Close 实现 Broker
func (b *KafkaBroker) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.done)
		err = b.producer.Close()
	})
	return err
}
