package mq

import (
	"tokenledger/internal/config"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

// Publisher 账本事件投递
type Publisher interface {
	SendMessage(topic, key, value string) error
	Close() error
}

type KafkaPublisher struct {
	producer sarama.SyncProducer
}

func NewKafkaPublisher(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

// ProducerConfig 生产者配置：等待所有副本确认，幂等写入
func ProducerConfig() *sarama.Config {
	kafkaConfig := sarama.NewConfig()
	kafkaConfig.Version = sarama.V2_1_0_0
	kafkaConfig.Producer.RequiredAcks = sarama.WaitForAll
	kafkaConfig.Producer.Retry.Max = 3
	kafkaConfig.Producer.Return.Successes = true
	kafkaConfig.Producer.Idempotent = true
	kafkaConfig.Net.MaxOpenRequests = 1
	return kafkaConfig
}

// InitKafka 初始化 Kafka 生产者
func InitKafka(cfg *config.KafkaConfig) *KafkaPublisher {
	producer, err := sarama.NewSyncProducer(cfg.Brokers, ProducerConfig())
	if err != nil {
		log.WithError(err).WithField("brokers", cfg.Brokers).Fatal("创建 Kafka 生产者失败")
	}

	log.Info("Kafka 生产者创建成功")
	return NewKafkaPublisher(producer)
}

// SendMessage 发送消息到 Kafka，key 保证同一实体的事件落在同一分区
func (p *KafkaPublisher) SendMessage(topic, key, value string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.StringEncoder(value),
	}

	_, _, err := p.producer.SendMessage(msg)
	return err
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// LogPublisher Kafka 未启用时只记录日志，消息仍会被标记为已发送
type LogPublisher struct{}

func (LogPublisher) SendMessage(topic, key, value string) error {
	log.WithFields(log.Fields{
		"topic": topic,
		"key":   key,
	}).Debug(value)
	return nil
}

func (LogPublisher) Close() error { return nil }
