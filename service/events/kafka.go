package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"PPRelay/tools/errs"

	"github.com/Shopify/sarama"
)

type KafkaConfig struct {
	Brokers     []string `mapstructure:"brokers"`
	Topic       string   `mapstructure:"topic"`
	Version     string   `mapstructure:"version"`
	Compression string   `mapstructure:"compression"`
	Retries     int      `mapstructure:"retries"`

	// EnsureTopic creates or grows the topic on startup.
	EnsureTopic       bool  `mapstructure:"ensure_topic"`
	Partitions        int32 `mapstructure:"partitions"`
	ReplicationFactor int16 `mapstructure:"replication_factor"`
}

// BuildProducerConfig 同步生产者配置；Key=room id 决定分区，保证同一会话事件有序。
func BuildProducerConfig(cfg KafkaConfig) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if cfg.Version != "" {
		v, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, errs.ErrArgs.WrapMsg("kafka version", "version", cfg.Version)
		}
		sc.Version = v
	}
	sc.ClientID = "pprelay"
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}
	sc.Producer.Retry.Max = cfg.Retries
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	switch strings.ToLower(cfg.Compression) {
	case "snappy":
		sc.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		sc.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		sc.Producer.Compression = sarama.CompressionZSTD
	default:
		sc.Producer.Compression = sarama.CompressionNone
	}
	sc.Net.DialTimeout = 10 * time.Second
	sc.Net.WriteTimeout = 30 * time.Second
	return sc, nil
}

type kafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaSink(cfg KafkaConfig) (Sink, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errs.ErrArgs.WrapMsg("kafka brokers and topic are required")
	}
	sc, err := BuildProducerConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.EnsureTopic {
		admin, err := sarama.NewClusterAdmin(cfg.Brokers, sc)
		if err != nil {
			return nil, errs.WrapMsg(err, "kafka admin", "brokers", cfg.Brokers)
		}
		err = EnsureTopic(admin, TopicSpec{Name: cfg.Topic, Partitions: cfg.Partitions, ReplicationFactor: cfg.ReplicationFactor})
		_ = admin.Close()
		if err != nil {
			return nil, err
		}
	}
	p, err := sarama.NewSyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, errs.WrapMsg(err, "kafka producer", "brokers", cfg.Brokers)
	}
	return NewKafkaSinkFromProducer(p, cfg.Topic), nil
}

func NewKafkaSinkFromProducer(p sarama.SyncProducer, topic string) Sink {
	return &kafkaSink{producer: p, topic: topic}
}

func (s *kafkaSink) Send(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return errs.WrapMsg(err, "marshal event")
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(ev.ChatRoomID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("kind"), Value: []byte(ev.Kind)},
		},
	})
	if err != nil {
		return errs.WrapMsg(err, "kafka send", "topic", s.topic)
	}
	return nil
}

func (s *kafkaSink) Close() error {
	return s.producer.Close()
}
