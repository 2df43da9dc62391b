package events

import (
	"errors"

	"PPRelay/logger"
	"PPRelay/tools/errs"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// TopicSpec is the desired shape of the event topic.
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
}

func (s *TopicSpec) norm() {
	if s.Partitions <= 0 {
		s.Partitions = 1
	}
	if s.ReplicationFactor <= 0 {
		s.ReplicationFactor = 1
	}
}

// EnsureTopic creates the topic when missing and grows its partition count when
// it is below the requested count. Kafka cannot shrink partitions, so a larger topic is left alone.
func EnsureTopic(admin sarama.ClusterAdmin, spec TopicSpec) error {
	spec.norm()
	descs, err := admin.DescribeTopics([]string{spec.Name})
	if err != nil {
		return errs.WrapMsg(err, "describe topic", "topic", spec.Name)
	}
	exists := len(descs) == 1 && descs[0].Err == sarama.ErrNoError

	if !exists {
		minISR := "1"
		if spec.ReplicationFactor >= 3 {
			minISR = "2"
		}
		detail := &sarama.TopicDetail{
			NumPartitions:     spec.Partitions,
			ReplicationFactor: spec.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"cleanup.policy":                 strPtr("delete"),
				"min.insync.replicas":            strPtr(minISR),
				"unclean.leader.election.enable": strPtr("false"),
			},
		}
		if err := admin.CreateTopic(spec.Name, detail, false); err != nil {
			var te *sarama.TopicError
			if (errors.As(err, &te) && te.Err == sarama.ErrTopicAlreadyExists) || errors.Is(err, sarama.ErrTopicAlreadyExists) {
				logger.Info("[Kafka] topic exists (race)", zap.String("topic", spec.Name))
				return nil
			}
			return errs.WrapMsg(err, "create topic", "topic", spec.Name)
		}
		logger.Info("[Kafka] topic created", zap.String("topic", spec.Name),
			zap.Int32("partitions", spec.Partitions), zap.Int16("rf", spec.ReplicationFactor))
		return nil
	}

	cur := int32(len(descs[0].Partitions))
	if spec.Partitions > cur {
		if err := admin.CreatePartitions(spec.Name, spec.Partitions, nil, false); err != nil {
			return errs.WrapMsg(err, "expand partitions", "topic", spec.Name, "from", cur, "to", spec.Partitions)
		}
		logger.Info("[Kafka] partitions expanded", zap.String("topic", spec.Name),
			zap.Int32("from", cur), zap.Int32("to", spec.Partitions))
	}
	return nil
}

func strPtr(s string) *string { return &s }
