package kafka

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

type TopicAdminConfig struct {
	Brokers  []string
	ClientID string
}

// ingestRetention keeps unprocessed news batches for a week so a stalled
// consumer can catch up without re-uploading.
const ingestRetention = 7 * 24 * time.Hour

// EnsureTopic creates the ingest topic if it does not exist yet.
func EnsureTopic(cfg TopicAdminConfig, topic string, partitions int32, replicationFactor int16) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("kafka brokers is empty")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("kafka topic is empty")
	}
	if partitions <= 0 {
		partitions = 1
	}
	if replicationFactor <= 0 {
		replicationFactor = 1
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = strings.TrimSpace(cfg.ClientID)

	admin, err := sarama.NewClusterAdmin(cfg.Brokers, sc)
	if err != nil {
		return err
	}
	defer admin.Close()

	existing, err := admin.ListTopics()
	if err != nil {
		return err
	}
	if _, ok := existing[topic]; ok {
		return nil
	}

	retention := strconv.FormatInt(ingestRetention.Milliseconds(), 10)
	detail := &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: replicationFactor,
		ConfigEntries: map[string]*string{
			"retention.ms": &retention,
		},
	}
	if err := admin.CreateTopic(topic, detail, false); err != nil {
		if errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return nil
		}
		return err
	}
	return nil
}
