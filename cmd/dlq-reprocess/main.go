package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/DarkDragonEl/commerce-sub000/internal/messaging/kafka"
)

// dlq-reprocess читает записи из Dead Letter Queue и переотправляет исходные
// сообщения в их оригинальные topics с увеличенным счётчиком retry.
func main() {
	var (
		brokersFlag string
		limit       int
		dryRun      bool
		idleTimeout time.Duration
	)

	flag.StringVar(&brokersFlag, "brokers", "", "Kafka brokers, comma-separated (fallback: CS_KAFKA_BROKERS)")
	flag.IntVar(&limit, "limit", 0, "max messages to reprocess (0 = until queue drains)")
	flag.BoolVar(&dryRun, "dry-run", false, "print DLQ records without republishing")
	flag.DurationVar(&idleTimeout, "idle-timeout", 5*time.Second, "stop after this long without new DLQ messages")
	flag.Parse()

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	if brokersFlag == "" {
		brokersFlag = os.Getenv("CS_KAFKA_BROKERS")
	}
	if brokersFlag == "" {
		fail("CS_KAFKA_BROKERS (or -brokers) is required")
	}

	brokers := make([]string, 0, 2)
	for _, broker := range strings.Split(brokersFlag, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}

	consumer, err := sarama.NewConsumer(brokers, sarama.NewConfig())
	if err != nil {
		fail("create kafka consumer: %v", err)
	}
	defer consumer.Close()

	var producer *kafka.Producer
	if !dryRun {
		producer, err = kafka.NewProducer(brokers)
		if err != nil {
			fail("create kafka producer: %v", err)
		}
		defer producer.Close()
	}

	partitions, err := consumer.Partitions(kafka.TopicDeadLetterQueue)
	if err != nil {
		fail("list dlq partitions: %v", err)
	}

	reprocessed := 0
	for _, partition := range partitions {
		if limit > 0 && reprocessed >= limit {
			break
		}
		n, err := drainPartition(consumer, producer, partition, limit, reprocessed, dryRun, idleTimeout)
		if err != nil {
			fail("drain partition %d: %v", partition, err)
		}
		reprocessed += n
	}

	fmt.Printf("dlq reprocess done: %d message(s)\n", reprocessed)
}

func drainPartition(consumer sarama.Consumer, producer *kafka.Producer, partition int32, limit, already int, dryRun bool, idleTimeout time.Duration) (int, error) {
	pc, err := consumer.ConsumePartition(kafka.TopicDeadLetterQueue, partition, sarama.OffsetOldest)
	if err != nil {
		return 0, err
	}
	defer pc.Close()

	count := 0
	for {
		if limit > 0 && already+count >= limit {
			return count, nil
		}

		select {
		case message := <-pc.Messages():
			if message == nil {
				return count, nil
			}

			record, err := kafka.ParseDLQRecord(message)
			if err != nil {
				log.WithError(err).WithField("offset", message.Offset).Warn("skipping unparseable dlq record")
				continue
			}

			if dryRun {
				fmt.Printf("dlq offset=%d topic=%s key=%s error=%q retry_count=%d\n",
					message.Offset, record.OriginalTopic, record.OriginalKey, record.ErrorMessage, record.RetryCount)
				count++
				continue
			}

			headers := []sarama.RecordHeader{
				{Key: []byte(kafka.HeaderRetryCount), Value: []byte(strconv.Itoa(record.RetryCount + 1))},
				{Key: []byte(kafka.HeaderOriginalTopic), Value: []byte(record.OriginalTopic)},
			}
			if err := producer.PublishRaw(record.OriginalTopic, record.OriginalKey, []byte(record.OriginalValue), headers); err != nil {
				return count, fmt.Errorf("republish to %s: %w", record.OriginalTopic, err)
			}

			log.WithFields(log.Fields{
				"topic":       record.OriginalTopic,
				"key":         record.OriginalKey,
				"retry_count": record.RetryCount + 1,
			}).Info("dlq message republished")
			count++

		case <-time.After(idleTimeout):
			return count, nil
		}
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
