// pool-producer publishes synthetic prediction submissions to the Kafka
// ingestion topic. Useful for load testing the consumer path and for seeding
// a development pool with plausible data. User ids need no prior setup: the
// consumer path provisions a default profile on first contact.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// PredictionSubmission mirrors the consumer's wire format
type PredictionSubmission struct {
	UserID     string `json:"user_id"`
	MatchID    int64  `json:"match_id"`
	PredHome   int    `json:"pred_home"`
	PredAway   int    `json:"pred_away"`
	PredWinner string `json:"pred_winner,omitempty"`
}

func main() {
	// Command line flags
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "polla-predictions", "Kafka topic")
	totalUsers := flag.Int("users", 200, "Number of distinct users to simulate")
	matches := flag.Int("matches", 64, "Number of match ids to predict against")
	updatesPerSecond := flag.Int("rate", 50, "Submissions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("Prediction producer")
	fmt.Printf("  Brokers:  %s\n", *brokers)
	fmt.Printf("  Topic:    %s\n", *topic)
	fmt.Printf("  Users:    %d\n", *totalUsers)
	fmt.Printf("  Matches:  %d\n", *matches)
	fmt.Printf("  Rate:     %d/sec\n", *updatesPerSecond)
	fmt.Println()

	// Configure Sarama producer
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	// Handle producer errors and successes
	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	// Stable user ids so resubmissions overwrite instead of piling up
	users := make([]string, *totalUsers)
	for i := range users {
		users[i] = uuid.New().String()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	sendMessage := func(submission PredictionSubmission) {
		data, err := json.Marshal(submission)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(submission.UserID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	randomSubmission := func() PredictionSubmission {
		return PredictionSubmission{
			UserID:   users[rand.Intn(len(users))],
			MatchID:  int64(rand.Intn(*matches) + 1),
			PredHome: rand.Intn(5),
			PredAway: rand.Intn(5),
		}
	}

	interval := time.Second / time.Duration(*updatesPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	shutdown := func() {
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\nCompleted. Sent: %d, Errors: %d\n",
			atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	for {
		select {
		case <-sigChan:
			fmt.Println("\nShutting down...")
			shutdown()
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				fmt.Println("\nDuration reached, shutting down...")
				shutdown()
				return
			}
			sendMessage(randomSubmission())

		case <-statsTicker.C:
			fmt.Printf("Sent: %d, Errors: %d\n",
				atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
		}
	}
}
