package workers

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Shopify/sarama"

	"github.com/torrentnode/replicator/chain"
	"github.com/torrentnode/replicator/log"
)

var feedLog = log.New("workers.feed")

const feedTopic = "torrentnode.blocks"

// blockSummary is the compact JSON value published for each accepted block
// (SPEC_FULL D2).
type blockSummary struct {
	Height  uint64 `json:"height"`
	Hash    string `json:"hash"`
	TxCount int    `json:"txCount"`
}

// KafkaFeed is the optional D2 change-feed publisher: after the main
// indexer commits a block, it fires one async message per block so
// downstream consumers can tail the chain without touching the index
// store directly. Publish failures are logged, never fatal (SPEC_FULL D2,
// §7 "Auxiliary"). Grounded on
// `jeongkyun-oh-klaytn/datasync/chaindatafetcher/event/kafka/kafka.go`'s
// AsyncProducer setup.
type KafkaFeed struct {
	producer sarama.AsyncProducer
}

// NewKafkaFeed dials brokers and starts an async producer. Matches the
// teacher's WaitForLocal/snappy/500ms-flush tuning, since nothing about
// this downstream-consumer feed needs stronger delivery guarantees than
// the original chain-data-fetcher publisher.
func NewKafkaFeed(brokers []string) (*KafkaFeed, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForLocal
	cfg.Producer.Compression = sarama.CompressionSnappy
	cfg.Producer.Flush.Frequency = 500 * time.Millisecond
	cfg.Producer.Return.Successes = false
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("workers: kafka producer: %w", err)
	}

	feed := &KafkaFeed{producer: producer}
	go feed.drainErrors()
	return feed, nil
}

func (f *KafkaFeed) drainErrors() {
	for err := range f.producer.Errors() {
		feedLog.Warn("kafka publish failed", "err", err.Error())
	}
}

// PublishBlock implements workers.BlockPublisher. It never blocks the
// indexer: the async producer buffers internally and errors are drained on
// a separate goroutine.
func (f *KafkaFeed) PublishBlock(bi *chain.BlockInfo) {
	summary := blockSummary{
		Height:  bi.Header.Height,
		Hash:    fmt.Sprintf("%x", bi.Header.Hash),
		TxCount: len(bi.Txs),
	}
	data, err := json.Marshal(summary)
	if err != nil {
		feedLog.Warn("failed to marshal block summary", "height", bi.Header.Height, "err", err.Error())
		return
	}

	f.producer.Input() <- &sarama.ProducerMessage{
		Topic: feedTopic,
		Key:   sarama.StringEncoder(summary.Hash),
		Value: sarama.ByteEncoder(data),
	}
}

// Close releases the underlying producer.
func (f *KafkaFeed) Close() error {
	return f.producer.Close()
}
