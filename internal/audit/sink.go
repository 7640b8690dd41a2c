package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	elasticsearch "github.com/elastic/go-elasticsearch/v8"
	"go.uber.org/zap"

	"github.com/medassist/backend/internal/metrics"
	"github.com/medassist/backend/pkg/logger"
)

// Record is one append-only audit document. Attempt is 0 for the per-request
// summary record and 1-based for individual upstream attempts.
type Record struct {
	Endpoint      string `json:"endpoint"`
	VisitUUID     string `json:"visitUUID,omitempty"`
	Tracker       string `json:"tracker"`
	RequestDigest string `json:"requestDigest"`
	Outcome       string `json:"outcome"`
	Attempt       int    `json:"attempt,omitempty"`
	Detail        string `json:"detail,omitempty"`
	LatencyMS     int64  `json:"latencyMs,omitempty"`
	Timestamp     string `json:"timestamp"`
}

// Indexer ships one document to the index.
type Indexer interface {
	Index(ctx context.Context, index, docID string, body []byte) error
}

// ESIndexer writes documents to Elasticsearch.
type ESIndexer struct {
	es *elasticsearch.Client
}

func NewESIndexer(addresses []string) (*ESIndexer, error) {
	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("failed to create elasticsearch client: %w", err)
	}
	return &ESIndexer{es: es}, nil
}

func (i *ESIndexer) Index(ctx context.Context, index, docID string, body []byte) error {
	res, err := i.es.Index(index,
		bytes.NewReader(body),
		i.es.Index.WithDocumentID(docID),
		i.es.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("failed to index document: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index %s rejected document: %s", index, res.Status())
	}
	return nil
}

type entry struct {
	index  string
	record Record
}

// Sink records orchestration attempts without ever blocking or failing the
// request path. When the queue is full the oldest record is dropped.
type Sink struct {
	queue   chan entry
	indexer Indexer
	done    chan struct{}
}

func NewSink(indexer Indexer, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = 256
	}
	s := &Sink{
		queue:   make(chan entry, queueSize),
		indexer: indexer,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Record enqueues rec for delivery. Never blocks; a full queue sheds its
// oldest record.
func (s *Sink) Record(index string, rec Record) {
	if rec.Timestamp == "" {
		rec.Timestamp = time.Now().Format("2006-01-02 15:04:05")
	}
	e := entry{index: index, record: rec}

	for {
		select {
		case s.queue <- e:
			return
		default:
		}
		select {
		case dropped := <-s.queue:
			metrics.AuditDropped.Inc()
			logger.Warn("Audit queue full, dropping oldest record",
				zap.String("index", dropped.index),
				zap.String("tracker", dropped.record.Tracker),
			)
		default:
		}
	}
}

// Close drains the queue and stops the worker.
func (s *Sink) Close() {
	close(s.queue)
	<-s.done
}

func (s *Sink) run() {
	defer close(s.done)
	for e := range s.queue {
		s.ship(e)
	}
}

func (s *Sink) ship(e entry) {
	body, err := json.Marshal(e.record)
	if err != nil {
		logger.Error("Failed to marshal audit record", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	docID := e.record.Tracker
	if e.record.Attempt > 0 {
		docID = fmt.Sprintf("%s-%d", e.record.Tracker, e.record.Attempt)
	}

	if err := s.indexer.Index(ctx, e.index, docID, body); err != nil {
		// Best effort only: the record is dropped and this note is the
		// sole residual effect.
		metrics.AuditIndexed.WithLabelValues(e.index, "failure").Inc()
		logger.Warn("Failed to ship audit record",
			zap.String("index", e.index),
			zap.String("tracker", e.record.Tracker),
			zap.Error(err),
		)
		return
	}
	metrics.AuditIndexed.WithLabelValues(e.index, "success").Inc()
}
