package redis

import (
	"context"
	"errors"
	"log"
	"sync"

	"candlestream/internal/model"
)

// batchWriter is the write side the BufferedWriter protects.
type batchWriter interface {
	WriteRecordBatch(ctx context.Context, recs []model.IndicatorRecord) error
	Close() error
}

// BufferedWriter wraps a Redis Writer with a circuit breaker.
// While the circuit is open, records are buffered locally and flushed
// when the circuit closes again.
type BufferedWriter struct {
	writer    batchWriter
	cb        *CircuitBreaker
	ctx       context.Context
	batchSize int

	mu     sync.Mutex
	buffer []model.IndicatorRecord
	maxBuf int // oldest records are dropped beyond this

	// Callbacks
	OnBuffer func(n int)     // records buffered while the circuit is open
	OnDrop   func(n int)     // buffered records dropped because the buffer was full
	OnFlush  func(count int) // records replayed after the circuit closed
	OnError  func(err error) // failed writes that were not buffered
}

// NewBufferedWriter creates a BufferedWriter wrapping the given Writer.
func NewBufferedWriter(ctx context.Context, w *Writer, cb *CircuitBreaker, maxBufferSize int) *BufferedWriter {
	return newBufferedWriter(ctx, w, cb, maxBufferSize, w.batchSize)
}

func newBufferedWriter(ctx context.Context, w batchWriter, cb *CircuitBreaker, maxBufferSize, batchSize int) *BufferedWriter {
	if maxBufferSize <= 0 {
		maxBufferSize = 10000
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	bw := &BufferedWriter{
		writer:    w,
		cb:        cb,
		ctx:       ctx,
		batchSize: batchSize,
		buffer:    make([]model.IndicatorRecord, 0, 256),
		maxBuf:    maxBufferSize,
	}

	// Register flush on circuit close
	prevCallback := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prevCallback != nil {
			prevCallback(from, to)
		}
		if to == StateClosed {
			go bw.flush()
		}
	}

	return bw
}

// Run reads indicator records from ch and writes them in batches through
// the circuit breaker. Blocks until ctx is cancelled or ch is closed.
func (bw *BufferedWriter) Run(ctx context.Context, ch <-chan model.IndicatorRecord) {
	for {
		batch, ok := collect(ctx, ch, bw.batchSize)
		if len(batch) > 0 {
			bw.Write(batch)
		}
		if !ok {
			return
		}
	}
}

// Write writes a batch through the circuit breaker. If the circuit is open,
// the batch is buffered locally and nil is returned.
func (bw *BufferedWriter) Write(recs []model.IndicatorRecord) error {
	err := bw.cb.Execute(func() error {
		return bw.writer.WriteRecordBatch(bw.ctx, recs)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrCircuitOpen):
		bw.bufferRecords(recs)
		return nil
	default:
		log.Printf("[buffered-writer] %v", err)
		if bw.OnError != nil {
			bw.OnError(err)
		}
		return err
	}
}

func (bw *BufferedWriter) bufferRecords(recs []model.IndicatorRecord) {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	bw.buffer = append(bw.buffer, recs...)
	dropped := 0
	if over := len(bw.buffer) - bw.maxBuf; over > 0 {
		bw.buffer = append(bw.buffer[:0:0], bw.buffer[over:]...)
		dropped = over
	}

	if bw.OnBuffer != nil {
		bw.OnBuffer(len(recs))
	}
	if dropped > 0 && bw.OnDrop != nil {
		bw.OnDrop(dropped)
	}
}

// flush replays all buffered records through the underlying writer.
func (bw *BufferedWriter) flush() {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return
	}
	toFlush := bw.buffer
	bw.buffer = make([]model.IndicatorRecord, 0, 256)
	bw.mu.Unlock()

	flushed := 0
	for start := 0; start < len(toFlush); start += bw.batchSize {
		end := min(start+bw.batchSize, len(toFlush))
		if err := bw.writer.WriteRecordBatch(bw.ctx, toFlush[start:end]); err != nil {
			log.Printf("[buffered-writer] flush: %v", err)
			bw.bufferRecords(toFlush[start:])
			break
		}
		flushed += end - start
	}

	log.Printf("[buffered-writer] flushed %d buffered records", flushed)
	if bw.OnFlush != nil {
		bw.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered records waiting to be flushed.
func (bw *BufferedWriter) PendingCount() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

// Close closes the underlying writer.
func (bw *BufferedWriter) Close() error {
	if n := bw.PendingCount(); n > 0 {
		log.Printf("[buffered-writer] closing with %d unflushed records", n)
	}
	return bw.writer.Close()
}
