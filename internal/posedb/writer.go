package posedb

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/reproject/internal/diag"
	"github.com/banshee-data/reproject/internal/render"
)

const (
	writerBuffer  = 4096
	flushBatch    = 256
	flushInterval = time.Second
)

// FrameWriter adapts the store to render.Sink. RecordFrame never blocks:
// if the buffer is full the record is dropped and counted, which is the
// correct trade for a diagnostics path sitting next to the render
// cadence.
type FrameWriter struct {
	store     *Store
	sessionID string

	ch      chan render.FrameRecord
	dropped atomic.Uint64
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewFrameWriter starts the background flusher for one session.
func NewFrameWriter(store *Store, sessionID string) *FrameWriter {
	w := &FrameWriter{
		store:     store,
		sessionID: sessionID,
		ch:        make(chan render.FrameRecord, writerBuffer),
		done:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.flushLoop()
	return w
}

// RecordFrame queues a record without blocking.
func (w *FrameWriter) RecordFrame(r render.FrameRecord) {
	select {
	case w.ch <- r:
	default:
		w.dropped.Add(1)
	}
}

// Dropped reports how many records were discarded on buffer overflow.
func (w *FrameWriter) Dropped() uint64 {
	return w.dropped.Load()
}

// Close flushes remaining records and stops the writer.
func (w *FrameWriter) Close() {
	close(w.done)
	w.wg.Wait()
}

func (w *FrameWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]render.FrameRecord, 0, flushBatch)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.store.insertFrameBatch(w.sessionID, batch); err != nil {
			diag.Logf("[posedb] frame batch of %d lost: %v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case r := <-w.ch:
			batch = append(batch, r)
			if len(batch) >= flushBatch {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			// Drain whatever is queued, then final flush.
			for {
				select {
				case r := <-w.ch:
					batch = append(batch, r)
					if len(batch) >= flushBatch {
						flush()
					}
					continue
				default:
				}
				break
			}
			flush()
			return
		}
	}
}
