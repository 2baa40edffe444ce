package transmit

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/radio-control/siggen/internal/adapter/fake"
	"github.com/radio-control/siggen/internal/dispatch"
	"github.com/radio-control/siggen/internal/stream"
	"github.com/radio-control/siggen/internal/timer"
)

func TestAwaitReadyPlaysToEndOfFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gated.C8")
	if err := os.WriteFile(path, make([]byte, 4096), 0644); err != nil {
		t.Fatalf("Failed to write waveform: %v", err)
	}

	tx := fake.NewTransmitter("dry-run")
	d := dispatch.NewDispatcher(64, nil)
	producer := stream.NewFileProducer(stream.Options{
		ReadSize:    512,
		BufferCount: 2,
		AwaitReady:  true,
	}, tx, StreamCallbacks(d), nil)
	tx.OnReady(ReadyPoster(d))

	c := New(tx, producer, timer.NewOneShot(TimerPoster(d)), Options{})
	c.Attach(d)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	reqCtx, reqCancel := context.WithTimeout(ctx, time.Second)
	defer reqCancel()
	if err := c.RequestToggle(reqCtx, path, oneShot(), "test"); err != nil {
		t.Fatalf("RequestToggle failed: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for c.Status().State != Idle && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	if st := c.Status(); st.State != Idle || st.LastError != "" {
		t.Fatalf("Expected idle after end of file, got %s (%s)", st.State, st.LastError)
	}
	if sent, _ := tx.BytesWritten(); sent != 4096 {
		t.Errorf("Expected 4096 bytes sent, got %d", sent)
	}
	if stats := d.Stats(); stats.Interrupt < 7 {
		t.Errorf("Expected ready signals through the dispatcher, got %d interrupt posts", stats.Interrupt)
	}
}
