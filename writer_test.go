package massget

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestWriter(t *testing.T, length, capacity int64) *Writer {
	t.Helper()

	w, err := NewWriter(filepath.Join(t.TempDir(), "out"), length, capacity, nil)

	if err != nil {
		t.Fatal(err)
	}

	return w
}

func TestWriterPreallocates(t *testing.T) {

	w := newTestWriter(t, 1000, 64)

	stat, err := os.Stat(w.Path())

	if err != nil {
		t.Fatal(err)
	}

	if stat.Size() != 1000 {
		t.Errorf("Expecting size: 1000, but got %d", stat.Size())
	}

	go w.Run()

	if err := w.Close(); err != nil {
		t.Error(err)
	}
}

func TestWriterOutOfOrder(t *testing.T) {

	w := newTestWriter(t, 9, 64)
	go w.Run()

	ctx := context.Background()

	for _, b := range []struct {
		data   string
		offset int64
	}{
		{"ghi", 6},
		{"abc", 0},
		{"def", 3},
	} {
		if err := w.Write(ctx, []byte(b.data), b.offset); err != nil {
			t.Fatal(err)
		}
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	content, err := os.ReadFile(w.Path())

	if err != nil {
		t.Fatal(err)
	}

	if string(content) != "abcdefghi" {
		t.Errorf("Corrupted file: %q", content)
	}
}

func TestWriterBackpressure(t *testing.T) {

	w := newTestWriter(t, 32, 16)

	ctx := context.Background()
	first := bytes.Repeat([]byte{'a'}, 10)
	second := bytes.Repeat([]byte{'b'}, 10)

	// The loop is not running, the first block keeps 10 of 16 bytes.
	if err := w.Write(ctx, first, 0); err != nil {
		t.Fatal(err)
	}

	written := make(chan error, 1)

	go func() {
		written <- w.Write(ctx, second, 10)
	}()

	select {
	case err := <-written:
		t.Fatalf("Write should block until the budget drains, returned %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	go w.Run()

	select {
	case err := <-written:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Write still blocked after the writer loop started")
	}

	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	content, _ := os.ReadFile(w.Path())

	if !bytes.Equal(content[:20], append(first, second...)) {
		t.Errorf("Corrupted file: %q", content)
	}
}

func TestWriterBlockedWriteCancelled(t *testing.T) {

	w := newTestWriter(t, 32, 8)

	if err := w.Write(context.Background(), make([]byte, 8), 0); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if err := w.Write(ctx, make([]byte, 8), 8); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expecting deadline exceeded, but got %v", err)
	}

	go w.Run()
	w.Close()
}

func TestWriterClose(t *testing.T) {

	w := newTestWriter(t, 8, 8)
	go w.Run()

	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Close(); err != nil {
				t.Error(err)
			}
		}()
	}

	wg.Wait()

	if err := w.Write(context.Background(), []byte("x"), 0); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Expecting ErrWriterClosed, but got %v", err)
	}

	if _, err := w.WriteAt([]byte("x"), 0); !errors.Is(err, ErrWriterClosed) {
		t.Errorf("Expecting ErrWriterClosed, but got %v", err)
	}
}

func TestWriterRejectsOversizedBlock(t *testing.T) {

	w := newTestWriter(t, 32, 4)
	go w.Run()
	defer w.Close()

	if err := w.Write(context.Background(), make([]byte, 5), 0); err == nil {
		t.Error("Expecting error but got nil")
	}
}

func TestNewWriterError(t *testing.T) {

	path := filepath.Join(t.TempDir(), "missing", "out")

	if _, err := NewWriter(path, 10, 10, nil); err == nil {
		t.Error("Expecting error but got nil")
	}
}
