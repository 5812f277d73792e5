package server

import (
	"fmt"

	"github.com/chazu/ember/vm"
)

// imageRequest represents a unit of work to be executed on the image
// goroutine.
type imageRequest struct {
	fn   func(*vm.Image) error
	done chan error
}

// ImageWorker serializes all mutations of the live image through a
// single goroutine. A batch of redirections for one cycle must not
// interleave with another cycle's batch, and module loads must not
// race with them either; funneling both through the worker gives that
// ordering without exposing the image's internals.
type ImageWorker struct {
	img      *vm.Image
	requests chan imageRequest
	quit     chan struct{}
}

// NewImageWorker creates an ImageWorker and starts the processing
// goroutine.
func NewImageWorker(img *vm.Image) *ImageWorker {
	w := &ImageWorker{
		img:      img,
		requests: make(chan imageRequest, 64),
		quit:     make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes image requests sequentially on a dedicated goroutine.
func (w *ImageWorker) loop() {
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs a function on the image, recovering from panics.
func (w *ImageWorker) execute(fn func(*vm.Image) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("image worker: %v", r)
		}
	}()
	return fn(w.img)
}

// Do submits a function for execution on the image goroutine and
// blocks until it completes.
func (w *ImageWorker) Do(fn func(*vm.Image) error) error {
	req := imageRequest{fn: fn, done: make(chan error, 1)}
	w.requests <- req
	return <-req.done
}

// Stop shuts down the worker goroutine.
func (w *ImageWorker) Stop() {
	close(w.quit)
}

// Image returns the underlying image for read-only access that does
// not touch dispatch state (class and module lookups).
func (w *ImageWorker) Image() *vm.Image {
	return w.img
}
