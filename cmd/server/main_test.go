package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"testing"
)

type recordCloser struct {
	closed bool
}

func (c *recordCloser) Close() error {
	c.closed = true
	return nil
}

func TestServeFailureReturnsSoResourcesClose(t *testing.T) {
	serveErr := make(chan error, 1)
	serveErr <- errors.New("listen tcp :8080: address already in use")
	stop := make(chan os.Signal, 1)

	// Must return on a serve failure rather than exiting the process.
	awaitShutdown(context.Background(), &http.Server{}, stop, serveErr)

	closer := &recordCloser{}
	closeAll([]io.Closer{closer})
	if !closer.closed {
		t.Fatalf("expected closer to run after serve failure")
	}
}

func TestCloseAllClosesEveryResource(t *testing.T) {
	closers := []io.Closer{&recordCloser{}, &recordCloser{}}
	closeAll(closers)
	for i, closer := range closers {
		if !closer.(*recordCloser).closed {
			t.Fatalf("expected closer %d to be closed", i)
		}
	}
}
