package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nimburion/bucketstore/pkg/server/router"
	ginadapter "github.com/nimburion/bucketstore/pkg/server/router/gin"
)

func TestServer_StartServesAndShutsDown(t *testing.T) {
	// Given: a server on a free port
	r := ginadapter.NewRouter()
	r.GET("/ping", func(c router.Context) error { return c.String(http.StatusOK, "pong") })
	srv := NewServer(Config{ReadTimeout: time.Second, WriteTimeout: time.Second}, r, nil)

	// When: it is started
	addr := startServer(t, srv)

	// Then: it answers requests
	resp, err := http.Get("http://" + addr + "/ping")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != "pong" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}
}

func TestServer_ShutdownDrainsInFlightRequests(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	r := ginadapter.NewRouter()
	r.GET("/slow", func(c router.Context) error {
		close(entered)
		<-release
		return c.String(http.StatusOK, "done")
	})
	srv := NewServer(Config{ShutdownTimeout: 5 * time.Second}, r, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan error, 1)
	go func() { stopped <- srv.Start(ctx) }()
	for srv.Addr() == "" {
		time.Sleep(5 * time.Millisecond)
	}
	_, port, _ := net.SplitHostPort(srv.Addr())

	result := make(chan int, 1)
	go func() {
		resp, err := http.Get("http://127.0.0.1:" + port + "/slow")
		if err != nil {
			result <- 0
			return
		}
		resp.Body.Close()
		result <- resp.StatusCode
	}()

	<-entered
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if code := <-result; code != http.StatusOK {
		t.Errorf("in-flight request status = %d", code)
	}
	if err := <-stopped; err != nil {
		t.Errorf("Start returned %v", err)
	}
}

func TestServer_StartFailsWhenPortIsTaken(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(Config{Port: port}, ginadapter.NewRouter(), nil)
	err = srv.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "server failed to start") {
		t.Fatalf("expected a start error, got %v", err)
	}
}

func TestServer_ShutdownBeforeStart(t *testing.T) {
	srv := NewServer(Config{}, ginadapter.NewRouter(), nil)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if srv.Addr() != "" {
		t.Errorf("Addr() = %q before start", srv.Addr())
	}
}
