// Package main runs a demo GPS uplink client: it pushes position fixes
// over the websocket and tails the worker's SSE stream.
package main

import (
	"bufio"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	worker := os.Getenv("WORKER_ID")
	if worker == "" {
		worker = "drv-1"
	}

	// Tail the worker's SSE stream in the background.
	go func() {
		req, _ := http.NewRequest(http.MethodGet,
			fmt.Sprintf("http://localhost:%s/v1/schedule/workers/%s/stream", port, worker), nil)
		req.Header.Set("X-Role", "dispatcher")
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			log.Printf("stream: %v", err)
			return
		}
		defer func() { _ = resp.Body.Close() }()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if line := sc.Text(); line != "" {
				log.Printf("sse: %s", line)
			}
		}
	}()

	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/schedule/ws"}
	hdr := http.Header{}
	hdr.Set("X-Role", "driver")
	hdr.Set("X-Worker-Id", worker)
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	// Walk a small square around downtown Huntsville.
	lat, lng := 34.7304, -86.5861
	for i := 0; i < 20; i++ {
		fix := map[string]any{
			"workerId": worker,
			"lat":      lat + float64(i%5)*0.001,
			"lng":      lng - float64(i%7)*0.001,
			"accuracy": 5.0,
			"ts":       time.Now().UTC().Format(time.RFC3339),
		}
		if err := c.WriteJSON(fix); err != nil {
			log.Fatal(err)
		}
		log.Printf("sent fix %d", i+1)
		time.Sleep(2 * time.Second)
	}
}
