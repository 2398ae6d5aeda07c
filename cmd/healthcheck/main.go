// Command healthcheck is the container probe: it exits 0 when /healthz answers 200.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

func main() {
	url := os.Getenv("HEALTHCHECK_URL")
	if url == "" {
		url = "http://" + probeHost(os.Getenv("HTTP_ADDR")) + "/healthz"
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Printf("healthcheck: %v", err)
		os.Exit(1)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Printf("healthcheck: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Printf("failed to close response body: %v", err)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		log.Printf("healthcheck: status %d", resp.StatusCode)
		os.Exit(1)
	}
}

// probeHost turns a listen address like ":8080" or "0.0.0.0:9000" into a dialable host:port.
func probeHost(addr string) string {
	if addr == "" {
		return "localhost:8080"
	}
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	if host, port, ok := strings.Cut(addr, ":"); ok && (host == "0.0.0.0" || host == "") {
		return "localhost:" + port
	}
	return addr
}
