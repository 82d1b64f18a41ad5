// loadgen is a throwaway demo client: it hammers a kvrelay server with
// a small rotating working set so the admin feed, the TUI, and the
// hot-key detector have something to show.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"net"
	"os"
	"os/signal"
	"time"

	"github.com/mickamy/kvrelay/resp"
)

const defaultAddr = "localhost:12345"

var keys = []string{"drink", "meal", "fruit", "city", "color", "animal"}

var values = []string{"water", "milk", "soup", "apple", "tokyo", "blue", "cat"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func getAddr() string {
	if v := os.Getenv("KVRELAY_ADDR"); v != "" {
		return v
	}
	return defaultAddr
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	addr := getAddr()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()
	fmt.Printf("connected to kvrelay at %s\n", addr)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		key := keys[rand.Intn(len(keys))] //nolint:gosec // demo traffic, not crypto
		var req resp.Object
		switch {
		case i%5 == 4:
			req = resp.Array([]resp.Object{
				resp.SimpleString("remove"),
				resp.BulkString([]byte(key)),
			})
		case i%2 == 0:
			val := values[rand.Intn(len(values))] //nolint:gosec // demo traffic, not crypto
			req = resp.Array([]resp.Object{
				resp.SimpleString("set"),
				resp.BulkString([]byte(key)),
				resp.BulkString([]byte(val)),
			})
		default:
			req = resp.Array([]resp.Object{
				resp.SimpleString("get"),
				resp.BulkString([]byte(key)),
			})
		}

		if _, err := conn.Write(resp.Encode(req)); err != nil {
			return fmt.Errorf("write: %w", err)
		}

		buf := make([]byte, 512)
		n, err := conn.Read(buf)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if _, _, err := resp.Decode(buf[:n]); err != nil {
			return fmt.Errorf("decode reply: %w", err)
		}

		// Occasionally hammer one key hard enough to trip the hot-key
		// detector.
		if i%50 == 49 {
			hot := resp.Encode(resp.Array([]resp.Object{
				resp.SimpleString("get"),
				resp.BulkString([]byte("drink")),
			}))
			for j := 0; j < 60; j++ {
				if _, err := conn.Write(hot); err != nil {
					return fmt.Errorf("write: %w", err)
				}
				if _, err := conn.Read(buf); err != nil {
					return fmt.Errorf("read: %w", err)
				}
			}
			fmt.Println("burst: 60 reads of \"drink\"")
		}
	}
}
