package tui

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Event is one command event received from the kvrelay admin feed.
type Event struct {
	Seq      uint64    `json:"seq"`
	Time     time.Time `json:"time"`
	ConnID   string    `json:"conn_id"`
	Op       string    `json:"op"`
	Key      string    `json:"key"`
	Value    string    `json:"value"`
	Mutated  bool      `json:"mutated"`
	NilReply bool      `json:"nil_reply"`
	Hot      bool      `json:"hot"`
}

// commandText reconstructs the command line this event reports.
func (ev Event) commandText() string {
	if ev.Op == "set" {
		return ev.Op + " " + ev.Key + " " + ev.Value
	}
	return ev.Op + " " + ev.Key
}

// stream is an open SSE subscription to a kvrelay admin server.
type stream struct {
	body    io.Closer
	scanner *bufio.Scanner
}

func dialStream(target string) (*stream, error) {
	resp, err := http.Get("http://" + target + "/api/events") //nolint:noctx // stream outlives any single context
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("dial %s: unexpected status %s", target, resp.Status)
	}
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &stream{body: resp.Body, scanner: sc}, nil
}

// recv blocks until the next event arrives on the feed.
func (s *stream) recv() (Event, error) {
	for s.scanner.Scan() {
		data, ok := strings.CutPrefix(s.scanner.Text(), "data: ")
		if !ok {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		return ev, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func (s *stream) Close() error {
	return s.body.Close()
}
