package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// reindex starts a zero-downtime index migration through the running server
// and follows it to a terminal state. Exit code 0 means the alias now points
// at the new generation.
func main() {
	var (
		server      = flag.String("server", "http://localhost:8080", "searchsync server base URL")
		alias       = flag.String("alias", "", "alias to rebuild (required)")
		mappingPath = flag.String("mapping", "", "path to the new index mapping JSON (optional)")
		timeout     = flag.Duration("timeout", 30*time.Minute, "give up following the migration after this long")
	)
	flag.Parse()

	if *alias == "" {
		fmt.Fprintln(os.Stderr, "reindex: -alias is required")
		flag.Usage()
		os.Exit(2)
	}

	var mapping json.RawMessage
	if *mappingPath != "" {
		raw, err := os.ReadFile(*mappingPath)
		if err != nil {
			fatal("read mapping: %v", err)
		}
		if !json.Valid(raw) {
			fatal("mapping %s is not valid JSON", *mappingPath)
		}
		mapping = raw
	}

	id, err := start(*server, *alias, mapping)
	if err != nil {
		fatal("start migration: %v", err)
	}
	fmt.Printf("migration %s started for alias %q\n", id, *alias)

	final, err := follow(*server, id, *timeout)
	if err != nil {
		fatal("follow migration: %v", err)
	}

	fmt.Printf("migration %s finished: state=%s docs_copied=%d\n", id, final.State, final.DocsCopied)
	if final.Error != "" {
		fmt.Printf("detail: %s\n", final.Error)
	}
	if final.State != "DONE" {
		os.Exit(1)
	}
}

type migrationStatus struct {
	ID         string `json:"migration_id"`
	State      string `json:"state"`
	Error      string `json:"error"`
	DocsCopied int    `json:"docs_copied"`
}

func start(server, alias string, mapping json.RawMessage) (string, error) {
	body, err := json.Marshal(map[string]any{"alias": alias, "mapping": mapping})
	if err != nil {
		return "", err
	}
	resp, err := http.Post(server+"/migrations", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		MigrationID string `json:"migration_id"`
		Error       string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusAccepted {
		return "", fmt.Errorf("server returned %d: %s", resp.StatusCode, out.Error)
	}
	return out.MigrationID, nil
}

func follow(server, id string, timeout time.Duration) (*migrationStatus, error) {
	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = 500 * time.Millisecond
	poll.MaxInterval = 10 * time.Second
	poll.MaxElapsedTime = 0

	deadline := time.Now().Add(timeout)
	var last string
	for {
		status, err := fetch(server, id)
		if err != nil {
			return nil, err
		}
		if status.State != last {
			fmt.Printf("state: %s\n", status.State)
			last = status.State
		}
		switch status.State {
		case "DONE", "FAILED", "CRITICAL":
			return status, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("migration still %s after %s", status.State, timeout)
		}
		time.Sleep(poll.NextBackOff())
	}
}

func fetch(server, id string) (*migrationStatus, error) {
	resp, err := http.Get(server + "/migrations/" + id)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("server returned %d", resp.StatusCode)
	}
	var status migrationStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, err
	}
	return &status, nil
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "reindex: "+format+"\n", args...)
	os.Exit(1)
}
