//go:build ignore
// +build ignore

// Manual concurrency stress check for the issue endpoint.
//
// Usage:
//
//	go run ./scripts/issue_race.go <isbn> <member1_id> [member2_id ...]
//
// Or via environment variables:
//
//	ISBN=<isbn>  MEMBER_IDS=<uuid1>,<uuid2>,...  go run ./scripts/issue_race.go
//
// What it does:
//  1. Fires one goroutine per member, all issuing the same ISBN simultaneously.
//  2. Tallies issued loans vs. inventory-exhausted rejections vs. failures.
//  3. The invariant to eyeball: issued count never exceeds the book's
//     available quantity before the run, and the remainder all get 409s.
//
// Prerequisites: server running, the book and the members already in the DB.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

const defaultServerAddr = "http://localhost:8080"

type issueResult struct {
	MemberID   string
	StatusCode int
	Body       string
	Err        error
}

func main() {
	serverAddr := os.Getenv("SERVER_ADDR")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	isbn := os.Getenv("ISBN")
	memberIDsEnv := os.Getenv("MEMBER_IDS")

	var memberIDs []string
	if memberIDsEnv != "" {
		memberIDs = strings.Split(memberIDsEnv, ",")
	}

	args := os.Args[1:]
	if len(args) >= 1 {
		isbn = args[0]
	}
	if len(args) >= 2 {
		memberIDs = args[1:]
	}

	if isbn == "" {
		log.Fatal("Usage: ISBN=<isbn> MEMBER_IDS=<m1,m2,...> go run ./scripts/issue_race.go\n" +
			"  or: go run ./scripts/issue_race.go <isbn> <member1_id> [member2_id ...]")
	}
	if len(memberIDs) == 0 {
		log.Fatal("At least one member ID must be provided via MEMBER_IDS env or positional args")
	}

	fmt.Printf("=== Issue Race Check ===\n")
	fmt.Printf("Server  : %s\n", serverAddr)
	fmt.Printf("ISBN    : %s\n", isbn)
	fmt.Printf("Members : %d\n\n", len(memberIDs))

	results := make([]issueResult, len(memberIDs))
	var wg sync.WaitGroup

	// Barrier so every request fires at once.
	start := make(chan struct{})

	for i, mid := range memberIDs {
		wg.Add(1)
		go func(idx int, memberID string) {
			defer wg.Done()
			<-start
			results[idx] = attemptIssue(serverAddr, isbn, strings.TrimSpace(memberID))
		}(i, mid)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)

	wg.Wait()
	fmt.Println("All requests completed.")
	fmt.Println()

	var issued, exhausted, failures int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] member=%-38s err=%v\n", r.MemberID, r.Err)
		case r.StatusCode == http.StatusCreated:
			issued++
			fmt.Printf("  [LOAN] member=%-38s status=%d\n", r.MemberID, r.StatusCode)
		case r.StatusCode == http.StatusConflict:
			exhausted++
			fmt.Printf("  [FULL] member=%-38s status=%d\n", r.MemberID, r.StatusCode)
		default:
			failures++
			fmt.Printf("  [FAIL] member=%-38s status=%d body=%s\n", r.MemberID, r.StatusCode, r.Body)
		}
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Issued    : %d\n", issued)
	fmt.Printf("Exhausted : %d\n", exhausted)
	fmt.Printf("Failures  : %d\n", failures)
	fmt.Printf("Total     : %d\n\n", len(memberIDs))

	fmt.Println("--- Invariant Check ---")
	fmt.Println("The conditional decrement (available_quantity > 0) means the number of")
	fmt.Println("issued loans can never exceed the copies that were on the shelf; everyone")
	fmt.Println("else must have received a 409.")

	if failures > 0 {
		fmt.Printf("\n[WARNING] %d request(s) failed outright, check server logs.\n", failures)
		os.Exit(1)
	}
}

// attemptIssue sends POST /loans for the given isbn/member pair.
func attemptIssue(serverAddr, isbn, memberID string) issueResult {
	url := fmt.Sprintf("%s/loans", serverAddr)
	payload, _ := json.Marshal(map[string]string{"isbn": isbn, "member_id": memberID})

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return issueResult{MemberID: memberID, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	return issueResult{
		MemberID:   memberID,
		StatusCode: resp.StatusCode,
		Body:       string(raw),
	}
}
