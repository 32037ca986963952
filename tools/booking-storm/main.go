package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Fires N concurrent booking requests for the same slot and reports the
// status spread. Exactly one 201 and N-1 409s means slot arbitration holds
// under contention.
func main() {
	var (
		baseURL  = flag.String("base-url", getenv("BASE_URL", "http://localhost:8084"), "scheduling service base url")
		business = flag.String("business-id", getenv("BUSINESS_ID", ""), "business id")
		staff    = flag.String("staff-id", getenv("STAFF_ID", ""), "staff id")
		service  = flag.String("service-id", getenv("SERVICE_ID", ""), "service id")
		start    = flag.String("start", "", "slot start time, RFC3339")
		workers  = flag.Int("workers", 10, "concurrent booking attempts")
	)
	flag.Parse()

	if strings.TrimSpace(*business) == "" || strings.TrimSpace(*staff) == "" || strings.TrimSpace(*service) == "" {
		fatal("BUSINESS_ID, STAFF_ID and SERVICE_ID are required")
	}
	if _, err := time.Parse(time.RFC3339, *start); err != nil {
		fatal("start must be RFC3339: " + err.Error())
	}

	url := strings.TrimRight(*baseURL, "/") + "/api/v1/appointments"

	var mu sync.Mutex
	counts := map[int]int{}

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			payload, _ := json.Marshal(map[string]string{
				"business_id": *business,
				"service_id":  *service,
				"staff_id":    *staff,
				"customer_id": uuid.NewString(),
				"start_time":  *start,
			})
			resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return
			}
			resp.Body.Close()
			mu.Lock()
			counts[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	for status, n := range counts {
		fmt.Printf("status=%d count=%d\n", status, n)
	}
	if counts[http.StatusCreated] != 1 {
		fatal(fmt.Sprintf("expected exactly one 201, got %d", counts[http.StatusCreated]))
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
