package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"pehlione.com/settlement/internal/modules/payments"
)

type webhookPayload struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

func main() {
	url := flag.String("url", "http://localhost:8080/webhooks/payments", "Webhook URL")
	secret := flag.String("secret", os.Getenv("WEBHOOK_SECRET"), "Webhook secret (empty sends unsigned)")
	paymentID := flag.String("payment-id", "", "Provider payment id")
	requestID := flag.String("request-id", uuid.NewString(), "Provider request id")
	topic := flag.String("type", "payment", "Notification topic")
	dryRun := flag.Bool("dry-run", false, "Only print headers and body, don't send")

	flag.Parse()

	if *paymentID == "" {
		fmt.Fprintln(os.Stderr, "Error: -payment-id is required")
		os.Exit(1)
	}

	payload := webhookPayload{Type: *topic, Action: "payment.updated"}
	payload.Data.ID = *paymentID

	body, err := json.Marshal(payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error marshaling payload: %v\n", err)
		os.Exit(1)
	}

	var sigHeader string
	if *secret != "" {
		sigHeader = payments.Sign(*secret, *paymentID, *requestID, time.Now())
		fmt.Printf("X-Signature: %s\n", sigHeader)
	}
	fmt.Printf("X-Request-Id: %s\n", *requestID)
	fmt.Printf("Body: %s\n", string(body))

	if *dryRun {
		fmt.Println("\n[DRY RUN] Not sending request")
		return
	}

	fmt.Printf("\nSending to %s...\n", *url)
	req, err := http.NewRequest(http.MethodPost, *url, bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", *requestID)
	if sigHeader != "" {
		req.Header.Set("X-Signature", sigHeader)
	}

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	fmt.Printf("Status: %d\n", resp.StatusCode)
	fmt.Printf("Response: %s\n", string(respBody))

	if resp.StatusCode != http.StatusOK {
		os.Exit(1)
	}
}
