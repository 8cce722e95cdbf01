// Command cli is a thin HTTP client for the controller's API surface: it
// submits a directive and prints the resulting parsed intent and per-policy
// enforcement outcome. It has no enforcement logic of its own.
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
)

var (
	serverAddr = flag.String("server", "http://localhost:8080", "API server base URL")
	token      = flag.String("token", "", "Bearer token (see jwt-generator)")
	directive  = flag.String("directive", "", "Directive text to submit")
	format     = flag.String("format", "table", "Output format: table, json")
)

func main() {
	flag.Parse()

	if *directive == "" {
		fmt.Fprintln(os.Stderr, "Error: --directive is required")
		os.Exit(1)
	}
	if *token == "" {
		fmt.Fprintln(os.Stderr, "Error: --token is required (use jwt-generator to obtain one)")
		os.Exit(1)
	}

	body, _ := json.Marshal(map[string]string{"directive": *directive})
	req, err := http.NewRequest(http.MethodPost, *serverAddr+"/api/v1/directives", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("Authorization", "Bearer "+*token)
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if resp.StatusCode != http.StatusOK {
		fmt.Fprintf(os.Stderr, "Error: server returned %d: %s\n", resp.StatusCode, respBody)
		os.Exit(1)
	}

	if *format == "json" {
		fmt.Println(string(respBody))
		return
	}

	var decoded struct {
		ID     string `json:"id"`
		Intent struct {
			Type         string `json:"Type"`
			TargetDevice string `json:"TargetDevice"`
		} `json:"intent"`
		Results []struct {
			PolicyID   string `json:"policy_id"`
			PolicyType string `json:"policy_type"`
			Target     string `json:"target"`
			Success    bool   `json:"success"`
		} `json:"results"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		fmt.Fprintf(os.Stderr, "Error: could not decode response: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("directive id: %s\n", decoded.ID)
	fmt.Printf("parsed type:  %s\n", decoded.Intent.Type)
	fmt.Printf("target:       %s\n", decoded.Intent.TargetDevice)
	fmt.Println("policies:")
	for _, r := range decoded.Results {
		status := "ok"
		if !r.Success {
			status = "FAILED"
		}
		fmt.Printf("  %-24s %-18s %s\n", r.PolicyType, r.Target, status)
	}
}
