package main

import (
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	city := flag.String("city", "", "District to ingest (empty = global listing)")
	all := flag.Bool("all", false, "Ingest every configured district")
	host := flag.String("host", "http://localhost:8081", "API base URL")
	flag.Parse()

	adminSecret := strings.TrimSpace(os.Getenv("ADMIN_SECRET"))
	if adminSecret == "" {
		fmt.Println("Missing ADMIN_SECRET environment variable")
		os.Exit(1)
	}

	endpoint := *host + "/api/v1/ingestion/trigger"
	params := url.Values{}
	if *city != "" {
		params.Set("city", *city)
	}
	if *all {
		params.Set("all_districts", "true")
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequest("POST", endpoint, nil)
	if err != nil {
		fmt.Printf("Error creating request: %v\n", err)
		os.Exit(1)
	}
	req.Header.Set("X-Admin-Secret", adminSecret)
	req.Header.Set("Authorization", "Bearer "+adminSecret)

	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error sending request: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	fmt.Printf("Response Status: %s\n", resp.Status)
	if resp.StatusCode != http.StatusAccepted {
		os.Exit(1)
	}
}
