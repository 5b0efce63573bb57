// Seeds sessions for load testing: registers N throwaway accounts against a
// running instance, logs each in and writes the bearer tokens to a CSV for
// the load scripts. Sessions are opaque server-side records, so they cannot
// be minted offline.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

func main() {
	var (
		baseURL  = flag.String("url", "http://localhost:8080", "service base URL")
		count    = flag.Int("n", 1000, "number of accounts to seed")
		out      = flag.String("out", "tests/load/tokens.csv", "output tokens file")
		password = flag.String("password", "loadtest-secret1", "password shared by the seeded accounts")
	)
	flag.Parse()

	if dir := filepath.Dir(*out); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			panic(err)
		}
	}
	f, err := os.Create(*out)
	if err != nil {
		panic(err)
	}
	defer f.Close()

	client := &http.Client{Timeout: 10 * time.Second}
	run := time.Now().Unix()

	var firstToken string

	fmt.Printf("Seeding %d sessions against %s...\n", *count, *baseURL)
	for i := 0; i < *count; i++ {
		username := fmt.Sprintf("loaduser-%d-%d", run, i)

		form := map[string]any{
			"username":        username,
			"email":           fmt.Sprintf("%s@load.invalid", username),
			"password":        *password,
			"confirmPassword": *password,
		}
		if err := postJSON(client, *baseURL+"/register", form, nil); err != nil {
			panic(fmt.Sprintf("register %s: %v", username, err))
		}

		var sess struct {
			Token    string `json:"token"`
			Password string `json:"password"`
		}
		login := map[string]any{"username": username, "password": *password}
		if err := postJSON(client, *baseURL+"/login", login, &sess); err != nil {
			panic(fmt.Sprintf("login %s: %v", username, err))
		}

		bearer := sess.Token + ":" + sess.Password
		if i == 0 {
			firstToken = bearer
		}
		f.WriteString(bearer + "\n")
	}
	fmt.Println("Done seeding sessions.")

	// The first token must confirm against /session before the file is usable.
	req, err := http.NewRequest(http.MethodGet, *baseURL+"/session", nil)
	if err != nil {
		panic(err)
	}
	req.Header.Set("Authorization", "Bearer "+firstToken)

	resp, err := client.Do(req)
	if err != nil {
		fmt.Printf("Error confirming session: %v\n", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		fmt.Printf("Sessions live; tokens written to %s\n", *out)
	} else {
		body, _ := io.ReadAll(resp.Body)
		fmt.Printf("Session check failed: %s %s\n", resp.Status, body)
	}
}

func postJSON(client *http.Client, url string, payload map[string]any, dst any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, body)
	}
	if dst != nil {
		return json.Unmarshal(body, dst)
	}
	return nil
}
