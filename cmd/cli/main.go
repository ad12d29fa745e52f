package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"sandbox-gateway/internal/auth"
	"sandbox-gateway/internal/storage"
)

var (
	serverURL string
	token     string
	timeout   int
	active    bool
)

func main() {
	root := &cobra.Command{
		Use:   "sandboxctl",
		Short: "CLI client for the sandbox gateway",
	}

	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "Gateway URL")
	root.PersistentFlags().StringVar(&token, "token", os.Getenv("SANDBOX_TOKEN"), "Bearer credential (JWT or API key)")

	root.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Create a new sandbox (stopped)",
		RunE: func(_ *cobra.Command, _ []string) error {
			return call("POST", "/api/v1/sandboxes", nil)
		},
	})

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List your sandboxes",
		RunE: func(_ *cobra.Command, _ []string) error {
			path := "/api/v1/sandboxes"
			if active {
				path += "?active=true"
			}
			return call("GET", path, nil)
		},
	}
	listCmd.Flags().BoolVar(&active, "active", false, "Only active sandboxes")
	root.AddCommand(listCmd)

	root.AddCommand(&cobra.Command{
		Use:   "get [id]",
		Short: "Show a sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return call("GET", "/api/v1/sandboxes/"+args[0], nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "start [id]",
		Short: "Start a sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return call("POST", "/api/v1/sandboxes/"+args[0]+"/start", nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "stop [id]",
		Short: "Stop a sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return call("POST", "/api/v1/sandboxes/"+args[0]+"/stop", nil)
		},
	})

	execCmd := &cobra.Command{
		Use:   "exec [id] [code]",
		Short: "Execute code in a sandbox (reads stdin when code is omitted)",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runExec,
	}
	execCmd.Flags().IntVar(&timeout, "timeout", 30, "Execution timeout in seconds (1-300)")
	root.AddCommand(execCmd)

	root.AddCommand(&cobra.Command{
		Use:   "install [id] [package]",
		Short: "Install a package in a sandbox",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			return call("POST", "/api/v1/sandboxes/"+args[0]+"/install",
				map[string]string{"package": args[1]})
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "upload [id] [file] [dest-path]",
		Short: "Upload a local file into a sandbox",
		Args:  cobra.ExactArgs(3),
		RunE:  runUpload,
	})

	root.AddCommand(&cobra.Command{
		Use:   "stats [id]",
		Short: "Show session statistics for a sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return call("GET", "/api/v1/sandboxes/"+args[0]+"/stats", nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a sandbox",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return call("DELETE", "/api/v1/sandboxes/"+args[0], nil)
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check gateway health",
		RunE: func(_ *cobra.Command, _ []string) error {
			return call("GET", "/health", nil)
		},
	})

	root.AddCommand(newKeygenCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runExec(_ *cobra.Command, args []string) error {
	var code string
	if len(args) > 1 {
		code = args[1]
	} else {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading stdin: %w", err)
		}
		code = string(data)
	}

	return call("POST", "/api/v1/sandboxes/"+args[0]+"/execute", map[string]any{
		"code":    code,
		"timeout": timeout,
	})
}

func runUpload(_ *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[1])
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	return call("POST", "/api/v1/sandboxes/"+args[0]+"/upload", map[string]string{
		"path":    args[2],
		"content": base64.StdEncoding.EncodeToString(data),
	})
}

// call performs one API request and pretty-prints the JSON response.
func call(method, path string, payload any) error {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequest(method, serverURL+path, reader)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{Timeout: 310 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		fmt.Println("ok")
		return nil
	}

	var result any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	formatted, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(formatted))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

// newKeygenCmd mints an API key directly against the database. The raw
// secret is printed exactly once; only its hash is stored.
func newKeygenCmd() *cobra.Command {
	var (
		dsn    string
		owner  string
		name   string
		prefix string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Mint an API key for a user (requires database access)",
		RunE: func(_ *cobra.Command, _ []string) error {
			if dsn == "" {
				dsn = os.Getenv("DATABASE_DSN")
			}
			if dsn == "" {
				return fmt.Errorf("--dsn or DATABASE_DSN is required")
			}

			ownerID, err := uuid.Parse(owner)
			if err != nil {
				return fmt.Errorf("--owner must be a user UUID: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			db, err := storage.New(ctx, dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			secret, hash, err := auth.GenerateKey(prefix)
			if err != nil {
				return err
			}

			record, err := storage.NewAPIKeyStore(db).Create(ctx, ownerID, name, hash)
			if err != nil {
				return fmt.Errorf("storing api key: %w", err)
			}

			fmt.Printf("key id:  %s\n", record.ID)
			fmt.Printf("secret:  %s\n", secret)
			fmt.Println("store the secret now; it cannot be recovered later")
			return nil
		},
	}

	cmd.Flags().StringVar(&dsn, "dsn", "", "Postgres DSN (defaults to DATABASE_DSN env)")
	cmd.Flags().StringVar(&owner, "owner", "", "Owning user UUID")
	cmd.Flags().StringVar(&name, "name", "default", "Key name")
	cmd.Flags().StringVar(&prefix, "prefix", auth.DefaultKeyPrefix, "Key prefix")
	_ = cmd.MarkFlagRequired("owner")

	return cmd
}
