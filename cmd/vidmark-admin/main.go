// Command vidmark-admin is a small operator CLI for the vidmark HTTP API:
// inspect recent jobs, check queue stats, and reset stuck ones.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/vidmark/vidmark/internal/domain/model"
)

const requestTimeout = 15 * time.Second

func main() {
	baseURL := flag.String("base-url", envOr("VIDMARK_BASE_URL", "http://localhost:8080"),
		"base URL of the vidmark API")
	limit := flag.Int("limit", 20, "number of jobs for the list command")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	cli := &client{baseURL: *baseURL, http: &http.Client{Timeout: requestTimeout}}

	var err error
	switch cmd := flag.Arg(0); cmd {
	case "list":
		err = cli.list(ctx, *limit)
	case "stats":
		err = cli.stats(ctx)
	case "get":
		err = withJobID(func(id int64) error { return cli.get(ctx, id) })
	case "reset":
		err = withJobID(func(id int64) error { return cli.reset(ctx, id) })
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		usage()
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: vidmark-admin [flags] <command> [args]

Commands:
  list          list recent jobs (newest first)
  stats         show job counts per status
  get <id>      show one job
  reset <id>    return a job to pending

Flags:
`)
	flag.PrintDefaults()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func withJobID(fn func(int64) error) error {
	if flag.NArg() < 2 {
		return fmt.Errorf("job id argument is required")
	}
	id, err := strconv.ParseInt(flag.Arg(1), 10, 64)
	if err != nil || id < 1 {
		return fmt.Errorf("job id must be a positive integer, got %q", flag.Arg(1))
	}
	return fn(id)
}

type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) list(ctx context.Context, limit int) error {
	var out struct {
		Videos []*model.VideoJob `json:"videos"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/videos?limit=%d", limit), &out); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tPOSITION\tCREATED\tERROR")
	for _, job := range out.Videos {
		position := ""
		if job.Position != nil {
			position = string(*job.Position)
		}
		errMsg := ""
		if job.ErrorMessage != nil {
			errMsg = *job.ErrorMessage
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n",
			job.ID, job.Status, position, job.CreatedAt.Format(time.RFC3339), errMsg)
	}
	return tw.Flush()
}

func (c *client) stats(ctx context.Context) error {
	var out struct {
		Stats map[string]int64 `json:"stats"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/videos/stats", &out); err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATUS\tCOUNT")
	for _, status := range []string{"uploaded", "pending", "queued", "processing", "completed", "failed"} {
		fmt.Fprintf(tw, "%s\t%d\n", status, out.Stats[status])
	}
	return tw.Flush()
}

func (c *client) get(ctx context.Context, id int64) error {
	var out struct {
		Video json.RawMessage `json:"video"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/videos/%d", id), &out); err != nil {
		return err
	}
	return printJSON(out.Video)
}

func (c *client) reset(ctx context.Context, id int64) error {
	var out struct {
		Video *model.VideoJob `json:"video"`
	}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/api/videos/%d/reset", id), &out); err != nil {
		return err
	}
	fmt.Printf("job %d reset to %s\n", out.Video.ID, out.Video.Status)
	return nil
}

func (c *client) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Error)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return json.Unmarshal(body, out)
}

func printJSON(raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(os.Stdout)
	return err
}
