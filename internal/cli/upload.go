package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newUploadCmd(a *app) *cobra.Command {
	var (
		user    string
		server  string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "Upload a batch to a running upload gate",
		Long: `Send a batch file to the /upload endpoint of the upload gate and print its
answer.

Examples:
  gatectl upload batch.json --user alice
  gatectl upload batch.json --user alice --server http://gate:8002`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if server == "" {
				server = "http://localhost" + a.cfg.UploaderAddr
			}
			hc := &http.Client{Timeout: timeout}
			status, body, err := uploadFile(cmd.Context(), hc, server, user, args[0])
			if err != nil {
				return err
			}
			a.logger.Debug("upload answered", "status", status, "bytes", len(body))

			out := cmd.OutOrStdout()
			var pretty bytes.Buffer
			if json.Indent(&pretty, body, "", "  ") == nil {
				body = pretty.Bytes()
			}
			fmt.Fprintf(out, "%d %s\n%s\n", status, http.StatusText(status), bytes.TrimSpace(body))
			if status >= http.StatusBadRequest {
				return fmt.Errorf("upload failed with status %d", status)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "submitting user id")
	cmd.Flags().StringVar(&server, "server", "", "upload gate base URL (default http://localhost + GATE_UPLOADER_ADDR)")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "request timeout")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// uploadFile posts path as the multipart form the gate expects.
func uploadFile(ctx context.Context, hc *http.Client, server, user, path string) (int, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil, fmt.Errorf("open batch: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("user_id", user); err != nil {
		return 0, nil, err
	}
	fw, err := mw.CreateFormFile("myfile", filepath.Base(path))
	if err != nil {
		return 0, nil, err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return 0, nil, fmt.Errorf("read batch: %w", err)
	}
	if err := mw.Close(); err != nil {
		return 0, nil, err
	}

	url := strings.TrimRight(server, "/") + "/upload"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}
