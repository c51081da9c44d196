package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// flagData is the request body for post/put/patch. "@file" reads a file and
// "-" reads stdin.
var flagData string

// newRequestCmds returns one raw API command per HTTP verb.
func newRequestCmds() []*cobra.Command {
	verbs := []struct {
		method   string
		withBody bool
	}{
		{http.MethodGet, false},
		{http.MethodPost, true},
		{http.MethodPut, true},
		{http.MethodPatch, true},
		{http.MethodDelete, false},
	}

	cmds := make([]*cobra.Command, 0, len(verbs))

	for _, v := range verbs {
		method := v.method

		cmd := &cobra.Command{
			Use:   strings.ToLower(method) + " <path>",
			Short: fmt.Sprintf("Send a %s request to the API (e.g. /contacts)", method),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRequest(cmd, args, method)
			},
		}

		if v.withBody {
			cmd.Flags().StringVarP(&flagData, "data", "d", "", "JSON request body, @file, or - for stdin")
		}

		cmds = append(cmds, cmd)
	}

	return cmds
}

func runRequest(cmd *cobra.Command, args []string, method string) error {
	logger := buildLogger()

	path, err := normalizePath(args[0])
	if err != nil {
		return err
	}

	body, err := readBody(flagData, os.Stdin)
	if err != nil {
		return err
	}

	s, err := openSession(cmd, args, logger)
	if err != nil {
		return err
	}

	var payload any
	if body != nil {
		payload = body
	}

	resp, err := s.Client.Do(cmd.Context(), method, path, payload)
	if err != nil {
		return finishCommand(s, err)
	}

	return finishCommand(s, printBody(os.Stdout, resp.Body))
}

// normalizePath requires a path relative to the API base URL.
func normalizePath(p string) (string, error) {
	p = strings.TrimSpace(p)

	if strings.Contains(p, "://") {
		return "", fmt.Errorf("path %q must be relative to the API base URL", p)
	}

	if p == "" {
		return "", errors.New("path is required")
	}

	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}

	return p, nil
}

// readBody resolves --data into raw JSON. An empty flag means no body.
func readBody(data string, stdin io.Reader) (json.RawMessage, error) {
	var (
		raw []byte
		err error
	)

	switch {
	case data == "":
		return nil, nil
	case data == "-":
		raw, err = io.ReadAll(stdin)
	case strings.HasPrefix(data, "@"):
		raw, err = os.ReadFile(data[1:])
	default:
		raw = []byte(data)
	}

	if err != nil {
		return nil, fmt.Errorf("reading request body: %w", err)
	}

	if !json.Valid(raw) {
		return nil, errors.New("request body is not valid JSON")
	}

	return json.RawMessage(raw), nil
}
