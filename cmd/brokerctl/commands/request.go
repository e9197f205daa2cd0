package commands

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
)

func requestCmd(opts *rootOptions) *cobra.Command {
	var (
		queryPairs []string
		rawBody    string
	)
	cmd := &cobra.Command{
		Use:   "request METHOD PATH",
		Short: "Send one authenticated request and print the decoded reply",
		Example: "  brokerctl request GET /iserver/accounts\n" +
			"  brokerctl request GET /iserver/secdef/search -q symbol=BHP",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, err := parseMethod(args[0])
			if err != nil {
				return err
			}
			path := args[1]
			if !strings.HasPrefix(path, "/") {
				return fmt.Errorf("path %q must start with /", path)
			}
			query, err := parseQuery(queryPairs)
			if err != nil {
				return err
			}
			var body any
			if strings.TrimSpace(rawBody) != "" {
				if err := json.Unmarshal([]byte(rawBody), &body); err != nil {
					return fmt.Errorf("body is not valid JSON: %w", err)
				}
			}
			return opts.withSession(cmd, func(ctx context.Context, client BrokerClient) (any, error) {
				return client.Request(ctx, method, path, query, body)
			})
		},
	}
	cmd.Flags().StringArrayVarP(&queryPairs, "query", "q", nil, "query parameter as key=value (repeatable)")
	cmd.Flags().StringVarP(&rawBody, "body", "d", "", "JSON request body")
	return cmd
}

func parseMethod(raw string) (string, error) {
	method := strings.ToUpper(strings.TrimSpace(raw))
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete:
		return method, nil
	default:
		return "", fmt.Errorf("unsupported method %q", raw)
	}
}

func parseQuery(pairs []string) (url.Values, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	query := url.Values{}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("query %q must be key=value", pair)
		}
		query.Add(strings.TrimSpace(key), value)
	}
	return query, nil
}
