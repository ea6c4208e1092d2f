package command

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/johnayeni/mws-restaurant-reviews-app/internal/db"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/remote"
	"github.com/johnayeni/mws-restaurant-reviews-app/internal/syncer"
)

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	if hint := errorHint(err); hint != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "Hint: %s\n", hint)
	}

	return err
}

func errorHint(err error) string {
	var apiErr *remote.APIError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, remote.ErrNetwork):
		return "The review service is unreachable. Cached data is still available with --cached."
	case errors.As(err, &apiErr) && apiErr.NotFound():
		return "No such record on the server. List restaurants with: " + AppName + " restaurants"
	case errors.Is(err, syncer.ErrQueueExhausted):
		return "Queued writes were dropped after repeated failures."
	case errors.Is(err, db.ErrStorageUnavailable):
		return "The local cache could not be opened. Check --data-dir or " + AppName + " config."
	case isSchemaError(err):
		return "The local cache looks out of date. Remove the data dir to rebuild it."
	}
	return ""
}

// isSchemaError checks if an error is a SQLite schema mismatch.
func isSchemaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, db.ErrVersionTooNew) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "no such column") ||
		strings.Contains(msg, "no such table") ||
		strings.Contains(msg, "has no column")
}
