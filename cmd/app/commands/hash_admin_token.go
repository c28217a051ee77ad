package commands

import (
	"bufio"
	"fmt"
	"strings"

	outboxHTTP "github.com/allisson/relay/internal/outbox/http"
)

// RunHashAdminToken prints the Argon2id hash to set as ADMIN_TOKEN_HASH. When token is
// empty it is read from the first line of the reader.
func RunHashAdminToken(io IOTuple, token string, format string) error {
	if err := validateFormat(format); err != nil {
		return err
	}

	if token == "" {
		if _, err := fmt.Fprint(io.Writer, "Enter admin token: "); err != nil {
			return err
		}
		scanner := bufio.NewScanner(io.Reader)
		if scanner.Scan() {
			token = strings.TrimSpace(scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			return fmt.Errorf("failed to read admin token: %w", err)
		}
		if _, err := fmt.Fprintln(io.Writer); err != nil {
			return err
		}
	}

	if token == "" {
		return fmt.Errorf("admin token must not be empty")
	}

	hash, err := outboxHTTP.HashAdminToken(token)
	if err != nil {
		return fmt.Errorf("failed to hash admin token: %w", err)
	}

	if format == "json" {
		return writeJSON(io.Writer, map[string]string{"admin_token_hash": hash})
	}

	_, err = fmt.Fprintf(io.Writer, "ADMIN_TOKEN_HASH=%s\n", hash)
	return err
}
