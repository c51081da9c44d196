// Package testutil provides shared test environment helpers for E2E tests.
// It depends only on stdlib so that E2E tests (which cannot import
// internal/) can use it.
package testutil

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadDotEnv reads KEY=VALUE pairs from a .env file at the given path.
// Missing file is not an error (CI sets env vars directly).
// Existing env vars take precedence over .env values.
func LoadDotEnv(envPath string) {
	f, err := os.Open(envPath)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		value = strings.Trim(strings.TrimSpace(value), "\"'")

		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}

// AllowlistEnv names the comma-separated list of accounts E2E tests may use.
const AllowlistEnv = "WAGATE_ALLOWED_TEST_ACCOUNTS"

// ValidateAllowlist returns an error unless the account in accountEnvVar is
// listed in WAGATE_ALLOWED_TEST_ACCOUNTS, so E2E runs never touch a
// production account by accident.
func ValidateAllowlist(accountEnvVar string) error {
	allowlist := os.Getenv(AllowlistEnv)
	if allowlist == "" {
		return fmt.Errorf("%s not set (example: %s=qa@example.com)", AllowlistEnv, AllowlistEnv)
	}

	account := os.Getenv(accountEnvVar)
	if account == "" {
		return fmt.Errorf("%s not set", accountEnvVar)
	}

	for _, a := range strings.Split(allowlist, ",") {
		if strings.EqualFold(strings.TrimSpace(a), account) {
			return nil
		}
	}

	return fmt.Errorf("%s=%q is not in %s=%q", accountEnvVar, account, AllowlistEnv, allowlist)
}

// FindModuleRoot walks up from the current directory to find go.mod.
// Returns the fallback if the root is not found.
func FindModuleRoot(fallback string) string {
	dir, err := os.Getwd()
	if err != nil {
		return fallback
	}

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return fallback
		}

		dir = parent
	}
}
