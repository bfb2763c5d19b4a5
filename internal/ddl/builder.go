// Package ddl builds the DuckDB session statements the engine runs at start:
// settings, extension loading, and object store secrets.
package ddl

import (
	"fmt"
	"regexp"
	"strings"
)

// memoryLimitRe matches DuckDB size literals like 512MB, 2GiB or 75%.
var memoryLimitRe = regexp.MustCompile(`(?i)^\d+(\.\d+)?\s*(B|KB|MB|GB|TB|KIB|MIB|GIB|TIB|%)?$`)

// SetMemoryLimit returns SET memory_limit = '<limit>'.
func SetMemoryLimit(limit string) (string, error) {
	limit = strings.TrimSpace(limit)
	if !memoryLimitRe.MatchString(limit) {
		return "", fmt.Errorf("invalid memory limit %q", limit)
	}
	return "SET memory_limit = " + QuoteLiteral(limit), nil
}

// SetThreads returns SET threads = <n>.
func SetThreads(n int) (string, error) {
	if n < 1 {
		return "", fmt.Errorf("threads must be positive, got %d", n)
	}
	return fmt.Sprintf("SET threads = %d", n), nil
}

// LoadExtension returns INSTALL <name>; LOAD <name>;.
func LoadExtension(name string) (string, error) {
	if err := ValidateIdentifier(name); err != nil {
		return "", fmt.Errorf("invalid extension name: %w", err)
	}
	return fmt.Sprintf("INSTALL %s; LOAD %s;", name, name), nil
}

// S3Secret describes credentials for an S3-compatible endpoint read through httpfs.
type S3Secret struct {
	Name     string
	KeyID    string
	Secret   string
	Endpoint string // host:port, without scheme
	Region   string
	URLStyle string // "path" or "vhost"
	UseSSL   bool
	Scope    string // optional s3:// prefix the secret applies to
}

// CreateS3Secret returns a CREATE OR REPLACE SECRET statement for s.
func CreateS3Secret(s S3Secret) (string, error) {
	if err := ValidateIdentifier(s.Name); err != nil {
		return "", fmt.Errorf("invalid secret name: %w", err)
	}
	switch s.URLStyle {
	case "", "path", "vhost":
	default:
		return "", fmt.Errorf("invalid url style %q", s.URLStyle)
	}
	if s.Scope != "" && !strings.HasPrefix(s.Scope, "s3://") {
		return "", fmt.Errorf("secret scope must start with s3://")
	}

	opts := []string{"TYPE S3"}
	add := func(key, value string) {
		if value != "" {
			opts = append(opts, key+" "+QuoteLiteral(value))
		}
	}
	add("KEY_ID", s.KeyID)
	add("SECRET", s.Secret)
	add("ENDPOINT", strings.TrimPrefix(strings.TrimPrefix(s.Endpoint, "http://"), "https://"))
	add("REGION", s.Region)
	add("URL_STYLE", s.URLStyle)
	opts = append(opts, fmt.Sprintf("USE_SSL %t", s.UseSSL))
	add("SCOPE", s.Scope)

	return fmt.Sprintf("CREATE OR REPLACE SECRET %s (\n\t%s\n)", QuoteIdentifier(s.Name), strings.Join(opts, ",\n\t")), nil
}
