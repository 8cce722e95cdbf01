// Command jwt-generator issues an HS256 bearer token for the controller's
// API surface, for testing and local development. The token validates only
// if --secret-key matches the server's security.jwt_secret_key; the flag's
// default is not the server's configured default.
//
// Usage:
//
//	jwt-generator --role operator --expiry-hours 24
//	jwt-generator --role admin --secret-key "custom-secret" --format json
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ibsfleet/controller/internal/logging"
	"github.com/ibsfleet/controller/internal/security"
)

var (
	role         = flag.String("role", "operator", "User role (viewer, operator, admin)")
	expiryHours  = flag.Int("expiry-hours", 24, "Token expiry in hours")
	secretKey    = flag.String("secret-key", "ibs-fleet-dev-secret-change-in-production", "JWT secret key")
	userID       = flag.String("user-id", "", "User ID (defaults to test_<role>)")
	outputFormat = flag.String("format", "token", "Output format: token, json")
)

func main() {
	flag.Parse()

	if !security.ValidRoles[*role] {
		fmt.Fprintf(os.Stderr, "Error: invalid role %q. Valid roles: viewer, operator, admin\n", *role)
		os.Exit(1)
	}
	if *expiryHours <= 0 {
		fmt.Fprintln(os.Stderr, "Error: expiry hours must be positive")
		os.Exit(1)
	}
	if *userID == "" {
		*userID = "test_" + *role
	}

	logger := logging.NewLogger("jwt-generator")
	handler, err := security.NewJWTHandler(*secretKey, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create JWT handler: %v\n", err)
		os.Exit(1)
	}

	expiry := time.Duration(*expiryHours) * time.Hour
	token, err := handler.GenerateToken(*userID, *role, expiry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to generate token: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		expiresAt := time.Now().Add(expiry)
		fmt.Printf("{\n  \"token\": %q,\n  \"user_id\": %q,\n  \"role\": %q,\n  \"expires_in_hours\": %d,\n  \"expires_at\": %q,\n  \"algorithm\": \"HS256\"\n}\n",
			token, *userID, *role, *expiryHours, expiresAt.Format(time.RFC3339))
	case "token":
		fmt.Println(token)
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid output format %q. Valid formats: token, json\n", *outputFormat)
		os.Exit(1)
	}
}
