// Command keyctl bootstraps universal API keys and mints service tokens for
// the ranking harness.
//
//	keyctl create-key -user alice -name laptop
//	keyctl issue-token -subject bench-runner -role benchmark -ttl 24h
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"llm_router/internal/auth"
	"llm_router/internal/config"
	"llm_router/internal/models"
	"llm_router/internal/storage"
)

const usage = `usage:
  keyctl create-key -user <owner id> -name <label>
  keyctl issue-token -subject <name> -role benchmark|admin [-ttl 24h]
`

func main() {
	_ = godotenv.Load()
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}

	var err error
	switch args[0] {
	case "create-key":
		err = runCreateKey(args[1:], stdout, stderr)
	case "issue-token":
		err = runIssueToken(args[1:], stdout, stderr)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command %q\n%s", args[0], usage)
		return 2
	}

	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "ERROR: %v\n", err)
		return 1
	}
	return 0
}

type keyCreator interface {
	Create(ctx context.Context, key *models.UniversalAPIKey) error
}

func runCreateKey(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("create-key", flag.ContinueOnError)
	fs.SetOutput(stderr)
	user := fs.String("user", "", "owner user id")
	name := fs.String("name", "default", "display name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("-user is required")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dbCfg := storage.DefaultDBConfig()
	dbCfg.URL = cfg.Database.URL
	dbCfg.MaxOpenConns = 2
	dbCfg.APIKeyCacheSize = 10

	db, err := storage.NewDB(dbCfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return createKey(ctx, db.NewAPIKeyRepository(), *user, *name, stdout)
}

func createKey(ctx context.Context, repo keyCreator, owner, name string, out io.Writer) error {
	plaintext, err := auth.GenerateAPIKey()
	if err != nil {
		return err
	}

	key := &models.UniversalAPIKey{
		ID:          uuid.New(),
		OwnerUserID: owner,
		KeyHash:     auth.HashAPIKey(plaintext),
		KeyPrefix:   auth.KeyDisplayPrefix(plaintext),
		DisplayName: name,
	}
	if err := repo.Create(ctx, key); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	fmt.Fprintf(out, "ID:     %s\n", key.ID)
	fmt.Fprintf(out, "Owner:  %s\n", key.OwnerUserID)
	fmt.Fprintf(out, "Name:   %s\n", key.DisplayName)
	fmt.Fprintf(out, "Key:    %s\n", plaintext)
	fmt.Fprintln(out, "\nThe key is shown once. Store it securely.")
	return nil
}

func runIssueToken(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	subject := fs.String("subject", "", "token subject, e.g. the harness name")
	role := fs.String("role", string(auth.RoleBenchmark), "benchmark or admin")
	ttl := fs.Duration("ttl", 24*time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return errors.New("-subject is required")
	}

	secret, err := jwtSecret()
	if err != nil {
		return err
	}

	token, expiresAt, err := auth.IssueToken(secret, *subject, auth.Role(*role), *ttl)
	if err != nil {
		return err
	}

	fmt.Fprintln(stdout, token)
	fmt.Fprintf(stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
	return nil
}

// jwtSecret resolves the signing secret the same way the server does,
// without requiring a database URL.
func jwtSecret() ([]byte, error) {
	if s := os.Getenv("JWT_SECRET"); s != "" {
		return []byte(s), nil
	}
	keyHex := os.Getenv("ENCRYPTION_KEY")
	if keyHex == "" {
		return nil, errors.New("JWT_SECRET or ENCRYPTION_KEY must be set")
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 32 {
		return nil, errors.New("ENCRYPTION_KEY must be 64 hex characters (32 bytes)")
	}
	return auth.DeriveJWTSecret(key)
}
