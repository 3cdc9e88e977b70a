package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"finance-ledger/internal/auth"
	"finance-ledger/internal/models"
	"finance-ledger/internal/storage"

	"golang.org/x/term"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	fs.SetOutput(stderr)

	email := fs.String("email", "", "Email address")
	passwordFlag := fs.String("password", "", "Password (optional, will prompt if omitted)")
	roleFlag := fs.String("role", "user", "Role: user or admin")
	driver := fs.String("driver", storage.DriverSQLite, "Database driver: sqlite or postgres")
	dbPath := fs.String("db", "ledger.db", "Path to sqlite database file")
	dsn := fs.String("dsn", "", "Postgres connection string")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if *email == "" {
		fmt.Fprintln(stdout, "Usage: adduser -email <email> [-password <password>] [-role user|admin] [-db <db_path> | -driver postgres -dsn <dsn>]")
		fs.PrintDefaults()
		return fmt.Errorf("missing required flags: email")
	}

	role, err := models.ParseRole(*roleFlag)
	if err != nil {
		return err
	}

	password := *passwordFlag
	if password == "" {
		fmt.Fprint(stdout, "Password: ")
		password, err = readPassword(stdin)
		if err != nil {
			return fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(stdout) // Print newline after password input
	}

	if strings.TrimSpace(password) == "" {
		return fmt.Errorf("password cannot be empty")
	}
	if err := models.ValidateCredentials(*email, password); err != nil {
		return err
	}

	// Environment fills in whatever the flags left at their defaults.
	if path := os.Getenv("DB_PATH"); path != "" && *dbPath == "ledger.db" {
		*dbPath = path
	}
	if v := os.Getenv("DB_DRIVER"); v != "" && *driver == storage.DriverSQLite {
		*driver = strings.ToLower(v)
	}
	if v := os.Getenv("DB_DSN"); v != "" && *dsn == "" {
		*dsn = v
	}

	ctx := context.Background()
	db, err := storage.Open(ctx, storage.Options{Driver: *driver, Path: *dbPath, DSN: *dsn})
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := db.CreateUser(ctx, *email, hash, role)
	if errors.Is(err, storage.ErrConflict) {
		return fmt.Errorf("user %s already exists", models.NormalizeEmail(*email))
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	fmt.Fprintf(stdout, "User %s (%s) created successfully with ID %d\n", user.Email, user.Role, user.ID)
	return nil
}

func readPassword(stdin io.Reader) (string, error) {
	// Check if stdin is a terminal
	if f, ok := stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		bytePassword, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return "", err
		}
		return string(bytePassword), nil
	}

	// Fallback for non-terminal (e.g. tests, pipes)
	scanner := bufio.NewScanner(stdin)
	if scanner.Scan() {
		return scanner.Text(), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}
