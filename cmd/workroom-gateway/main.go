// ABOUTME: Entry point for workroom-gateway
// ABOUTME: Dispatches the serve, bootstrap, token and health subcommands

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/2389/workroom-gateway/internal/auth"
	"github.com/2389/workroom-gateway/internal/config"
	"github.com/2389/workroom-gateway/internal/gateway"
	"github.com/2389/workroom-gateway/internal/store"
)

// Version is set at build time.
var version = "dev"

const banner = `
                    _
__      _____  _ __| | ___ __ ___   ___  _ __ ___
\ \ /\ / / _ \| '__| |/ / '__/ _ \ / _ \| '_ ' _ \
 \ V  V / (_) | |  |   <| | | (_) | (_) | | | | | |
  \_/\_/ \___/|_|  |_|\_\_|  \___/ \___/|_| |_| |_|
`

const (
	defaultTokenTTL = 30 * 24 * time.Hour
	maxDisplayName  = 100
)

func usage() {
	fmt.Println("Usage: workroom-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                            Start the gateway server")
	fmt.Println("  bootstrap --name NAME [--service] Create a principal and print a token")
	fmt.Println("  token --principal ID [--ttl 24h] Mint a token for an existing principal")
	fmt.Println("  health [--url URL]               Check gateway readiness")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	args := os.Args[2:]
	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "bootstrap":
		err = runBootstrap(ctx, args)
	case "token":
		err = runToken(ctx, args)
	case "health":
		err = runHealth(ctx, args)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := config.DefaultPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s\n", cfg.Database.Driver)
	if cfg.Redis.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Redis:     %s\n", cfg.Redis.Addr)
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			yellow.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting workroom-gateway",
		"version", version,
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runBootstrap creates a principal and prints a token for it.
func runBootstrap(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]bool{"name": true, "service": false}, map[string]string{"n": "name"})
	if err != nil {
		return err
	}

	displayName := strings.TrimSpace(flags["name"])
	if displayName == "" {
		return errors.New("--name flag is required")
	}
	if len(displayName) > maxDisplayName {
		return fmt.Errorf("display name exceeds maximum length of %d characters", maxDisplayName)
	}
	kind := store.PrincipalUser
	if _, ok := flags["service"]; ok {
		kind = store.PrincipalService
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := gateway.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	principal := &store.Principal{
		ID:          uuid.New().String(),
		DisplayName: displayName,
		Kind:        kind,
		Status:      store.PrincipalActive,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.CreatePrincipal(ctx, principal); err != nil {
		return fmt.Errorf("creating principal: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created %s principal: %s\n", kind, displayName)

	token, expiresAt, err := mintToken(cfg.Auth.JWTSecret, principal.ID, defaultTokenTTL)
	if err != nil {
		return err
	}
	printToken(os.Stdout, principal, token, expiresAt)
	return nil
}

// runToken mints a fresh token for an existing principal.
func runToken(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]bool{"principal": true, "ttl": true}, map[string]string{"p": "principal"})
	if err != nil {
		return err
	}

	principalID := flags["principal"]
	if principalID == "" {
		return errors.New("--principal flag is required")
	}
	ttl := defaultTokenTTL
	if raw, ok := flags["ttl"]; ok {
		ttl, err = time.ParseDuration(raw)
		if err != nil || ttl <= 0 {
			return fmt.Errorf("invalid --ttl %q", raw)
		}
	}

	cfg, err := config.Load(config.DefaultPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	s, err := gateway.OpenStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer s.Close()

	principal, err := s.GetPrincipal(ctx, principalID)
	if err != nil {
		return fmt.Errorf("looking up principal: %w", err)
	}
	if principal.Status != store.PrincipalActive {
		color.Yellow("  ! principal %s is %s; the token will be rejected until it is reactivated", principal.ID, principal.Status)
	}

	token, expiresAt, err := mintToken(cfg.Auth.JWTSecret, principal.ID, ttl)
	if err != nil {
		return err
	}
	printToken(os.Stdout, principal, token, expiresAt)
	return nil
}

func mintToken(secret, principalID string, ttl time.Duration) (string, time.Time, error) {
	verifier, err := auth.NewJWTVerifier([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("creating JWT verifier: %w", err)
	}
	token, err := verifier.Generate(principalID, ttl)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generating token: %w", err)
	}
	return token, time.Now().Add(ttl).UTC(), nil
}

func printToken(w io.Writer, p *store.Principal, token string, expiresAt time.Time) {
	cyan := color.New(color.FgCyan)
	fmt.Fprintln(w)
	cyan.Fprintln(w, "  Principal")
	cyan.Fprintln(w, "  ---------")
	fmt.Fprintf(w, "  ID:           %s\n", p.ID)
	fmt.Fprintf(w, "  Display Name: %s\n", p.DisplayName)
	fmt.Fprintf(w, "  Kind:         %s\n", p.Kind)
	fmt.Fprintf(w, "  Status:       %s\n", p.Status)
	fmt.Fprintf(w, "  Expires:      %s\n", expiresAt.Format("Jan 02, 2006 15:04 MST"))
	fmt.Fprintln(w)
	fmt.Fprintln(w, token)
}

func runHealth(ctx context.Context, args []string) error {
	flags, err := parseFlags(args, map[string]bool{"url": true}, nil)
	if err != nil {
		return err
	}

	base, ok := flags["url"]
	if !ok {
		cfg, err := config.Load(config.DefaultPath())
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		base = "http://" + cfg.Server.HTTPAddr
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/health/ready", nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

// parseFlags accepts "--name value", "--name=value" and bare boolean flags.
// defs maps each long flag to whether it takes a value; aliases maps short
// names to long ones. Boolean flags present in the result map to "".
func parseFlags(args []string, defs map[string]bool, aliases map[string]string) (map[string]string, error) {
	out := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("unexpected argument: %s", arg)
		}

		name := strings.TrimLeft(arg, "-")
		value, hasValue := "", false
		if eq := strings.IndexByte(name, '='); eq >= 0 {
			name, value, hasValue = name[:eq], name[eq+1:], true
		}
		if long, ok := aliases[name]; ok {
			name = long
		}

		takesValue, known := defs[name]
		if !known {
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
		if !takesValue {
			if hasValue {
				return nil, fmt.Errorf("--%s does not take a value", name)
			}
			out[name] = ""
			continue
		}
		if !hasValue {
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--%s requires a value", name)
			}
			value = args[i+1]
			i++
		}
		out[name] = value
	}
	return out, nil
}
