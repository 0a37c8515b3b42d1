// ABOUTME: Admin CLI for the monitoring party: devices, history, blocks and attempts
// ABOUTME: Talks to the management REST API with a bearer token from YTWATCH_TOKEN or the token file

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"github.com/2389/ytwatch/internal/apiclient"
)

const defaultServerURL = "http://127.0.0.1:3000"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	client := apiclient.New(getEnv("YTWATCH_SERVER", defaultServerURL),
		apiclient.WithTimeout(15*time.Second),
		apiclient.WithUserAgent("ytwatch-admin"))
	token := getToken()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = cmdLogin(ctx, client)
	case "devices":
		err = cmdDevices(ctx, client, token)
	case "history":
		err = cmdHistory(ctx, client, token, args)
	case "blocks":
		err = cmdBlocks(ctx, client, token, args)
	case "attempts":
		err = cmdAttempts(ctx, client, token, args)
	case "stats":
		err = cmdStats(ctx, client, token)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		if apiclient.IsAuthFailure(err) {
			err = fmt.Errorf("%w (run `ytwatch-admin login` or `ytwatch-server token`)", err)
		}
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	yellow := color.New(color.FgYellow)

	fmt.Println("Usage: ytwatch-admin <command> [args]")
	fmt.Println()
	yellow.Println("Commands:")
	fmt.Println("  login                              Exchange the admin password for a token")
	fmt.Println("  devices                            List devices and whether they are online")
	fmt.Println("  history <device-id> [-n N]         Show a device's watch history, newest first")
	fmt.Println("  blocks                             List all blocks")
	fmt.Println("  blocks add <url> [--device ID] [--message TEXT]")
	fmt.Println("                                     Block a video or channel")
	fmt.Println("  blocks delete <id>                 Remove a block")
	fmt.Println("  attempts [-n N]                    Show recent block attempts")
	fmt.Println("  stats                              Attempt counts for today and overall")
	fmt.Println()
	yellow.Println("Environment:")
	fmt.Printf("  YTWATCH_SERVER    Server URL (default: %s)\n", defaultServerURL)
	fmt.Println("  YTWATCH_TOKEN     Management token (default: read from the token file)")
	fmt.Println()
}

func requireToken(token string) error {
	if token == "" {
		return fmt.Errorf("no management token: set YTWATCH_TOKEN or run `ytwatch-admin login`")
	}
	return nil
}

func cmdLogin(ctx context.Context, client *apiclient.Client) error {
	password, err := readPassword()
	if err != nil {
		return err
	}
	resp, err := client.Login(ctx, password)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	path := tokenPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(resp.Token), 0o600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	color.New(color.FgGreen).Printf("✓ Logged in, token saved to %s\n", path)
	fmt.Printf("  expires %s\n", resp.ExpiresAt.Local().Format("Jan 02 15:04"))
	return nil
}

func cmdDevices(ctx context.Context, client *apiclient.Client, token string) error {
	if err := requireToken(token); err != nil {
		return err
	}
	devices, err := client.Devices(ctx, token)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	header("Devices")
	if len(devices) == 0 {
		fmt.Println("  (no devices)")
		fmt.Println()
		return nil
	}

	green := color.New(color.FgGreen)
	gray := color.New(color.FgHiBlack)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tNAME\tSTATUS\tLAST SEEN")
	fmt.Fprintln(w, "  --\t----\t------\t---------")
	for _, d := range devices {
		status := gray.Sprint("offline")
		if d.Online {
			status = green.Sprint("online")
		}
		seen := "never"
		if d.LastHeartbeat != nil {
			seen = d.LastHeartbeat.Local().Format("Jan 02 15:04")
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\n", truncate(d.DeviceID, 24), truncate(d.DeviceName, 28), status, seen)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdHistory(ctx context.Context, client *apiclient.Client, token string, args []string) error {
	if err := requireToken(token); err != nil {
		return err
	}
	limit, rest, err := parseLimit(args)
	if err != nil {
		return err
	}
	if len(rest) != 1 {
		return errors.New("usage: history <device-id> [-n N]")
	}
	deviceID := rest[0]

	entries, err := client.DeviceHistory(ctx, token, deviceID, limit)
	if err != nil {
		return fmt.Errorf("fetching history: %w", err)
	}

	header("Watch history: " + deviceID)
	if len(entries) == 0 {
		fmt.Println("  (no history)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  WATCHED\tVIDEO\tTITLE\tCHANNEL\tDURATION")
	fmt.Fprintln(w, "  -------\t-----\t-----\t-------\t--------")
	for _, e := range entries {
		duration := "-"
		if e.Duration != nil {
			duration = (time.Duration(*e.Duration) * time.Second).String()
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			e.WatchedAt.Local().Format("Jan 02 15:04"), e.VideoID,
			truncate(e.Title, 40), truncate(e.ChannelName, 24), duration)
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdBlocks(ctx context.Context, client *apiclient.Client, token string, args []string) error {
	if err := requireToken(token); err != nil {
		return err
	}

	subcmd := "list"
	if len(args) > 0 {
		subcmd = args[0]
		args = args[1:]
	}

	switch subcmd {
	case "list", "ls":
		return cmdBlocksList(ctx, client, token)
	case "add", "create":
		return cmdBlocksAdd(ctx, client, token, args)
	case "delete", "rm", "remove":
		return cmdBlocksDelete(ctx, client, token, args)
	default:
		return fmt.Errorf("unknown blocks subcommand: %s (use list, add, delete)", subcmd)
	}
}

func cmdBlocksList(ctx context.Context, client *apiclient.Client, token string) error {
	blocks, err := client.ListBlocks(ctx, token)
	if err != nil {
		return fmt.Errorf("listing blocks: %w", err)
	}

	header("Blocks")
	if len(blocks) == 0 {
		fmt.Println("  (no blocks)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tTYPE\tTARGET\tSCOPE\tMESSAGE\tCREATED")
	fmt.Fprintln(w, "  --\t----\t------\t-----\t-------\t-------")
	for _, b := range blocks {
		scope := "all devices"
		if b.DeviceID != nil {
			scope = *b.DeviceID
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\t%s\n",
			b.ID, b.Type, b.YouTubeID, truncate(scope, 20),
			truncate(b.CustomMessage, 30), b.CreatedAt.Local().Format("Jan 02 15:04"))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdBlocksAdd(ctx context.Context, client *apiclient.Client, token string, args []string) error {
	var req apiclient.CreateBlockRequest
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "--device", "-d":
			if i+1 < len(args) {
				req.DeviceID = args[i+1]
				i++
			}
		case "--message", "-m":
			if i+1 < len(args) {
				req.CustomMessage = args[i+1]
				i++
			}
		default:
			if strings.HasPrefix(args[i], "-") || req.URL != "" {
				return fmt.Errorf("unexpected argument: %s", args[i])
			}
			req.URL = args[i]
		}
	}
	if req.URL == "" {
		return errors.New("usage: blocks add <url> [--device ID] [--message TEXT]")
	}

	block, err := client.CreateBlock(ctx, token, req)
	if err != nil {
		return fmt.Errorf("creating block: %w", err)
	}

	color.New(color.FgGreen).Printf("✓ Blocked %s %s\n", block.Type, block.YouTubeID)
	fmt.Printf("  ID:    %s\n", block.ID)
	if block.DeviceID != nil {
		fmt.Printf("  Scope: %s\n", *block.DeviceID)
	} else {
		fmt.Println("  Scope: all devices")
	}
	return nil
}

func cmdBlocksDelete(ctx context.Context, client *apiclient.Client, token string, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: blocks delete <id>")
	}
	if err := client.DeleteBlock(ctx, token, args[0]); err != nil {
		if apiclient.IsStatus(err, http.StatusNotFound) {
			return fmt.Errorf("no block with id %s (see `ytwatch-admin blocks`)", args[0])
		}
		return fmt.Errorf("deleting block: %w", err)
	}
	color.New(color.FgGreen).Printf("✓ Deleted block: %s\n", args[0])
	return nil
}

func cmdAttempts(ctx context.Context, client *apiclient.Client, token string, args []string) error {
	if err := requireToken(token); err != nil {
		return err
	}
	limit, rest, err := parseLimit(args)
	if err != nil {
		return err
	}
	if len(rest) > 0 {
		return fmt.Errorf("unexpected argument: %s", rest[0])
	}

	attempts, err := client.Attempts(ctx, token, limit)
	if err != nil {
		return fmt.Errorf("listing attempts: %w", err)
	}

	header("Block attempts")
	if len(attempts) == 0 {
		fmt.Println("  (no attempts)")
		fmt.Println()
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "  WHEN\tDEVICE\tTYPE\tTARGET\tTITLE")
	fmt.Fprintln(w, "  ----\t------\t----\t------\t-----")
	for _, a := range attempts {
		device := a.DeviceName
		if device == "" {
			device = a.DeviceID
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n",
			a.AttemptedAt.Local().Format("Jan 02 15:04"), truncate(device, 24),
			a.Type, a.YouTubeID, truncate(a.VideoTitle, 40))
	}
	w.Flush()
	fmt.Println()
	return nil
}

func cmdStats(ctx context.Context, client *apiclient.Client, token string) error {
	if err := requireToken(token); err != nil {
		return err
	}
	stats, err := client.AttemptStats(ctx, token)
	if err != nil {
		return fmt.Errorf("fetching stats: %w", err)
	}
	header("Block attempts")
	fmt.Printf("  Today: %d\n", stats.Today)
	fmt.Printf("  Total: %d\n", stats.Total)
	fmt.Println()
	return nil
}

func header(title string) {
	cyan := color.New(color.FgCyan)
	fmt.Println()
	cyan.Println("  " + title)
	cyan.Println("  " + strings.Repeat("-", len(title)))
}

// parseLimit extracts -n/--limit from args and returns the remaining arguments.
func parseLimit(args []string) (int, []string, error) {
	limit := 0
	var rest []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-n", "--limit":
			if i+1 >= len(args) {
				return 0, nil, fmt.Errorf("%s requires a value", args[i])
			}
			n, err := strconv.Atoi(args[i+1])
			if err != nil || n <= 0 {
				return 0, nil, fmt.Errorf("%s must be a positive integer", args[i])
			}
			limit = n
			i++
		default:
			rest = append(rest, args[i])
		}
	}
	return limit, rest, nil
}

func readPassword() (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Admin password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// tokenPath matches where `ytwatch-server token` saves its token.
func tokenPath() string {
	if cfg := os.Getenv("YTWATCH_CONFIG"); cfg != "" {
		return filepath.Join(filepath.Dir(cfg), "token")
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "token"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "ytwatch", "token")
}

// getToken returns the management token from YTWATCH_TOKEN or the token file.
func getToken() string {
	if token := os.Getenv("YTWATCH_TOKEN"); token != "" {
		return token
	}
	data, err := os.ReadFile(tokenPath())
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
