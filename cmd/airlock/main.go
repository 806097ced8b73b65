package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	apiclient "github.com/splax/airlock/pkg/api/client"
)

const defaultAPIBaseURL = "http://localhost:8000"

type cliConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

var buildVersion = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	cmd := os.Args[1]
	args := os.Args[2:]

	var err error
	switch cmd {
	case "login":
		err = commandLogin(args)
	case "upload":
		err = commandUpload(args)
	case "list":
		err = commandList(args)
	case "show":
		err = commandShow(args)
	case "deploy":
		err = commandDeploy(args)
	case "delete":
		err = commandDelete(args)
	case "events":
		err = commandEvents(args)
	case "version", "--version", "-v":
		printVersion()
		return
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func commandLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	token := fs.String("token", "", "API bearer token (supply to avoid prompt)")
	apiBase := fs.String("api", "", "API base URL (default "+defaultAPIBaseURL+")")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Print("Token: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Print("\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = strings.TrimSpace(string(bytes))
	}

	cfg, _ := loadConfig()
	if strings.TrimSpace(*apiBase) != "" {
		cfg.APIBaseURL = strings.TrimSpace(*apiBase)
	}
	cfg.AccessToken = secret

	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if _, err := client.ListDeployments(ctx, cfg.AccessToken, 1); err != nil {
		return fmt.Errorf("verify credentials: %w", err)
	}
	if err := saveConfig(cfg); err != nil {
		return err
	}
	fmt.Printf("logged in to %s\n", cfg.APIBaseURL)
	return nil
}

func commandUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	mode := fs.String("deploy", "", "Deploy right after a successful intake (demo|prod)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: airlock upload <site.zip> [--deploy demo|prod]")
	}

	cfg, client, err := connect()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	dep, err := client.Upload(ctx, cfg.AccessToken, fs.Arg(0))
	if err != nil {
		return err
	}
	if *mode == "" {
		return printDeployment(os.Stdout, dep)
	}
	if err := printDeployment(os.Stderr, dep); err != nil {
		return err
	}
	dep, err = client.Deploy(ctx, cfg.AccessToken, dep.ID, *mode)
	if err != nil {
		return err
	}
	return printDeployment(os.Stdout, dep)
}

func commandList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of deployments")
	fs.Parse(args)

	cfg, client, err := connect()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	deployments, err := client.ListDeployments(ctx, cfg.AccessToken, *limit)
	if err != nil {
		return err
	}
	if !isTerminal(os.Stdout) {
		return writeJSON(os.Stdout, deployments)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tMODE\tURL\tCREATED")
	for _, dep := range deployments {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", dep.ID, dep.Name, dep.Status, dash(dep.Mode), dash(dep.URL), dep.CreatedAt.Local().Format(time.RFC3339))
	}
	return tw.Flush()
}

func commandShow(args []string) error {
	id, err := singleID("show", args)
	if err != nil {
		return err
	}
	cfg, client, err := connect()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	dep, err := client.GetDeployment(ctx, cfg.AccessToken, id)
	if err != nil {
		return err
	}
	return printDeployment(os.Stdout, dep)
}

func commandDeploy(args []string) error {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	mode := fs.String("mode", "demo", "Deployment mode (demo|prod)")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: airlock deploy <deployment-id> [--mode demo|prod]")
	}

	cfg, client, err := connect()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	dep, err := client.Deploy(ctx, cfg.AccessToken, fs.Arg(0), *mode)
	if err != nil {
		return err
	}
	return printDeployment(os.Stdout, dep)
}

func commandDelete(args []string) error {
	id, err := singleID("delete", args)
	if err != nil {
		return err
	}
	cfg, client, err := connect()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := client.DeleteDeployment(ctx, cfg.AccessToken, id); err != nil {
		return err
	}
	fmt.Println("deployment deleted")
	return nil
}

func commandEvents(args []string) error {
	fs := flag.NewFlagSet("events", flag.ExitOnError)
	limit := fs.Int("limit", 200, "Maximum number of past events")
	follow := fs.Bool("follow", false, "Keep streaming new events")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: airlock events <deployment-id> [--limit N] [--follow]")
	}
	id := fs.Arg(0)

	cfg, client, err := connect()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	events, err := client.ListEvents(listCtx, cfg.AccessToken, id, *limit)
	cancel()
	if err != nil {
		return err
	}
	for _, event := range events {
		printEvent(os.Stdout, event)
	}
	if !*follow {
		return nil
	}
	return client.StreamEvents(ctx, cfg.AccessToken, id, func(event apiclient.Event) {
		printEvent(os.Stdout, event)
	})
}

func connect() (cliConfig, *apiclient.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return cliConfig{}, nil, err
	}
	client, err := apiclient.New(cfg.APIBaseURL)
	if err != nil {
		return cliConfig{}, nil, err
	}
	return cfg, client, nil
}

func singleID(command string, args []string) (string, error) {
	if len(args) != 1 || strings.TrimSpace(args[0]) == "" {
		return "", fmt.Errorf("usage: airlock %s <deployment-id>", command)
	}
	return strings.TrimSpace(args[0]), nil
}

func printDeployment(w io.Writer, dep apiclient.Deployment) error {
	if !isTerminal(w) {
		return writeJSON(w, dep)
	}
	fmt.Fprintf(w, "%s  %s  [%s]\n", dep.ID, dep.Name, dep.Status)
	fmt.Fprintf(w, "  files: %d (%d bytes)\n", dep.FileCount, dep.TotalSize)
	if dep.URL != "" {
		fmt.Fprintf(w, "  url:   %s (%s)\n", dep.URL, dep.Mode)
	}
	if dep.ExpiresAt != nil {
		fmt.Fprintf(w, "  expires: %s\n", dep.ExpiresAt.Local().Format(time.RFC3339))
	}
	for _, name := range checkOrder(dep.Checks) {
		result := dep.Checks[name]
		fmt.Fprintf(w, "  %-16s %-5s %s\n", name, strings.ToUpper(result.Status), result.Summary)
		for _, detail := range result.Details {
			fmt.Fprintf(w, "      - %s\n", detail)
		}
	}
	return nil
}

// checkOrder lists built-in domains first, then plugins by name.
func checkOrder(checks map[string]apiclient.CheckResult) []string {
	var out, plugins []string
	for _, name := range []string{"security", "cost", "brand"} {
		if _, ok := checks[name]; ok {
			out = append(out, name)
		}
	}
	for name := range checks {
		if strings.HasPrefix(name, "plugin:") {
			plugins = append(plugins, name)
		}
	}
	slices.Sort(plugins)
	return append(out, plugins...)
}

func printEvent(w io.Writer, event apiclient.Event) {
	if !isTerminal(w) {
		_ = json.NewEncoder(w).Encode(event)
		return
	}
	fmt.Fprintf(w, "%s %-5s %-16s %s\n", event.CreatedAt.Local().Format("15:04:05"), event.Level, event.Source, event.Message)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func loadConfig() (cliConfig, error) {
	cfg := cliConfig{APIBaseURL: defaultAPIBaseURL}
	path, err := configPath()
	if err != nil {
		return cfg, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return cfg, err
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("AIRLOCK_API")); v != "" {
		cfg.APIBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("AIRLOCK_TOKEN")); v != "" {
		cfg.AccessToken = v
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = defaultAPIBaseURL
	}
	return cfg, nil
}

func saveConfig(cfg cliConfig) error {
	path, err := configPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func configPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "airlock", "config.json"), nil
}

func printUsage() {
	fmt.Printf("airlock CLI %s\n\n", buildVersion)
	fmt.Print(`Usage:
	airlock login [--token <jwt>] [--api http://localhost:8000]
	airlock upload <site.zip> [--deploy demo|prod]
	airlock list [--limit N]
	airlock show <deployment-id>
	airlock deploy <deployment-id> [--mode demo|prod]
	airlock delete <deployment-id>
	airlock events <deployment-id> [--limit N] [--follow]
	airlock version

Environment: AIRLOCK_API and AIRLOCK_TOKEN override the saved login.
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
