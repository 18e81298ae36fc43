// retailagent runs the shopping automation orchestrator: it parses free-text
// shopping requests with a resilient model cascade and drives storefront
// pages through a connected page agent.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/term"

	"github.com/StevenAri1995/RetailAgent/pkg/bridge"
	"github.com/StevenAri1995/RetailAgent/pkg/config"
	"github.com/StevenAri1995/RetailAgent/pkg/flow"
	"github.com/StevenAri1995/RetailAgent/pkg/intent"
	"github.com/StevenAri1995/RetailAgent/pkg/logx"
	"github.com/StevenAri1995/RetailAgent/pkg/persistence"
	"github.com/StevenAri1995/RetailAgent/pkg/platform"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "retailagent.yaml", "Path to configuration file")
		listen      = flag.String("listen", ":8080", "HTTP listen address for the agent endpoint")
		debug       = flag.Bool("debug", false, "Enable debug logging")
		showVersion = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("retailagent %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	if *debug {
		logx.SetDebug(true)
	}

	os.Exit(run(*configPath, *listen))
}

// run contains the main application logic and returns an exit code.
// This allows defers to execute before os.Exit is called.
func run(configPath, listen string) int {
	logger := logx.NewLogger("main")

	if err := config.Load(configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}
	cfg, err := config.Get()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	if err := persistence.Initialize(cfg.Storage.DBPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open store: %v\n", err)
		return 1
	}
	defer func() {
		if err := persistence.Shutdown(); err != nil {
			logger.Warn("store shutdown: %v", err)
		}
	}()
	store := persistence.Default()

	apiKey := resolveAPIKey(store)
	if apiKey == "" {
		logger.Warn("no API key available; intent resolution will fail until one is provided")
	}

	resolver := intent.NewResolver(intent.ResolverOptions{
		Candidates: candidatesFromConfig(cfg.Models.Candidates),
		Factory:    intent.NewDefaultFactory(cfg.Models.OllamaEndpoint),
		Store:      store.Namespace(persistence.NamespaceModels),
	})

	transport := bridge.NewWSTransport()
	br := bridge.New(transport, cfg.Bridge.CallTimeout.Std())
	defer func() { _ = br.Close() }()

	registry, err := buildRegistry(cfg, br)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load platforms: %v\n", err)
		return 1
	}

	orch, err := flow.New(flow.Options{
		Resolver:        resolver,
		Registry:        registry,
		Events:          br,
		Store:           store.Namespace(persistence.NamespaceFlow),
		APIKey:          func() string { return apiKey },
		DefaultPlatform: cfg.Flow.DefaultPlatform,
		PageLoadTimeout: cfg.Flow.PageLoadTimeout.Std(),
		ConfirmTimeout:  cfg.Flow.ConfirmTimeout.Std(),
		PollInterval:    cfg.Flow.PollInterval.Std(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build orchestrator: %v\n", err)
		return 1
	}

	mux := http.NewServeMux()
	mux.Handle("/agent", transport)
	if cfg.Metrics.Enabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	server := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		logger.Info("listening on %s (agent endpoint /agent)", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("retailagent ready. Type 'help' for commands.")
	repl(ctx, orch)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
	return 0
}

func candidatesFromConfig(configured []config.ModelCandidate) []intent.Candidate {
	out := make([]intent.Candidate, 0, len(configured))
	for _, c := range configured {
		out = append(out, intent.Candidate{Provider: intent.Provider(c.Provider), Model: c.Model})
	}
	return out
}

func buildRegistry(cfg config.Config, caller platform.Caller) (*platform.Registry, error) {
	if cfg.Platforms.DescriptorFile == "" {
		return platform.NewDefaultRegistry(caller), nil
	}
	descs, err := platform.LoadDescriptorFile(cfg.Platforms.DescriptorFile)
	if err != nil {
		return nil, err
	}
	reg := platform.NewRegistry()
	for _, desc := range descs {
		reg.Register(platform.New(desc, caller))
	}
	return reg, nil
}

// resolveAPIKey finds the model API key: environment first, then the stored
// credential, then an interactive prompt when a terminal is attached.
func resolveAPIKey(store *persistence.Store) string {
	for _, env := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
		if v := os.Getenv(env); v != "" {
			return v
		}
	}

	creds := store.Namespace(persistence.NamespaceCredentials)
	if v, ok := creds.Get("api_key"); ok && v != "" {
		return v
	}

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return ""
	}
	fmt.Print("Enter model API key: ")
	raw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return ""
	}
	key := strings.TrimSpace(string(raw))
	if key != "" {
		creds.Set("api_key", key)
	}
	return key
}

func repl(ctx context.Context, orch *flow.Orchestrator) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleCommand(ctx, orch, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

// handleCommand runs one REPL command, returning false on quit.
func handleCommand(ctx context.Context, orch *flow.Orchestrator, line string) bool {
	if line == "" {
		return true
	}
	cmd, rest, _ := strings.Cut(line, " ")

	switch cmd {
	case "quit", "exit":
		return false

	case "help":
		fmt.Println(`Commands:
  buy <request>                         start a shopping flow
  cancel                                cancel the active flow
  status                                show the active flow state
  models                                list usable candidate models
  track <platform> <order-id>           fetch order tracking
  return <platform> <order-id> <reason> start a return
  ticket <platform> <subject> | <body>  file a support ticket
  quit`)

	case "buy":
		if rest == "" {
			fmt.Println("usage: buy <request>")
			return true
		}
		done := orch.SubmitQuery(ctx, rest)
		go func() {
			snap := <-done
			if snap.Superseded {
				return
			}
			fmt.Printf("\nflow finished: %s", snap.State)
			if snap.Order != nil {
				fmt.Printf(" order=%s eta=%s", snap.Order.OrderID, snap.Order.ETA)
			}
			if snap.Error != "" {
				fmt.Printf(" error=%s", snap.Error)
			}
			fmt.Println()
		}()

	case "cancel":
		orch.CancelCurrentFlow()
		fmt.Println("cancelled")

	case "status":
		snap := orch.Status()
		fmt.Printf("state=%s generation=%d", snap.State, snap.Generation)
		if snap.Intent.Product != "" {
			fmt.Printf(" product=%q platform=%s", snap.Intent.Product, snap.Platform)
		}
		if snap.Error != "" {
			fmt.Printf(" error=%s", snap.Error)
		}
		fmt.Println()

	case "models":
		models, err := orch.CheckAvailableModels(ctx)
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		for _, m := range models {
			fmt.Println("  " + m)
		}

	case "track":
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			fmt.Println("usage: track <platform> <order-id>")
			return true
		}
		order, err := orch.TrackOrder(ctx, fields[0], fields[1])
		if err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Printf("order %s: amount=%.2f eta=%s\n", order.OrderID, order.Amount, order.ETA)

	case "return":
		fields := strings.SplitN(rest, " ", 3)
		if len(fields) != 3 {
			fmt.Println("usage: return <platform> <order-id> <reason>")
			return true
		}
		if err := orch.InitiateReturn(ctx, fields[0], fields[1], fields[2]); err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println("return initiated")

	case "ticket":
		platformID, rest2, _ := strings.Cut(rest, " ")
		subject, body, ok := strings.Cut(rest2, "|")
		if platformID == "" || !ok {
			fmt.Println("usage: ticket <platform> <subject> | <body>")
			return true
		}
		if err := orch.CreateSupportTicket(ctx, platformID, strings.TrimSpace(subject), strings.TrimSpace(body)); err != nil {
			fmt.Printf("error: %v\n", err)
			return true
		}
		fmt.Println("ticket created")

	default:
		fmt.Printf("unknown command %q (try 'help')\n", cmd)
	}
	return true
}
