package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mblsha/diagforge/internal/builder"
	"github.com/mblsha/diagforge/internal/config"
	"github.com/mblsha/diagforge/internal/discovery"
	"github.com/mblsha/diagforge/internal/glob"
	"github.com/mblsha/diagforge/internal/queue"
	"github.com/mblsha/diagforge/internal/report"
	"github.com/mblsha/diagforge/internal/server"
	"github.com/mblsha/diagforge/internal/store"
	"github.com/mblsha/diagforge/internal/stream"
	"github.com/mblsha/diagforge/internal/tokens"
	"github.com/mblsha/diagforge/internal/tools"
)

var version = "dev"

const mcpPath = "/mcp"

var rootCmd = &cobra.Command{
	Use:           "diagforge",
	Short:         "Build server with bounded diagnostic reports",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and MCP endpoint",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve MCP tools over stdio",
	Args:  cobra.NoArgs,
	RunE:  runStdio,
}

func main() {
	rootCmd.Version = version
	rootCmd.AddCommand(serveCmd, mcpCmd)
	rootCmd.PersistentFlags().Bool("fake-builder", false, "use the scripted fake builder instead of the build command")

	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("diagforge failed: %v", err)
	}
}

// app holds the wired server components. The estimator and matcher caches
// are created once here and shared by every request.
type app struct {
	cfg       config.Config
	manager   *queue.Manager
	assembler *report.Assembler
	registry  *tools.Registry
	mcp       *mcp.Server
}

func newApp(cfg config.Config, b builder.Builder) (*app, error) {
	mgr := queue.New(cfg, store.New(cfg), b)
	est := tokens.New(cfg.Limits.TokenCacheSize)
	matcher := glob.New(cfg.Limits.PatternCacheSize, cfg.Limits.MatchTimeout)
	assembler := report.NewAssembler(mgr.Collaborator(), est, matcher, stream.Limits{
		BufferCeiling:   cfg.Limits.BufferCeiling,
		OutputCeiling:   cfg.Limits.OutputCeiling,
		MaxTokens:       cfg.Limits.MaxResponseTokens,
		MetadataReserve: cfg.Limits.MetadataReserve,
	})

	reg, err := tools.NewRegistry(
		tools.BuildStatus{Assembler: assembler},
		tools.StartBuild{Jobs: mgr},
		tools.BuildLogTail{Jobs: mgr},
	)
	if err != nil {
		return nil, err
	}
	srv := mcp.NewServer(&mcp.Implementation{Name: "diagforge", Version: version}, nil)
	reg.RegisterMCP(srv)

	return &app{cfg: cfg, manager: mgr, assembler: assembler, registry: reg, mcp: srv}, nil
}

func (a *app) handler() http.Handler {
	return server.New(a.cfg, a.manager, a.assembler, a.mcp).Handler()
}

func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	fake, _ := cmd.Flags().GetBool("fake-builder")
	return newApp(cfg, chooseBuilder(cfg, fake))
}

func chooseBuilder(cfg config.Config, fake bool) builder.Builder {
	if fake || strings.EqualFold(strings.TrimSpace(os.Getenv("DIAGFORGE_USE_FAKE_BUILDER")), "1") {
		log.Printf("using fake builder")
		return &builder.FakeBuilder{}
	}
	b := builder.NewCommandBuilder(cfg.BuildCommand, nil)
	b.StopOnFailure = cfg.StopOnFailure
	return b
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.manager.Start(ctx); err != nil {
		return err
	}

	httpServer := &http.Server{Addr: a.cfg.ListenAddr, Handler: a.handler()}

	if advertiser := a.advertise(); advertiser != nil {
		defer advertiser.Close()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("diagforge server listening on %s", a.cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// runStdio serves the MCP tools on stdin/stdout. Logs go to stderr so they
// never interleave with protocol frames.
func runStdio(cmd *cobra.Command, _ []string) error {
	log.SetOutput(os.Stderr)
	a, err := setup(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := a.manager.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("diagforge mcp serving on stdio tools=%s", strings.Join(a.registry.Names(), ","))
		err := a.mcp.Run(gctx, &mcp.StdioTransport{})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

func (a *app) advertise() *discovery.Advertiser {
	if !a.cfg.DiscoveryEnabled {
		return nil
	}
	port, err := discovery.ParseListenPort(a.cfg.ListenAddr)
	if err != nil {
		log.Printf("discovery advertisement disabled: %v", err)
		return nil
	}
	instance := hostFallback()
	advertiser, err := discovery.StartAdvertiser(instance, a.cfg.ServiceName, discovery.DefaultDomain, port, a.txt())
	if err != nil {
		log.Printf("failed to start discovery advertisement: %v", err)
		return nil
	}
	log.Printf("discovery advertisement enabled service=%s instance=%s port=%d", a.cfg.ServiceName, instance, port)
	return advertiser
}

func (a *app) txt() discovery.TXT {
	txt := discovery.TXT{Version: version, MCPPath: mcpPath}
	if strings.TrimSpace(a.cfg.Token) != "" {
		txt.AuthHeader = a.cfg.AuthHeader
	}
	return txt
}

func hostFallback() string {
	hostname, err := os.Hostname()
	if err != nil || strings.TrimSpace(hostname) == "" {
		return "diagforge"
	}
	return strings.TrimSpace(hostname)
}
