package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"

	"github.com/mblsha/diagforge/internal/client"
	"github.com/mblsha/diagforge/internal/discovery"
	"github.com/mblsha/diagforge/internal/job"
	"github.com/mblsha/diagforge/internal/wire"
)

var discoverFn = discovery.Discover

type globalOptions struct {
	server          string
	token           string
	authHeader      string
	discoverTimeout time.Duration
	discoverService string
	format          string
}

var opts globalOptions

var rootCmd = &cobra.Command{
	Use:           "diagforge-cli",
	Short:         "Start builds and read bounded diagnostic reports",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var buildCmd = &cobra.Command{
	Use:   "build [targets...]",
	Short: "Submit a build and wait for it to finish",
	RunE:  runBuild,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the diagnostic report of the latest build",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

var logCmd = &cobra.Command{
	Use:   "log <job-id>",
	Short: "Print the console tail of a build",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&opts.server, "server", os.Getenv("DIAGFORGE_SERVER"), "server base url (if empty, auto-discover)")
	pf.StringVar(&opts.token, "token", strings.TrimSpace(os.Getenv("DIAGFORGE_TOKEN")), "auth token")
	pf.StringVar(&opts.authHeader, "auth-header", os.Getenv("DIAGFORGE_AUTH_HEADER"), "auth header (default from discovery or X-Build-Token)")
	pf.DurationVar(&opts.discoverTimeout, "discover-timeout", 2*time.Second, "mDNS auto-discovery timeout")
	pf.StringVar(&opts.discoverService, "discover-service", discovery.DefaultServiceName, "mDNS service name used for discovery")
	pf.StringVarP(&opts.format, "format", "o", "table", "output format (table|json|yaml)")

	buildCmd.Flags().Bool("wait", true, "poll until the build reaches a terminal state")
	buildCmd.Flags().Duration("poll", time.Second, "status polling interval")
	buildCmd.Flags().Int("tail-lines", 40, "console tail lines printed on failure")

	addStatusFlags(statusCmd)

	logCmd.Flags().Int("lines", 200, "number of lines")

	rootCmd.AddCommand(buildCmd, statusCmd, logCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("diagforge-cli: %v", err)
	}
}

func newClient(ctx context.Context) (*client.HTTPClient, error) {
	endpoint, err := resolveServer(ctx, opts.server, opts.discoverTimeout, opts.discoverService)
	if err != nil {
		return nil, err
	}
	header := opts.authHeader
	if header == "" {
		header = endpoint.AuthHeader
	}
	return &client.HTTPClient{BaseURL: endpoint.URL, Token: opts.token, AuthHeader: header}, nil
}

func resolveServer(ctx context.Context, explicit string, timeout time.Duration, service string) (discovery.Endpoint, error) {
	if s := strings.TrimSpace(explicit); s != "" {
		return discovery.Endpoint{URL: s}, nil
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	discoverCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	endpoint, err := discoverFn(discoverCtx, service, discovery.DefaultDomain)
	if err != nil {
		return discovery.Endpoint{}, fmt.Errorf("auto-discover server via mDNS (%s): %w; pass --server", service, err)
	}
	log.Printf("discovered diagforge at %s (instance=%s)", endpoint.URL, endpoint.Instance)
	return endpoint, nil
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	jobID, err := c.Submit(ctx, args)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "job submitted: %s\n", jobID)
	if wait, _ := cmd.Flags().GetBool("wait"); !wait {
		return nil
	}

	poll, _ := cmd.Flags().GetDuration("poll")
	var last string
	rec, err := c.WaitForTerminalWithProgress(ctx, jobID, poll, func(r *job.Record) {
		line := progressLine(r)
		if line != last {
			fmt.Fprintln(out, line)
			last = line
		}
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "job finished: %s (%s)\n", rec.State, rec.Message)
	if rec.State == job.StateSucceeded {
		return nil
	}
	if rec.FailureKind != "" {
		fmt.Fprintf(out, "failure: kind=%s\n", rec.FailureKind)
	}
	if resp, err := c.BuildStatus(ctx, wire.Request{}); err == nil {
		if err := render(out, opts.format, resp); err != nil {
			return err
		}
	}
	if n, _ := cmd.Flags().GetInt("tail-lines"); n > 0 {
		if tail, err := c.GetLogTail(ctx, jobID, n); err == nil && strings.TrimSpace(tail) != "" {
			fmt.Fprintf(out, "console tail (%d lines):\n%s", n, tail)
		}
	}
	return fmt.Errorf("build %s", strings.ToLower(string(rec.State)))
}

func runStatus(cmd *cobra.Command, _ []string) error {
	req, err := statusRequest(cmd)
	if err != nil {
		return err
	}
	c, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	resp, err := c.BuildStatus(cmd.Context(), req)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), opts.format, resp)
}

func runLog(cmd *cobra.Command, args []string) error {
	c, err := newClient(cmd.Context())
	if err != nil {
		return err
	}
	lines, _ := cmd.Flags().GetInt("lines")
	tail, err := c.GetLogTail(cmd.Context(), args[0], lines)
	if err != nil {
		return err
	}
	_, err = io.WriteString(cmd.OutOrStdout(), tail)
	return err
}

func addStatusFlags(cmd *cobra.Command) {
	cmd.Flags().StringSlice("target", nil, "only report diagnostics from these targets (repeatable)")
	cmd.Flags().Int("max", 0, "page size (1-1000); 0 uses the token budget instead")
	cmd.Flags().String("cursor", "", "continuation cursor from a previous page")
	cmd.Flags().String("severity", "all", "severity filter (all|error|warning)")
	cmd.Flags().String("pattern", "", "file glob, e.g. src/**/*.rs")
}

func statusRequest(cmd *cobra.Command) (wire.Request, error) {
	severity, _ := cmd.Flags().GetString("severity")
	switch wire.SeverityFilter(severity) {
	case wire.FilterAll, wire.FilterError, wire.FilterWarning:
	default:
		return wire.Request{}, fmt.Errorf("--severity must be all, error or warning")
	}

	var req wire.Request
	if targets, _ := cmd.Flags().GetStringSlice("target"); len(targets) > 0 {
		req.Targets = targets
	}
	if n, _ := cmd.Flags().GetInt("max"); n != 0 {
		req.MaxDiagnostics = &n
	}
	if v, _ := cmd.Flags().GetString("cursor"); v != "" {
		req.Cursor = &v
	}
	if severity != string(wire.FilterAll) {
		req.SeverityFilter = &severity
	}
	if v, _ := cmd.Flags().GetString("pattern"); v != "" {
		req.FilePattern = &v
	}
	return req, nil
}

func progressLine(r *job.Record) string {
	return fmt.Sprintf("%s: %d/%d targets done, %d failed", r.State, r.Completed, len(r.Targets), r.Failed)
}

func render(w io.Writer, format string, resp *wire.Response) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(resp); err != nil {
			return err
		}
		return enc.Close()
	case "table", "":
		renderTable(w, resp, terminalWidth(w))
		return nil
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	dimColor     = color.New(color.Faint)
)

func renderTable(w io.Writer, resp *wire.Response, width int) {
	s := resp.Summary
	fmt.Fprintf(w, "status: %s  errors: %d  warnings: %d  shown: %d/%d  tokens: %d\n",
		resp.Status, s.ErrorCount, s.WarningCount, s.ReturnedDiagnostics, s.TotalDiagnostics, resp.TokenCount)
	if b := s.BuildSummary; b != nil {
		fmt.Fprintf(w, "targets: %d completed, %d remaining, %d failed\n", b.Completed, b.Remaining, b.Failed)
	}
	for _, d := range resp.Diagnostics {
		label := warningColor.Sprint("warning")
		if d.Severity == wire.SeverityError {
			label = errorColor.Sprint("error  ")
		}
		loc := fmt.Sprintf("%s:%d:%d", d.File, d.Line, d.Column)
		// label is colored; its visible width is fixed at 7
		text := fitWidth(loc+"  "+d.Message, width-9)
		fmt.Fprintf(w, "%s  %s\n", label, text)
	}
	if resp.Truncated && resp.TruncationReason != nil {
		fmt.Fprintln(w, dimColor.Sprint("truncated: "+*resp.TruncationReason))
	}
	if resp.NextCursor != nil {
		fmt.Fprintln(w, dimColor.Sprint("next page: --cursor "+*resp.NextCursor))
	}
}

// fitWidth cuts s to at most width terminal cells. width <= 0 disables it.
func fitWidth(s string, width int) string {
	if width <= 0 || runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}
