// Command sender submits a bulk send to the API and follows its progress.
//
//	sender send -recipients list.txt -subject "Hi" -body-file body.md -format markdown
//	sender send -draft 12 [-recipients other.txt]
//	sender health | history [-search q] | stats
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ignite/ses-bulk-sender/internal/client"
	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/progress"
)

const usage = `usage: sender <command> [flags]

commands:
  send     submit a send and follow its progress
  health   print server health
  history  list recorded campaigns
  stats    print history totals

Connection flags (every command):
  -server  API base URL (env SENDER_SERVER, default http://localhost:8787)
  -token   API bearer token (env API_TOKEN)`

type connFlags struct {
	server string
	token  string
}

func (c *connFlags) register(fs *flag.FlagSet) {
	server := os.Getenv("SENDER_SERVER")
	if server == "" {
		server = "http://localhost:8787"
	}
	fs.StringVar(&c.server, "server", server, "API base URL")
	fs.StringVar(&c.token, "token", os.Getenv("API_TOKEN"), "API bearer token")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "send":
		err = runSend(ctx, os.Args[2:], os.Stdout)
	case "health":
		err = runHealth(ctx, os.Args[2:], os.Stdout)
	case "history":
		err = runHistory(ctx, os.Args[2:], os.Stdout)
	case "stats":
		err = runStats(ctx, os.Args[2:], os.Stdout)
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

type stringList []string

func (s *stringList) String() string     { return strings.Join(*s, ",") }
func (s *stringList) Set(v string) error { *s = append(*s, v); return nil }

func runSend(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("send", flag.ContinueOnError)
	var (
		conn        connFlags
		attachments stringList
	)
	conn.register(fs)
	recipientsFile := fs.String("recipients", "", "file with one recipient per line (- for stdin)")
	subject := fs.String("subject", "", "email subject")
	body := fs.String("body", "", "email body")
	bodyFile := fs.String("body-file", "", "read the email body from a file")
	format := fs.String("format", "html", "body format: html, text or markdown")
	skipSent := fs.Bool("skip-sent", false, "drop recipients that already received an earlier campaign")
	draftID := fs.Int64("draft", 0, "start from a saved draft; other flags override its fields")
	fs.Var(&attachments, "attach", "attachment reference (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	c := client.New(conn.server, conn.token)

	var req domain.SendRequest
	if *draftID > 0 {
		d, err := c.Draft(ctx, *draftID)
		if err != nil {
			return fmt.Errorf("load draft %d: %w", *draftID, err)
		}
		req = d.SendRequest()
	}

	if *recipientsFile != "" {
		recipients, err := readRecipientsFile(*recipientsFile)
		if err != nil {
			return err
		}
		req.Recipients = recipients
	}
	if len(req.Recipients) == 0 {
		return errors.New("-recipients is required")
	}
	if *bodyFile != "" {
		data, err := os.ReadFile(*bodyFile)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		*body = string(data)
		set["body"] = true
	}
	if set["subject"] || *draftID == 0 {
		req.Subject = *subject
	}
	if set["body"] || *draftID == 0 {
		req.Body = *body
	}
	if set["format"] || req.EmailType == "" {
		req.EmailType = domain.EmailFormat(*format)
	}
	if len(attachments) > 0 {
		req.Attachments = attachments
	}

	if *skipSent {
		cmp, err := c.Compare(ctx, client.CompareRequest{Recipients: req.Recipients})
		if err != nil {
			return fmt.Errorf("compare recipients: %w", err)
		}
		fmt.Fprintf(out, "skipping %d already-sent recipients, %d new\n", cmp.AlreadySent, cmp.New)
		if cmp.New == 0 {
			return nil
		}
		req.Recipients = cmp.NewList
	}

	tracker := progress.NewTracker(progress.DefaultLogSize)
	printer := &progressPrinter{out: out}
	err := c.Watch(ctx, req, tracker, printer.update)

	var apiErr *client.APIError
	if errors.As(err, &apiErr) && len(apiErr.Details) > 0 {
		return fmt.Errorf("%w (%s)", err, apiErr.Details)
	}
	if err != nil {
		return err
	}

	snap := tracker.Snapshot()
	if snap.State == progress.StateError {
		return errors.New(snap.Error)
	}
	fmt.Fprintf(out, "done: %d sent, %d failed\n", snap.TotalSent, snap.TotalFailed)
	return nil
}

// progressPrinter prints new activity log entries as snapshots arrive.
type progressPrinter struct {
	out  io.Writer
	last *progress.LogEntry
}

func (p *progressPrinter) update(s progress.Snapshot) {
	// The log is bounded; find where the unseen tail starts.
	start := 0
	if p.last != nil {
		for i := len(s.Log) - 1; i >= 0; i-- {
			if s.Log[i] == *p.last {
				start = i + 1
				break
			}
		}
	}
	for i := start; i < len(s.Log); i++ {
		e := s.Log[i]
		fmt.Fprintf(p.out, "%s [%5.1f%%] %-7s %s\n",
			e.Time.Format("15:04:05"), s.Percent(), e.Level, e.Message)
	}
	if n := len(s.Log); n > 0 {
		last := s.Log[n-1]
		p.last = &last
	}
}

func runHealth(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	var conn connFlags
	conn.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	hs, err := client.New(conn.server, conn.token).Health(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "status: %s (version %s, up %s)\n", hs.Status, hs.Version, hs.Uptime)
	for name, c := range hs.Checks {
		fmt.Fprintf(out, "  %-9s %-9s %s\n", name, c.Status, c.Message)
	}
	return nil
}

func runHistory(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	var conn connFlags
	conn.register(fs)
	search := fs.String("search", "", "filter by subject or sender")
	if err := fs.Parse(args); err != nil {
		return err
	}

	campaigns, err := client.New(conn.server, conn.token).History(ctx, *search)
	if err != nil {
		return err
	}
	if len(campaigns) == 0 {
		fmt.Fprintln(out, "no campaigns")
		return nil
	}
	for _, c := range campaigns {
		fmt.Fprintf(out, "%s  %-9s %5d sent %5d failed  %s\n",
			c.CreatedAt.Local().Format("2006-01-02 15:04"), c.Status, c.SentCount, c.FailedCount, c.Subject)
	}
	return nil
}

func runStats(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	var conn connFlags
	conn.register(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := client.New(conn.server, conn.token).Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "campaigns:         %d\n", st.TotalCampaigns)
	fmt.Fprintf(out, "sent:              %d\n", st.TotalSent)
	fmt.Fprintf(out, "failed:            %d\n", st.TotalFailed)
	fmt.Fprintf(out, "success rate:      %.1f%%\n", st.SuccessRate)
	fmt.Fprintf(out, "unique recipients: %d\n", st.UniqueRecipients)
	fmt.Fprintf(out, "sent today:        %d\n", st.SentToday)
	fmt.Fprintf(out, "sent this week:    %d\n", st.SentThisWeek)
	return nil
}
