package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"golang.org/x/term"

	apiclient "github.com/splax/actioncounter/pkg/api/client"
	"github.com/splax/actioncounter/pkg/crypto"
)

const defaultWidth = 80

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
	case "report":
		err = commandReport(args)
	case "reload":
		err = commandReload(args)
	case "hash-token":
		err = commandHashToken(args)
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

func commandReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	apiBase := fs.String("api", envOr("COUNTER_API", "http://localhost:5000"), "Counter API base URL")
	source := fs.String("source", "", "Only show this source")
	top := fs.Int("top", 10, "Number of repositories to list")
	fs.Parse(args)

	cli, err := apiclient.New(*apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	reports := make(map[string]apiclient.SourceReport)
	if name := strings.TrimSpace(*source); name != "" {
		rep, err := cli.ReportSource(ctx, name)
		if err != nil {
			return err
		}
		reports[name] = rep
	} else {
		reports, err = cli.Report(ctx)
		if err != nil {
			return err
		}
	}

	names := make([]string, 0, len(reports))
	for name := range reports {
		names = append(names, name)
	}
	sort.Strings(names)
	width := terminalWidth()
	for _, name := range names {
		renderSource(os.Stdout, name, reports[name], *top, width)
	}
	return nil
}

func commandReload(args []string) error {
	fs := flag.NewFlagSet("reload", flag.ExitOnError)
	apiBase := fs.String("api", envOr("COUNTER_API", "http://localhost:5000"), "Counter API base URL")
	token := fs.String("token", os.Getenv("ADMIN_TOKEN"), "Admin token")
	fs.Parse(args)

	if strings.TrimSpace(*token) == "" {
		return errors.New("--token is required")
	}
	cli, err := apiclient.New(*apiBase)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	res, err := cli.Reload(ctx, *token)
	if err != nil {
		return err
	}
	fmt.Printf("reloaded %s document in %dms\n", res.Shape, res.DurationMS)
	names := make([]string, 0, len(res.Sources))
	for name := range res.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sr := res.Sources[name]
		fmt.Printf("  %-20s repos=%d rates=%d skipped=%d\n", name, sr.Repos, sr.Rates, sr.Skipped)
	}
	return nil
}

func commandHashToken(args []string) error {
	fs := flag.NewFlagSet("hash-token", flag.ExitOnError)
	token := fs.String("token", "", "Admin token (supply to avoid prompt)")
	fs.Parse(args)

	secret := strings.TrimSpace(*token)
	if secret == "" {
		fmt.Fprint(os.Stderr, "Admin token: ")
		bytes, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprint(os.Stderr, "\n")
		if err != nil {
			return fmt.Errorf("read token: %w", err)
		}
		secret = string(bytes)
	}
	hash, err := crypto.HashToken(secret)
	if err != nil {
		return err
	}
	fmt.Printf("ADMIN_TOKEN_HASH=%s\n", hash)
	return nil
}

func renderSource(w io.Writer, name string, rep apiclient.SourceReport, top, width int) {
	if name == "" {
		name = "report"
	}
	fmt.Fprintf(w, "%s  total=%d\n", name, rep.Total)
	points := rep.Points()
	if len(points) > 0 {
		counts := make([]int64, len(points))
		for i, p := range points {
			counts[i] = p.Count
		}
		fmt.Fprintf(w, "  %s\n", sparkline(counts, width-2))
		fmt.Fprintf(w, "  %s .. %s\n", points[0].At.Format("15:04"), points[len(points)-1].At.Format("15:04 MST"))
	}
	for _, rc := range rep.TopRepos(top) {
		fmt.Fprintf(w, "  %6d  %s\n", rc.Count, rc.Repo)
	}
	fmt.Fprintln(w)
}

var sparkTicks = []rune("▁▂▃▄▅▆▇█")

// sparkline renders counts oldest first, keeping the most recent values when
// the series is wider than width.
func sparkline(counts []int64, width int) string {
	if width > 0 && len(counts) > width {
		counts = counts[len(counts)-width:]
	}
	var peak int64
	for _, n := range counts {
		if n > peak {
			peak = n
		}
	}
	var b strings.Builder
	for _, n := range counts {
		if peak == 0 || n == 0 {
			b.WriteRune(' ')
			continue
		}
		idx := int(n * int64(len(sparkTicks)-1) / peak)
		b.WriteRune(sparkTicks[idx])
	}
	return b.String()
}

func terminalWidth() int {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return defaultWidth
	}
	width, _, err := term.GetSize(fd)
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Printf("counterctl %s\n\n", buildVersion)
	fmt.Print(`Usage:
	counterctl report [--api http://localhost:5000] [--source github-actions] [--top 10]
	counterctl reload --token <admin-token> [--api http://localhost:5000]
	counterctl hash-token [--token <admin-token>]
	counterctl version
`)
}

func printVersion() {
	fmt.Println(strings.TrimSpace(buildVersion))
}
