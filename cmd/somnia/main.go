// somnia is the interactive CLI for a running somniad server: ad-hoc
// queries, dead-letter inspection, stats, and manual ingestion.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"golang.org/x/term"

	"github.com/xtxerr/somnia/internal/client"
)

// Version is set at build time via ldflags
var Version = "dev"

var commands = []prompt.Suggest{
	{Text: "health", Description: "check server health"},
	{Text: "stats", Description: "show pipeline counters"},
	{Text: "dead", Description: "list dead-lettered readings"},
	{Text: "buckets", Description: "buckets <device> <day> <bucket-min> [metrics] [percentiles]"},
	{Text: "summary", Description: "summary <device> <day> [metrics]"},
	{Text: "correlations", Description: "correlations <device> <day>"},
	{Text: "weekly", Description: "weekly <device> <week-start>"},
	{Text: "ingest", Description: "ingest <json-payload>"},
	{Text: "session", Description: "session <json-payload>"},
	{Text: "help", Description: "show commands"},
	{Text: "exit", Description: "quit"},
}

type cli struct {
	api *client.Client
}

func main() {
	server := flag.String("server", "http://127.0.0.1:9640", "somniad base URL")
	secret := flag.String("secret", "", "ingest shared secret (or SOMNIA_INGEST_SECRET env, or prompted)")
	askSecret := flag.Bool("ask-secret", false, "prompt for the secret without echo")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("somnia %s\n", Version)
		return
	}

	sec := *secret
	if sec == "" {
		sec = os.Getenv("SOMNIA_INGEST_SECRET")
	}
	if sec == "" && *askSecret {
		fmt.Fprint(os.Stderr, "secret: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "somnia: read secret: %v\n", err)
			os.Exit(1)
		}
		sec = string(raw)
	}

	c := &cli{api: client.New(*server, sec)}

	if err := c.api.Health(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "somnia: %s unreachable: %v\n", *server, err)
		os.Exit(1)
	}

	// Non-interactive: `somnia stats`, `somnia summary bedroom-pi 2026-03-10`
	if args := flag.Args(); len(args) > 0 {
		if err := c.execute(args); err != nil {
			fmt.Fprintf(os.Stderr, "somnia: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Printf("somnia %s connected to %s (type 'help')\n", Version, *server)
	prompt.New(
		c.executor,
		completer,
		prompt.OptionPrefix("somnia> "),
		prompt.OptionTitle("somnia"),
	).Run()
}

func completer(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	return prompt.FilterHasPrefix(commands, d.GetWordBeforeCursor(), true)
}

func (c *cli) executor(line string) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}
	if args[0] == "exit" || args[0] == "quit" {
		os.Exit(0)
	}
	if err := c.execute(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
}

func (c *cli) execute(args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch args[0] {
	case "help":
		for _, cmd := range commands {
			fmt.Printf("  %-14s %s\n", cmd.Text, cmd.Description)
		}
		return nil

	case "health":
		if err := c.api.Health(ctx); err != nil {
			return err
		}
		fmt.Println("ok")
		return nil

	case "stats":
		return c.show(c.api.Stats(ctx))

	case "dead":
		return c.show(c.api.DeadLetters(ctx))

	case "buckets":
		if len(args) < 4 {
			return fmt.Errorf("usage: buckets <device> <day> <bucket-min> [metrics] [percentiles]")
		}
		bucketMin, err := strconv.Atoi(args[3])
		if err != nil {
			return fmt.Errorf("bucket-min must be minutes: %q", args[3])
		}
		metrics, percentiles := "", ""
		if len(args) > 4 {
			metrics = args[4]
		}
		if len(args) > 5 {
			percentiles = args[5]
		}
		return c.show(c.api.Buckets(ctx, args[1], client.WindowParams{Day: args[2]}, bucketMin, metrics, percentiles))

	case "summary":
		if len(args) < 3 {
			return fmt.Errorf("usage: summary <device> <day> [metrics]")
		}
		metrics := ""
		if len(args) > 3 {
			metrics = args[3]
		}
		return c.show(c.api.Summary(ctx, args[1], client.WindowParams{Day: args[2]}, metrics))

	case "correlations":
		if len(args) < 3 {
			return fmt.Errorf("usage: correlations <device> <day>")
		}
		return c.show(c.api.Correlations(ctx, args[1], client.WindowParams{Day: args[2]}, ""))

	case "weekly":
		if len(args) < 3 {
			return fmt.Errorf("usage: weekly <device> <week-start>")
		}
		return c.show(c.api.Weekly(ctx, args[1], args[2]))

	case "ingest":
		if len(args) < 2 {
			return fmt.Errorf("usage: ingest <json-payload>")
		}
		id, err := c.api.IngestReading(ctx, []byte(strings.Join(args[1:], " ")))
		if err != nil {
			return err
		}
		fmt.Printf("accepted %s\n", id)
		return nil

	case "session":
		if len(args) < 2 {
			return fmt.Errorf("usage: session <json-payload>")
		}
		if err := c.api.PutSession(ctx, []byte(strings.Join(args[1:], " "))); err != nil {
			return err
		}
		fmt.Println("stored")
		return nil

	default:
		return fmt.Errorf("unknown command %q (type 'help')", args[0])
	}
}

func (c *cli) show(data json.RawMessage, err error) error {
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		fmt.Println(string(data))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
