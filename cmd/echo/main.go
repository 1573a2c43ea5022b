// Command echo is a voice-driven memoir assistant: it interviews the user
// about their life over a live audio session and rewrites each spoken memory
// as prose in the voice of a chosen literary author.
//
// By default it runs an interactive terminal session against the local
// microphone and speaker. With -listen it serves the websocket gateway for a
// browser UI instead.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"

	"github.com/literary-echo/echo/internal/dotenv"
	"github.com/literary-echo/echo/pkg/audio"
	"github.com/literary-echo/echo/pkg/gateway"
	"github.com/literary-echo/echo/pkg/gen"
	"github.com/literary-echo/echo/pkg/live"
	"github.com/literary-echo/echo/pkg/memoir"
)

type options struct {
	author      string
	freeform    bool
	listen      string
	envFile     string
	debug       bool
	listAuthors bool
}

var (
	styleTitle     = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#d4a45f"))
	styleStatus    = lipgloss.NewStyle().Foreground(lipgloss.Color("#6e7681")).Italic(true)
	styleQuestion  = lipgloss.NewStyle().Foreground(lipgloss.Color("#7aa2f7"))
	styleUser      = lipgloss.NewStyle().Foreground(lipgloss.Color("#9ece6a"))
	styleEntry     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).Width(76)
	styleEntryKind = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#d4a45f"))
	styleError     = lipgloss.NewStyle().Foreground(lipgloss.Color("#f7768e"))
)

func main() {
	os.Exit(runMain())
}

func runMain() int {
	var opt options
	fs := flag.NewFlagSet("echo", flag.ContinueOnError)
	fs.StringVar(&opt.author, "author", "hemingway", "Author persona id (see -list-authors)")
	fs.BoolVar(&opt.freeform, "freeform", false, "Let the model drive the conversation instead of the topic walk")
	fs.StringVar(&opt.listen, "listen", "", "Serve the websocket gateway on this address instead of running interactively (e.g. :8080)")
	fs.StringVar(&opt.envFile, "env", ".env", "Env file to load before reading GEMINI_API_KEY")
	fs.BoolVar(&opt.debug, "debug", false, "Enable debug logging")
	fs.BoolVar(&opt.listAuthors, "list-authors", false, "List available author personas and exit")
	if err := fs.Parse(os.Args[1:]); err != nil {
		return 2
	}

	if opt.listAuthors {
		for _, a := range memoir.Authors() {
			fmt.Printf("%s  %s\n", styleTitle.Render(fmt.Sprintf("%-12s", a.ID)), a.Description)
		}
		return 0
	}

	level := slog.LevelInfo
	if opt.debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := dotenv.Load(opt.envFile); err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render(err.Error()))
		return 2
	}
	apiKey := strings.TrimSpace(os.Getenv("GEMINI_API_KEY"))
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, styleError.Render("GEMINI_API_KEY is not set (flag -env points at the env file)"))
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client, err := gen.NewGoogleClient(ctx, apiKey, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, styleError.Render("connecting to Gemini: "+err.Error()))
		return 1
	}

	if opt.listen != "" {
		return runGateway(ctx, opt, client, logger)
	}
	return runInteractive(ctx, opt, client, logger)
}

func runGateway(ctx context.Context, opt options, client gen.Client, logger *slog.Logger) int {
	handler := &gateway.Handler{
		NewSession: func(author memoir.Author, freeform bool) (*live.Session, error) {
			cfg := live.DefaultConfig()
			cfg.Freeform = freeform
			return live.NewSession(cfg, author, client, audio.NewCapture(logger), openDevice, logger), nil
		},
		Logger: logger,
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/live", handler)
	srv := &http.Server{Addr: opt.listen, Handler: mux}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	logger.Info("gateway listening", "addr", opt.listen)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("gateway server", "error", err)
		return 1
	}
	return 0
}

func runInteractive(ctx context.Context, opt options, client gen.Client, logger *slog.Logger) int {
	author, ok := memoir.AuthorByID(opt.author)
	if !ok {
		fmt.Fprintln(os.Stderr, styleError.Render("unknown author id: "+opt.author+" (see -list-authors)"))
		return 2
	}

	cfg := live.DefaultConfig()
	cfg.Freeform = opt.freeform
	sess := live.NewSession(cfg, author, client, audio.NewCapture(logger), openDevice, logger)
	defer sess.Stop()

	fmt.Println(styleTitle.Render("The Living Archive") + "  " + styleStatus.Render("in the voice of "+author.Name))
	fmt.Println(styleStatus.Render("commands: start, stop, weave, archive, quit"))

	go renderEvents(sess.Events())

	sess.PrepareOpening(ctx)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- strings.TrimSpace(scanner.Text())
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return 0
		case line, ok := <-lines:
			if !ok {
				return 0
			}
			switch line {
			case "start":
				if err := sess.Start(ctx); err != nil {
					fmt.Println(styleError.Render(err.Error()))
				}
			case "stop":
				sess.Stop()
			case "weave":
				go func() {
					if err := sess.Weave(ctx); err != nil {
						fmt.Println(styleError.Render(err.Error()))
					}
				}()
			case "archive":
				printArchive(sess.Archive().Entries())
			case "quit", "exit":
				return 0
			case "":
			default:
				fmt.Println(styleStatus.Render("commands: start, stop, weave, archive, quit"))
			}
		}
	}
}

// renderEvents prints session events as they stream: status lines, each
// turn once it finalizes, and archive entries as they are appended.
func renderEvents(events <-chan live.Event) {
	printedTurns := 0
	printedEntries := 0
	for ev := range events {
		switch ev := ev.(type) {
		case *live.StatusEvent:
			fmt.Println(styleStatus.Render(ev.Text))
		case *live.TranscriptEvent:
			for ; printedTurns < len(ev.Turns); printedTurns++ {
				turn := ev.Turns[printedTurns]
				if !turn.Final {
					break
				}
				printTurn(turn)
			}
		case *live.ArchiveEvent:
			for ; printedEntries < len(ev.Entries); printedEntries++ {
				printEntry(ev.Entries[printedEntries])
			}
		case *live.ErrorEvent:
			fmt.Println(styleError.Render(ev.Message))
		}
	}
}

func printTurn(turn live.Turn) {
	if turn.Speaker == live.SpeakerAssistant {
		fmt.Println(styleQuestion.Render("archivist: " + turn.Text))
		return
	}
	fmt.Println(styleUser.Render("you: " + turn.Text))
}

func printEntry(entry memoir.Entry) {
	kind := styleEntryKind.Render(strings.ToUpper(string(entry.Kind)))
	fmt.Println(styleEntry.Render(kind + "\n" + entry.Text))
}

func printArchive(entries []memoir.Entry) {
	if len(entries) == 0 {
		fmt.Println(styleStatus.Render("the archive is empty"))
		return
	}
	for _, e := range entries {
		printEntry(e)
	}
}

func openDevice(sampleRate int) (audio.Device, error) {
	return audio.OpenOtoDevice(sampleRate)
}
