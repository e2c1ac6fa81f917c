package cmd

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/bolt/internal/app"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Talk to BOLT (interactive REPL)",
		Run: func(cmd *cobra.Command, args []string) {
			runChat()
		},
	}
}

// consoleReporter prints pipeline progress between prompts. Safe for
// concurrent use: fmt writes to os.Stdout are serialized by the runtime.
type consoleReporter struct{}

func (consoleReporter) Phase(num, total int, label string) {
	fmt.Printf("\n  [%d/%d] %s\n", num, total, label)
}
func (consoleReporter) Status(msg string) { fmt.Printf("      %s\n", msg) }
func (consoleReporter) OK(msg string)     { fmt.Printf("      ok: %s\n", msg) }
func (consoleReporter) Fail(msg string)   { fmt.Printf("      !! %s\n", msg) }

func runChat() {
	setupLogging()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	a, err := app.New(cfg, slog.Default())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting BOLT: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	a.Start(ctx)
	defer a.Shutdown(context.Background())

	banner(a)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		select {
		case <-ctx.Done():
			fmt.Println("\n  Saving session snapshot...")
			return
		default:
		}

		fmt.Printf("\n  you [%s] > ", a.Mode())
		if !scanner.Scan() {
			fmt.Println("\n  Saving session snapshot...")
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if handleCommand(ctx, a, input) {
				continue
			}
			if strings.EqualFold(input, "/quit") || strings.EqualFold(input, "/exit") {
				fmt.Println("\n  Saving session snapshot...")
				fmt.Println("  BOLT saved. See ya.")
				return
			}
			fmt.Printf("  Unknown command: %s\n", input)
			continue
		}

		fmt.Println()
		fmt.Println("  bolt:")
		if _, err := a.ProcessMessage(ctx, input, streamPrint); err != nil {
			fmt.Printf("\n  [error: %v]\n", err)
			continue
		}
		fmt.Println()
	}
}

func streamPrint(chunk string) {
	fmt.Print(chunk)
}

func banner(a *app.App) {
	fmt.Println()
	fmt.Printf("  BOLT %s — Built On Local Terrain\n", Version)
	fmt.Printf("  Session: %s\n", a.SessionID())
	if name := a.CloudName(); name != "" {
		fmt.Printf("  Cloud brain: %s\n", name)
	}
	fmt.Println("  Type /help for commands.")
}

// handleCommand dispatches slash commands. Returns false for unknown
// commands (and for /quit, which the REPL handles itself).
func handleCommand(ctx context.Context, a *app.App, input string) bool {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/help":
		printHelp()
		return true

	case "/companion":
		a.SetMode(app.ModeCompanion)
		fmt.Println("  Companion mode — let's just hang.")
		return true

	case "/code":
		a.SetMode(app.ModeCode)
		fmt.Println("  Code mode — tools are live. Let's build.")
		return true

	case "/profile":
		fmt.Println("\n  User Profile")
		fmt.Println(a.ProfileDisplay())
		return true

	case "/forget":
		if len(args) >= 2 {
			deleted, err := a.ForgetFact(args[0], args[1])
			switch {
			case err != nil:
				fmt.Printf("  Couldn't forget that: %v\n", err)
			case deleted:
				fmt.Printf("  Forgot %s/%s.\n", args[0], args[1])
			default:
				fmt.Printf("  Nothing stored under %s/%s.\n", args[0], args[1])
			}
			return true
		}
		if err := a.ClearProfile(); err != nil {
			fmt.Printf("  Couldn't wipe the profile: %v\n", err)
			return true
		}
		fmt.Println("  Profile wiped. Fresh start — I'll learn again naturally.")
		return true

	case "/status":
		fmt.Println("\n  Status")
		fmt.Println(a.FormatStatus())
		return true

	case "/timeline":
		fmt.Println("\n  Timeline")
		fmt.Println(a.FormatTimeline(30))
		return true

	case "/memory":
		fmt.Println("\n  Memory")
		fmt.Println(a.FormatMemory())
		return true

	case "/task", "/tasks":
		fmt.Println("\n  Tasks")
		fmt.Println(a.FormatTasks())
		return true

	case "/tools":
		fmt.Println("\n  Tools")
		for _, info := range a.ListTools() {
			kind := ""
			if info.Custom {
				kind = " (custom)"
			}
			fmt.Printf("  %-15s %s%s\n", info.Name, info.Description, kind)
		}
		return true

	case "/build":
		if a.PipelineRunning() {
			fmt.Println("  A build is already running. Keep chatting — it'll finish in the background.")
			return true
		}
		if err := a.RunPipeline(ctx, consoleReporter{}); err != nil {
			fmt.Printf("  %v\n", err)
			return true
		}
		fmt.Println("  Build pipeline started — status updates print as phases complete.")
		return true

	case "/buildstatus":
		if a.PipelineRunning() {
			fmt.Println("  Build pipeline is running — status updates print as phases complete.")
		} else {
			fmt.Println("  No build running.")
		}
		return true

	case "/clear":
		id := a.NewSession(ctx)
		fmt.Printf("  New session (%s). I still know you though.\n", id)
		return true
	}
	return false
}

func printHelp() {
	cmds := [][2]string{
		{"/companion", "switch to companion mode (chat/hangout)"},
		{"/code", "switch to code mode (tools enabled)"},
		{"/build", "kick off the multi-model build pipeline"},
		{"/buildstatus", "check if a build is in progress"},
		{"/profile", "see what BOLT knows about you"},
		{"/forget [cat key]", "wipe the profile, or one fact"},
		{"/status", "session info & current task"},
		{"/timeline", "BOLT's activity log"},
		{"/memory", "what BOLT remembers from conversations"},
		{"/task", "show tasks"},
		{"/tools", "list available tools"},
		{"/clear", "new session (profile persists)"},
		{"/quit", "save and exit"},
		{"/help", "show this help"},
	}
	fmt.Println("\n  Commands")
	for _, c := range cmds {
		fmt.Printf("  %-18s %s\n", c[0], c[1])
	}
}
