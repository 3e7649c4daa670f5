package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/askbetty/betty/internal/client"
	"github.com/askbetty/betty/internal/config"
	"github.com/askbetty/betty/internal/version"
)

type globalFlags struct {
	apiURL string
	user   string
	plain  bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "betty",
		Short:         "Chat with Betty from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.apiURL, "api", "", "bettyd base URL (default from config, http://localhost:8080)")
	root.PersistentFlags().StringVar(&g.user, "user", "", "user id sent as X-User-ID")
	root.PersistentFlags().BoolVar(&g.plain, "plain", false, "disable colors")

	root.AddCommand(
		newChatCmd(&g),
		newStartersCmd(&g),
		newHistoryCmd(&g),
		newModelsCmd(&g),
		newVersionCmd(),
	)
	return root
}

// setup loads .env and config, then builds an API client honoring flags.
func setup(g *globalFlags) (config.Config, *client.Client, theme, error) {
	if err := config.LoadDotEnv(".env"); err != nil {
		return config.Config{}, nil, theme{}, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(".")
	if err != nil {
		return config.Config{}, nil, theme{}, err
	}
	if g.apiURL != "" {
		cfg.APIBaseURL = strings.TrimSuffix(g.apiURL, "/")
	}
	if g.user != "" {
		cfg.UserID = g.user
	}
	api, err := client.New(cfg.APIBaseURL, cfg.UserID, nil)
	if err != nil {
		return config.Config{}, nil, theme{}, err
	}
	th := newTheme()
	if g.plain {
		th = plainTheme()
	}
	return cfg, api, th, nil
}

func newChatCmd(g *globalFlags) *cobra.Command {
	var (
		model    string
		resumeID string
		save     bool
		render   bool
		suggest  bool
	)
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Start an interactive chat, or send one message and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, api, th, err := setup(g)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			s := &session{
				api:         api,
				model:       firstNonEmpty(model, cfg.DefaultModel),
				idleTimeout: cfg.StreamIdleTimeout,
				suggest:     suggest,
				out:         cmd.OutOrStdout(),
				theme:       th,
			}
			if render {
				if s.render, err = markdownRenderer(100); err != nil {
					return err
				}
			}
			switch {
			case resumeID != "":
				if err := s.resume(ctx, resumeID); err != nil {
					return fmt.Errorf("resume %s: %w", resumeID, err)
				}
				fmt.Fprintln(s.out, th.muted.Render(fmt.Sprintf("resumed %s (%d messages)", resumeID, len(s.history))))
			case save:
				conv, err := api.CreateConversation(ctx, "")
				if err != nil {
					return fmt.Errorf("create conversation: %w", err)
				}
				s.conversationID = conv.ID
				fmt.Fprintln(s.out, th.muted.Render("conversation "+conv.ID))
			}

			if len(args) > 0 {
				return s.send(ctx, strings.Join(args, " "))
			}
			return chatLoop(ctx, s, cmd.InOrStdin())
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model id (default: persona default)")
	cmd.Flags().StringVar(&resumeID, "resume", "", "continue a saved conversation")
	cmd.Flags().BoolVar(&save, "save", false, "save this chat as a new conversation")
	cmd.Flags().BoolVar(&render, "render", false, "render replies as markdown once complete")
	cmd.Flags().BoolVar(&suggest, "suggest", false, "show follow-up suggestions after each reply")
	return cmd
}

// chatLoop reads one message per line until EOF, "exit" or cancellation.
func chatLoop(ctx context.Context, s *session, in io.Reader) error {
	fmt.Fprintln(s.out, s.theme.muted.Render("Chatting with Betty (type 'exit' to quit)"))
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for {
		fmt.Fprint(s.out, "\n"+s.theme.user.Render("You:")+" ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		input := strings.TrimSpace(scanner.Text())
		switch input {
		case "":
			continue
		case "exit", "/exit", "quit":
			return nil
		}
		err := s.send(ctx, input)
		if errors.Is(err, errCanceled) && ctx.Err() != nil {
			return nil
		}
		if err != nil {
			fmt.Fprintln(s.out, s.theme.errText.Render("error: "+err.Error()))
		}
	}
}

func newStartersCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "starters",
		Short: "Show conversation starters",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, api, th, err := setup(g)
			if err != nil {
				return err
			}
			starters, err := api.Starters(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, th.title.Render("Try asking:"))
			for i, s := range starters {
				fmt.Fprintf(out, "  %d. %s\n", i+1, s)
			}
			return nil
		},
	}
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		limit  int
		cursor string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, api, th, err := setup(g)
			if err != nil {
				return err
			}
			page, err := api.RecentConversations(cmd.Context(), limit, cursor)
			if err != nil {
				return err
			}
			printHistory(cmd.OutOrStdout(), th, page.Conversations, page.NextCursor)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "conversations per page")
	cmd.Flags().StringVar(&cursor, "cursor", "", "continue from a previous page")
	return cmd
}

func newModelsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List available models",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, api, th, err := setup(g)
			if err != nil {
				return err
			}
			models, err := api.Models(cmd.Context())
			if err != nil {
				return err
			}
			for _, m := range models {
				line := "  " + m.ID
				if m.Name != "" && m.Name != m.ID {
					line += "  " + m.Name
				}
				if m.Default {
					line += " " + th.muted.Render("(default)")
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.FullInfo())
		},
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func formatAge(t, now time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Local().Format("2006-01-02")
	}
}
