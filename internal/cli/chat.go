package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/contoso/sofia/internal/config"
	"github.com/contoso/sofia/pkg/agent"
	"github.com/contoso/sofia/pkg/foundry"
	"github.com/contoso/sofia/pkg/pizza"
	"github.com/contoso/sofia/pkg/session"
	"github.com/contoso/sofia/pkg/toolexecutor"
)

var (
	chatDirect      bool
	chatSession     string
	chatAutoApprove bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Talk to Sofia",
	Long: `Start an interactive conversation with Sofia, the Contoso Pizza
ordering assistant.

By default the conversation runs against the published Foundry agent:
the service holds the history and calls back into this process for
local tools and approvals. With --direct the conversation runs locally
against a configured provider profile instead.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatDirect, "direct", false, "bypass Foundry and chat against a local provider profile")
	chatCmd.Flags().StringVar(&chatSession, "session", "default", "session key for the transcript and conversation binding")
	chatCmd.Flags().BoolVar(&chatAutoApprove, "auto-approve", false, "approve tool calls without prompting")

	rootCmd.AddCommand(chatCmd)
}

// turnFunc runs one chat turn and returns Sofia's reply.
type turnFunc func(ctx context.Context, input string) (*agent.RunResult, error)

func runChat(cmd *cobra.Command, args []string) error {
	logger := appLogger.GetZerolog()
	out := cmd.OutOrStdout()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The REPL owns stdin: user turns and approval answers both arrive
	// over this channel.
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	sessions, err := session.New(cfg.Sessions.Dir)
	if err != nil {
		return fmt.Errorf("failed to open sessions: %w", err)
	}

	store, err := newOrderStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open order store: %w", err)
	}
	defer store.Close()

	executor := toolexecutor.New()
	if err := pizza.RegisterTools(executor, store); err != nil {
		return fmt.Errorf("failed to register tools: %w", err)
	}

	// Direct mode searches the knowledge base through a local tool; the
	// hosted agent covers the same ground with file search.
	if chatDirect && cfg.KB.Enabled {
		kbManager, err := newKBManager(cfg, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Knowledge base unavailable")
		} else {
			defer kbManager.Close()
			if err := kbManager.RegisterTools(executor); err != nil {
				return fmt.Errorf("failed to register knowledge base tools: %w", err)
			}
		}
	}

	var handler toolexecutor.ApprovalHandler = &replApprovalHandler{lines: lines, out: out}
	if chatAutoApprove || !cfg.Tools.Approvals.Enabled {
		handler = toolexecutor.AutoApproveHandler{}
	}
	approvals := newApprovals(cfg, handler)
	executor.SetApprovalManager(approvals)

	var turn turnFunc
	if chatDirect {
		turn, err = directTurn(logger, sessions, executor)
	} else {
		turn, err = hostedTurn(ctx, out, logger, sessions, executor, approvals)
	}
	if err != nil {
		return err
	}

	fmt.Fprintln(out, "Sofia is ready. Type 'exit' to leave.")
	fmt.Fprintln(out)

	repl(ctx, out, lines, turn)
	return nil
}

// hostedTurn prepares a turn against the published agent: publish it on
// first run, then bind the session's server-side conversation.
func hostedTurn(ctx context.Context, out io.Writer, logger zerolog.Logger, sessions *session.Manager, executor *toolexecutor.ToolExecutor, approvals *toolexecutor.ApprovalManager) (turnFunc, error) {
	client, err := newFoundryClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	if err := ensureAgent(ctx, out, client, logger, executor); err != nil {
		return nil, err
	}

	runner, err := agent.NewHostedRunner(agent.HostedConfig{
		Client:      client,
		AgentName:   cfg.Foundry.AgentName,
		Executor:    executor,
		Sessions:    sessions,
		Approvals:   approvals,
		MaxTurns:    cfg.Agent.MaxTurns,
		ToolTimeout: time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	conversationID, err := runner.EnsureConversation(ctx, chatSession)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("conversation_id", conversationID).Msg("Conversation ready")

	return func(ctx context.Context, input string) (*agent.RunResult, error) {
		return runner.Run(ctx, input)
	}, nil
}

// ensureAgent publishes the agent when the project has no version of it
// yet, so the first chat works on a fresh project.
func ensureAgent(ctx context.Context, out io.Writer, client *foundry.Client, logger zerolog.Logger, executor *toolexecutor.ToolExecutor) error {
	_, err := client.GetAgent(ctx, cfg.Foundry.AgentName)
	if err == nil {
		return nil
	}
	if !foundry.IsNotFound(err) {
		return fmt.Errorf("failed to check agent: %w", err)
	}

	fmt.Fprintf(out, "Publishing agent %s...\n", cfg.Foundry.AgentName)
	def, err := agent.BuildDefinition(cfg, syncedVectorStoreID(logger), executor.Definitions())
	if err != nil {
		return fmt.Errorf("failed to build agent definition: %w", err)
	}
	published, err := agent.Push(ctx, client, cfg.Foundry.AgentName, def)
	if err != nil {
		return fmt.Errorf("failed to publish agent: %w", err)
	}
	fmt.Fprintf(out, "Published version %s\n", published.Version)
	return nil
}

// directTurn prepares a local turn against a provider profile, with the
// transcript carried in the session store.
func directTurn(logger zerolog.Logger, sessions *session.Manager, executor *toolexecutor.ToolExecutor) (turnFunc, error) {
	profile, err := pickProfile()
	if err != nil {
		return nil, err
	}

	provider, err := agent.NewProvider(profile)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider: %w", err)
	}

	instructions, err := pizza.LoadInstructions(cfg.Agent.InstructionsFile)
	if err != nil {
		return nil, err
	}

	runner, err := agent.NewRunner(agent.Config{
		Provider:     provider,
		Executor:     executor,
		Sessions:     sessions,
		Instructions: instructions,
		Model:        profile.Model,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    profile.MaxTokens,
		MaxTurns:     cfg.Agent.MaxTurns,
		ToolTimeout:  time.Duration(cfg.Tools.TimeoutSeconds) * time.Second,
		Logger:       logger,
	})
	if err != nil {
		return nil, err
	}

	return func(ctx context.Context, input string) (*agent.RunResult, error) {
		return runner.Run(ctx, chatSession, input)
	}, nil
}

// pickProfile selects the provider profile for direct chat. The first
// configured profile wins.
func pickProfile() (config.AIProfile, error) {
	if len(cfg.AI.Profiles) == 0 {
		return config.AIProfile{}, fmt.Errorf("no provider profile configured (run 'sofia configure' or set OPENAI_API_KEY)")
	}
	return cfg.AI.Profiles[0], nil
}

// repl drives the prompt loop until exit, interrupt, or end of input.
func repl(ctx context.Context, out io.Writer, lines <-chan string, turn turnFunc) {
	fmt.Fprint(out, "You: ")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			fmt.Fprintln(out, "Conversation ended.")
			return
		case line, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				fmt.Fprintln(out, "Conversation ended.")
				return
			}
			input := strings.TrimSpace(line)
			if input == "" {
				fmt.Fprint(out, "You: ")
				continue
			}
			if isExitCommand(input) {
				fmt.Fprintln(out, "Conversation ended.")
				return
			}

			result, err := turn(ctx, input)
			if err != nil {
				if ctx.Err() != nil {
					fmt.Fprintln(out)
					fmt.Fprintln(out, "Conversation ended.")
					return
				}
				fmt.Fprintf(out, "Something went wrong: %v\n", err)
				fmt.Fprint(out, "You: ")
				continue
			}

			fmt.Fprintf(out, "Agent: %s\n", result.Reply)
			fmt.Fprintln(out)
			fmt.Fprint(out, "You: ")
		}
	}
}

// isExitCommand reports whether input ends the conversation.
func isExitCommand(input string) bool {
	return strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit")
}

// replApprovalHandler asks for tool approval on the chat console. The
// REPL owns stdin, so answers arrive over the same line channel the
// prompt loop reads from.
type replApprovalHandler struct {
	lines <-chan string
	out   io.Writer
}

func (h *replApprovalHandler) RequestApproval(ctx context.Context, req toolexecutor.ApprovalRequest) (toolexecutor.ApprovalResponse, error) {
	fmt.Fprintf(h.out, "\nSofia wants to run %s", req.ToolName)
	if len(req.Parameters) > 0 {
		if params, err := json.MarshalIndent(req.Parameters, "", "  "); err == nil {
			fmt.Fprintf(h.out, " with:\n%s", params)
		}
	}
	fmt.Fprint(h.out, "\nApprove? [y/N]: ")

	select {
	case <-ctx.Done():
		return toolexecutor.ApprovalResponse{Approved: false, Reason: "conversation interrupted"}, ctx.Err()
	case line, ok := <-h.lines:
		if !ok {
			return toolexecutor.ApprovalResponse{Approved: false, Reason: "input closed"}, nil
		}
		answer := strings.ToLower(strings.TrimSpace(line))
		if answer == "y" || answer == "yes" {
			return toolexecutor.ApprovalResponse{Approved: true, Reason: "approved by user"}, nil
		}
		return toolexecutor.ApprovalResponse{Approved: false, Reason: "denied by user"}, nil
	}
}
