package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/cadre-oss/mneme/internal/companion"
)

var (
	chatMessage     string
	chatShowContext bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the companion",
	Long: `Start an interactive chat. Each message is answered with relevant memories
injected as context, and durable facts are extracted in the background.

Commands inside the chat:
  /reset   forget the conversation so far (memories are kept)
  /quit    leave

Examples:
  mneme chat
  mneme chat -m "What's my name?"`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatMessage, "message", "m", "", "send one message and exit")
	chatCmd.Flags().BoolVar(&chatShowContext, "show-context", false, "print the augmented message sent to the model")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	a, err := openApp(ctx, true)
	if err != nil {
		return err
	}
	defer func() {
		// Let queued extractions land before exiting.
		drainCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		a.Close(drainCtx)
	}()

	out := cmd.OutOrStdout()
	if chatMessage != "" {
		return chatTurn(ctx, out, a.Service(), "", chatMessage)
	}
	return chatLoop(ctx, cmd.InOrStdin(), out, a.Service())
}

func chatLoop(ctx context.Context, in io.Reader, out io.Writer, svc *companion.Service) error {
	sessionID := uuid.NewString()
	scanner := bufio.NewScanner(in)

	fmt.Fprintln(out, "mneme chat (/quit to leave, /reset to start over)")
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			svc.ResetSession(sessionID)
			fmt.Fprintln(out, "(conversation reset)")
			continue
		}
		if err := chatTurn(ctx, out, svc, sessionID, line); err != nil {
			if !companion.IsProviderError(err) {
				return err
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func chatTurn(ctx context.Context, out io.Writer, svc *companion.Service, sessionID, message string) error {
	reply, err := svc.Chat(ctx, sessionID, message)
	if err != nil {
		return err
	}
	if chatShowContext {
		fmt.Fprintf(out, "--- context ---\n%s\n---------------\n", reply.Augmented)
	}
	fmt.Fprintln(out, reply.Response)
	return nil
}
