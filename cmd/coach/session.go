package main

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/coachd/internal/chatui"
	"github.com/fyrsmithlabs/coachd/internal/client"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/session"
)

var (
	// show command flags
	showTranscript bool
)

func init() {
	rootCmd.AddCommand(newCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(chatCmd)

	showCmd.Flags().BoolVar(&showTranscript, "transcript", false, "Print the markdown transcript")
}

var newCmd = &cobra.Command{
	Use:   "new [session-id]",
	Short: "Start a coaching session",
	Long: `Start a coaching session. Without an ID the server generates one.

Examples:
  coach new
  coach new acme-2026`,
	Args: cobra.MaximumNArgs(1),
	RunE: runNew,
}

var sendCmd = &cobra.Command{
	Use:   "send <session-id> <message>...",
	Short: "Send one message and print the coach's reply",
	Long: `Send one message to a session and print the reply. The session is
created if it does not exist.

Examples:
  coach send acme-2026 "We exist to make small bakeries profitable"
  echo "our values are craft and honesty" | coach send acme-2026 -`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSend,
}

var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show a session's progress",
	Long: `Show which phase a session is in, what has been captured and what is
still missing.

Examples:
  coach show acme-2026
  coach show acme-2026 --transcript > strategy.md`,
	Args: cobra.ExactArgs(1),
	RunE: runShow,
}

var chatCmd = &cobra.Command{
	Use:   "chat [session-id]",
	Short: "Chat with the coach in an interactive terminal UI",
	Long: `Open an interactive chat. Without an ID a new session is started.

Examples:
  coach chat
  coach chat acme-2026`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func runNew(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd, 10*time.Second)
	defer cancel()

	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	resp, err := c.CreateSession(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if outputJSON {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Session.ID)
	return nil
}

func runSend(cmd *cobra.Command, args []string) error {
	message := strings.Join(args[1:], " ")
	if message == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read from stdin: %w", err)
		}
		message = string(b)
	}
	if strings.TrimSpace(message) == "" {
		return fmt.Errorf("no message to send")
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd, client.DefaultTimeout)
	defer cancel()

	resp, err := c.Send(ctx, args[0], message)
	if err != nil {
		if client.IsStatus(err, 409) {
			return fmt.Errorf("%w (use 'coach show %s' to review the finished session)", err, args[0])
		}
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, resp)
	}
	fmt.Fprintln(out, resp.Reply)
	fmt.Fprintln(out)
	if resp.Advanced {
		fmt.Fprintf(out, "[%s complete, now in %s]\n", resp.Phase.Label(), resp.NextPhase.Label())
	}
	printStatus(out, resp.Status)
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}
	ctx, cancel := requestContext(cmd, 10*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	if showTranscript {
		md, err := c.Transcript(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(out, md)
		return nil
	}

	resp, err := c.Session(ctx, args[0])
	if err != nil {
		return err
	}
	if outputJSON {
		return printJSON(out, resp)
	}
	printStatus(out, resp.Status)
	printOutputs(out, resp.Session)
	return nil
}

func runChat(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	var id string
	if len(args) == 1 {
		id = args[0]
	} else {
		ctx, cancel := requestContext(cmd, 10*time.Second)
		resp, err := c.CreateSession(ctx, "")
		cancel()
		if err != nil {
			return fmt.Errorf("failed to create session: %w", err)
		}
		id = resp.Session.ID
	}

	if err := chatui.Run(cmd.Context(), c, id, client.DefaultTimeout); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Session %s saved. Resume with: coach chat %s\n", id, id)
	return nil
}

func printStatus(w io.Writer, st orchestrator.Status) {
	fmt.Fprintf(w, "Session:  %s\n", st.SessionID)
	if st.Done {
		fmt.Fprintf(w, "Phase:    complete (%d turns)\n", st.Turns)
		return
	}
	fmt.Fprintf(w, "Phase:    %s (%.0f%% captured, %d turns)\n", st.Phase.Label(), st.Score*100, st.Turns)
	if len(st.Missing) > 0 {
		fmt.Fprintf(w, "Missing:  %s\n", strings.Join(st.Missing, ", "))
	}
}

func printOutputs(w io.Writer, sess *session.Session) {
	if sess == nil {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nPHASE\tFIELD\tVALUE")
	for _, p := range session.Phases {
		out := sess.Outputs[p]
		if out == nil {
			continue
		}
		names := make([]string, 0, len(out.Fields))
		for name := range out.Fields {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Label(), name, truncate(out.Fields[name], 60))
		}
	}
	_ = tw.Flush()
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
