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

	"medchat/backend/internal/chatclient"
	"medchat/backend/internal/models"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	server  string
	user    string
	token   string
	role    string
	verbose bool
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:          "chatcli",
		Short:        "Terminal client for medchat consultation rooms",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	f := rootCmd.Flags()
	f.StringVar(&opts.server, "server", "http://localhost:8080", "server base URL")
	f.StringVar(&opts.user, "user", "", "user id (a development token is requested when --token is empty)")
	f.StringVar(&opts.token, "token", "", "access token")
	f.StringVar(&opts.role, "role", string(models.RolePatient), "own role when --token is given")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log connection details to stderr")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, opts *options, in io.Reader, out io.Writer) error {
	if opts.user == "" {
		return errors.New("--user is required")
	}
	logger := zap.NewNop()
	if opts.verbose {
		logger, _ = zap.NewDevelopment()
	}

	api := chatclient.NewAPIClient(opts.server, opts.token)
	self := models.Participant{UserID: opts.user, Role: models.Role(opts.role)}
	if opts.token == "" {
		p, err := api.DevToken(ctx, opts.user)
		if err != nil {
			return fmt.Errorf("get token: %w", err)
		}
		self = p
	}

	dialer := &chatclient.WSDialer{URL: wsURL(api.BaseURL) + "/ws", Token: api.Token}
	session := chatclient.NewSession(self, dialer, api, chatclient.Options{}, logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := &renderer{out: out, session: session}
	unsubscribe := session.State.Subscribe(r.onChange)
	defer unsubscribe()

	go func() {
		if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			fmt.Fprintf(out, "connection closed: %v\n", err)
		}
		cancel()
	}()

	fmt.Fprintf(out, "Signed in as %s (%s). Type /help for commands.\n", self.Name, self.Role)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := r.command(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

const help = `Commands:
  /rooms                 list rooms
  /open <room_id>        open a room and load its history
  /close                 close the current room
  /older                 load older messages
  /file <name> <url>     send an attachment
  /retry [temp_id]       resend a failed message (default: the last one)
  /quit                  exit
Any other line is sent to the open room.`

type renderer struct {
	out     io.Writer
	session *chatclient.Session
}

func (r *renderer) command(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	s := r.session
	room := s.State.ActiveRoom()
	fields := strings.Fields(line)

	switch fields[0] {
	case "/quit":
		return true
	case "/help":
		fmt.Fprintln(r.out, help)
	case "/rooms":
		r.printRooms()
	case "/open":
		if len(fields) != 2 {
			fmt.Fprintln(r.out, "usage: /open <room_id>")
			break
		}
		if err := s.OpenRoom(ctx, fields[1]); err != nil {
			fmt.Fprintf(r.out, "open failed: %v\n", err)
			break
		}
		r.printHistory(fields[1])
	case "/close":
		s.CloseRoom()
	case "/older":
		if room == "" {
			fmt.Fprintln(r.out, "no room open")
			break
		}
		more, err := s.LoadOlder(ctx, room)
		if err != nil {
			fmt.Fprintf(r.out, "load failed: %v\n", err)
			break
		}
		r.printHistory(room)
		if !more {
			fmt.Fprintln(r.out, "(start of conversation)")
		}
	case "/file":
		if room == "" || len(fields) != 3 {
			fmt.Fprintln(r.out, "usage: /file <name> <url> (with a room open)")
			break
		}
		s.SendFile(ctx, room, models.FileRef{Name: fields[1], URL: fields[2]})
	case "/retry":
		id := lastFailed(s.State.Messages(room))
		if len(fields) == 2 {
			id = fields[1]
		}
		if id == "" {
			fmt.Fprintln(r.out, "nothing to retry")
			break
		}
		if _, err := s.Retry(ctx, id); err != nil {
			fmt.Fprintf(r.out, "retry failed: %v\n", err)
		}
	default:
		if room == "" {
			fmt.Fprintln(r.out, "open a room first, see /rooms")
			break
		}
		s.SendText(ctx, room, line)
	}
	return false
}

func lastFailed(msgs []chatclient.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Status == models.StatusFailed {
			return msgs[i].TempID
		}
	}
	return ""
}

func (r *renderer) onChange(c chatclient.Change) {
	st := r.session.State
	switch c.Kind {
	case chatclient.ChangeConnection:
		if st.Connected() {
			fmt.Fprintln(r.out, "* connected")
		} else {
			fmt.Fprintln(r.out, "* disconnected, reconnecting")
		}
	case chatclient.ChangeMessages:
		if c.RoomID != st.ActiveRoom() || c.MessageID == "" {
			return
		}
		if m, ok := st.Message(c.MessageID); ok {
			r.printMessage(m)
		}
	case chatclient.ChangeTyping:
		if c.RoomID != st.ActiveRoom() {
			return
		}
		if users := st.TypingUsers(c.RoomID); len(users) > 0 {
			fmt.Fprintf(r.out, "* %s typing…\n", strings.Join(users, ", "))
		}
	}
}

func (r *renderer) printRooms() {
	st := r.session.State
	self := st.Self()
	for _, room := range st.Rooms() {
		other := room.Doctor
		if self.Role == models.RoleDoctor {
			other = room.Patient
		}
		online := " "
		if st.IsOnline(other.UserID) {
			online = "●"
		}
		preview := ""
		if room.LastMessage != nil {
			preview = room.LastMessage.Preview
		}
		fmt.Fprintf(r.out, "%s %s  %-20s unread:%-3d %s\n", online, room.RoomID, other.Name, st.Unread(room.RoomID), preview)
	}
}

func (r *renderer) printHistory(roomID string) {
	for _, m := range r.session.State.Messages(roomID) {
		r.printMessage(m)
	}
}

func (r *renderer) printMessage(m chatclient.Message) {
	who := m.SenderID
	if who == r.session.State.Self().UserID {
		who = "me"
	}
	body := m.Content
	if m.Kind == models.KindFile && m.File != nil {
		body = fmt.Sprintf("[file %s] %s", m.File.Name, m.File.URL)
	}
	status := string(m.Status)
	if m.Status == models.StatusFailed {
		status = fmt.Sprintf("failed: %s, /retry %s", m.FailReason, m.TempID)
	}
	fmt.Fprintf(r.out, "%s %s: %s (%s)\n", m.CreatedAt.Format("15:04"), who, body, status)
}
