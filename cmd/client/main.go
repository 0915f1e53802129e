package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chatrelay/internal/auth"
	"chatrelay/internal/models"
	"chatrelay/pkg/chatclient"
	"chatrelay/pkg/logger"
)

var settings = viper.New()

func main() {
	rootCmd := &cobra.Command{
		Use:          "chatrelay-client",
		Short:        "Terminal client for a chatrelay server",
		SilenceUsage: true,
		RunE:         run,
	}

	flags := rootCmd.Flags()
	flags.String("url", "http://localhost:8080", "server base URL")
	flags.String("token", "", "bearer token")
	flags.String("secret", "", "mint a dev token with this secret instead of --token")
	flags.StringP("user", "u", "", "user id to connect as")
	flags.StringP("name", "n", "", "display name")
	flags.StringP("room", "r", "", "room to open")
	flags.String("kind", string(models.RoomKindConversation), "room kind: conversation or group")

	// CHATRELAY_* variables fill in whatever the flags leave unset.
	settings.SetEnvPrefix("chatrelay")
	settings.AutomaticEnv()
	if err := settings.BindPFlags(flags); err != nil {
		logger.Fatal("bind flags: %v", err)
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	userID := settings.GetString("user")
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	name := settings.GetString("name")

	token := settings.GetString("token")
	if token == "" {
		secret := settings.GetString("secret")
		if secret == "" {
			return fmt.Errorf("either --token or --secret is required")
		}
		minted, err := auth.Sign([]byte(secret), userID, name, 24*time.Hour)
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		token = minted
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := chatclient.Dial(ctx, settings.GetString("url"), token)
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.Connect(userID, name); err != nil {
		return fmt.Errorf("send connect: %w", err)
	}

	s := &session{
		client:   client,
		userID:   userID,
		kind:     models.RoomKind(settings.GetString("kind")),
		notifier: chatclient.NewTypingNotifier(client, chatclient.QuietWindow),
	}
	if roomID := settings.GetString("room"); roomID != "" {
		s.open(ctx, roomID)
	}

	go s.printEvents()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
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
			s.handle(ctx, strings.TrimSpace(line))
		}
	}
}

type session struct {
	client   *chatclient.Client
	notifier *chatclient.TypingNotifier
	userID   string
	kind     models.RoomKind

	mu       sync.Mutex
	timeline *chatclient.Timeline
	nextPage int
}

func (s *session) current() *chatclient.Timeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeline
}

func (s *session) open(ctx context.Context, roomID string) {
	if err := s.client.Join(roomID); err != nil {
		logger.Error("join %s: %v", roomID, err)
		return
	}
	s.mu.Lock()
	s.timeline = chatclient.NewTimeline(roomID)
	s.nextPage = 1
	s.mu.Unlock()
	s.loadMore(ctx)
	_ = s.client.MarkRead(roomID)
}

func (s *session) loadMore(ctx context.Context) {
	s.mu.Lock()
	timeline, pageNo := s.timeline, s.nextPage
	s.mu.Unlock()
	if timeline == nil || pageNo == 0 {
		return
	}

	page, err := s.client.History(ctx, timeline.RoomID(), pageNo, 0)
	if err != nil {
		logger.Error("history: %v", err)
		return
	}
	shift := timeline.Prepend(page.Messages)
	for _, msg := range timeline.Messages()[:shift] {
		printMessage(msg)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timeline != timeline {
		return
	}
	if page.HasMore {
		s.nextPage++
	} else {
		s.nextPage = 0
		fmt.Println("-- start of history --")
	}
}

func (s *session) handle(ctx context.Context, line string) {
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "/") {
		s.send(line)
		return
	}

	cmd, arg, _ := strings.Cut(line[1:], " ")
	var err error
	switch cmd {
	case "open":
		s.open(ctx, arg)
	case "leave":
		err = s.client.Leave(arg)
	case "more":
		s.loadMore(ctx)
	case "read":
		if tl := s.current(); tl != nil {
			err = s.client.MarkRead(tl.RoomID())
		}
	case "online":
		err = s.client.RequestOnlineUsers()
	case "status":
		err = s.client.SetStatus(models.PresenceStatus(arg))
	case "typing":
		if tl := s.current(); tl != nil {
			err = s.notifier.Keystroke(tl.RoomID())
		}
	default:
		fmt.Println("commands: /open ID, /leave ID, /more, /read, /online, /status S, /typing")
	}
	if err != nil {
		logger.Error("%s: %v", cmd, err)
	}
}

func (s *session) send(text string) {
	tl := s.current()
	if tl == nil {
		fmt.Println("no room open, use /open ID")
		return
	}
	_ = s.notifier.Stop()

	msg := models.SendMessagePayload{Content: text}
	if s.kind == models.RoomKindGroup {
		msg.GroupID = tl.RoomID()
	} else {
		msg.ConversationID = tl.RoomID()
	}
	if err := s.client.Send(msg); err != nil {
		logger.Error("send: %v", err)
	}
}

func (s *session) printEvents() {
	for env := range s.client.Events() {
		switch env.Type {
		case models.EventMessageDelivered:
			msg, err := chatclient.Decode[models.Message](env)
			if err != nil {
				continue
			}
			tl := s.current()
			if tl != nil && tl.Add(&msg) {
				printMessage(&msg)
			} else if tl == nil || msg.RoomID() != tl.RoomID() {
				fmt.Printf("[new message in %s from %s]\n", msg.RoomID(), msg.SenderID)
			}
		case models.EventTyping, models.EventStopTyping:
			p, err := chatclient.Decode[models.TypingPayload](env)
			if err != nil {
				continue
			}
			if env.Type == models.EventTyping {
				fmt.Printf("[%s is typing]\n", displayOf(p.DisplayName, p.UserID))
			}
		case models.EventPresenceChanged:
			p, _ := chatclient.Decode[models.PresenceChangedPayload](env)
			fmt.Printf("[%s is %s]\n", p.UserID, p.Status)
		case models.EventOnlineUsersSnapshot:
			p, _ := chatclient.Decode[models.OnlineUsersPayload](env)
			fmt.Printf("[online: %s]\n", strings.Join(p.UserIDs, ", "))
		case models.EventConnected:
			fmt.Printf("[connected as %s]\n", s.userID)
		case models.EventError:
			p, _ := chatclient.Decode[models.ErrorPayload](env)
			fmt.Printf("[error %d: %s]\n", p.Code, p.Message)
		}
	}
	fmt.Println("[disconnected]")
	os.Exit(0)
}

func printMessage(msg *models.Message) {
	text := msg.Content
	if msg.Attachment != nil {
		text += " [" + msg.Attachment.URL + "]"
	}
	fmt.Printf("%s %s: %s\n", msg.CreatedAt.Local().Format("15:04"), msg.SenderID, text)
}

func displayOf(name, id string) string {
	if name != "" {
		return name
	}
	return id
}
