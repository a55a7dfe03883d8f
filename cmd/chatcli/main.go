package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"thesis_messaging/internal/client"
	"thesis_messaging/internal/domain"
	"thesis_messaging/internal/notify"
	"thesis_messaging/internal/surface"
	"thesis_messaging/pkg/logger"
)

const help = `commands:
  /list                 conversations, most recent first
  /start <user-id>      open (or create) a conversation with a user
  /open <n>             open conversation number n from /list
  /search <text>        find users
  /retry                resend the last failed message
  /notifications        recent notifications
  /clear                mark all notifications read
  /quit
anything else is sent to the open conversation`

func main() {
	cfg := client.LoadConfig()
	flag.StringVar(&cfg.APIURL, "api", cfg.APIURL, "REST base URL")
	flag.StringVar(&cfg.ChannelURL, "ws", cfg.ChannelURL, "channel URL")
	flag.StringVar(&cfg.Token, "token", cfg.Token, "access token (CHAT_TOKEN)")
	peer := flag.String("peer", "", "user id to open a conversation with on start")
	flag.Parse()

	self, err := cfg.Identity()
	if err != nil {
		log.Fatalf("Failed to read identity: %v", err)
	}
	appLogger := logger.New(cfg.LogLevel).With("user_id", self.ID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus := notify.NewBus(appLogger)
	conn := client.NewConnectionManager(self.ID, client.NewWebsocketDialer(cfg.ChannelURL, cfg.Token), cfg.Connection, appLogger)
	api := client.NewAPIClient(cfg.APIURL, cfg.Token, conn.EndpointID)
	notify.Bridge(conn, bus, time.Now, appLogger)

	session := client.NewSession(self, api, conn, bus, client.SessionOptions{}, appLogger)
	defer session.Close()
	window := surface.NewChatWindow(bus, self.ID, time.Now)
	defer window.Close()
	badge := surface.NewBadge(bus, self.ID, api, appLogger)
	defer badge.Close()
	popup := surface.NewPopup(bus, self.ID, time.Now, window.IsShowing)
	defer popup.Close()

	ui := &terminal{self: self, session: session, window: window, api: api}
	notify.On(bus, ui.onMessage)
	notify.On(bus, func(e notify.NotificationReceived) {
		fmt.Printf("\n[notification] %s %s\n", e.Notification.Title, e.Notification.Body)
	})
	notify.On(bus, func(e notify.ConnectionState) {
		if e.Err != nil {
			fmt.Printf("\n[channel] %s: %v\n", e.State, e.Err)
			return
		}
		fmt.Printf("\n[channel] %s\n", e.State)
	})
	badge.OnChange(func(messages, notifications int) {
		fmt.Printf("[badge] %d unread messages, %d notifications\n", messages, notifications)
	})

	conn.Connect(ctx)
	defer conn.Disconnect()

	if err := session.RefreshConversations(ctx); err != nil {
		fmt.Printf("failed to load conversations: %v\n", err)
	}
	if err := badge.Refresh(ctx); err != nil {
		appLogger.Warn("Badge refresh failed", "error", err)
	}
	if *peer != "" {
		ui.start(ctx, *peer)
	}

	go ui.watch(ctx, popup)

	fmt.Printf("signed in as %s (%s)\n%s\n", self.DisplayName, self.Role, help)
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok || strings.TrimSpace(line) == "/quit" {
				return
			}
			ui.handle(ctx, line)
		}
	}
}

type terminal struct {
	self    domain.User
	session *client.Session
	window  *surface.ChatWindow
	api     *client.APIClient
	listed  []domain.ConversationView
}

func (t *terminal) handle(ctx context.Context, line string) {
	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	switch cmd {
	case "":
	case "/help":
		fmt.Println(help)
	case "/list":
		t.listed = t.session.Conversations()
		for i, c := range t.listed {
			last := ""
			if c.LastMessage != nil {
				last = c.LastMessage.Content
			}
			fmt.Printf("%2d. %-24s unread=%d  %s\n", i+1, c.Peer.DisplayName, c.UnreadCount, last)
		}
	case "/start":
		t.start(ctx, arg)
	case "/open":
		var n int
		if _, err := fmt.Sscanf(arg, "%d", &n); err != nil || n < 1 || n > len(t.listed) {
			fmt.Println("usage: /open <n> (see /list)")
			return
		}
		conv := t.listed[n-1]
		if err := t.session.OpenConversation(ctx, conv.ID); err != nil {
			fmt.Printf("open failed: %v\n", err)
			return
		}
		t.window.Show(conv.ID)
		t.printTranscript()
	case "/search":
		users, err := t.api.SearchUsers(ctx, arg, 10)
		if err != nil {
			fmt.Printf("search failed: %v\n", err)
			return
		}
		for _, u := range users {
			fmt.Printf("  %s  %s (%s)\n", u.ID, u.DisplayName, u.Role)
		}
	case "/retry":
		if _, err := t.session.Retry(ctx); err != nil {
			fmt.Printf("retry failed: %v\n", err)
		}
	case "/notifications":
		list, err := t.api.ListNotifications(ctx, 20)
		if err != nil {
			fmt.Printf("failed: %v\n", err)
			return
		}
		for _, n := range list {
			mark := " "
			if !n.IsRead() {
				mark = "*"
			}
			fmt.Printf("%s %s  %s\n", mark, n.CreatedAt.Local().Format("Jan 2 15:04"), n.Title)
		}
	case "/clear":
		if _, err := t.api.ClearNotifications(ctx); err != nil {
			fmt.Printf("failed: %v\n", err)
		}
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Println(help)
			return
		}
		// строка вводится целиком, поэтому сигнал набора отправляется один раз
		_ = t.session.Typing(line)
		if _, err := t.session.Send(ctx, line); err != nil {
			fmt.Printf("not sent: %v (use /retry for delivery errors)\n", err)
		}
	}
}

func (t *terminal) start(ctx context.Context, arg string) {
	peerID, err := uuid.Parse(strings.TrimSpace(arg))
	if err != nil {
		fmt.Println("usage: /start <user-id>")
		return
	}
	if err := t.session.StartConversation(ctx, peerID); err != nil {
		fmt.Printf("start failed: %v\n", err)
		return
	}
	conversationID, _ := t.session.ActiveConversation()
	t.window.Show(conversationID)
	t.printTranscript()
}

func (t *terminal) printTranscript() {
	for _, m := range t.session.Transcript() {
		t.printMessage(&m)
	}
}

func (t *terminal) printMessage(m *domain.Message) {
	who := "them"
	if m.SenderID == t.self.ID {
		who = "me"
	}
	fmt.Printf("[%s] %-4s: %s\n", m.CreatedAt.Local().Format("15:04:05"), who, m.Content)
}

func (t *terminal) onMessage(e notify.MessageReceived) {
	if t.window.IsShowing(e.Message.ConversationID) {
		t.printMessage(e.Message)
	}
}

// watch prints popup and typing changes, which expire on their own.
func (t *terminal) watch(ctx context.Context, popup *surface.Popup) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastPopup string
	var wasTyping bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if text, ok := popup.View(); ok && text != lastPopup {
				fmt.Printf("[popup] %s\n", text)
				lastPopup = text
			} else if !ok {
				lastPopup = ""
			}
			if typing := t.window.PeerTyping(); typing != wasTyping {
				if typing {
					fmt.Println("[typing...]")
				}
				wasTyping = typing
			}
		}
	}
}
