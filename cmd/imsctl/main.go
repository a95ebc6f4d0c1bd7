package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/matheus3301/ims/internal/api"
	"github.com/matheus3301/ims/internal/session"
	grpcstatus "google.golang.org/grpc/status"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Usage = printUsage
	flag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fail(err)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c, err := api.Dial(session.SocketPath(sessionName))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: cannot connect to daemon for session %q: %v\n", sessionName, err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	cli := &cli{c: c, json: *jsonFlag}
	if args[0] == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cli.watch(ctx, args[1:])
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cli.status(ctx)
	case "login":
		need(args, 3, "login <name> <password>")
		cli.login(ctx, args[1], args[2])
	case "register":
		need(args, 3, "register <name> <password> [info]")
		info := strings.Join(args[3:], " ")
		check(c.Register(ctx, args[1], args[2], info))
		fmt.Printf("Registered %s.\n", args[1])
	case "logout":
		check(c.Logout(ctx))
		fmt.Println("Logged out.")
	case "friends":
		cli.friends(ctx)
	case "requests":
		cli.requests(ctx)
	case "request":
		need(args, 2, "request <name>")
		check(c.SendRequest(ctx, args[1]))
		fmt.Printf("Friend request sent to %s.\n", args[1])
	case "accept":
		need(args, 2, "accept <name>")
		check(c.AcceptRequest(ctx, args[1]))
		fmt.Printf("%s is now a friend.\n", args[1])
	case "decline":
		need(args, 2, "decline <name>")
		check(c.DeclineRequest(ctx, args[1]))
		fmt.Printf("Declined request from %s.\n", args[1])
	case "chats":
		cli.chats(ctx)
	case "chat":
		need(args, 2, "chat <id>")
		cli.chat(ctx, chatID(args[1]), false)
	case "open":
		need(args, 2, "open <id>")
		cli.chat(ctx, chatID(args[1]), true)
	case "send":
		cli.send(ctx, args[1:])
	case "create":
		need(args, 2, "create <description> [member]")
		member := ""
		if len(args) > 2 {
			member = args[2]
		}
		id, err := c.CreateChat(ctx, args[1], member)
		check(err)
		fmt.Printf("Created chat %d.\n", id)
	case "add-member":
		need(args, 3, "add-member <id> <name>")
		check(c.AddMember(ctx, chatID(args[1]), args[2]))
		fmt.Printf("Added %s to chat %s.\n", args[2], args[1])
	case "leave":
		need(args, 2, "leave <id>")
		check(c.LeaveChat(ctx, chatID(args[1])))
		fmt.Printf("Left chat %s.\n", args[1])
	case "save":
		cli.save(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: imsctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                         Show session status")
	fmt.Fprintln(os.Stderr, "  register <name> <pw> [info]    Create an account")
	fmt.Fprintln(os.Stderr, "  login <name> <pw>              Log in and retrieve friends and chats")
	fmt.Fprintln(os.Stderr, "  logout                         Log out and clear local state")
	fmt.Fprintln(os.Stderr, "  friends                        List friends")
	fmt.Fprintln(os.Stderr, "  requests                       List pending friend requests")
	fmt.Fprintln(os.Stderr, "  request <name>                 Send a friend request")
	fmt.Fprintln(os.Stderr, "  accept <name>                  Accept a friend request")
	fmt.Fprintln(os.Stderr, "  decline <name>                 Decline a friend request")
	fmt.Fprintln(os.Stderr, "  chats                          List chats")
	fmt.Fprintln(os.Stderr, "  chat <id>                      Show a chat from local state")
	fmt.Fprintln(os.Stderr, "  open <id>                      Fetch new messages, mark read, show")
	fmt.Fprintln(os.Stderr, "  send [-attach path] <id> <text>  Send a message")
	fmt.Fprintln(os.Stderr, "  create <description> [member]  Create a chat")
	fmt.Fprintln(os.Stderr, "  add-member <id> <name>         Add a friend to a chat")
	fmt.Fprintln(os.Stderr, "  leave <id>                     Leave a chat")
	fmt.Fprintln(os.Stderr, "  save                           Archive local state")
	fmt.Fprintln(os.Stderr, "  watch [prefix]                 Stream daemon events")
}

type cli struct {
	c    *api.Client
	json bool
}

func (c *cli) status(ctx context.Context) {
	resp, err := c.c.Status(ctx)
	check(err)
	if c.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Session: %s\n", resp.Session)
	fmt.Printf("Status:  %s (since %s)\n", resp.Status, formatMillis(resp.StatusSinceMs))
	if resp.LoggedIn {
		fmt.Printf("User:    %s\n", resp.User.Name)
	}
	fmt.Printf("Uptime:  %dms\n", resp.UptimeMs)
	fmt.Printf("Friends: %d\n", resp.Friends)
	fmt.Printf("Chats:   %d\n", resp.Chats)
	fmt.Printf("Cursors: friends=%d chats=%d notifications=%d\n",
		resp.Cursors.Friends, resp.Cursors.Chats, resp.Cursors.Notifications)
	if resp.LastSave != nil {
		fmt.Printf("Saved:   #%d at %s\n", resp.LastSave.ID, formatMillis(resp.LastSave.TakenAt))
	}
}

func (c *cli) login(ctx context.Context, name, password string) {
	resp, err := c.c.Login(ctx, name, password)
	check(err)
	if c.json {
		outputJSON(resp)
		return
	}
	fmt.Printf("Logged in as %s.\n", resp.User.Name)
	if resp.Warning != "" {
		fmt.Fprintf(os.Stderr, "warning: initial retrieval incomplete: %s\n", resp.Warning)
	}
}

func (c *cli) friends(ctx context.Context) {
	resp, err := c.c.Friends(ctx)
	check(err)
	if c.json {
		outputJSON(resp)
		return
	}
	if len(resp.Friends) == 0 {
		fmt.Println("No friends yet.")
		return
	}
	for _, f := range resp.Friends {
		fmt.Printf("%-20s %s\n", f.Name, f.Info)
	}
}

func (c *cli) requests(ctx context.Context) {
	resp, err := c.c.Requests(ctx)
	check(err)
	if c.json {
		outputJSON(resp)
		return
	}
	if len(resp.Sent)+len(resp.Received) == 0 {
		fmt.Println("No pending requests.")
		return
	}
	for _, r := range resp.Received {
		fmt.Printf("from %-20s %d\n", r.Name, r.Timestamp)
	}
	for _, r := range resp.Sent {
		fmt.Printf("to   %-20s %d\n", r.Name, r.Timestamp)
	}
}

func (c *cli) chats(ctx context.Context) {
	resp, err := c.c.Chats(ctx)
	check(err)
	if c.json {
		outputJSON(resp)
		return
	}
	if len(resp.Chats) == 0 {
		fmt.Println("No chats.")
		return
	}
	for _, s := range resp.Chats {
		if s.Placeholder {
			fmt.Printf("%6d  (not fetched yet)\n", s.ID)
			continue
		}
		fmt.Printf("%6d  %-30s admin=%-12s unread=%d pending=%d\n",
			s.ID, s.Description, s.Admin.Name, s.Unread, s.Pending)
	}
}

func (c *cli) chat(ctx context.Context, id int64, open bool) {
	var (
		view    *api.ChatResponse
		fetched = -1
	)
	if open {
		resp, err := c.c.OpenChat(ctx, id)
		check(err)
		if c.json {
			outputJSON(resp)
			return
		}
		if resp.Warning != "" {
			fmt.Fprintf(os.Stderr, "warning: showing cached history: %s\n", resp.Warning)
		}
		view, fetched = &resp.Chat, resp.Fetched
	} else {
		resp, err := c.c.Chat(ctx, id)
		check(err)
		if c.json {
			outputJSON(resp)
			return
		}
		view = resp
	}

	fmt.Printf("Chat %d: %s\n", view.ID, view.Description)
	fmt.Printf("Admin:   %s (%s)\n", view.AdminInfo.Name, view.AdminInfo.Info)
	names := make([]string, len(view.MemberInfos))
	for i, m := range view.MemberInfos {
		names[i] = m.Name
	}
	fmt.Printf("Members: %s\n", strings.Join(names, ", "))
	if fetched >= 0 {
		fmt.Printf("Fetched: %d new\n", fetched)
	}
	fmt.Println()
	for _, m := range view.Messages {
		sender := m.Sender
		if sender == "" {
			sender = "me"
		}
		line := fmt.Sprintf("[%d] %s: %s", m.Timestamp, sender, m.Text)
		if m.Attachment != "" {
			line += " <" + m.Attachment + ">"
		}
		fmt.Println(line)
	}
}

func (c *cli) send(ctx context.Context, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	attach := fs.String("attach", "", "attachment path")
	_ = fs.Parse(args)
	rest := fs.Args()
	need(append([]string{"send"}, rest...), 2, "send [-attach path] <id> <text>")

	ts, err := c.c.SendMessage(ctx, chatID(rest[0]), strings.Join(rest[1:], " "), *attach)
	check(err)
	if c.json {
		outputJSON(api.SendMessageResponse{Timestamp: ts})
		return
	}
	fmt.Printf("Sent (timestamp %d).\n", ts)
}

func (c *cli) save(ctx context.Context) {
	info, err := c.c.Save(ctx)
	check(err)
	if c.json {
		outputJSON(info)
		return
	}
	fmt.Printf("Saved #%d: %d friends, %d chats, %d messages.\n", info.ID, info.Friends, info.Chats, info.Messages)
}

func (c *cli) watch(ctx context.Context, args []string) {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	err := c.c.Watch(ctx, prefix, func(env *api.EventEnvelope) error {
		if c.json {
			outputJSON(env)
			return nil
		}
		fmt.Printf("%s %-28s %s\n", formatMillis(env.OccurredAtUnixMs), env.Kind, env.Payload)
		return nil
	})
	check(err)
}

func chatID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fail(fmt.Errorf("invalid chat id %q", s))
	}
	return id
}

func need(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintf(os.Stderr, "usage: imsctl %s\n", usage)
		os.Exit(1)
	}
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format(time.DateTime)
}

func check(err error) {
	if err != nil {
		fail(err)
	}
}

func fail(err error) {
	if st, ok := grpcstatus.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "error: %s\n", st.Message())
	} else {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
	}
	os.Exit(1)
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
