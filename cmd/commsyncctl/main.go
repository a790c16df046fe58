package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/commdesk/commsync/internal/api"
	"github.com/commdesk/commsync/internal/contactkey"
	"github.com/commdesk/commsync/internal/ctl"
	"github.com/commdesk/commsync/internal/session"
)

func main() {
	sessionFlag := flag.String("session", "", "session name (overrides config default)")
	jsonFlag := flag.Bool("json", false, "output in JSON format")
	flag.Parse()

	sessionName := session.Resolve(*sessionFlag)
	if err := session.ValidateName(sessionName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	c := ctl.New(session.SocketPath(sessionName))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch args[0] {
	case "status":
		cmdStatus(ctx, c, *jsonFlag)
	case "list":
		cmdList(ctx, c, *jsonFlag)
	case "show":
		requireArgs(args, 2, "usage: commsyncctl show <contact>")
		cmdShow(ctx, c, args[1], *jsonFlag)
	case "send":
		requireArgs(args, 3, "usage: commsyncctl send <contact> <message>")
		cmdSend(ctx, c, args[1], strings.Join(args[2:], " "), *jsonFlag)
	case "refresh":
		key := ""
		if len(args) > 1 {
			key = args[1]
		}
		cmdRefresh(ctx, c, key)
	case "read":
		requireArgs(args, 2, "usage: commsyncctl read <contact>")
		cmdMarkRead(ctx, c, args[1])
	case "delete":
		requireArgs(args, 2, "usage: commsyncctl delete <contact>")
		cmdDelete(ctx, c, args[1])
	case "contact":
		requireArgs(args, 4, "usage: commsyncctl contact <endpoint> <first> <last> [org]")
		cmdContact(ctx, c, args[1:], *jsonFlag)
	case "search":
		requireArgs(args, 2, "usage: commsyncctl search <query> [contact]")
		key := ""
		if len(args) > 2 {
			key = args[2]
		}
		cmdSearch(ctx, c, args[1], key, *jsonFlag)
	case "watch":
		cmdWatch(c, *jsonFlag)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: commsyncctl [--session <name>] [--json] <command>")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "commands:")
	fmt.Fprintln(os.Stderr, "  status                        Show daemon status")
	fmt.Fprintln(os.Stderr, "  list                          List conversations")
	fmt.Fprintln(os.Stderr, "  show <contact>                Show one conversation")
	fmt.Fprintln(os.Stderr, "  send <contact> <message>      Send a message")
	fmt.Fprintln(os.Stderr, "  refresh [contact]             Force a sync (all, or one conversation)")
	fmt.Fprintln(os.Stderr, "  read <contact>                Mark a conversation read")
	fmt.Fprintln(os.Stderr, "  delete <contact>              Delete a conversation")
	fmt.Fprintln(os.Stderr, "  contact <endpoint> <first> <last> [org]  Save a CRM contact")
	fmt.Fprintln(os.Stderr, "  search <query> [contact]      Search message history")
	fmt.Fprintln(os.Stderr, "  watch                         Stream daemon events")
}

func requireArgs(args []string, n int, usage string) {
	if len(args) < n {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func cmdStatus(ctx context.Context, c *ctl.Client, jsonOut bool) {
	st, err := c.Status(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(st)
		return
	}
	fmt.Printf("Session: %s\n", st.Session)
	fmt.Printf("State:   %s\n", st.State)
}

func cmdList(ctx context.Context, c *ctl.Client, jsonOut bool) {
	convs, err := c.List(ctx)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(convs)
		return
	}
	if len(convs) == 0 {
		fmt.Println("No conversations.")
		return
	}
	for _, conv := range convs {
		name := conv.ContactName
		if name == "" {
			name = contactkey.Key(conv.Key).Display()
		}
		unread := ""
		if conv.UnreadCount > 0 {
			unread = fmt.Sprintf(" [%d unread]", conv.UnreadCount)
		}
		fmt.Printf("%-24s %s%s\n", name, conv.LastMessagePreview, unread)
	}
}

func cmdShow(ctx context.Context, c *ctl.Client, key string, jsonOut bool) {
	conv, err := c.Get(ctx, key)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(conv)
		return
	}
	name := conv.ContactName
	if name == "" {
		name = contactkey.Key(conv.Key).Display()
	}
	fmt.Printf("%s (%d messages)\n", name, len(conv.Messages))
	for _, m := range conv.Messages {
		arrow := "<-"
		if m.Direction == "outbound" {
			arrow = "->"
		}
		suffix := ""
		if m.Status != "" && m.Status != "delivered" {
			suffix = " (" + m.Status + ")"
		}
		fmt.Printf("  %s %s %s%s\n", m.CreatedAt.Local().Format("2006-01-02 15:04"), arrow, m.Body, suffix)
	}
}

func cmdSend(ctx context.Context, c *ctl.Client, key, body string, jsonOut bool) {
	ack, err := c.Send(ctx, key, body)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(ack)
		return
	}
	fmt.Printf("Accepted: %s\n", ack.ClientMsgID)
}

func cmdRefresh(ctx context.Context, c *ctl.Client, key string) {
	if err := c.Refresh(ctx, key); err != nil {
		fail(err)
	}
	fmt.Println("Refresh triggered.")
}

func cmdMarkRead(ctx context.Context, c *ctl.Client, key string) {
	if err := c.MarkRead(ctx, key); err != nil {
		fail(err)
	}
	fmt.Println("Marked read.")
}

func cmdDelete(ctx context.Context, c *ctl.Client, key string) {
	if err := c.Delete(ctx, key); err != nil {
		fail(err)
	}
	fmt.Println("Deleted.")
}

func cmdContact(ctx context.Context, c *ctl.Client, args []string, jsonOut bool) {
	req := api.ContactRequest{Key: args[0], FirstName: args[1], LastName: args[2]}
	if len(args) > 3 {
		req.Organization = args[3]
	}
	resp, err := c.SaveContact(ctx, req)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(resp)
		return
	}
	fmt.Printf("Contact saved: %s\n", resp.ContactID)
}

func cmdSearch(ctx context.Context, c *ctl.Client, query, key string, jsonOut bool) {
	hits, err := c.Search(ctx, query, key, 50)
	if err != nil {
		fail(err)
	}
	if jsonOut {
		outputJSON(hits)
		return
	}
	if len(hits) == 0 {
		fmt.Println("No matches.")
		return
	}
	for _, h := range hits {
		fmt.Printf("%-14s %s  %s\n", h.Key, h.CreatedAt.Local().Format("2006-01-02"), h.Snippet)
	}
}

func cmdWatch(c *ctl.Client, jsonOut bool) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := c.Watch(ctx, "", func(evt ctl.WatchEvent) {
		if jsonOut {
			outputJSON(map[string]any{"kind": evt.Kind, "payload": json.RawMessage(evt.Data)})
			return
		}
		fmt.Printf("%s %s\n", evt.Kind, evt.Data)
	})
	if err != nil {
		fail(err)
	}
}

func outputJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "json encode error: %v\n", err)
	}
}
