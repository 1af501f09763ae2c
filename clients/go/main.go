// A2A CLI - Command line client for the A2A agent ledger
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/OfficialDeepSwap/A2A/clients/go/a2a"
	"github.com/OfficialDeepSwap/A2A/internal/models"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	client := a2a.NewClient(os.Getenv("A2A_URL"))
	cmd := os.Args[1]

	switch cmd {
	case "health":
		resp, err := client.Health()
		exitOnError(err)
		printJSON(resp)

	case "register":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: a2a register <name> [capability,...]")
			os.Exit(1)
		}
		var caps []string
		if len(os.Args) > 3 {
			caps = strings.Split(os.Args[3], ",")
		}
		resp, err := client.Register(os.Args[2], caps)
		exitOnError(err)
		fmt.Printf("Registered as: %s\n", resp.ID)

	case "agents":
		ids, err := client.ListAgents()
		exitOnError(err)
		for _, id := range ids {
			fmt.Println(id.Hex())
		}

	case "find":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: a2a find <capability>")
			os.Exit(1)
		}
		ids, err := client.Search(os.Args[2])
		exitOnError(err)
		for _, id := range ids {
			fmt.Println(id.Hex())
		}

	case "who":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: a2a who <address|name>")
			os.Exit(1)
		}
		id := resolve(client, os.Args[2])
		resp, err := client.GetAgent(id)
		exitOnError(err)
		printJSON(resp)

	case "send":
		if len(os.Args) < 4 {
			fmt.Fprintln(os.Stderr, "Usage: a2a send <address|name> <message> [ttl]")
			os.Exit(1)
		}
		var opts a2a.SendOptions
		if len(os.Args) > 4 {
			ttl, err := time.ParseDuration(os.Args[4])
			exitOnError(err)
			opts.TTL = ttl
		}
		resp, err := client.Send(resolve(client, os.Args[2]), []byte(os.Args[3]), opts)
		exitOnError(err)
		fmt.Printf("Sent: %s\n", resp.ID.Hex())

	case "inbox":
		msgs, err := client.Unread()
		exitOnError(err)
		for _, msg := range msgs {
			ts := time.Unix(msg.CreatedAt, 0).Format("2006-01-02 15:04:05")
			body, err := client.Open(msg)
			if err != nil {
				body = []byte("<" + err.Error() + ">")
			}
			fmt.Printf("[%s] %s %s: %s\n", ts, msg.ID.Hex()[:10], msg.Sender.Hex()[:10], body)
		}

	case "read":
		if len(os.Args) < 3 {
			fmt.Fprintln(os.Stderr, "Usage: a2a read <message_id>")
			os.Exit(1)
		}
		id, err := models.ParseHash(os.Args[2])
		exitOnError(err)
		exitOnError(client.MarkRead(id))

	case "help", "--help", "-h":
		usage()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		usage()
		os.Exit(1)
	}
}

// resolve accepts a 0x address or a registered name.
func resolve(client *a2a.Client, s string) models.Address {
	if id, err := models.ParseAddress(s); err == nil {
		return id
	}
	id, err := client.LookupName(s)
	exitOnError(err)
	return id
}

func usage() {
	fmt.Println(`A2A CLI - agent directory and encrypted messaging

Usage: a2a <command> [options]

Commands:
  register <name> [caps]     Register a new agent (caps comma separated)
  agents                     List active agents
  find <capability>          Find agents by capability
  who <address|name>         Get agent record
  send <to> <message> [ttl]  Send an encrypted message
  inbox                      Show and decrypt unread messages
  read <message_id>          Mark a message read
  health                     Check server health

Environment:
  A2A_URL      Server URL (default: http://localhost:8080)
  A2A_CONFIG   Config directory (default: ~/.a2a)`)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func printJSON(v interface{}) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
