// Package main implements idectl, the IDE side of the bridge.
// It talks to the editor host over its HTTP port, or pushes commands onto the Redis queue.
//
// Usage:
//
//	idectl -pid 12345 play
//	idectl -pid 12345 stop
//	idectl -pid 12345 menu Assets/Refresh
//	idectl -pid 12345 status
//	idectl -redis localhost:6379 play
//	idectl -redis localhost:6379 result <command-id>
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/guido-cesarano/editorbridge/pkg/bridge"
	"github.com/guido-cesarano/editorbridge/pkg/queue"
	"github.com/guido-cesarano/editorbridge/pkg/tasks"
)

func main() {
	pid := flag.Int("pid", 0, "Editor host process id (selects the bridge port)")
	addr := flag.String("addr", "", "Bridge address host:port (overrides -pid)")
	basePort := flag.Int("base-port", 46000, "Bridge base port")
	portSpan := flag.Int("port-span", 1000, "Bridge port span")
	apiKey := flag.String("api-key", os.Getenv("API_KEY"), "Bridge API key")
	redisAddr := flag.String("redis", "", "Push commands to this Redis instead of calling the bridge")
	priority := flag.Int("priority", tasks.PriorityDefault, "Command priority when using -redis (0-2)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: idectl [flags] play|stop|menu <path>|status|result <id>")
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	if *redisAddr != "" {
		err = viaRedis(ctx, *redisAddr, *priority, args)
	} else {
		target := *addr
		if target == "" {
			if *pid == 0 {
				fmt.Fprintln(os.Stderr, "idectl: -pid or -addr is required")
				os.Exit(2)
			}
			target = "127.0.0.1:" + strconv.Itoa(bridge.Port(*pid, *basePort, *portSpan))
		}
		err = viaBridge(ctx, target, *apiKey, args)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "idectl: %v\n", err)
		os.Exit(1)
	}
}

// viaBridge sends one request to the bridge HTTP API and prints the response.
func viaBridge(ctx context.Context, addr, apiKey string, args []string) error {
	var method, path string
	var body interface{}
	switch args[0] {
	case "play", "stop":
		method, path = http.MethodPost, "/play"
		body = map[string]bool{"play": args[0] == "play"}
	case "menu":
		if len(args) < 2 {
			return fmt.Errorf("menu needs a path")
		}
		method, path = http.MethodPost, "/menu"
		body = map[string]string{"path": args[1]}
	case "status":
		method, path = http.MethodGet, "/status"
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://"+addr+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, bytes.TrimSpace(data))
	}
	fmt.Print(string(data))
	return nil
}

// viaRedis pushes a command onto the queue, or reads a stored result.
func viaRedis(ctx context.Context, addr string, priority int, args []string) error {
	client := queue.NewClient(addr)
	defer client.Close()

	if args[0] == "result" {
		if len(args) < 2 {
			return fmt.Errorf("result needs a command id")
		}
		result, err := client.GetResult(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Println(result)
		return nil
	}

	cmd := tasks.Command{
		ID:        uuid.New().String(),
		CreatedAt: time.Now(),
		Priority:  priority,
	}
	switch args[0] {
	case "play", "stop":
		cmd.Type = tasks.CommandPlay
		cmd.Payload = map[string]interface{}{"play": args[0] == "play"}
	case "menu":
		if len(args) < 2 {
			return fmt.Errorf("menu needs a path")
		}
		cmd.Type = tasks.CommandMenu
		cmd.Payload = map[string]interface{}{"path": args[1]}
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}

	if err := client.Push(ctx, cmd); err != nil {
		return err
	}
	fmt.Printf("Command queued: %s\n", cmd.ID)
	return nil
}
