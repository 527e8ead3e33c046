package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gomemcache/metaclient"
)

func main() {
	servers := flag.String("servers", "127.0.0.1:11211", "comma-separated list of host:port server addresses")
	flag.Parse()

	fmt.Println("Memcache CLI Tool")
	fmt.Println("================")
	fmt.Println("Commands: get <key>, set <key> <value> [ttl], delete <key>, multi-get <key1> <key2> ..., stats, quit")
	fmt.Println()

	var addrs []memcache.ServerAddress
	for _, s := range strings.Split(*servers, ",") {
		addr, err := parseServerAddress(strings.TrimSpace(s))
		if err != nil {
			fmt.Printf("Invalid server address %q: %v\n", s, err)
			os.Exit(1)
		}
		addrs = append(addrs, addr)
	}

	client, err := memcache.NewCacheClient(addrs, nil, memcache.NewConfig())
	if err != nil {
		fmt.Printf("Failed to create client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		parts := strings.Fields(line)
		command := strings.ToLower(parts[0])
		ctx := context.Background()

		switch command {
		case "get":
			if len(parts) != 2 {
				fmt.Println("Usage: get <key>")
				continue
			}
			handleGet(ctx, client, parts[1])

		case "set":
			if len(parts) < 3 || len(parts) > 4 {
				fmt.Println("Usage: set <key> <value> [ttl_seconds]")
				continue
			}
			ttl := time.Duration(0)
			if len(parts) == 4 {
				ttlSecs, err := strconv.Atoi(parts[3])
				if err != nil {
					fmt.Printf("Invalid TTL: %v\n", err)
					continue
				}
				ttl = time.Duration(ttlSecs) * time.Second
			}
			handleSet(ctx, client, parts[1], parts[2], ttl)

		case "delete", "del":
			if len(parts) != 2 {
				fmt.Println("Usage: delete <key>")
				continue
			}
			handleDelete(ctx, client, parts[1])

		case "multi-get", "mget":
			if len(parts) < 2 {
				fmt.Println("Usage: multi-get <key1> <key2> ...")
				continue
			}
			handleMultiGet(ctx, client, parts[1:])

		case "stats":
			handleStats(client)

		case "help":
			fmt.Println("Commands:")
			fmt.Println("  get <key>                 - Get a value by key")
			fmt.Println("  set <key> <value> [ttl]   - Set a key-value pair with optional TTL")
			fmt.Println("  delete <key>              - Delete a key")
			fmt.Println("  multi-get <key1> <key2>   - Get multiple keys at once")
			fmt.Println("  stats                     - Show client and pool statistics")
			fmt.Println("  quit                      - Exit the CLI")

		case "quit", "exit":
			fmt.Println("Goodbye!")
			return

		default:
			fmt.Printf("Unknown command: %s. Type 'help' for available commands.\n", command)
		}
	}

	if err := scanner.Err(); err != nil {
		fmt.Printf("Error reading input: %v\n", err)
	}
}

func parseServerAddress(s string) (memcache.ServerAddress, error) {
	host, portStr, found := strings.Cut(s, ":")
	if !found {
		return memcache.ServerAddress{}, fmt.Errorf("expected host:port")
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return memcache.ServerAddress{}, fmt.Errorf("invalid port: %w", err)
	}
	return memcache.ServerAddress{Host: host, Port: port}, nil
}

func handleGet(ctx context.Context, client *memcache.CacheClient, key string) {
	start := time.Now()
	var value string
	found, err := client.Get(ctx, memcache.NewKey(key), &value, 0)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	if !found {
		fmt.Printf("Key not found (took %v)\n", duration)
		return
	}
	fmt.Printf("Value: %s (took %v)\n", value, duration)
}

func handleSet(ctx context.Context, client *memcache.CacheClient, key, value string, ttl time.Duration) {
	start := time.Now()
	ok, err := client.Set(ctx, memcache.NewKey(key), value, ttl, 0)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	if !ok {
		fmt.Printf("Not stored (took %v)\n", duration)
		return
	}
	fmt.Printf("Stored successfully (took %v)\n", duration)
}

func handleDelete(ctx context.Context, client *memcache.CacheClient, key string) {
	start := time.Now()
	ok, err := client.Delete(ctx, memcache.NewKey(key), 0)
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}
	if !ok {
		fmt.Printf("Key not found (took %v)\n", duration)
		return
	}
	fmt.Printf("Delete successful (took %v)\n", duration)
}

func handleMultiGet(ctx context.Context, client *memcache.CacheClient, keyStrings []string) {
	start := time.Now()

	keys := make([]memcache.Key, len(keyStrings))
	values := make([]string, len(keyStrings))
	for i, k := range keyStrings {
		keys[i] = memcache.NewKey(k)
	}

	found, err := client.MultiGet(ctx, keys, func(key memcache.Key) any {
		for i, k := range keys {
			if k.StorageToken == key.StorageToken {
				return &values[i]
			}
		}
		return new(string)
	})
	duration := time.Since(start)

	if err != nil {
		fmt.Printf("Error: %v (took %v)\n", err, duration)
		return
	}

	hits := 0
	for i, k := range keyStrings {
		if found[keys[i].StorageToken] {
			hits++
			fmt.Printf("  %s: %s\n", k, values[i])
		} else {
			fmt.Printf("  %s: <not found>\n", k)
		}
	}

	fmt.Printf("Retrieved %d out of %d keys (took %v)\n", hits, len(keyStrings), duration)
}

func handleStats(client *memcache.CacheClient) {
	stats := client.Stats()
	fmt.Println("Client Statistics:")
	fmt.Printf("  Gets: %d (hits: %d)\n", stats.Gets, stats.GetHits)
	fmt.Printf("  Sets: %d  Adds: %d  Deletes: %d  Increments: %d\n", stats.Sets, stats.Adds, stats.Deletes, stats.Increments)
	fmt.Printf("  Errors: %d\n", stats.Errors)
	fmt.Println()

	counters := client.GetCounters()
	if len(counters) == 0 {
		fmt.Println("No pool statistics available")
		return
	}
	fmt.Println("Pool Statistics:")
	for addr, ps := range counters {
		fmt.Printf("  %s: total=%d idle=%d active=%d created=%d destroyed=%d errors=%d\n",
			addr, ps.TotalConns, ps.IdleConns, ps.ActiveConns, ps.CreatedConns, ps.DestroyedConns, ps.AcquireErrors)
	}
}
