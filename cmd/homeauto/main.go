package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/udit1567/Home.auto/pkg/client"
	"github.com/udit1567/Home.auto/pkg/schema"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		return
	}

	addr := os.Getenv("HOMEAUTO_URL")
	if addr == "" {
		addr = "http://localhost:5000"
	}
	c := client.New(addr, os.Getenv("HOMEAUTO_TOKEN"))
	ctx := context.Background()

	command := strings.ToUpper(os.Args[1])
	args := os.Args[2:]

	switch command {
	case "PUSH":
		if len(args) < 1 {
			log.Fatal("Usage: homeauto PUSH D1=<value> [D2=<value> ...]")
		}
		channels, err := parseChannels(args)
		if err != nil {
			log.Fatal(err)
		}
		r, err := c.Push(ctx, channels)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(r)

	case "LATEST":
		if len(args) < 2 {
			log.Fatal("Usage: homeauto LATEST <userID> <channel>")
		}
		userID := parseUserID(args[0])
		ch, err := schema.ParseChannel(args[1])
		if err != nil {
			log.Fatal(err)
		}
		v, err := c.Latest(ctx, userID, ch)
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s = %v (%s)\n", v.Channel, v.Value, v.Timestamp)

	case "DATA":
		if len(args) < 1 {
			log.Fatal("Usage: homeauto DATA <userID>")
		}
		rows, err := c.Readings(ctx, parseUserID(args[0]))
		if err != nil {
			log.Fatal(err)
		}
		printJSON(rows)

	case "DETECT":
		if len(args) < 2 {
			log.Fatal("Usage: homeauto DETECT <objects|plant> <image> [base64]")
		}
		model := client.Objects
		if strings.HasPrefix(strings.ToLower(args[0]), "plant") {
			model = client.PlantDisease
		}
		asBase64 := len(args) > 2 && strings.EqualFold(args[2], "base64")
		res, err := c.DetectFile(ctx, model, args[1], asBase64)
		if err != nil {
			log.Fatal(err)
		}
		printJSON(res)

	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
	}
}

func parseChannels(args []string) (schema.Channels, error) {
	var cs schema.Channels
	for _, a := range args {
		name, val, ok := strings.Cut(a, "=")
		if !ok {
			return cs, fmt.Errorf("expected CHANNEL=VALUE, got %q", a)
		}
		ch, err := schema.ParseChannel(name)
		if err != nil {
			return cs, err
		}
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return cs, fmt.Errorf("%s: %w", ch, err)
		}
		cs.Set(ch, f)
	}
	return cs, nil
}

func parseUserID(s string) int64 {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Fatalf("invalid user id %q", s)
	}
	return id
}

func printUsage() {
	fmt.Println("homeauto - CLI for the Home.auto gateway")
	fmt.Println("\nUsage:")
	fmt.Println("  homeauto PUSH D1=<value> [D2=<value> ...]")
	fmt.Println("  homeauto LATEST <userID> <D1..D8>")
	fmt.Println("  homeauto DATA <userID>")
	fmt.Println("  homeauto DETECT <objects|plant> <image> [base64]")
	fmt.Println("\nEnvironment Variables:")
	fmt.Println("  HOMEAUTO_URL     Gateway base URL (default: http://localhost:5000)")
	fmt.Println("  HOMEAUTO_TOKEN   Device auth token, required for PUSH")
}

func printJSON(v any) {
	bytes, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(v)
		return
	}
	fmt.Println(string(bytes))
}
