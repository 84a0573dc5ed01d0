package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"online-cinema-support/backend/internal/chat"
	"online-cinema-support/backend/internal/client"
	"online-cinema-support/backend/pkg/config"
	"online-cinema-support/backend/pkg/logger"
)

func main() {
	godotenv.Load()

	userID := flag.String("user", "", "user id for the support session (required)")
	server := flag.String("server", "http://localhost:8080", "support REST base URL")
	wsURL := flag.String("ws", "", "relay websocket URL (default derived from -server)")
	flag.Parse()

	if *userID == "" {
		fmt.Fprintln(os.Stderr, "usage: chatcli -user <id> [-server url] [-ws url]")
		os.Exit(2)
	}

	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = false
	log := logger.New(logConfig)
	logger.SetGlobal(log)

	relayURL := *wsURL
	if relayURL == "" {
		relayURL = deriveWsURL(*server, cfg.Server.WSPath)
	}

	statePath := filepath.Join(cfg.Client.StateDir, *userID+".json")
	store := client.NewSessionStore(statePath, log)
	apiClient := client.NewSupportAPI(*server, cfg.Client.RequestTimeout)
	manager := client.NewConnectionManager(client.NewManagerConfig(relayURL), log)
	orchestrator := client.NewOrchestrator(apiClient, store, manager, log)
	defer orchestrator.Close()

	manager.OnStatusChange(func(st client.Status) {
		fmt.Printf("-- connection: %s\n", st)
	})
	store.Subscribe(func(m chat.Message) {
		printMessage(m)
	})

	// Show the rehydrated history before anything new arrives
	for _, m := range store.Messages() {
		printMessage(m)
	}

	ctx := context.Background()
	if err := orchestrator.Bootstrap(ctx, *userID); err != nil {
		log.LogError(err, "bootstrap failed")
		os.Exit(1)
	}
	fmt.Printf("-- chat %s ready; /file <path>, /voice <path> <seconds>, /close, /quit\n", store.ChatID())

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case line == "/quit":
			return

		case line == "/close":
			if err := orchestrator.CloseChat(ctx); err != nil {
				fmt.Printf("-- close failed: %v\n", err)
				continue
			}
			fmt.Println("-- chat closed")
			return

		case strings.HasPrefix(line, "/file "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/file "))
			if err := orchestrator.SendFile(ctx, path); err != nil {
				fmt.Printf("-- send failed: %v\n", err)
			}

		case strings.HasPrefix(line, "/voice "):
			fields := strings.Fields(strings.TrimPrefix(line, "/voice "))
			if len(fields) != 2 {
				fmt.Println("-- usage: /voice <path> <seconds>")
				continue
			}
			duration, err := strconv.ParseFloat(fields[1], 64)
			if err != nil {
				fmt.Println("-- usage: /voice <path> <seconds>")
				continue
			}
			if err := orchestrator.SendVoiceMessage(ctx, fields[0], duration); err != nil {
				fmt.Printf("-- send failed: %v\n", err)
			}

		default:
			if err := orchestrator.SendMessage(line); err != nil {
				fmt.Printf("-- not delivered (%v); kept in local history\n", err)
			}
		}
	}
}

func printMessage(m chat.Message) {
	who := m.UserID
	if m.IsFromSupport {
		who = "support"
	}
	switch m.Type {
	case chat.TypeFile:
		fmt.Printf("[%s] %s (%s)\n", who, m.Content, m.FileURL)
	case chat.TypeVoice:
		fmt.Printf("[%s] %s (%.1fs)\n", who, m.Content, m.VoiceDuration)
	default:
		fmt.Printf("[%s] %s\n", who, m.Content)
	}
}

func deriveWsURL(baseURL, wsPath string) string {
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + wsPath
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + wsPath
	}
	return baseURL + wsPath
}
