package main

import (
	"bufio"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/sciencesam/gemini-scorbot-controller/camera"
	"github.com/sciencesam/gemini-scorbot-controller/gemini"
	"github.com/sciencesam/gemini-scorbot-controller/scorbot"
	"go.uber.org/zap"
)

var version = "develop"

func isProduction() bool {
	return version != "develop"
}

const defaultBaud = 9600

func main() {
	// Setup logger
	var logger *zap.Logger
	if isProduction() {
		logger, _ = zap.NewProduction()
	} else {
		logger, _ = zap.NewDevelopment()
	}
	log := logger.Sugar()
	defer log.Sync()

	// Get configuration from environment
	simulate := os.Getenv("SCORBOT_SIMULATE") != ""
	port := os.Getenv("SCORBOT_PORT")
	baud := defaultBaud
	if v := os.Getenv("SCORBOT_BAUD"); v != "" {
		b, err := strconv.Atoi(v)
		if err != nil {
			log.Fatalf("Invalid SCORBOT_BAUD %q: %s", v, err)
		}
		baud = b
	}
	monitorPort := os.Getenv("SCORBOT_MONITOR_PORT")
	promptFile := os.Getenv("GEMINI_PROMPT_FILE")
	if promptFile == "" {
		promptFile = "initial_prompt.txt"
	}

	log.Infof("scorbot-agent Started")
	log.Info("-------------------------------------")
	log.Infof("%-15s: %s", "Version", version)
	log.Infof("%-15s: %v", "Production", isProduction())
	log.Infof("%-15s: %v", "Simulate", simulate)
	log.Infof("%-15s: %d", "Baud", baud)
	log.Infof("%-15s: %s", "Prompt File", promptFile)
	log.Info("-------------------------------------")

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		log.Fatalf("GEMINI_API_KEY is not set")
	}

	prompt, err := os.ReadFile(promptFile)
	if err != nil {
		log.Fatalf("Cannot read initial prompt %s: %s", promptFile, err)
	}

	// Create the transport and service
	var transport scorbot.Transport
	if simulate {
		transport = scorbot.NewSim()
	} else {
		transport = scorbot.NewSerialTransport()
	}
	service := scorbot.NewService(transport, scorbot.WithLogger(log))

	// Optional SSE traffic monitor
	if monitorPort != "" {
		monitor := NewMonitor(log)
		service.AddHandler(monitor)
		go monitor.Serve(monitorPort)
	}

	// Create the conversational agent
	agent := gemini.NewClient(gemini.Config{
		APIKey:       apiKey,
		Model:        os.Getenv("GEMINI_MODEL"),
		SystemPrompt: string(prompt),
		ManualPath:   os.Getenv("SCORBOT_MANUAL"),
	}, log)

	// Camera is optional equipment
	cam := camera.New(camera.Config{
		Device:    os.Getenv("CAMERA_DEVICE"),
		OutputDir: os.Getenv("CAPTURE_DIR"),
	}, log)
	hasCamera := cam.Available()
	if !hasCamera {
		log.Warnf("Capture tool not found, image capture and requests are disabled")
	}

	// One scanner owns stdin, for port selection and the REPL alike
	stdin := bufio.NewScanner(os.Stdin)

	// Pick the endpoint and connect
	endpoint := port
	if endpoint == "" {
		if simulate {
			endpoint = "SIMULATED_PORT"
		} else {
			endpoint, err = chooseEndpoint(service, stdin)
			if err != nil {
				log.Fatalf("No usable serial port: %s", err)
			}
		}
	}
	if err := service.Connect(endpoint, baud); err != nil {
		log.Fatalf("Failed to connect to %s: %s", endpoint, err)
	}

	// Disconnect cleanly on Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println()
		log.Infof("Shutting down")
		service.Disconnect()
		logger.Sync()
		os.Exit(0)
	}()

	c := &console{
		service:   service,
		agent:     agent,
		cam:       cam,
		hasCamera: hasCamera,
		in:        stdin,
		log:       log,
	}
	c.run()

	if err := service.Disconnect(); err != nil {
		log.Warnf("Disconnect failed: %s", err)
	}
}

// chooseEndpoint lists the system's serial ports and asks the operator to
// pick one by number
func chooseEndpoint(service *scorbot.Service, in *bufio.Scanner) (string, error) {
	endpoints, err := service.ListEndpoints()
	if err != nil {
		return "", err
	}
	if len(endpoints) == 0 {
		return "", fmt.Errorf("no serial ports found, connect the USB-serial adapter")
	}
	if len(endpoints) == 1 {
		fmt.Printf("Using serial port %s\n", endpoints[0])
		return endpoints[0], nil
	}

	fmt.Println("Available serial ports:")
	for i, e := range endpoints {
		fmt.Printf("  %d: %s\n", i, e)
	}

	for {
		fmt.Printf("Select the serial port number for the Scorbot (0-%d): ", len(endpoints)-1)
		if !in.Scan() {
			return "", fmt.Errorf("stdin closed")
		}
		i, err := strconv.Atoi(strings.TrimSpace(in.Text()))
		if err != nil {
			fmt.Println("Please enter a number.")
			continue
		}
		if i < 0 || i >= len(endpoints) {
			fmt.Println("Invalid choice.")
			continue
		}
		return endpoints[i], nil
	}
}
