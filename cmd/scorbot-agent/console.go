package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sciencesam/gemini-scorbot-controller/camera"
	"github.com/sciencesam/gemini-scorbot-controller/gemini"
	"github.com/sciencesam/gemini-scorbot-controller/scorbot"
	"go.uber.org/zap"
)

// pending carries the parts of the next model turn. A non-empty pending
// means the turn is machine-triggered (command result or captured image)
// and the operator is not prompted first.
type pending struct {
	text       string
	imagePath  string
	serialNote string
}

func (p pending) empty() bool {
	return p.text == "" && p.imagePath == "" && p.serialNote == ""
}

// console runs the operator REPL and orchestrates turns between the model,
// the robot and the camera. At most one robot action happens per model turn;
// its result feeds the next turn.
type console struct {
	service   *scorbot.Service
	agent     *gemini.Client
	cam       *camera.Camera
	hasCamera bool
	in        *bufio.Scanner
	log       *zap.SugaredLogger
	next      pending
}

func (c *console) run() {
	fmt.Println("\n--- System Ready ---")
	fmt.Println("Type your message/command for the robot, or a local command (/help).")

	for {
		var reply string
		var err error

		if !c.next.empty() {
			// Drop stray async lines first so old traffic is never re-sent
			c.drainStray()
			fmt.Println("\n... Asking Gemini (based on previous action/response)...")
			turn := c.next
			c.next = pending{}
			reply, err = c.agent.Converse(turn.text, turn.imagePath, turn.serialNote)
		} else {
			c.drainStray()
			fmt.Print("\n> You: ")
			if !c.in.Scan() {
				fmt.Println("\nEOF detected. Exiting...")
				return
			}
			line := strings.TrimSpace(c.in.Text())
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "/") {
				if c.local(line) {
					return
				}
				continue
			}
			fmt.Println("\n... Asking Gemini (based on user input)...")
			reply, err = c.agent.Converse(line, "", "")
		}

		if err != nil {
			if errors.Is(err, gemini.ErrNoReply) {
				fmt.Println("Warning: Gemini did not provide a response.")
			} else {
				c.log.Errorf("Gemini call failed: %s", err)
			}
			continue
		}

		parsed := gemini.ParseReply(reply)
		fmt.Printf("\n< Gemini: %s\n", parsed.Display)

		switch {
		case parsed.Command != "":
			c.runCommand(parsed.Command)
		case parsed.WantsImage:
			c.fetchImage()
		}
	}
}

// runCommand dispatches a model-tagged command and queues the classified
// reply for the next turn
func (c *console) runCommand(command string) {
	fmt.Printf("--> [Sending to Robot]: %s\n", command)
	outcome, err := c.service.Execute(command)
	if err != nil {
		fmt.Println("    ERROR: Failed to send the command to the serial port.")
		c.log.Errorf("Dispatch of %q failed: %s", command, err)
		c.next = pending{text: fmt.Sprintf("[System Note: Failed to send the previous serial command ('%s') due to a serial communication error.]", command)}
		return
	}

	if outcome.Empty() {
		fmt.Println("    (no response within timeout)")
	}
	for _, line := range outcome.Lines {
		fmt.Printf("    %s\n", line)
	}
	c.next = pending{serialNote: outcome.Text()}
}

// fetchImage answers a model image request with a fresh capture, or with a
// note explaining why none is coming
func (c *console) fetchImage() {
	if !c.hasCamera {
		fmt.Println("Cannot fulfill image request: Camera is not available.")
		c.next = pending{text: "[System Note: Cannot capture image because the camera is not available or failed to initialize.]"}
		return
	}

	fmt.Println("--> [Capturing Image for Gemini as Requested]")
	path, err := c.cam.Capture("gemini_request")
	if err != nil {
		fmt.Println("ERROR: Failed to capture the requested image.")
		c.log.Errorf("Capture failed: %s", err)
		c.next = pending{text: "[System Note: Failed to capture the requested image due to a camera error.]"}
		return
	}

	fmt.Println("... Image captured, will send to Gemini next.")
	c.next = pending{text: "[System Note: Here is the image you requested.]", imagePath: path}
}

// drainStray empties lines that arrived outside any collection window and
// shows them so nothing the robot says goes unseen
func (c *console) drainStray() {
	var stray []string
	for {
		line, ok := c.service.PollLine()
		if !ok {
			break
		}
		stray = append(stray, line)
	}
	if len(stray) == 0 {
		return
	}
	fmt.Printf("--- Note: %d async serial line(s) received ---\n", len(stray))
	for _, l := range stray {
		fmt.Printf("  [SERIAL_RX ASYNC]: %s\n", l)
	}
}

// local handles slash commands; reports whether the console should exit
func (c *console) local(line string) bool {
	cmd := strings.ToLower(line)
	switch {
	case cmd == "/quit":
		return true

	case strings.HasPrefix(cmd, "/serial "):
		raw := strings.TrimSpace(line[len("/serial "):])
		if raw == "" {
			fmt.Println("Usage: /serial <command_to_send>")
			return false
		}
		fmt.Printf("--> [Manual Serial Send]: %s\n", raw)
		if err := c.service.Send(raw); err != nil {
			c.log.Errorf("Manual send failed: %s", err)
			return false
		}
		// Replies surface through the stray-line drain before the next prompt
		time.Sleep(500 * time.Millisecond)

	case cmd == "/view":
		fmt.Println("--- Received Serial Buffer (Snapshot) ---")
		lines := c.service.Snapshot()
		if len(lines) == 0 {
			fmt.Println("  (buffer is empty)")
		} else {
			start := 0
			if len(lines) > 15 {
				start = len(lines) - 15
			}
			for _, l := range lines[start:] {
				fmt.Printf("  %s\n", l)
			}
		}
		fmt.Println(strings.Repeat("-", 20))

	case cmd == "/capture":
		if !c.hasCamera {
			fmt.Println("Camera is not available.")
			return false
		}
		fmt.Println("--> [Manual Image Capture]")
		path, err := c.cam.Capture("manual_capture")
		if err != nil {
			fmt.Println("Failed to capture image.")
			c.log.Errorf("Capture failed: %s", err)
			return false
		}
		fmt.Printf("Image saved to %s.\n", path)
		fmt.Print("Send this captured image to Gemini? (y/n): ")
		if c.in.Scan() && strings.EqualFold(strings.TrimSpace(c.in.Text()), "y") {
			c.next = pending{text: "[User manually captured this image. Please observe.]", imagePath: path}
		}

	case cmd == "/help":
		c.printHelp()

	default:
		fmt.Printf("Unknown local command: %s\n", line)
	}
	return false
}

func (c *console) printHelp() {
	fmt.Println("Local Commands:")
	fmt.Println("  /serial <raw_cmd>  - Send a raw command directly (bypasses Gemini).")
	fmt.Println("  /view              - Show recent raw lines from the serial buffer.")
	if c.hasCamera {
		fmt.Println("  /capture           - Manually capture an image from the webcam.")
	}
	fmt.Println("  /help              - Show this help.")
	fmt.Println("  /quit              - Exit the application.")
}
