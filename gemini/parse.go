package gemini

import "strings"

// Action tags the model embeds in its replies. Exact case, no variants.
const (
	cmdOpenTag  = "<SERIAL_CMD>"
	cmdCloseTag = "</SERIAL_CMD>"
	imageTag    = "<REQUEST_IMAGE/>"
)

// Reply is one parsed model turn
type Reply struct {
	// Display is the operator-facing text, tags replaced by placeholders
	// and whitespace collapsed
	Display string
	// Command is the serial command to dispatch, empty when none was tagged
	Command string
	// WantsImage reports that the model asked for a camera frame
	WantsImage bool
}

// ParseReply scans a model turn for action tags in one forward pass. At most
// one command pair and one image marker are recognized; later duplicates and
// unterminated open tags stay in the text as literals.
func ParseReply(text string) Reply {
	var (
		reply   Reply
		display strings.Builder
	)

	i := 0
	for i < len(text) {
		if !reply.WantsImage && strings.HasPrefix(text[i:], imageTag) {
			reply.WantsImage = true
			display.WriteString("[Requesting Image]")
			i += len(imageTag)
			continue
		}

		if reply.Command == "" && strings.HasPrefix(text[i:], cmdOpenTag) {
			rest := text[i+len(cmdOpenTag):]
			if j := strings.Index(rest, cmdCloseTag); j >= 0 {
				if cmd := strings.TrimSpace(rest[:j]); cmd != "" {
					reply.Command = cmd
					display.WriteString("[Sending Command: " + cmd + "]")
					i += len(cmdOpenTag) + j + len(cmdCloseTag)
					continue
				}
			}
		}

		display.WriteByte(text[i])
		i++
	}

	reply.Display = strings.Join(strings.Fields(display.String()), " ")
	return reply
}
