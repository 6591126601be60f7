package classifier

import (
	"fmt"
	"strings"
)

func BuildPrompt(description string) string {
	return fmt.Sprintf("You are an image validation assistant. Please analyze this image and determine if it matches the following description: %q\n\n"+
		"Respond with either:\n"+
		"- \"ACCEPTED\" if the image clearly matches the description\n"+
		"- \"REJECTED: [reason]\" if the image does not match, followed by a brief explanation\n\n"+
		"Be precise and focus on the key elements mentioned in the description. "+
		"If the description mentions specific objects, locations, or characteristics, verify their presence in the image.",
		description)
}

// ParseVerdict reads a model reply. Anything not starting with ACCEPTED is a mismatch.
func ParseVerdict(reply string) Verdict {
	reply = strings.TrimSpace(reply)
	upper := strings.ToUpper(reply)
	if strings.HasPrefix(upper, "ACCEPTED") {
		return Verdict{Match: true}
	}
	explanation := reply
	if strings.HasPrefix(upper, "REJECTED") {
		explanation = strings.TrimSpace(strings.TrimLeft(reply[len("REJECTED"):], ":- "))
	}
	return Verdict{Match: false, Explanation: explanation}
}
