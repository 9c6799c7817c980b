package ai

import (
	"fmt"

	"github.com/shipwatch/shipwatch/internal/types"
)

const promptTemplate = `You are monitoring an Urbit group channel and writing a digest for someone who has not read it.

Channel: %s

%s

Write a concise summary (at most 200 words) covering:
1. Main topics and discussions
2. Key insights or decisions
3. Notable participants and what they contributed
4. Overall tone and engagement level

Reply with the summary only.`

// BuildPrompt wraps formatted channel activity in the summarization instructions
func BuildPrompt(channel types.ChannelID, activity string) string {
	return fmt.Sprintf(promptTemplate, channel, activity)
}
