// ABOUTME: Fixed prompts and message builders for mention replies, sentiment, and image description
// ABOUTME: Produces eino schema messages ready for Completer

package llm

import (
	"encoding/base64"
	"strings"

	"github.com/cloudwego/eino/schema"
)

// MentionSystemPrompt frames replies to @-mentions.
const MentionSystemPrompt = "You are a helpful assistant."

// SentimentSystemPrompt frames channel sentiment analysis.
const SentimentSystemPrompt = "You are an expert at analyzing conversation sentiment. Analyze the following Slack conversation and provide: \n" +
	"1. Overall sentiment (positive/negative/neutral)\n" +
	"2. Key themes or topics\n" +
	"3. Any notable patterns in interaction\n" +
	"4. Level of engagement\n" +
	"Be concise but thorough."

// ImageInstruction asks the vision model for a description useful to sentiment analysis.
const ImageInstruction = "Describe this image in detail, focusing on any text, charts, or emotional cues relevant to the conversation."

// Exchange is one prior user message and the bot's reply to it, if any.
type Exchange struct {
	Message  string
	Response string
}

// ConversationPrompt builds system, then user/assistant turns for history
// (oldest first, empty responses skipped), then query as the final user turn.
func ConversationPrompt(system string, history []Exchange, query string) []*schema.Message {
	msgs := make([]*schema.Message, 0, 2*len(history)+2)
	msgs = append(msgs, schema.SystemMessage(system))
	for _, ex := range history {
		msgs = append(msgs, schema.UserMessage(ex.Message))
		if ex.Response != "" {
			msgs = append(msgs, schema.AssistantMessage(ex.Response, nil))
		}
	}
	return append(msgs, schema.UserMessage(query))
}

// TranscriptLine is one human message in a sentiment transcript.
type TranscriptLine struct {
	UserID string
	Text   string
}

// SentimentPrompt builds the analysis request. lines must be oldest first.
func SentimentPrompt(lines []TranscriptLine, imageDescription string) []*schema.Message {
	var b strings.Builder
	b.WriteString("Here's the conversation to analyze:\n\n")
	if imageDescription != "" {
		b.WriteString("Image shared in the conversation: ")
		b.WriteString(imageDescription)
		b.WriteString("\n\n")
	}
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("User ")
		b.WriteString(l.UserID)
		b.WriteString(": ")
		b.WriteString(l.Text)
	}

	return []*schema.Message{
		schema.SystemMessage(SentimentSystemPrompt),
		schema.UserMessage(b.String()),
	}
}

// ImagePrompt asks the vision model about the image at imageURL, which may
// be an https URL or a data URL.
func ImagePrompt(instruction, imageURL string) []*schema.Message {
	return []*schema.Message{{
		Role: schema.User,
		MultiContent: []schema.ChatMessagePart{
			{Type: schema.ChatMessagePartTypeText, Text: instruction},
			{Type: schema.ChatMessagePartTypeImageURL, ImageURL: &schema.ChatMessageImageURL{URL: imageURL}},
		},
	}}
}

// DataURL encodes data as a base64 data URL.
func DataURL(contentType string, data []byte) string {
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
