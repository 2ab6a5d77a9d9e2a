package service

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cloo-solutions/mnemo/internal/llm"
)

const defaultTransformWindow = 4

// Turn is one prior message in the conversation.
type Turn struct {
	Role    string
	Content string
}

// ConversationContext is the short-term state the transformer reads. Goal is
// a persistent anchor that is never evicted with the turn window.
type ConversationContext struct {
	ID    string
	Turns []Turn
	Goal  string
}

// TransformResult reports the standalone query and how it was produced.
type TransformResult struct {
	Query        string
	Continuation bool
	GoalAppended bool
	Fallback     bool
	Err          error
}

var continuationWords = map[string]struct{}{
	"it": {}, "its": {}, "that": {}, "this": {}, "those": {}, "these": {}, "they": {}, "them": {},
	"he": {}, "she": {}, "there": {}, "same": {}, "one": {}, "ones": {}, "former": {}, "latter": {},
}

var continuationPrefixes = []string{"and ", "but ", "also ", "what about", "how about", "then ", "so ", "or "}

// QueryTransformer rewrites an elliptical utterance into a standalone query.
// It never fails: on error or empty output the raw utterance is used.
type QueryTransformer struct {
	caller *stageCaller
	window int
}

func NewQueryTransformer(synth llm.Synthesizer, window int, stage StageConfig) *QueryTransformer {
	if window <= 0 {
		window = defaultTransformWindow
	}
	return &QueryTransformer{caller: newStageCaller(synth, stage), window: window}
}

func (t *QueryTransformer) Transform(ctx context.Context, utterance string, conv ConversationContext) TransformResult {
	utterance = strings.TrimSpace(utterance)
	turns := conv.Turns
	if len(turns) > t.window {
		turns = turns[len(turns)-t.window:]
	}

	result := TransformResult{Query: utterance, Continuation: isContinuation(utterance, turns)}
	if len(turns) == 0 && conv.Goal == "" {
		return result
	}

	rewritten, err := t.caller.call(ctx, llm.Request{
		System:    "You rewrite the user's last input into a standalone query. Resolve pronouns and ellipses from the history. Do not answer it. If it is already standalone, return it unchanged. Reply with the query only.",
		Prompt:    buildTransformPrompt(utterance, turns, conv.Goal),
		MaxTokens: 200,
	})
	rewritten = strings.TrimSpace(rewritten)
	if err != nil || rewritten == "" {
		result.Fallback = true
		result.Err = err
	} else {
		result.Query = rewritten
	}

	if result.Continuation && conv.Goal != "" &&
		!strings.Contains(strings.ToLower(result.Query), strings.ToLower(conv.Goal)) {
		result.Query = fmt.Sprintf("%s (goal: %s)", result.Query, conv.Goal)
		result.GoalAppended = true
	}
	return result
}

func buildTransformPrompt(utterance string, turns []Turn, goal string) string {
	var b strings.Builder
	if goal != "" {
		fmt.Fprintf(&b, "Conversation goal: %s\n\n", goal)
	}
	b.WriteString("Conversation history:\n")
	for _, turn := range turns {
		role := turn.Role
		if role == "" {
			role = "user"
		}
		fmt.Fprintf(&b, "%s: %s\n", capitalize(role), turn.Content)
	}
	fmt.Fprintf(&b, "\nUser's last input:\n%s\n\nStandalone query:", utterance)
	return b.String()
}

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}

// isContinuation guesses whether the utterance leans on earlier turns.
func isContinuation(utterance string, turns []Turn) bool {
	if len(turns) == 0 || utterance == "" {
		return false
	}
	lower := strings.ToLower(utterance)
	for _, prefix := range continuationPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	words := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9') && r != '\''
	})
	if len(words) <= 3 {
		return true
	}
	for _, w := range words {
		if _, ok := continuationWords[w]; ok {
			return true
		}
	}
	return false
}
