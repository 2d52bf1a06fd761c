// Package prompts holds the system instructions sent to the generation model,
// one per content operation. Handlers look instructions up by the operation
// name in their route.
package prompts

// System instructions per content operation. Kept deliberately short; tone and
// structure guidance lives with the model configuration, not in code.
const (
	Post = "You write a single social media post from the user's topic or draft. " +
		"Keep it concise, conversational, and ready to publish as-is. " +
		"Return only the post text."

	Thread = "You write a numbered multi-part thread from the user's topic or draft. " +
		"Each part must stand alone yet flow into the next. " +
		"Return only the thread parts, one per line."

	Reply = "You write a short reply to the social media post the user provides. " +
		"Add a useful perspective; never restate the original post. " +
		"Return only the reply text."

	Caption = "You write an image caption from the user's description. " +
		"Lead with a hook, end with a call to action, and include a small set of " +
		"relevant hashtags. Return only the caption."

	Carousel = "You write slide-by-slide copy for a carousel post from the user's " +
		"topic. Number each slide, keep slide text short, and make the first slide " +
		"a hook. Return only the slide copy."

	Reel = "You write a short-form video script from the user's topic. " +
		"Structure it as hook, body, and call to action with spoken lines only. " +
		"Return only the script."
)

// byOperation maps the route operation name to its system instruction.
var byOperation = map[string]string{
	"post":     Post,
	"thread":   Thread,
	"reply":    Reply,
	"caption":  Caption,
	"carousel": Carousel,
	"reel":     Reel,
}

// System returns the instruction for the named operation and whether the
// operation is known.
func System(operation string) (string, bool) {
	s, ok := byOperation[operation]
	return s, ok
}

// Operations returns the known operation names in route registration order.
func Operations() []string {
	return []string{"post", "thread", "reply", "caption", "carousel", "reel"}
}
