package domain

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	webLinkRe     = regexp.MustCompile(`(?:https://)?t\.me/(?:c/)?\w+/\d+`)
	openMessageRe = regexp.MustCompile(`tg://openmessage\?user_id=\d+&message_id=\d+`)
	privateLinkRe = regexp.MustCompile(`t\.me/c/(\d+)/(\d+)`)
	digitsRe      = regexp.MustCompile(`\d+`)
)

// ExtractMessageLinks returns the message links found in text. Web links
// win; the tg:// form is only consulted when no web link is present.
func ExtractMessageLinks(text string) []string {
	if links := webLinkRe.FindAllString(text, -1); len(links) > 0 {
		return links
	}
	return openMessageRe.FindAllString(text, -1)
}

// ParseMessageLink resolves a message link to (chatID, msgID). Private
// channel links ("t.me/c/<id>/<msg>") map to the -100-prefixed channel id.
// Username links carry no numeric chat id and report !ok.
func ParseMessageLink(link string) (int64, int64, bool) {
	if strings.HasPrefix(link, "tg://") {
		nums := digitsRe.FindAllString(link, -1)
		if len(nums) != 2 {
			return 0, 0, false
		}
		return parseLinkPair(nums[0], nums[1])
	}
	if m := privateLinkRe.FindStringSubmatch(link); m != nil {
		return parseLinkPair("-100"+m[1], m[2])
	}
	parts := strings.Split(strings.TrimRight(link, "/"), "/")
	if len(parts) < 2 {
		return 0, 0, false
	}
	return parseLinkPair(parts[len(parts)-2], parts[len(parts)-1])
}

func parseLinkPair(chat, msg string) (int64, int64, bool) {
	chatID, err := strconv.ParseInt(chat, 10, 64)
	if err != nil {
		return 0, 0, false
	}
	msgID, err := strconv.ParseInt(msg, 10, 64)
	if err != nil || msgID <= 0 {
		return 0, 0, false
	}
	return chatID, msgID, true
}
