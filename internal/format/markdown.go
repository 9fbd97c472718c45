// Package format builds Telegram messages with entity-based styling, so
// replies never need escaping for a parse mode.
package format

import (
	"strings"
	"unicode/utf16"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Message is plain text plus the entities styling it.
type Message struct {
	Text     string
	Entities []tgbotapi.MessageEntity
}

// UTF16Len returns the length of s in UTF-16 code units, the unit Telegram
// uses for entity offsets.
func UTF16Len(s string) int {
	n := 0
	for _, r := range s {
		n += utf16.RuneLen(r)
	}
	return n
}

// Builder appends styled runs of text.
type Builder struct {
	sb       strings.Builder
	offset   int
	entities []tgbotapi.MessageEntity
}

func (b *Builder) Plain(s string) *Builder {
	b.sb.WriteString(s)
	b.offset += UTF16Len(s)
	return b
}

func (b *Builder) Bold(s string) *Builder {
	return b.styled("bold", s)
}

func (b *Builder) Italic(s string) *Builder {
	return b.styled("italic", s)
}

func (b *Builder) styled(kind, s string) *Builder {
	if n := UTF16Len(s); n > 0 {
		b.entities = append(b.entities, tgbotapi.MessageEntity{Type: kind, Offset: b.offset, Length: n})
	}
	return b.Plain(s)
}

// Message returns the built text with trailing whitespace trimmed. Entities
// are clipped to the trimmed text.
func (b *Builder) Message() Message {
	text := strings.TrimRight(b.sb.String(), " \n")
	total := UTF16Len(text)
	var entities []tgbotapi.MessageEntity
	for _, e := range b.entities {
		if e.Offset >= total {
			continue
		}
		if e.Offset+e.Length > total {
			e.Length = total - e.Offset
		}
		entities = append(entities, e)
	}
	return Message{Text: text, Entities: entities}
}

// Reply renders a spoken answer for chat: the last question, if any, in
// bold.
func Reply(speech, question string) Message {
	var b Builder
	if question != "" {
		if i := strings.LastIndex(speech, question); i >= 0 {
			b.Plain(speech[:i]).Bold(question).Plain(speech[i+len(question):])
			return b.Message()
		}
	}
	b.Plain(speech)
	return b.Message()
}
