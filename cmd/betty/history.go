package main

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/askbetty/betty/internal/chatstore"
)

const previewRunes = 60

func printHistory(out io.Writer, th theme, previews []chatstore.Preview, next string) {
	if len(previews) == 0 {
		fmt.Fprintln(out, th.muted.Render("No conversations yet."))
		return
	}
	now := time.Now()
	for _, p := range previews {
		fmt.Fprintf(out, "%s  %s  %s\n", th.title.Render(p.Title), th.muted.Render(p.ID), th.muted.Render(formatAge(p.UpdatedAt, now)))
		if p.FirstMessage != nil {
			fmt.Fprintf(out, "    %s\n", preview(p.FirstMessage.Content))
		}
	}
	if next != "" {
		fmt.Fprintln(out, th.muted.Render("more: betty history --cursor "+next))
	}
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= previewRunes {
		return s
	}
	return string([]rune(s)[:previewRunes-1]) + "…"
}
