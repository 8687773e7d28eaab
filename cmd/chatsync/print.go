package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"chatsync/internal/app/chat"
	"chatsync/internal/app/model"
	"chatsync/internal/app/user"
)

const timeLayout = "2006-01-02 15:04"

func printRooms(w io.Writer, rooms []model.Room) {
	if len(rooms) == 0 {
		fmt.Fprintln(w, "No rooms yet. Create one with `chatsync rooms create <name>`.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tMODE\tLAST ACTIVITY")
	for _, r := range rooms {
		mode := "identity"
		if r.IsAnonymous {
			mode = "anonymous"
		}
		last := "-"
		if r.LastActivityAt != nil {
			last = r.LastActivityAt.Local().Format(timeLayout)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, r.Name, mode, last)
	}
	tw.Flush()
}

func printMessages(w io.Writer, msgs []model.Message) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages yet.")
		return
	}
	for _, m := range msgs {
		printMessage(w, m)
	}
}

func printMessage(w io.Writer, m model.Message) {
	edited := ""
	if m.EditedAt != nil {
		edited = " (edited)"
	}
	fmt.Fprintf(w, "[%s] %s%s  %s\n", m.CreatedAt.Local().Format(timeLayout), m.Sender.DisplayName(), edited, m.ID)

	if p := m.ReplyPreview; p != nil {
		fmt.Fprintf(w, "  > %s: %s\n", p.SenderName, p.Snippet)
	}

	body := m.Content
	if m.Kind == model.KindCode {
		body = "```\n" + body + "\n```"
	}
	for _, line := range strings.Split(body, "\n") {
		fmt.Fprintf(w, "  %s\n", line)
	}
}

func printTypists(w io.Writer, typists []chat.Typist) {
	if len(typists) == 0 {
		return
	}
	names := make([]string, len(typists))
	for i, t := range typists {
		names[i] = t.DisplayName
	}
	verb := "is"
	if len(names) > 1 {
		verb = "are"
	}
	fmt.Fprintf(w, "... %s %s typing\n", strings.Join(names, ", "), verb)
}

func printPresence(w io.Writer, present []chat.Presence) {
	names := make([]string, len(present))
	for i, p := range present {
		names[i] = p.DisplayName
	}
	fmt.Fprintf(w, "* %d here: %s\n", len(present), strings.Join(names, ", "))
}

func printProfile(w io.Writer, p *user.Profile) {
	if p == nil {
		fmt.Fprintln(w, "Not signed in. Set USER_TOKEN or --token to post under your name.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", p.ID)
	fmt.Fprintf(tw, "Username\t%s\n", p.Username)
	fmt.Fprintf(tw, "Display name\t%s\n", p.DisplayName)
	fmt.Fprintf(tw, "Onboarded\t%t\n", p.OnboardingCompleted)
	tw.Flush()
}

func printPrefs(w io.Writer, p chat.Prefs) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	theme := p.Theme
	if theme == "" {
		theme = "default"
	}
	fmt.Fprintf(tw, "Theme\t%s\n", theme)
	fmt.Fprintf(tw, "Anonymous mode\t%t\n", p.AnonymousMode)
	fmt.Fprintf(tw, "Onboarding step\t%d\n", p.OnboardingStep)
	tw.Flush()
}
