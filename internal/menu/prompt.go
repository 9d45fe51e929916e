package menu

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/manifoldco/promptui"
	runewidth "github.com/mattn/go-runewidth"
)

var numberPattern = regexp.MustCompile(`^(\d+)\.\s*(.*)$`)

func (m *Menu) promptUserSelection(options []MenuOption) (int, error) {
	items, indexes := formatMenuItems(options)

	prompt := promptui.Select{
		Label:             "Please select an operation",
		Items:             items,
		Size:              10,
		HideHelp:          false,
		StartInSearchMode: false,
		Templates: &promptui.SelectTemplates{
			Label:    "{{ . }}:",
			Active:   "▶ {{ . | cyan }}",
			Inactive: "  {{ . }}",
			Selected: "✅ {{ . | green }}",
			Help:     "{{ \"Navigate:\" | faint }} {{ .NextKey }} {{ .PrevKey }} {{ \"|\" | faint }} {{ \"Exit:\" | faint }} Ctrl + C",
		},
	}

	index, _, err := prompt.Run()
	if err != nil {
		return -1, err
	}

	if index >= 0 && index < len(indexes) {
		return indexes[index], nil
	}

	return -1, errors.New("invalid selection")
}

// promptChoice shows a plain list and returns the chosen index.
func promptChoice(label string, items []string, cursor int) (int, error) {
	if len(items) == 0 {
		return -1, errors.New("nothing to choose from")
	}
	prompt := promptui.Select{
		Label:     label,
		Items:     items,
		Size:      12,
		CursorPos: cursor,
	}
	index, _, err := prompt.Run()
	return index, err
}

func formatMenuItems(options []MenuOption) ([]string, []int) {
	entries := buildMenuEntries(options)
	if len(entries) == 0 {
		return nil, nil
	}

	maxPrefixWidth := 0
	maxNumberWidth := 0
	maxTextWidth := 0
	for _, entry := range entries {
		if width := runewidth.StringWidth(entry.prefix); width > maxPrefixWidth {
			maxPrefixWidth = width
		}
		if len(entry.numberPart) > maxNumberWidth {
			maxNumberWidth = len(entry.numberPart)
		}
		if width := runewidth.StringWidth(entry.textPart); width > maxTextWidth {
			maxTextWidth = width
		}
	}

	items := make([]string, 0, len(entries))
	indexes := make([]int, 0, len(entries))

	for _, entry := range entries {
		prefix := runewidth.FillRight(entry.prefix, maxPrefixWidth)

		numberColumn := ""
		if entry.numberPart != "" {
			numberColumn = fmt.Sprintf("%*s. ", maxNumberWidth, entry.numberPart)
		} else if maxNumberWidth > 0 {
			numberColumn = strings.Repeat(" ", maxNumberWidth+2)
		}

		text := entry.textPart
		if entry.description != "" {
			text = runewidth.FillRight(text, maxTextWidth) + "  " + entry.description
		}

		items = append(items, fmt.Sprintf("%s %s%s", prefix, numberColumn, text))
		indexes = append(indexes, entry.originalIndex)
	}

	return items, indexes
}

type menuEntry struct {
	prefix        string
	numberPart    string
	textPart      string
	description   string
	originalIndex int
}

func buildMenuEntries(options []MenuOption) []menuEntry {
	entries := make([]menuEntry, 0, len(options))

	for idx, option := range options {
		if !option.Enabled {
			continue
		}

		numberPart := ""
		textPart := option.Label
		if matches := numberPattern.FindStringSubmatch(option.Label); len(matches) == 3 {
			numberPart = matches[1]
			textPart = matches[2]
		}

		entries = append(entries, menuEntry{
			prefix:        statusPrefix(option.Color),
			numberPart:    numberPart,
			textPart:      textPart,
			description:   option.Description,
			originalIndex: idx,
		})
	}

	return entries
}

func statusPrefix(color string) string {
	switch color {
	case "red":
		return "🔴"
	case "green":
		return "🟢"
	case "yellow":
		return "🟡"
	case "cyan":
		return "🔵"
	default:
		return "⚪"
	}
}

// Confirm asks a yes/no question; anything but an explicit yes is no.
func Confirm(question string) bool {
	lines := strings.Split(strings.TrimSpace(question), "\n")
	for _, line := range lines[:len(lines)-1] {
		fmt.Println(line)
	}

	prompt := promptui.Prompt{
		Label:     lines[len(lines)-1],
		IsConfirm: true,
	}
	_, err := prompt.Run()
	return err == nil
}

func (m *Menu) waitForUserInput(message string) {
	prompt := promptui.Prompt{Label: message}
	_, _ = prompt.Run()
}
