package annotation

import "strings"

// HeaderLines returns the text of an entity's header label, top-down:
// the label itself followed by one line per classification attribute.
func HeaderLines(e Entity) []string {
	title := strings.TrimSpace(e.Label)
	if title == "" {
		title = "object"
	}
	lines := []string{strings.ToUpper(title)}
	for _, a := range e.Attributes {
		lines = append(lines, humanize(a.Key)+": "+a.Value)
	}
	return lines
}

// DetailLines returns the text of a detail label.
func DetailLines(d Detail) []string {
	name := strings.TrimSpace(d.Name)
	desc := strings.TrimSpace(d.Description)
	switch {
	case name == "" && desc == "":
		return []string{"detail"}
	case desc == "":
		return []string{name}
	case name == "":
		return []string{desc}
	}
	return []string{name, desc}
}

// LiveCaption is the text drawn in a live detection's label strip.
func LiveCaption(d LiveDetection) string {
	label := strings.TrimSpace(d.Label)
	if label == "" {
		label = "object"
	}
	return label
}

func humanize(key string) string {
	key = strings.ReplaceAll(key, "_", " ")
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}
