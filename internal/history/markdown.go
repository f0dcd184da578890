package history

import (
	"fmt"
	"strings"
)

// RenderMarkdown renders the effective content of a composed history.
// Published sections win over suggested ones.
func RenderMarkdown(s *Snapshot) string {
	var sb strings.Builder

	name := "Capsule"
	if s.CapsuleName != nil && *s.CapsuleName != "" {
		name = *s.CapsuleName
	}
	fmt.Fprintf(&sb, "# %s history\n", name)

	for i := range s.Sections {
		sec := &s.Sections[i]
		eff := sec.Effective()

		fmt.Fprintf(&sb, "\n## %s\n\n", sec.Title)
		if sec.Published != nil {
			sb.WriteString("_Published_")
			if sec.PublishedOutdated {
				sb.WriteString(" _(newer activity available)_")
			}
			sb.WriteString("\n\n")
		}
		sb.WriteString(pinMark(eff.Summary) + eff.Summary.Text + "\n")

		if len(eff.Highlights) > 0 {
			sb.WriteString("\n### Highlights\n\n")
			for _, h := range eff.Highlights {
				fmt.Fprintf(&sb, "- %s%s\n", pinMark(h), h.Text)
			}
		}

		for _, a := range eff.Articles {
			fmt.Fprintf(&sb, "\n### %s\n\n", a.Title)
			for _, para := range a.Paragraphs {
				sb.WriteString(para + "\n\n")
			}
			for _, l := range a.Links {
				fmt.Fprintf(&sb, "- [%s](%s)\n", escapeLinkLabel(l.Label), l.URL)
			}
		}

		if len(eff.Timeline) > 0 {
			sb.WriteString("\n### Timeline\n\n")
			for _, e := range eff.Timeline {
				when := ""
				if e.Timestamp != nil {
					when = e.Timestamp.Format("2006-01-02") + " "
				}
				fmt.Fprintf(&sb, "- %s%s**%s**: %s\n", pinMark(e.ContentBlock), when, e.Label, e.Detail)
			}
		}

		if len(eff.NextFocus) > 0 {
			sb.WriteString("\n### Next focus\n\n")
			for _, f := range eff.NextFocus {
				fmt.Fprintf(&sb, "- %s%s\n", pinMark(f), f.Text)
			}
		}
	}
	return sb.String()
}

func pinMark(b ContentBlock) string {
	if b.Pinned {
		return "📌 "
	}
	return ""
}

var linkLabelEscaper = strings.NewReplacer("[", `\[`, "]", `\]`)

func escapeLinkLabel(s string) string {
	return linkLabelEscaper.Replace(s)
}
