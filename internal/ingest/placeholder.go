package ingest

import (
	"fmt"
	"regexp"
	"strings"
)

// mediaMarkerRe matches inline markers left behind by platform renderers once
// the referenced media has been stored separately.
var mediaMarkerRe = regexp.MustCompile(`(?i)\[(file|video|image)\]`)

// scrubMediaMarkers strips stored-media markers from rendered text.
func scrubMediaMarkers(text string) string {
	return strings.TrimSpace(mediaMarkerRe.ReplaceAllString(text, ""))
}

// noticePlaceholder renders a system notice as archived text.
// recalledNickname is the best known name of the recalled message's sender.
func noticePlaceholder(n SystemNotice, recalledNickname string) string {
	switch n.Subtype {
	case NoticeFileUpload:
		sizeMB := float64(n.FileSize) / (1024 * 1024)
		name := n.FileName
		if name == "" {
			name = "unknown file"
		}
		return fmt.Sprintf("[uploaded group file: %s (%.2fMB)]", name, sizeMB)
	case NoticeMemberJoin:
		return "[a member joined the group]"
	case NoticeMemberLeave:
		return "[a member left the group]"
	case NoticePoke:
		return "[sent a poke]"
	case NoticeRecall:
		if recalledNickname == "" {
			recalledNickname = n.UserID
		}
		if n.OperatorID != "" && n.OperatorID != n.UserID {
			return fmt.Sprintf("[an admin recalled a message from %s]", recalledNickname)
		}
		return fmt.Sprintf("[%s recalled a message]", recalledNickname)
	default:
		label := n.Label
		if label == "" {
			label = string(n.Subtype)
		}
		return fmt.Sprintf("[system notice: %s]", label)
	}
}

// emptyContentPlaceholder picks archived text for a message that ended with
// no text and no stored media, based on the component kinds observed.
func emptyContentPlaceholder(kinds []string) string {
	joined := strings.ToLower(strings.Join(kinds, " "))
	switch {
	case strings.Contains(joined, "video"):
		return "[video (link unavailable)]"
	case strings.Contains(joined, "poke") || strings.Contains(joined, "nudge"):
		return "[sent a poke]"
	case strings.Contains(joined, "face") || strings.Contains(joined, "sticker"):
		return "[sticker]"
	case strings.Contains(joined, "record") || strings.Contains(joined, "voice"):
		return "[voice message]"
	case strings.Contains(joined, "json") || strings.Contains(joined, "xml"):
		return "[card message]"
	case len(kinds) > 0:
		uniq := make([]string, 0, len(kinds))
		seen := map[string]bool{}
		for _, k := range kinds {
			if !seen[k] {
				seen[k] = true
				uniq = append(uniq, k)
			}
		}
		return fmt.Sprintf("[unsupported message: %s]", strings.Join(uniq, ","))
	default:
		return "[empty message]"
	}
}
