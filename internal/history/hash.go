package history

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
)

// PeriodHash fingerprints the post set a section was generated from.
func PeriodHash(tf Timeframe) string {
	posts := append([]Post(nil), tf.Posts...)
	sort.Slice(posts, func(i, j int) bool { return posts[i].ID < posts[j].ID })

	h := sha256.New()
	h.Write([]byte(tf.Period))
	for _, p := range posts {
		h.Write([]byte{0})
		h.Write([]byte(p.ID))
		h.Write([]byte{0})
		if p.CreatedAt != nil {
			h.Write([]byte(strconv.FormatInt(p.CreatedAt.Unix(), 10)))
		}
		h.Write([]byte{0})
		h.Write([]byte(p.Content))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// PeriodHashes fingerprints every timeframe.
func PeriodHashes(frames []Timeframe) map[Period]string {
	out := make(map[Period]string, len(frames))
	for _, tf := range frames {
		out[tf.Period] = PeriodHash(tf)
	}
	return out
}
