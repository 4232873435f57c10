// Package greader translates stored items and subscriptions to and from the
// Google Reader API wire format.
package greader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/lo"

	"github.com/bryan-buckman/feedsync/internal/model"
)

// ItemIDPrefix is the long form of an item id.
const ItemIDPrefix = "tag:google.com,2005:reader/item/"

// InvalidID is what DecodeItemID yields for unparseable input.
const InvalidID int64 = -1

// Well-known state streams.
const (
	StreamReadingList = "user/-/state/com.google/reading-list"
	StreamRead        = "user/-/state/com.google/read"
	StreamFresh       = "user/-/state/com.google/fresh"
	StreamStarred     = "user/-/state/com.google/starred"
	StreamKeptUnread  = "user/-/state/com.google/kept-unread"
)

const (
	suffixRead       = "/state/com.google/read"
	suffixStarred    = "/state/com.google/starred"
	suffixKeptUnread = "/state/com.google/kept-unread"
	suffixReading    = "/state/com.google/reading-list"
)

// EncodeItemID renders the long form, 16 zero-padded hex digits.
func EncodeItemID(id int64) string {
	return fmt.Sprintf("%s%016x", ItemIDPrefix, id)
}

// DecodeItemID accepts the long hex form or a plain decimal id.
func DecodeItemID(s string) int64 {
	s = strings.TrimSpace(s)
	if hex, ok := strings.CutPrefix(s, ItemIDPrefix); ok {
		// Parse as unsigned so the full 16-digit range round-trips.
		v, err := strconv.ParseUint(hex, 16, 64)
		if err != nil || int64(v) < 0 {
			return InvalidID
		}
		return int64(v)
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil || v < 0 {
		return InvalidID
	}
	return v
}

// DecodeItemIDs decodes a batch and drops ids that fail to parse.
func DecodeItemIDs(ids []string) []int64 {
	return lo.Uniq(lo.FilterMap(ids, func(s string, _ int) (int64, bool) {
		id := DecodeItemID(s)
		return id, id != InvalidID
	}))
}

// ClassifyFilter maps a stream id and exclude target onto a listing filter.
func ClassifyFilter(stream, exclude string) model.Filter {
	switch {
	case strings.HasSuffix(stream, suffixStarred):
		return model.FilterStarred
	case strings.HasSuffix(stream, suffixRead):
		return model.FilterRead
	case strings.HasSuffix(exclude, suffixRead):
		return model.FilterUnread
	default:
		return model.FilterAll
	}
}

// ItemCategories are derived from item state on every read.
func ItemCategories(item model.Item) []string {
	categories := []string{StreamReadingList}
	if item.Read {
		categories = append(categories, StreamRead)
	} else {
		categories = append(categories, StreamFresh)
	}
	if item.Starred {
		categories = append(categories, StreamStarred)
	}
	return categories
}

// LabelID is the wire id of a user label.
func LabelID(userID, label string) string {
	return "user/" + userID + "/label/" + label
}

// ParseLabel extracts the label from "user/<any>/label/<label>".
func ParseLabel(tag string) (string, bool) {
	rest, ok := strings.CutPrefix(tag, "user/")
	if !ok {
		return "", false
	}
	i := strings.Index(rest, "/label/")
	if i < 0 || strings.Contains(rest[:i], "/") {
		return "", false
	}
	label := rest[i+len("/label/"):]
	return label, label != ""
}

func parseLabels(tags []string) []string {
	return lo.FilterMap(tags, func(tag string, _ int) (string, bool) {
		return ParseLabel(tag)
	})
}
